package model

import (
	"encoding/json"
	"time"
)

// Record is an immutable snapshot of a piece of structured data: its fixed
// identity, its current policy and its active versions (oldest first).
//
// Accessors return copies. Accepted mutations produce new snapshots through
// WithPolicy and WithVersions; the receiver is never modified.
type Record struct {
	identity Identity
	policy   Policy
	versions []Version
}

// NewRecord validates all three parts and returns a snapshot holding
// private copies of them.
func NewRecord(identity Identity, policy Policy, versions []Version) (*Record, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateVersions(versions); err != nil {
		return nil, err
	}
	if uint64(len(versions)) > identity.MaxVersions {
		return nil, Errorf(KindSizeLimitExceeded, "%d active versions, max_versions is %d",
			len(versions), identity.MaxVersions)
	}
	return &Record{
		identity: identity.Clone(),
		policy:   policy.Clone(),
		versions: CloneVersions(versions),
	}, nil
}

func (r *Record) Identity() Identity { return r.identity.Clone() }

func (r *Record) Policy() Policy { return r.policy.Clone() }

func (r *Record) Key() Key { return r.identity.Key() }

// Versions returns the active versions, oldest first.
func (r *Record) Versions() []Version { return CloneVersions(r.versions) }

// Len is the number of active versions.
func (r *Record) Len() int { return len(r.versions) }

// Latest returns the newest active version.
func (r *Record) Latest() Version { return r.versions[len(r.versions)-1].Clone() }

// Oldest returns the oldest active version.
func (r *Record) Oldest() Version { return r.versions[0].Clone() }

// Expired reports whether the record's policy has expired at now.
func (r *Record) Expired(now time.Time) bool { return r.policy.Expired(now) }

// WithPolicy returns a new snapshot with the policy replaced.
func (r *Record) WithPolicy(p Policy) (*Record, error) {
	if err := p.Reachable(); err != nil {
		return nil, err
	}
	return NewRecord(r.identity, p, r.versions)
}

// WithVersions returns a new snapshot with the active versions replaced.
func (r *Record) WithVersions(vs []Version) (*Record, error) {
	return NewRecord(r.identity, r.policy, vs)
}

// Equal compares identity, policy and active versions.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if !r.identity.Equal(o.identity) || !r.policy.Equal(o.policy) || len(r.versions) != len(o.versions) {
		return false
	}
	for i := range r.versions {
		if !r.versions[i].Equal(o.versions[i]) {
			return false
		}
	}
	return true
}

type recordJSON struct {
	Identity Identity  `json:"identity"`
	Policy   Policy    `json:"policy"`
	Versions []Version `json:"versions"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		Identity: r.identity,
		Policy:   r.policy,
		Versions: r.versions,
	})
}

// UnmarshalJSON decodes and validates a record; invalid input yields the
// same typed errors as NewRecord.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	rec, err := NewRecord(in.Identity, in.Policy, in.Versions)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}
