package model

import (
	"bytes"
	"math"
	"time"
)

// OwnerKey is an owner's public key and the weight its signature carries.
type OwnerKey struct {
	Key    PublicKey `json:"key"`
	Weight uint64    `json:"weight"`
}

// Policy is the changeable part of a record: who owns it, how much signing
// weight a mutation needs, when it expires and some arbitrary data.
//
// A policy can only be replaced by a mutation that satisfies the policy
// being replaced.
type Policy struct {
	Owners                []OwnerKey `json:"owners"`
	MinWeightForConsensus uint64     `json:"min_weight_for_consensus"`
	// Expiry is coarse (whole seconds, UTC). The zero value means the record
	// never expires.
	Expiry time.Time `json:"expiry,omitzero"`
	Data   []byte    `json:"data,omitempty"`
}

// NewPolicy validates and returns a Policy. Owners and data are copied and
// expiry is truncated to the second.
func NewPolicy(owners []OwnerKey, minWeight uint64, expiry time.Time, data []byte) (Policy, error) {
	p := Policy{
		Owners:                cloneOwners(owners),
		MinWeightForConsensus: minWeight,
		Expiry:                coarse(expiry),
		Data:                  cloneBytes(data),
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks the owner set. Any threshold is accepted; see Reachable.
func (p Policy) Validate() error {
	if len(p.Owners) == 0 {
		return Errorf(KindEmptyOwnerSet, "at least one owner key is required")
	}
	seen := make(map[string]struct{}, len(p.Owners))
	for i, o := range p.Owners {
		if o.Weight == 0 {
			return Errorf(KindInvalidWeight, "owner %d has weight 0", i)
		}
		k := string(o.Key)
		if _, dup := seen[k]; dup {
			return Errorf(KindDuplicateKey, "owner %d repeats key %s", i, o.Key)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// Reachable fails with ErrUnreachableThreshold when no combination of owners
// can reach the threshold. A record handed such a policy could never be
// changed again, so replacements must pass it.
func (p Policy) Reachable() error {
	if total := p.TotalWeight(); p.MinWeightForConsensus > total {
		return Errorf(KindUnreachableThreshold, "threshold %d, total weight %d",
			p.MinWeightForConsensus, total)
	}
	return nil
}

// TotalWeight sums the owner weights, saturating at math.MaxUint64.
func (p Policy) TotalWeight() uint64 {
	var total uint64
	for _, o := range p.Owners {
		total = AddWeight(total, o.Weight)
	}
	return total
}

// Threshold is the weight a set of signers must reach. It is never below 1:
// every owner weighs at least 1, so a threshold of 0 still demands one
// genuine signer.
func (p Policy) Threshold() uint64 {
	return max(p.MinWeightForConsensus, 1)
}

// WeightOf returns the weight of key, if it is an owner.
func (p Policy) WeightOf(key PublicKey) (uint64, bool) {
	for _, o := range p.Owners {
		if o.Key.Equal(key) {
			return o.Weight, true
		}
	}
	return 0, false
}

// Expired reports whether now is at or past the expiry.
func (p Policy) Expired(now time.Time) bool {
	return !p.Expiry.IsZero() && !now.Before(p.Expiry)
}

// Clone returns a deep copy.
func (p Policy) Clone() Policy {
	p.Owners = cloneOwners(p.Owners)
	p.Data = cloneBytes(p.Data)
	return p
}

// Equal compares owners in order, threshold, expiry and data.
func (p Policy) Equal(o Policy) bool {
	if len(p.Owners) != len(o.Owners) {
		return false
	}
	for i := range p.Owners {
		if p.Owners[i].Weight != o.Owners[i].Weight || !p.Owners[i].Key.Equal(o.Owners[i].Key) {
			return false
		}
	}
	return p.MinWeightForConsensus == o.MinWeightForConsensus &&
		p.Expiry.Equal(o.Expiry) &&
		bytes.Equal(p.Data, o.Data)
}

// AddWeight adds two weights, saturating instead of wrapping.
func AddWeight(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func cloneOwners(owners []OwnerKey) []OwnerKey {
	if owners == nil {
		return nil
	}
	out := make([]OwnerKey, len(owners))
	for i, o := range owners {
		out[i] = OwnerKey{Key: PublicKey(cloneBytes(o.Key)), Weight: o.Weight}
	}
	return out
}

func coarse(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.Truncate(time.Second).UTC()
}
