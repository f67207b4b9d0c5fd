// Package mutation decides whether a proposed change to a record is
// accepted and, if so, produces the next immutable record snapshot.
//
// A proposal moves through Proposed → Verified → Applied, or ends Rejected.
// The engine holds no state between proposals and never logs: every outcome
// is returned to the caller, which owns retries and persistence.
package mutation

import (
	"time"

	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/ledger"
	"github.com/alfredjeanlab/sdata/internal/model"
)

// DefaultMaxRecordSize is the network-wide limit on an encoded record.
const DefaultMaxRecordSize = 100 * 1024

// Clock supplies the current time for expiry checks.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ArchiveSink receives versions evicted from a record's active history.
// Delivery is fire-and-forget: a returned error never undoes a mutation.
type ArchiveSink interface {
	Archive(identity model.Identity, v model.Version) error
}

// Serializer produces the exact bytes owners sign, and the encoding whose
// length is checked against the size limit.
type Serializer interface {
	CreationBytes(identity model.Identity, policy model.Policy, genesis model.Version) []byte
	CandidateBytes(current *model.Record, c model.Candidate) []byte
	RecordBytes(r *model.Record) []byte
}

// State is the stage a proposal reached.
type State int

const (
	Proposed State = iota
	Verified
	Applied
	Rejected
)

func (s State) String() string {
	switch s {
	case Proposed:
		return "proposed"
	case Verified:
		return "verified"
	case Applied:
		return "applied"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Outcome is the full result of evaluating a proposal.
type Outcome struct {
	State State
	// Record is the new snapshot when State is Applied, else nil.
	Record *model.Record
	// Auth is the authorization result once the proposal was Verified.
	Auth authz.Result
	// Evicted are the versions removed from the active history, oldest first.
	Evicted []model.Version
	// Size is the encoded size of the new snapshot.
	Size int
	// Err is the rejection reason when State is Rejected.
	Err error
}

// Engine evaluates proposals. Verifier and Serializer are required.
type Engine struct {
	Verifier   authz.Verifier
	Serializer Serializer
	// Clock is used by Propose; nil means the system clock.
	Clock Clock
	// Archive receives evicted versions from Propose and ProposeAt; nil
	// leaves archiving to the caller via Outcome.Evicted.
	Archive ArchiveSink
	// MaxRecordSize bounds the encoded record; 0 means DefaultMaxRecordSize.
	MaxRecordSize int
	// VerifyWorkers > 1 verifies signatures concurrently.
	VerifyWorkers int
}

func (e *Engine) evaluator() authz.Evaluator {
	return authz.Evaluator{Verifier: e.Verifier, Workers: e.VerifyWorkers}
}

func (e *Engine) maxSize() int {
	if e.MaxRecordSize > 0 {
		return e.MaxRecordSize
	}
	return DefaultMaxRecordSize
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

// Create builds the genesis snapshot of a record. The evidence must satisfy
// the initial policy over the creation bytes, and the genesis version must
// have index 0.
func (e *Engine) Create(identity model.Identity, policy model.Policy, genesis model.Version, evidence authz.Evidence) (*model.Record, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	l, err := ledger.New(genesis)
	if err != nil {
		return nil, err
	}

	msg := e.Serializer.CreationBytes(identity, policy, genesis)
	if _, err := e.evaluator().Authorize(policy, msg, evidence); err != nil {
		return nil, err
	}

	rec, err := model.NewRecord(identity, policy, l.Versions())
	if err != nil {
		return nil, err
	}
	if err := e.checkSize(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Propose evaluates c against current at the engine clock's time and
// returns the new snapshot. Evicted versions go to the archive sink.
func (e *Engine) Propose(current *model.Record, c model.Candidate, evidence authz.Evidence) (*model.Record, error) {
	return e.ProposeAt(current, c, evidence, e.now())
}

// ProposeAt is Propose with an explicit current time.
func (e *Engine) ProposeAt(current *model.Record, c model.Candidate, evidence authz.Evidence, now time.Time) (*model.Record, error) {
	out := e.Evaluate(current, c, evidence, now)
	if out.State != Applied {
		return nil, out.Err
	}
	if e.Archive != nil {
		identity := current.Identity()
		for _, v := range out.Evicted {
			_ = e.Archive.Archive(identity, v)
		}
	}
	return out.Record, nil
}

// Evaluate runs a proposal through the state machine without archiving.
// current is never modified.
func (e *Engine) Evaluate(current *model.Record, c model.Candidate, evidence authz.Evidence, now time.Time) Outcome {
	reject := func(err error) Outcome { return Outcome{State: Rejected, Err: err} }

	if err := c.Validate(); err != nil {
		return reject(err)
	}
	if current.Expired(now) {
		return reject(model.Errorf(model.KindRecordExpired, "expired at %s", current.Policy().Expiry.Format(time.RFC3339)))
	}

	if c.Policy != nil {
		if err := c.Policy.Validate(); err != nil {
			return reject(err)
		}
		if err := c.Policy.Reachable(); err != nil {
			return reject(err)
		}
	}
	// A stale or skipped index is rejected before signatures are checked, so
	// a resubmitted or raced version reports the sequence error rather than
	// failing against the moved base state.
	if c.Version != nil {
		if err := ledger.CheckNext(current.Latest().Index, c.Version.Index); err != nil {
			return reject(err)
		}
	}

	// Proposed → Verified, always against the policy in force.
	msg := e.Serializer.CandidateBytes(current, c)
	auth, err := e.evaluator().Authorize(current.Policy(), msg, evidence)
	if err != nil {
		return reject(err)
	}

	// Verified → Applied.
	next := current
	var evicted []model.Version
	if c.Version != nil {
		l, err := ledger.FromVersions(current.Versions())
		if err != nil {
			return reject(err)
		}
		l, evicted, err = l.Append(*c.Version, ledger.CapsOf(current.Identity()))
		if err != nil {
			return reject(err)
		}
		if next, err = next.WithVersions(l.Versions()); err != nil {
			return reject(err)
		}
	}
	if c.Policy != nil {
		if next, err = next.WithPolicy(*c.Policy); err != nil {
			return reject(err)
		}
	}

	size := len(e.Serializer.RecordBytes(next))
	if size > e.maxSize() {
		return reject(model.Errorf(model.KindSizeLimitExceeded, "%d bytes, limit %d", size, e.maxSize()))
	}

	return Outcome{
		State:   Applied,
		Record:  next,
		Auth:    auth,
		Evicted: evicted,
		Size:    size,
	}
}

func (e *Engine) checkSize(rec *model.Record) error {
	if size := len(e.Serializer.RecordBytes(rec)); size > e.maxSize() {
		return model.Errorf(model.KindSizeLimitExceeded, "%d bytes, limit %d", size, e.maxSize())
	}
	return nil
}
