// Package ledger maintains the ordered, gapless version history of a record
// and decides which versions are archived when the history outgrows its cap.
package ledger

import (
	"math"

	"github.com/alfredjeanlab/sdata/internal/model"
)

// Caps are the two retention limits taken from a record's identity.
type Caps struct {
	MaxVersions uint64
	MinRetained uint8
}

// CapsOf extracts the retention limits from an identity.
func CapsOf(id model.Identity) Caps {
	return Caps{MaxVersions: id.MaxVersions, MinRetained: id.MinRetainedCount}
}

// Ledger is an immutable, non-empty sequence of versions whose indices
// increase by exactly one. The zero Ledger is not valid; build one with New
// or FromVersions.
type Ledger struct {
	versions []model.Version
}

// New starts a ledger from its genesis version, which must have index 0.
func New(genesis model.Version) (Ledger, error) {
	if genesis.Index != 0 {
		return Ledger{}, model.Errorf(model.KindNonSequentialIndex, "genesis index must be 0, got %d", genesis.Index)
	}
	return Ledger{versions: []model.Version{genesis.Clone()}}, nil
}

// FromVersions wraps an existing active history.
func FromVersions(vs []model.Version) (Ledger, error) {
	if err := model.ValidateVersions(vs); err != nil {
		return Ledger{}, err
	}
	return Ledger{versions: model.CloneVersions(vs)}, nil
}

// Versions returns a copy of the active versions, oldest first.
func (l Ledger) Versions() []model.Version { return model.CloneVersions(l.versions) }

// Len is the number of active versions.
func (l Ledger) Len() int { return len(l.versions) }

// Last returns the newest version.
func (l Ledger) Last() model.Version { return l.versions[len(l.versions)-1].Clone() }

// Next is the only index Append will accept.
func (l Ledger) Next() (uint64, bool) {
	last := l.versions[len(l.versions)-1].Index
	if last == math.MaxUint64 {
		return 0, false
	}
	return last + 1, true
}

// CheckNext reports whether index may follow last. It fails with
// ErrNonSequentialIndex for gaps, repeats and an exhausted index space.
func CheckNext(last, index uint64) error {
	if last == math.MaxUint64 {
		return model.Errorf(model.KindNonSequentialIndex, "index space exhausted")
	}
	if index != last+1 {
		return model.Errorf(model.KindNonSequentialIndex, "got index %d, want %d", index, last+1)
	}
	return nil
}

// Append returns a new ledger with v added and retention applied, together
// with the versions evicted from the active set (oldest first). The receiver
// is unchanged. Appending any index other than Next fails with
// ErrNonSequentialIndex, so a resubmitted version is rejected rather than
// applied twice.
func (l Ledger) Append(v model.Version, caps Caps) (Ledger, []model.Version, error) {
	if err := CheckNext(l.versions[len(l.versions)-1].Index, v.Index); err != nil {
		return Ledger{}, nil, err
	}

	grown := make([]model.Version, 0, len(l.versions)+1)
	grown = append(grown, model.CloneVersions(l.versions)...)
	grown = append(grown, v.Clone())

	n := Evictions(len(grown), caps)
	evicted := grown[:n:n]
	return Ledger{versions: grown[n:]}, evicted, nil
}

// Evictions is the number of oldest versions to archive from an active set
// of the given size: enough to come back down to MaxVersions, but never so
// many that fewer than MinRetained remain.
func Evictions(active int, caps Caps) int {
	if active <= 0 || uint64(active) <= caps.MaxVersions {
		return 0
	}
	keep := caps.MaxVersions
	if floor := uint64(max(caps.MinRetained, 1)); keep < floor {
		keep = floor
	}
	if keep >= uint64(active) {
		return 0
	}
	return active - int(keep)
}
