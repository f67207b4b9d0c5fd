package model

import "bytes"

// Identity holds the attributes fixed for the lifetime of a record: its
// identity, type, retention rules and arbitrary immutable data.
type Identity struct {
	TypeTag uint64 `json:"type_tag"`
	ID      Name   `json:"id"`
	// MaxVersions caps the number of active versions held by the record.
	MaxVersions uint64 `json:"max_versions"`
	// MinRetainedCount is how many versions survive archiving (at least 1).
	MinRetainedCount uint8  `json:"min_retained_count"`
	Data             []byte `json:"data,omitempty"`
}

// NewIdentity validates and returns an Identity. data is copied.
func NewIdentity(typeTag uint64, id Name, maxVersions uint64, minRetained uint8, data []byte) (Identity, error) {
	ident := Identity{
		TypeTag:          typeTag,
		ID:               id,
		MaxVersions:      maxVersions,
		MinRetainedCount: minRetained,
		Data:             cloneBytes(data),
	}
	if err := ident.Validate(); err != nil {
		return Identity{}, err
	}
	return ident, nil
}

// Validate checks the identity invariants.
func (i Identity) Validate() error {
	if i.MinRetainedCount == 0 {
		return Errorf(KindInvalidIdentity, "min_retained_count must be at least 1")
	}
	if i.MaxVersions == 0 {
		return Errorf(KindInvalidIdentity, "max_versions must be at least 1")
	}
	if i.MaxVersions < uint64(i.MinRetainedCount) {
		return Errorf(KindInvalidIdentity, "max_versions (%d) is below min_retained_count (%d)",
			i.MaxVersions, i.MinRetainedCount)
	}
	return nil
}

// Key returns the address of the record this identity names.
func (i Identity) Key() Key {
	return Key{TypeTag: i.TypeTag, ID: i.ID}
}

// Clone returns a deep copy.
func (i Identity) Clone() Identity {
	i.Data = cloneBytes(i.Data)
	return i
}

// Equal compares every field.
func (i Identity) Equal(o Identity) bool {
	return i.TypeTag == o.TypeTag &&
		i.ID == o.ID &&
		i.MaxVersions == o.MaxVersions &&
		i.MinRetainedCount == o.MinRetainedCount &&
		bytes.Equal(i.Data, o.Data)
}
