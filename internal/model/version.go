package model

import "bytes"

// Version is a single entry in a record's content history. Index gives a
// strict total order; Data is arbitrary version-specific content.
type Version struct {
	Index uint64 `json:"index"`
	Data  []byte `json:"data,omitempty"`
}

// Clone returns a deep copy.
func (v Version) Clone() Version {
	v.Data = cloneBytes(v.Data)
	return v
}

// Equal compares index and data.
func (v Version) Equal(o Version) bool {
	return v.Index == o.Index && bytes.Equal(v.Data, o.Data)
}

// ValidateVersions checks that vs is non-empty and that its indices increase
// by exactly one. The first index need not be 0: older versions may have
// been archived.
func ValidateVersions(vs []Version) error {
	if len(vs) == 0 {
		return Errorf(KindNonSequentialIndex, "version history is empty")
	}
	for i := 1; i < len(vs); i++ {
		if vs[i-1].Index == ^uint64(0) || vs[i].Index != vs[i-1].Index+1 {
			return Errorf(KindNonSequentialIndex, "index %d follows %d", vs[i].Index, vs[i-1].Index)
		}
	}
	return nil
}

// CloneVersions deep-copies a version slice.
func CloneVersions(vs []Version) []Version {
	if vs == nil {
		return nil
	}
	out := make([]Version, len(vs))
	for i, v := range vs {
		out[i] = v.Clone()
	}
	return out
}
