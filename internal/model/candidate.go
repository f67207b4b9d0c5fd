package model

// Candidate is a proposed change to a record awaiting authorization: a new
// version, a replacement policy, or both. A policy change may carry an
// incremented version so the two land atomically.
type Candidate struct {
	Policy  *Policy  `json:"policy,omitempty"`
	Version *Version `json:"version,omitempty"`
}

// VersionCandidate proposes appending v.
func VersionCandidate(v Version) Candidate {
	v = v.Clone()
	return Candidate{Version: &v}
}

// PolicyCandidate proposes replacing the policy with p.
func PolicyCandidate(p Policy) Candidate {
	p = p.Clone()
	return Candidate{Policy: &p}
}

// Validate reports a *ValidationError if the candidate proposes nothing.
// The policy, if present, is checked with Policy.Validate.
func (c Candidate) Validate() error {
	if c.Policy == nil && c.Version == nil {
		return &ValidationError{Errors: []FieldError{{
			Field:   "candidate",
			Message: "must carry a policy, a version, or both",
		}}}
	}
	if c.Policy != nil {
		return c.Policy.Validate()
	}
	return nil
}

// Describe names the kind of change, for events and logs.
func (c Candidate) Describe() string {
	switch {
	case c.Policy != nil && c.Version != nil:
		return "policy+version"
	case c.Policy != nil:
		return "policy"
	case c.Version != nil:
		return "version"
	}
	return "empty"
}
