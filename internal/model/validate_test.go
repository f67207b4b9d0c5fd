package model

import (
	"errors"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	ve := &ValidationError{
		Errors: []FieldError{
			{Field: "identity.id", Message: "is required"},
			{Field: "signatures[0].key", Message: "is required"},
		},
	}
	got := ve.Error()
	want := "validation failed: identity.id: is required; signatures[0].key: is required"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	ve := &ValidationError{}
	if ve.HasErrors() {
		t.Error("HasErrors() should be false for empty Errors slice")
	}
	if ve.Err() != nil {
		t.Error("Err() should be nil for empty Errors slice")
	}
	ve.Add("x", "y")
	if !ve.HasErrors() {
		t.Error("HasErrors() should be true when Errors is non-empty")
	}
	var target *ValidationError
	if !errors.As(ve.Err(), &target) || len(target.Errors) != 1 {
		t.Errorf("Err() = %v, want the validation error", ve.Err())
	}
}

func TestCandidate_Validate(t *testing.T) {
	var ve *ValidationError
	if err := (Candidate{}).Validate(); !errors.As(err, &ve) {
		t.Fatalf("empty candidate err = %v, want *ValidationError", err)
	}
	if err := VersionCandidate(Version{Index: 1}).Validate(); err != nil {
		t.Errorf("version candidate: %v", err)
	}
	if err := PolicyCandidate(Policy{}).Validate(); !errors.Is(err, ErrEmptyOwnerSet) {
		t.Errorf("empty policy candidate err = %v, want ErrEmptyOwnerSet", err)
	}
}

func TestCandidate_Describe(t *testing.T) {
	v := Version{Index: 1}
	p := Policy{}
	for _, tc := range []struct {
		c    Candidate
		want string
	}{
		{Candidate{}, "empty"},
		{Candidate{Version: &v}, "version"},
		{Candidate{Policy: &p}, "policy"},
		{Candidate{Policy: &p, Version: &v}, "policy+version"},
	} {
		if got := tc.c.Describe(); got != tc.want {
			t.Errorf("Describe() = %q, want %q", got, tc.want)
		}
	}
}
