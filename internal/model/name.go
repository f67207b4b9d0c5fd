package model

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// NameLen is the length in bytes of a record identifier.
const NameLen = 64

// Name is the fixed-length opaque identifier of a record within its type tag.
type Name [NameLen]byte

// ParseName decodes a hex-encoded Name. Input that is not exactly NameLen
// bytes, including an empty string, fails with ErrInvalidIdentity. The
// all-zero name is a valid identifier.
func ParseName(s string) (Name, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Name{}, Errorf(KindInvalidIdentity, "id is not hex: %v", err)
	}
	return NameFromBytes(b)
}

// NameFromBytes copies b into a Name. b must be exactly NameLen bytes.
func NameFromBytes(b []byte) (Name, error) {
	var n Name
	switch {
	case len(b) == 0:
		return n, Errorf(KindInvalidIdentity, "id is empty")
	case len(b) != NameLen:
		return n, Errorf(KindInvalidIdentity, "id must be %d bytes, got %d", NameLen, len(b))
	}
	copy(n[:], b)
	return n, nil
}

// IsZero reports whether every byte of the name is zero.
func (n Name) IsZero() bool {
	return n == Name{}
}

// String returns the hex encoding of the name.
func (n Name) String() string {
	return hex.EncodeToString(n[:])
}

// Short returns the first 8 bytes of the hex encoding, for logs.
func (n Name) Short() string {
	return hex.EncodeToString(n[:8])
}

func (n Name) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Name) UnmarshalText(text []byte) error {
	parsed, err := ParseName(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Key addresses a record: the identifier is unique within a type tag.
type Key struct {
	TypeTag uint64 `json:"type_tag"`
	ID      Name   `json:"id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.TypeTag, k.ID)
}

// PublicKey is an owner's opaque public key. Its format is defined by the
// signature verifier in use.
type PublicKey []byte

// Equal reports whether two keys are byte-identical.
func (k PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(k, other)
}

// String returns the hex encoding of the key.
func (k PublicKey) String() string {
	return hex.EncodeToString(k)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
