package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejection produced while constructing or mutating a
// record. Every kind is a terminal outcome for the request that caused it;
// the previous record snapshot is always left untouched.
type ErrorKind int

const (
	KindInvalidIdentity ErrorKind = iota + 1
	KindEmptyOwnerSet
	KindInvalidWeight
	KindDuplicateKey
	KindUnreachableThreshold
	KindNoSignatures
	KindInsufficientWeight
	KindNonSequentialIndex
	KindSizeLimitExceeded
	KindRecordExpired
)

var kindNames = map[ErrorKind]string{
	KindInvalidIdentity:      "invalid_identity",
	KindEmptyOwnerSet:        "empty_owner_set",
	KindInvalidWeight:        "invalid_weight",
	KindDuplicateKey:         "duplicate_key",
	KindUnreachableThreshold: "unreachable_threshold",
	KindNoSignatures:         "no_signatures",
	KindInsufficientWeight:   "insufficient_weight",
	KindNonSequentialIndex:   "non_sequential_index",
	KindSizeLimitExceeded:    "size_limit_exceeded",
	KindRecordExpired:        "record_expired",
}

// String returns the snake_case name of the kind.
func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error_kind(%d)", int(k))
}

// Sentinel errors, one per kind. Use errors.Is to test a returned error
// against them; detailed errors of the same kind match.
var (
	ErrInvalidIdentity      = &Error{Kind: KindInvalidIdentity}
	ErrEmptyOwnerSet        = &Error{Kind: KindEmptyOwnerSet}
	ErrInvalidWeight        = &Error{Kind: KindInvalidWeight}
	ErrDuplicateKey         = &Error{Kind: KindDuplicateKey}
	ErrUnreachableThreshold = &Error{Kind: KindUnreachableThreshold}
	ErrNoSignatures         = &Error{Kind: KindNoSignatures}
	ErrInsufficientWeight   = &Error{Kind: KindInsufficientWeight}
	ErrNonSequentialIndex   = &Error{Kind: KindNonSequentialIndex}
	ErrSizeLimitExceeded    = &Error{Kind: KindSizeLimitExceeded}
	ErrRecordExpired        = &Error{Kind: KindRecordExpired}
)

// Error is a typed rejection. Detail is free-form context for humans.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	msg := kindMessage(e.Kind)
	if e.Detail == "" {
		return msg
	}
	return msg + ": " + e.Detail
}

// Is matches any *Error of the same kind, so a detailed error satisfies
// errors.Is against the corresponding sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind with a formatted detail.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func kindMessage(k ErrorKind) string {
	switch k {
	case KindInvalidIdentity:
		return "invalid identity"
	case KindEmptyOwnerSet:
		return "owner set is empty"
	case KindInvalidWeight:
		return "owner weight must be at least 1"
	case KindDuplicateKey:
		return "duplicate owner key"
	case KindUnreachableThreshold:
		return "consensus threshold exceeds total owner weight"
	case KindNoSignatures:
		return "no signatures supplied"
	case KindInsufficientWeight:
		return "insufficient signing weight"
	case KindNonSequentialIndex:
		return "version index is not sequential"
	case KindSizeLimitExceeded:
		return "record size limit exceeded"
	case KindRecordExpired:
		return "record has expired"
	}
	return k.String()
}
