// Package idgen generates the short, URL-safe identifiers attached to
// published events and archive batches.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// EventPrefix marks identifiers of published events.
const EventPrefix = "ev-"

// Alphabet is the character set of the random part.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters after the prefix.
const Length = 12

// EventID returns a fresh event identifier.
func EventID() (string, error) {
	return WithPrefix(EventPrefix)
}

// WithPrefix returns a fresh identifier starting with prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// MustEventID is EventID for callers that cannot act on a failure of the
// system random source; it falls back to a fixed marker.
func MustEventID() string {
	id, err := EventID()
	if err != nil {
		return EventPrefix + "unknown"
	}
	return id
}
