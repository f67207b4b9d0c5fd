// Package store defines persistence for record snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/sdata/internal/codec"
	"github.com/alfredjeanlab/sdata/internal/model"
)

var (
	// ErrNotFound is returned when no record exists under a key.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when creating a record whose key is taken.
	ErrExists = errors.New("record already exists")
	// ErrConflict is returned when a replacement's expected prior digest does
	// not match the stored snapshot: another writer got there first.
	ErrConflict = errors.New("record changed concurrently")
)

// Store persists the latest snapshot of each record. Implementations store
// the canonical codec encoding, so a snapshot read back is Equal to the one
// written.
type Store interface {
	CreateRecord(ctx context.Context, rec *model.Record) error
	GetRecord(ctx context.Context, key model.Key) (*model.Record, error)
	// ReplaceRecord swaps in next if the stored snapshot's digest is prev.
	ReplaceRecord(ctx context.Context, next *model.Record, prev codec.Digest) error
	DeleteRecord(ctx context.Context, key model.Key) error
	// ListExpired returns up to limit keys whose policy expired at or before
	// now, soonest expiry first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Key, error)
	Ping(ctx context.Context) error
	Close() error
}
