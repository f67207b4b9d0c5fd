// Package memory implements store.Store in process memory. It backs the
// demo command and service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/sdata/internal/codec"
	"github.com/alfredjeanlab/sdata/internal/model"
	"github.com/alfredjeanlab/sdata/internal/store"
)

type entry struct {
	body    []byte
	digest  codec.Digest
	expires time.Time
}

// Store is a mutex-guarded map of encoded snapshots.
type Store struct {
	mu      sync.RWMutex
	records map[model.Key]entry
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[model.Key]entry)}
}

func entryOf(rec *model.Record) entry {
	body := codec.EncodeRecord(rec)
	return entry{body: body, digest: codec.RecordDigest(rec), expires: rec.Policy().Expiry}
}

func (s *Store) CreateRecord(ctx context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Key()]; ok {
		return store.ErrExists
	}
	s.records[rec.Key()] = entryOf(rec)
	return nil
}

func (s *Store) GetRecord(ctx context.Context, key model.Key) (*model.Record, error) {
	s.mu.RLock()
	e, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return codec.DecodeRecord(e.body)
}

func (s *Store) ReplaceRecord(ctx context.Context, next *model.Record, prev codec.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[next.Key()]
	if !ok {
		return store.ErrNotFound
	}
	if cur.digest != prev {
		return store.ErrConflict
	}
	s.records[next.Key()] = entryOf(next)
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, key model.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.records, key)
	return nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Key, error) {
	type hit struct {
		key     model.Key
		expires time.Time
	}
	s.mu.RLock()
	var hits []hit
	for k, e := range s.records {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			hits = append(hits, hit{k, e.expires})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].expires.Before(hits[j].expires) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	keys := make([]model.Key, len(hits))
	for i, h := range hits {
		keys[i] = h.key
	}
	return keys, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }
