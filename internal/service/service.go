// Package service runs the mutation engine against persistent storage.
//
// It owns everything the engine deliberately leaves to its caller: loading
// and storing snapshots, serializing concurrent proposals per record,
// archiving evicted versions once a mutation is durable, and publishing
// lifecycle events.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/codec"
	"github.com/alfredjeanlab/sdata/internal/events"
	"github.com/alfredjeanlab/sdata/internal/idgen"
	"github.com/alfredjeanlab/sdata/internal/model"
	"github.com/alfredjeanlab/sdata/internal/mutation"
	"github.com/alfredjeanlab/sdata/internal/store"
)

// Options configure a Service. Zero values pick sensible defaults.
type Options struct {
	Verifier      authz.Verifier // default authz.Ed25519
	Clock         mutation.Clock // default mutation.SystemClock
	Archive       mutation.ArchiveSink
	Publisher     events.Publisher
	Logger        *slog.Logger
	MaxRecordSize int
	VerifyWorkers int
	// ConflictRetries bounds how often Mutate re-evaluates after losing a
	// store compare-and-swap to another process. Default 3.
	ConflictRetries int
}

// Service is safe for concurrent use.
type Service struct {
	store   store.Store
	engine  *mutation.Engine
	clock   mutation.Clock
	archive mutation.ArchiveSink
	pub     events.Publisher
	log     *slog.Logger
	retries int
	locks   *keyedMutex
}

func New(st store.Store, opts Options) *Service {
	if opts.Verifier == nil {
		opts.Verifier = authz.Ed25519{}
	}
	if opts.Clock == nil {
		opts.Clock = mutation.SystemClock{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 3
	}
	return &Service{
		store: st,
		engine: &mutation.Engine{
			Verifier:      opts.Verifier,
			Serializer:    codec.Wire{},
			Clock:         opts.Clock,
			MaxRecordSize: opts.MaxRecordSize,
			VerifyWorkers: opts.VerifyWorkers,
		},
		clock:   opts.Clock,
		archive: opts.Archive,
		pub:     opts.Publisher,
		log:     opts.Logger,
		retries: opts.ConflictRetries,
		locks:   newKeyedMutex(),
	}
}

// CreateRequest carries everything needed to create a record.
type CreateRequest struct {
	Identity model.Identity
	Policy   model.Policy
	Genesis  model.Version
	Evidence authz.Evidence
}

// Create authorizes and stores a new record. It fails with store.ErrExists if
// the key is taken.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Record, error) {
	rec, err := s.engine.Create(req.Identity, req.Policy, req.Genesis, req.Evidence)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(rec.Key())
	defer unlock()
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	pol := rec.Policy()
	s.log.Info("record created", "record", rec.Key().String(), "owners", len(pol.Owners), "threshold", pol.Threshold())
	s.publish(ctx, events.TopicRecordCreated, events.RecordCreated{
		EventID:     idgen.MustEventID(),
		Record:      events.RefOf(rec.Key()),
		LatestIndex: rec.Latest().Index,
		Owners:      len(pol.Owners),
		Threshold:   pol.Threshold(),
		At:          s.clock.Now().UTC(),
	})
	return rec, nil
}

// Get returns the stored snapshot for key.
func (s *Service) Get(ctx context.Context, key model.Key) (*model.Record, error) {
	return s.store.GetRecord(ctx, key)
}

// MutateResult describes an applied mutation.
type MutateResult struct {
	Record  *model.Record
	Auth    authz.Result
	Evicted []model.Version
}

// Mutate applies candidate c to the record at key. Proposals for the same
// key are serialized; a proposal evaluated against a snapshot another
// process replaced in the meantime is re-evaluated against the new one.
// A version proposal that lost such a race ends in KindNonSequentialIndex;
// a policy-only proposal ends in KindInsufficientWeight because its
// signatures bind the replaced snapshot.
func (s *Service) Mutate(ctx context.Context, key model.Key, c model.Candidate, evidence authz.Evidence) (*MutateResult, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	for attempt := 0; ; attempt++ {
		cur, err := s.store.GetRecord(ctx, key)
		if err != nil {
			return nil, err
		}

		out := s.engine.Evaluate(cur, c, evidence, s.clock.Now())
		if out.State != mutation.Applied {
			s.log.Debug("mutation rejected", "record", key.String(), "candidate", c.Describe(), "err", out.Err)
			return nil, out.Err
		}

		err = s.store.ReplaceRecord(ctx, out.Record, codec.RecordDigest(cur))
		if errors.Is(err, store.ErrConflict) && attempt < s.retries {
			s.log.Warn("mutation lost compare-and-swap, retrying", "record", key.String(), "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		s.afterMutate(ctx, key, c, out)
		return &MutateResult{Record: out.Record, Auth: out.Auth, Evicted: out.Evicted}, nil
	}
}

func (s *Service) afterMutate(ctx context.Context, key model.Key, c model.Candidate, out mutation.Outcome) {
	evicted := make([]uint64, len(out.Evicted))
	for i, v := range out.Evicted {
		evicted[i] = v.Index
	}
	if s.archive != nil {
		identity := out.Record.Identity()
		for _, v := range out.Evicted {
			if err := s.archive.Archive(identity, v); err != nil {
				s.log.Warn("archive enqueue failed", "record", key.String(), "index", v.Index, "err", err)
			}
		}
	}

	s.log.Info("record mutated",
		"record", key.String(),
		"change", c.Describe(),
		"latest", out.Record.Latest().Index,
		"evicted", len(evicted),
		"weight", out.Auth.Weight,
		"bytes", out.Size)
	s.publish(ctx, events.TopicRecordMutated, events.RecordMutated{
		EventID:     idgen.MustEventID(),
		Record:      events.RefOf(key),
		Change:      c.Describe(),
		LatestIndex: out.Record.Latest().Index,
		Evicted:     evicted,
		Weight:      out.Auth.Weight,
		At:          s.clock.Now().UTC(),
	})
}

// SigningBytes returns the message owners must sign for c to be applied to
// the record's current snapshot, and that snapshot's latest index.
func (s *Service) SigningBytes(ctx context.Context, key model.Key, c model.Candidate) ([]byte, uint64, error) {
	if err := c.Validate(); err != nil {
		return nil, 0, err
	}
	cur, err := s.store.GetRecord(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return codec.Wire{}.CandidateBytes(cur, c), cur.Latest().Index, nil
}

// CreationBytes returns the message owners must sign to create a record.
func (s *Service) CreationBytes(identity model.Identity, policy model.Policy, genesis model.Version) ([]byte, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return codec.Wire{}.CreationBytes(identity, policy, genesis), nil
}

// ReapExpired deletes up to limit records whose policy expired at or before
// now and reports how many were removed. A record re-checked under its lock
// and found no longer expired is skipped.
func (s *Service) ReapExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	keys, err := s.store.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	reaped := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return reaped, err
		}
		ok, err := s.reapOne(ctx, key, now)
		if err != nil {
			s.log.Error("reap failed", "record", key.String(), "err", err)
			continue
		}
		if ok {
			reaped++
		}
	}
	return reaped, nil
}

func (s *Service) reapOne(ctx context.Context, key model.Key, now time.Time) (bool, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	rec, err := s.store.GetRecord(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !rec.Expired(now) {
		return false, nil
	}
	if err := s.store.DeleteRecord(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	expiredAt := rec.Policy().Expiry
	s.log.Info("expired record removed", "record", key.String(), "expired_at", expiredAt)
	s.publish(ctx, events.TopicRecordExpired, events.RecordExpired{
		EventID:   idgen.MustEventID(),
		Record:    events.RefOf(key),
		ExpiredAt: expiredAt,
		At:        now.UTC(),
	})
	return true, nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Now is the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

func (s *Service) publish(ctx context.Context, topic string, event any) {
	if err := s.pub.Publish(ctx, topic, event); err != nil {
		s.log.Warn("publish event failed", "topic", topic, "err", err)
	}
}
