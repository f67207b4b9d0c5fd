package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/codec"
	"github.com/alfredjeanlab/sdata/internal/events"
	"github.com/alfredjeanlab/sdata/internal/model"
	"github.com/alfredjeanlab/sdata/internal/mutation"
	"github.com/alfredjeanlab/sdata/internal/store"
	"github.com/alfredjeanlab/sdata/internal/store/memory"
)

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type sink struct {
	mu       sync.Mutex
	archived []uint64
}

func (s *sink) Archive(_ model.Identity, v model.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived = append(s.archived, v.Index)
	return nil
}

type env struct {
	t     *testing.T
	svc   *Service
	store *memory.Store
	pub   *events.Recorder
	sink  *sink
	now   atomic.Pointer[time.Time]
	a, b  authz.KeyPair
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{t: t, store: memory.New(), pub: &events.Recorder{}, sink: &sink{}}
	e.setNow(epoch)
	var err error
	if e.a, err = authz.GenerateKey(nil); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if e.b, err = authz.GenerateKey(nil); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	e.svc = New(e.store, Options{
		Clock:     mutation.ClockFunc(func() time.Time { return *e.now.Load() }),
		Archive:   e.sink,
		Publisher: e.pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return e
}

func (e *env) setNow(t time.Time) { e.now.Store(&t) }

func (e *env) createReq(maxVersions uint64, expiry time.Time) CreateRequest {
	e.t.Helper()
	var id model.Name
	id[0] = 7
	ident, err := model.NewIdentity(3, id, maxVersions, 1, []byte("fixed"))
	if err != nil {
		e.t.Fatalf("NewIdentity: %v", err)
	}
	pol, err := model.NewPolicy([]model.OwnerKey{
		{Key: e.a.Public, Weight: 2},
		{Key: e.b.Public, Weight: 3},
	}, 4, expiry, nil)
	if err != nil {
		e.t.Fatalf("NewPolicy: %v", err)
	}
	genesis := model.Version{Index: 0, Data: []byte("genesis")}
	ev, err := authz.SignAll(codec.Wire{}.CreationBytes(ident, pol, genesis), e.a, e.b)
	if err != nil {
		e.t.Fatalf("SignAll: %v", err)
	}
	return CreateRequest{Identity: ident, Policy: pol, Genesis: genesis, Evidence: ev}
}

func (e *env) create(maxVersions uint64, expiry time.Time) *model.Record {
	e.t.Helper()
	rec, err := e.svc.Create(context.Background(), e.createReq(maxVersions, expiry))
	if err != nil {
		e.t.Fatalf("Create: %v", err)
	}
	return rec
}

func (e *env) evidence(key model.Key, c model.Candidate, pairs ...authz.KeyPair) authz.Evidence {
	e.t.Helper()
	msg, _, err := e.svc.SigningBytes(context.Background(), key, c)
	if err != nil {
		e.t.Fatalf("SigningBytes: %v", err)
	}
	ev, err := authz.SignAll(msg, pairs...)
	if err != nil {
		e.t.Fatalf("SignAll: %v", err)
	}
	return ev
}

func (e *env) appendVersion(key model.Key, idx uint64) (*MutateResult, error) {
	e.t.Helper()
	c := model.VersionCandidate(model.Version{Index: idx, Data: []byte{byte(idx)}})
	return e.svc.Mutate(context.Background(), key, c, e.evidence(key, c, e.a, e.b))
}

func TestCreate(t *testing.T) {
	e := newEnv(t)
	rec := e.create(5, time.Time{})

	got, err := e.svc.Get(context.Background(), rec.Key())
	if err != nil || !got.Equal(rec) {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if topics := e.pub.Topics(); len(topics) != 1 || topics[0] != events.TopicRecordCreated {
		t.Fatalf("topics = %v", topics)
	}
	var ev events.RecordCreated
	if err := json.Unmarshal(e.pub.Messages()[0].Data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Owners != 2 || ev.Threshold != 4 || ev.Record.TypeTag != 3 || !ev.At.Equal(epoch) {
		t.Errorf("event = %+v", ev)
	}

	if _, err := e.svc.Create(context.Background(), e.createReq(5, time.Time{})); !errors.Is(err, store.ErrExists) {
		t.Fatalf("duplicate create err = %v, want ErrExists", err)
	}
}

func TestCreate_Unauthorized(t *testing.T) {
	e := newEnv(t)
	req := e.createReq(5, time.Time{})
	req.Evidence = req.Evidence[:1]
	if _, err := e.svc.Create(context.Background(), req); !errors.Is(err, model.ErrInsufficientWeight) {
		t.Fatalf("err = %v, want ErrInsufficientWeight", err)
	}
	if e.store.Len() != 0 {
		t.Fatal("unauthorized record was stored")
	}
}

func TestMutate_ArchivesAfterPersisting(t *testing.T) {
	e := newEnv(t)
	key := e.create(3, time.Time{}).Key()

	for i := uint64(1); i <= 4; i++ {
		if _, err := e.appendVersion(key, i); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	rec, _ := e.svc.Get(context.Background(), key)
	if rec.Oldest().Index != 2 || rec.Latest().Index != 4 {
		t.Fatalf("active = [%d..%d], want [2..4]", rec.Oldest().Index, rec.Latest().Index)
	}
	if len(e.sink.archived) != 2 || e.sink.archived[0] != 0 || e.sink.archived[1] != 1 {
		t.Fatalf("archived = %v, want [0 1]", e.sink.archived)
	}

	msgs := e.pub.Messages()
	var last events.RecordMutated
	if err := json.Unmarshal(msgs[len(msgs)-1].Data, &last); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if last.Change != "version" || last.LatestIndex != 4 || len(last.Evicted) != 1 || last.Evicted[0] != 1 || last.Weight != 5 {
		t.Errorf("last event = %+v", last)
	}
}

func TestMutate_RejectedLeavesStore(t *testing.T) {
	e := newEnv(t)
	rec := e.create(3, time.Time{})
	c := model.VersionCandidate(model.Version{Index: 1})

	if _, err := e.svc.Mutate(context.Background(), rec.Key(), c, e.evidence(rec.Key(), c, e.a)); !errors.Is(err, model.ErrInsufficientWeight) {
		t.Fatalf("err = %v, want ErrInsufficientWeight", err)
	}
	got, _ := e.svc.Get(context.Background(), rec.Key())
	if !got.Equal(rec) {
		t.Fatal("rejected mutation changed the stored record")
	}
	if n := len(e.pub.Topics()); n != 1 {
		t.Fatalf("published %d events, want only the creation", n)
	}
}

func TestMutate_NotFound(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Mutate(context.Background(), model.Key{TypeTag: 1}, model.VersionCandidate(model.Version{Index: 1}), nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMutate_Expired(t *testing.T) {
	e := newEnv(t)
	rec := e.create(3, epoch.Add(time.Hour))
	c := model.VersionCandidate(model.Version{Index: 1})
	ev := e.evidence(rec.Key(), c, e.a, e.b)

	e.setNow(epoch.Add(2 * time.Hour))
	if _, err := e.svc.Mutate(context.Background(), rec.Key(), c, ev); !errors.Is(err, model.ErrRecordExpired) {
		t.Fatalf("err = %v, want ErrRecordExpired", err)
	}
}

func TestMutate_ConcurrentProposalsApplyOnce(t *testing.T) {
	e := newEnv(t)
	key := e.create(10, time.Time{}).Key()
	c := model.VersionCandidate(model.Version{Index: 1, Data: []byte("race")})
	ev := e.evidence(key, c, e.a, e.b)

	const n = 16
	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.svc.Mutate(context.Background(), key, c, ev); err != nil {
				errs <- err
				return
			}
			applied.Add(1)
		}()
	}
	wg.Wait()
	close(errs)

	if got := applied.Load(); got != 1 {
		t.Fatalf("applied %d times, want 1", got)
	}
	for err := range errs {
		if !errors.Is(err, model.ErrNonSequentialIndex) {
			t.Errorf("losing proposal err = %v, want ErrNonSequentialIndex", err)
		}
	}
	rec, _ := e.svc.Get(context.Background(), key)
	if rec.Len() != 2 || rec.Latest().Index != 1 {
		t.Fatalf("versions len=%d latest=%d", rec.Len(), rec.Latest().Index)
	}
	if e.svc.locks.size() != 0 {
		t.Errorf("lock table holds %d entries after all unlocks", e.svc.locks.size())
	}
}

// conflictingStore loses the first n compare-and-swaps.
type conflictingStore struct {
	*memory.Store
	conflicts int
	calls     int
}

func (s *conflictingStore) ReplaceRecord(ctx context.Context, next *model.Record, prev codec.Digest) error {
	s.calls++
	if s.calls <= s.conflicts {
		return store.ErrConflict
	}
	return s.Store.ReplaceRecord(ctx, next, prev)
}

func TestMutate_RetriesConflicts(t *testing.T) {
	e := newEnv(t)
	rec := e.create(10, time.Time{})
	cs := &conflictingStore{Store: e.store, conflicts: 2}
	e.svc.store = cs

	if _, err := e.appendVersion(rec.Key(), 1); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if cs.calls != 3 {
		t.Errorf("replace calls = %d, want 3", cs.calls)
	}

	cs.calls, cs.conflicts = 0, 100
	if _, err := e.appendVersion(rec.Key(), 2); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if cs.calls != e.svc.retries+1 {
		t.Errorf("replace calls = %d, want %d", cs.calls, e.svc.retries+1)
	}
}

func TestSigningBytes(t *testing.T) {
	e := newEnv(t)
	rec := e.create(10, time.Time{})
	c := model.VersionCandidate(model.Version{Index: 1})

	msg, base, err := e.svc.SigningBytes(context.Background(), rec.Key(), c)
	if err != nil {
		t.Fatalf("SigningBytes: %v", err)
	}
	if base != 0 {
		t.Errorf("base = %d, want 0", base)
	}
	if string(msg) != string(codec.Wire{}.CandidateBytes(rec, c)) {
		t.Error("signing bytes differ from the codec's candidate bytes")
	}
	if _, _, err := e.svc.SigningBytes(context.Background(), rec.Key(), model.Candidate{}); err == nil {
		t.Error("expected error for empty candidate")
	}
}

func TestReapExpired(t *testing.T) {
	e := newEnv(t)
	rec := e.create(10, epoch.Add(time.Hour))

	n, err := e.svc.ReapExpired(context.Background(), epoch, 10)
	if err != nil || n != 0 {
		t.Fatalf("early reap = %d, %v", n, err)
	}

	n, err = e.svc.ReapExpired(context.Background(), epoch.Add(time.Hour), 10)
	if err != nil || n != 1 {
		t.Fatalf("reap = %d, %v", n, err)
	}
	if _, err := e.svc.Get(context.Background(), rec.Key()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get after reap err = %v", err)
	}
	topics := e.pub.Topics()
	if topics[len(topics)-1] != events.TopicRecordExpired {
		t.Fatalf("topics = %v", topics)
	}
}

func TestKeyedMutex_Serializes(t *testing.T) {
	km := newKeyedMutex()
	key := model.Key{TypeTag: 1}
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if overlap.Load() {
		t.Fatal("two holders inside the same key's critical section")
	}
	if km.size() != 0 {
		t.Fatalf("size = %d, want 0", km.size())
	}
}
