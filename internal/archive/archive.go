// Package archive ships versions evicted from a record's active history to
// long-term storage.
//
// Archiving is best effort. Archive never blocks the mutation path: it
// enqueues and returns, and a full queue drops the version with a warning.
// A background worker uploads queued versions with bounded retries.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/sdata/internal/codec"
	"github.com/alfredjeanlab/sdata/internal/events"
	"github.com/alfredjeanlab/sdata/internal/idgen"
	"github.com/alfredjeanlab/sdata/internal/model"
)

// ContentType of archived objects: a single codec-encoded version.
const ContentType = "application/x-sdata-version"

var (
	ErrQueueFull = errors.New("archive queue full")
	ErrStopped   = errors.New("archiver stopped")
)

// ObjectKey is where version index of record key is archived:
// prefix/<type_tag>/<hex id>/<index>.bin.
func ObjectKey(prefix string, key model.Key, index uint64) string {
	return path.Join(prefix,
		strconv.FormatUint(key.TypeTag, 10),
		key.ID.String(),
		strconv.FormatUint(index, 10)+".bin")
}

// Options tune an Archiver. Zero values pick the defaults.
type Options struct {
	Prefix     string
	QueueSize  int           // default 1024
	Attempts   int           // default 3
	Backoff    time.Duration // first retry delay, doubled each attempt; default 200ms
	PutTimeout time.Duration // default 30s
	Publisher  events.Publisher
	Logger     *slog.Logger
}

type job struct {
	key     model.Key
	version model.Version
}

// Stats counts archive outcomes since start.
type Stats struct {
	Archived int64
	Failed   int64
	Dropped  int64
}

// Archiver queues evicted versions and uploads them to a Destination.
type Archiver struct {
	dest Destination
	opts Options
	log  *slog.Logger

	mu      sync.RWMutex
	queue   chan job
	started bool
	stopped bool

	archived atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(dest Destination, opts Options) *Archiver {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.PutTimeout <= 0 {
		opts.PutTimeout = 30 * time.Second
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{
		dest:  dest,
		opts:  opts,
		log:   log.With("component", "archive"),
		queue: make(chan job, opts.QueueSize),
	}
}

// Archive enqueues v for upload. It returns ErrQueueFull when the queue is
// saturated and ErrStopped after Stop; in both cases v is not archived.
func (a *Archiver) Archive(identity model.Identity, v model.Version) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		a.dropped.Add(1)
		return ErrStopped
	}
	select {
	case a.queue <- job{key: identity.Key(), version: v.Clone()}:
		return nil
	default:
		a.dropped.Add(1)
		a.log.Warn("archive queue full, dropping version",
			"record", identity.Key().String(), "index", v.Index)
		return ErrQueueFull
	}
}

// Start launches the upload worker.
func (a *Archiver) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.started = true
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for j := range a.queue {
			a.upload(ctx, j)
		}
	}()
}

// Stop refuses new versions, uploads what is already queued and waits for
// the worker. If ctx ends first, pending uploads are abandoned. On an
// archiver that was never started, queued versions are counted as dropped.
func (a *Archiver) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.stopped {
		a.stopped = true
		close(a.queue)
	}
	started := a.started
	a.mu.Unlock()

	if !started {
		for j := range a.queue {
			a.dropped.Add(1)
			a.log.Warn("archiver stopped before start, dropping version",
				"record", j.key.String(), "index", j.version.Index)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if a.cancel != nil {
			a.cancel()
		}
		<-done
		return ctx.Err()
	}
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// Stats returns the outcome counters.
func (a *Archiver) Stats() Stats {
	return Stats{
		Archived: a.archived.Load(),
		Failed:   a.failed.Load(),
		Dropped:  a.dropped.Load(),
	}
}

func (a *Archiver) upload(ctx context.Context, j job) {
	objKey := ObjectKey(a.opts.Prefix, j.key, j.version.Index)
	data := codec.AppendVersion(nil, j.version)

	err := a.put(ctx, objKey, data)
	if err != nil {
		a.failed.Add(1)
		a.log.Error("archive upload failed", "object", objKey, "attempts", a.opts.Attempts, "err", err)
		return
	}
	a.archived.Add(1)
	a.log.Debug("version archived", "object", objKey, "bytes", len(data))

	ev := events.VersionArchived{
		EventID: idgen.MustEventID(),
		Record:  events.RefOf(j.key),
		Index:   j.version.Index,
		Object:  objKey,
		At:      time.Now().UTC(),
	}
	if err := a.opts.Publisher.Publish(ctx, events.TopicVersionArchived, ev); err != nil {
		a.log.Warn("publish archive event failed", "object", objKey, "err", err)
	}
}

func (a *Archiver) put(ctx context.Context, key string, data []byte) error {
	delay := a.opts.Backoff
	var err error
	for attempt := 1; attempt <= a.opts.Attempts; attempt++ {
		putCtx, cancel := context.WithTimeout(ctx, a.opts.PutTimeout)
		err = a.dest.Put(putCtx, key, data)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == a.opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (after %d attempts)", ctx.Err(), attempt)
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
