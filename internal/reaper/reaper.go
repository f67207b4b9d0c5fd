// Package reaper periodically removes records whose policy has expired.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper removes up to limit records expired at now.
type Sweeper interface {
	ReapExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// Scheduler runs a sweep immediately on Start and then on every tick. A
// sweep that removes a full batch is followed straight away by another.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. now is the clock; nil means time.Now.
func NewScheduler(s Sweeper, interval time.Duration, batch int, now func() time.Time, logger *slog.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if batch <= 0 {
		batch = 100
	}
	return &Scheduler{
		sweeper:  s,
		interval: interval,
		batch:    batch,
		now:      now,
		logger:   logger,
	}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current sweep to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce reaps until a batch comes back short and returns the total.
func (s *Scheduler) SweepOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.sweeper.ReapExpired(ctx, s.now(), s.batch)
		total += n
		if err != nil {
			s.logger.Error("expiry sweep failed", "err", err)
			break
		}
		if n < s.batch {
			break
		}
	}
	if total > 0 {
		s.logger.Info("expiry sweep completed", "removed", total)
	}
	return total
}
