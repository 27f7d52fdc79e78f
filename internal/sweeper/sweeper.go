// Package sweeper deletes clients that have gone silent past their
// source's expiry window, cascading to their metrics.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/Derkades/metrics/internal/schema"
	"github.com/Derkades/metrics/internal/store"
)

// Sweeper is the recurring expiry task. It shares the store with request
// handlers but communicates nothing back except through it.
type Sweeper struct {
	registry *schema.Registry
	db       *store.DB
	logger   *slog.Logger

	// InitialDelay is waited once before the first pass, SourcePause
	// between sources within a pass to bound lock contention, and
	// Interval between passes.
	InitialDelay time.Duration
	SourcePause  time.Duration
	Interval     time.Duration
}

// New creates a sweeper with the default schedule.
func New(registry *schema.Registry, db *store.DB, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		registry:     registry,
		db:           db,
		logger:       logger,
		InitialDelay: 10 * time.Second,
		SourcePause:  time.Second,
		Interval:     5 * time.Minute,
	}
}

// Run loops until ctx is cancelled. A deletion failure for one source is
// logged and the pass continues with the next source; Run itself only
// returns on cancellation, so the sweeper's lifecycle never affects
// request handling.
func (s *Sweeper) Run(ctx context.Context) error {
	if !sleep(ctx, s.InitialDelay) {
		return nil
	}
	for {
		if !s.sweep(ctx) {
			return nil
		}
		if !sleep(ctx, s.Interval) {
			return nil
		}
	}
}

// sweep runs one pass over all sources. Returns false when ctx was
// cancelled mid-pass.
func (s *Sweeper) sweep(ctx context.Context) bool {
	now := time.Now()
	for _, name := range s.registry.Names() {
		src, ok := s.registry.Get(name)
		if !ok {
			continue
		}

		s.logger.Debug("pruning expired data", slog.String("source", name))
		cutoff := now.Add(-time.Duration(src.ExpireMinutes) * time.Minute)
		n, err := s.db.DeleteExpiredBefore(name, cutoff)
		switch {
		case err != nil:
			s.logger.Error("prune failed",
				slog.String("source", name),
				slog.String("error", err.Error()))
		case n > 0:
			s.logger.Info("pruned expired clients",
				slog.String("source", name),
				slog.Int64("count", n))
		}

		if !sleep(ctx, s.SourcePause) {
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
