// Package worker drives the job queue outside of HTTP requests: it drains due
// entries on a poll interval and runs the recovery sweeps on a slower
// cadence.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/alfie-backend/internal/services"
)

// Queue is the part of the queue service the loop drives.
type Queue interface {
	TriggerWorker(ctx context.Context, limit int) (int, error)
	UnlockStuck(ctx context.Context, minutes int) (services.SweepReport, error)
	FailExpired(ctx context.Context, hours int) (int, error)
}

// Options tune the loop. Zero values fall back to the defaults in New.
type Options struct {
	PollInterval  time.Duration
	SweepInterval time.Duration
	BatchSize     int
	StuckMinutes  int
	MaxAgeHours   int

	// Purge runs with every sweep when set (expired idempotency keys).
	Purge func(ctx context.Context, now time.Time) (int64, error)
}

// Runner owns the poll and sweep loops.
type Runner struct {
	queue Queue
	opts  Options
	log   zerolog.Logger
	now   func() time.Time
}

// New builds a Runner.
func New(q Queue, opts Options) *Runner {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 5
	}
	if opts.StuckMinutes < 1 {
		opts.StuckMinutes = 10
	}
	if opts.MaxAgeHours < 1 {
		opts.MaxAgeHours = 24
	}
	return &Runner{
		queue: q,
		opts:  opts,
		log:   log.With().Str("component", "worker.loop").Logger(),
		now:   time.Now,
	}
}

// Run blocks until ctx is cancelled. A sweep runs once at startup so entries
// orphaned by a previous crash are recovered before new work is claimed.
func (r *Runner) Run(ctx context.Context) error {
	r.Sweep(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.every(gctx, r.opts.PollInterval, r.Drain) })
	g.Go(func() error { return r.every(gctx, r.opts.SweepInterval, r.Sweep) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) every(ctx context.Context, d time.Duration, fn func(context.Context)) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			fn(ctx)
		}
	}
}

// Drain claims batches until the queue has nothing due or ctx ends.
func (r *Runner) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.queue.TriggerWorker(ctx, r.opts.BatchSize)
		if err != nil {
			r.log.Error().Err(err).Msg("claim failed")
			return
		}
		if n > 0 {
			r.log.Debug().Int("processed", n).Msg("batch processed")
		}
		if n < r.opts.BatchSize {
			return
		}
	}
}

// Sweep requeues stuck entries, fails expired ones and purges stale keys.
// Errors are logged; the next tick tries again.
func (r *Runner) Sweep(ctx context.Context) {
	rep, err := r.queue.UnlockStuck(ctx, r.opts.StuckMinutes)
	if err != nil {
		r.log.Error().Err(err).Msg("unlock sweep failed")
	} else if rep.Unlocked+rep.Failed > 0 {
		r.log.Info().Int("unlocked", rep.Unlocked).Int("failed", rep.Failed).Msg("stuck entries recovered")
	}

	n, err := r.queue.FailExpired(ctx, r.opts.MaxAgeHours)
	if err != nil {
		r.log.Error().Err(err).Msg("expiry sweep failed")
	} else if n > 0 {
		r.log.Info().Int("failed", n).Msg("expired entries failed")
	}

	if r.opts.Purge != nil {
		if purged, err := r.opts.Purge(ctx, r.now().UTC()); err != nil {
			r.log.Warn().Err(err).Msg("idempotency purge failed")
		} else if purged > 0 {
			r.log.Debug().Int64("purged", purged).Msg("idempotency keys purged")
		}
	}
}
