// Package reaper returns crashed workers' leases to the pool.
//
// A worker that dies mid-shard leaves an expired lease behind. The
// sweep resets every such row to pending in one conditional update, so
// a surviving worker can re-acquire the shard and resume from its last
// completed checkpoint. Worker registrations whose heartbeat has gone
// stale are marked offline in the same pass.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/schedule"
)

const (
	// DefaultInterval is the sweep cadence when no schedule is configured.
	DefaultInterval = time.Minute

	// DefaultStaleWorkerAfter is how long a registration may go without a
	// heartbeat before the sweep marks it offline.
	DefaultStaleWorkerAfter = 2 * time.Minute
)

// Option configures a Reaper.
type Option interface {
	ApplyReaper(*Reaper)
}

type optionFunc func(*Reaper)

func (f optionFunc) ApplyReaper(r *Reaper) { f(r) }

// WithSchedule sets the sweep cadence.
func WithSchedule(s schedule.Schedule) Option {
	return optionFunc(func(r *Reaper) {
		if s != nil {
			r.schedule = s
		}
	})
}

// WithStaleWorkerAfter sets the heartbeat age beyond which a worker
// registration is marked offline.
func WithStaleWorkerAfter(d time.Duration) Option {
	return optionFunc(func(r *Reaper) { r.staleWorkerAfter = d })
}

// WithLogger sets the reaper's logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(r *Reaper) {
		if l != nil {
			r.logger = l
		}
	})
}

// WithEmitter routes sweep events to fn.
func WithEmitter(fn func(core.Event)) Option {
	return optionFunc(func(r *Reaper) { r.emit = fn })
}

// Reaper periodically reclaims expired shard and job leases and sweeps
// stale worker registrations.
type Reaper struct {
	store            core.Store
	schedule         schedule.Schedule
	staleWorkerAfter time.Duration
	logger           *slog.Logger
	emit             func(core.Event)
}

// New creates a reaper backed by store.
func New(store core.Store, opts ...Option) *Reaper {
	r := &Reaper{
		store:            store,
		schedule:         schedule.Every(DefaultInterval),
		staleWorkerAfter: DefaultStaleWorkerAfter,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt.ApplyReaper(r)
	}
	if r.staleWorkerAfter <= 0 {
		r.staleWorkerAfter = DefaultStaleWorkerAfter
	}
	return r
}

// Result summarizes one sweep.
type Result struct {
	ShardsReclaimed int64
	JobsReclaimed   int64
	WorkersOffline  int64
}

// Start runs the sweep loop. Blocks until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	r.logger.Info("reaper started", "stale_worker_after", r.staleWorkerAfter)

	// The first sweep runs immediately so a restart reclaims crashed
	// workers' leases without waiting out an interval.
	r.sweepLogged(ctx)

	timer := time.NewTimer(time.Until(r.schedule.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			r.sweepLogged(ctx)
			timer.Reset(time.Until(r.schedule.Next(time.Now())))
		}
	}
}

func (r *Reaper) sweepLogged(ctx context.Context) {
	if _, err := r.Sweep(ctx); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			r.logger.Error("reaper sweep failed", "error", err)
		}
	}
}

// Sweep reclaims expired leases on shards and jobs and marks stale
// workers offline. A failing step does not stop the others.
func (r *Reaper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	var errs []error
	now := time.Now()

	shards, err := r.store.ShardLeases().ReclaimExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("reclaim shard leases: %w", err))
	}
	res.ShardsReclaimed = shards
	if shards > 0 {
		r.logger.Info("reclaimed expired shard leases", "count", shards)
		r.emitEvent(&core.LeaseReclaimed{Scope: "shards", Count: shards, Timestamp: now})
	}

	jobs, err := r.store.JobLeases().ReclaimExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("reclaim job leases: %w", err))
	}
	res.JobsReclaimed = jobs
	if jobs > 0 {
		r.logger.Info("reclaimed expired job leases", "count", jobs)
		r.emitEvent(&core.LeaseReclaimed{Scope: "jobs", Count: jobs, Timestamp: now})
	}

	workers, err := r.store.MarkStaleWorkersOffline(ctx, r.staleWorkerAfter)
	if err != nil {
		errs = append(errs, fmt.Errorf("mark stale workers offline: %w", err))
	}
	res.WorkersOffline = workers
	if workers > 0 {
		r.logger.Info("marked stale workers offline", "count", workers)
	}

	return res, errors.Join(errs...)
}

func (r *Reaper) emitEvent(e core.Event) {
	if r.emit != nil {
		r.emit(e)
	}
}
