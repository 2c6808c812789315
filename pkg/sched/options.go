package sched

import (
	"log/slog"
	"time"

	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/lease"
	"github.com/jdziat/shardwork/pkg/planner"
	"github.com/jdziat/shardwork/pkg/registry"
	"github.com/jdziat/shardwork/pkg/retry"
	"github.com/jdziat/shardwork/pkg/schedule"
)

// config collects knobs applied before the component set is built.
type config struct {
	logger           *slog.Logger
	shardLeaseTTL    time.Duration
	jobLeaseTTL      time.Duration
	backoff          retry.Backoff
	sizing           planner.Config
	advisor          core.RouteAdvisor
	maxActivePerUser int
	claimAttempts    int
	reaperSchedule   schedule.Schedule
	staleWorkerAfter time.Duration
}

func defaultConfig() config {
	return config{
		logger:           slog.Default(),
		shardLeaseTTL:    lease.DefaultTTL,
		jobLeaseTTL:      lease.DefaultTTL,
		backoff:          retry.DefaultBackoff(),
		sizing:           planner.DefaultConfig(),
		staleWorkerAfter: registry.DefaultStaleAfter,
	}
}

// Option configures a Scheduler.
type Option interface {
	ApplyScheduler(*Scheduler)
}

type optionFunc func(*Scheduler)

func (f optionFunc) ApplyScheduler(s *Scheduler) { f(s) }

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Scheduler) {
		if l != nil {
			s.cfg.logger = l
		}
	})
}

// WithShardLeaseTTL sets the lease duration for shard ownership.
func WithShardLeaseTTL(d time.Duration) Option {
	return optionFunc(func(s *Scheduler) { s.cfg.shardLeaseTTL = d })
}

// WithJobLeaseTTL sets the lease duration for job ownership.
func WithJobLeaseTTL(d time.Duration) Option {
	return optionFunc(func(s *Scheduler) { s.cfg.jobLeaseTTL = d })
}

// WithBackoff sets the retry delay schedule.
func WithBackoff(b retry.Backoff) Option {
	return optionFunc(func(s *Scheduler) { s.cfg.backoff = b })
}

// WithSizing replaces the planner's sizing and threshold configuration
// wholesale. Use planner.DefaultConfig() as the starting point.
func WithSizing(cfg planner.Config) Option {
	return optionFunc(func(s *Scheduler) { s.cfg.sizing = cfg })
}

// WithRouteAdvisor sets the advisor consulted while planning shards.
func WithRouteAdvisor(a core.RouteAdvisor) Option {
	return optionFunc(func(s *Scheduler) { s.cfg.advisor = a })
}

// WithMaxActivePerUser caps concurrently leased shards per user.
// Zero disables the ceiling.
func WithMaxActivePerUser(n int) Option {
	return optionFunc(func(s *Scheduler) { s.cfg.maxActivePerUser = n })
}

// WithClaimAttempts bounds how many candidates one claim call races for.
func WithClaimAttempts(n int) Option {
	return optionFunc(func(s *Scheduler) { s.cfg.claimAttempts = n })
}

// WithReaperSchedule sets the reaper sweep cadence.
func WithReaperSchedule(sc schedule.Schedule) Option {
	return optionFunc(func(s *Scheduler) { s.cfg.reaperSchedule = sc })
}

// WithStaleWorkerAfter sets the heartbeat age beyond which a worker is
// refused work and eventually marked offline. The registry and the
// reaper share the threshold so they agree on what stale means.
func WithStaleWorkerAfter(d time.Duration) Option {
	return optionFunc(func(s *Scheduler) { s.cfg.staleWorkerAfter = d })
}
