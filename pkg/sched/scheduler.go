// Package sched composes the scheduling core. One Scheduler owns the
// store and the component set - planner, lease managers, selector,
// checkpoints, progress, retry coordinator, reaper, worker registry -
// and carries the event bus and lifecycle hooks that tie them together.
package sched

import (
	"context"
	"fmt"
	"sync"

	"github.com/jdziat/shardwork/pkg/checkpoint"
	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/lease"
	"github.com/jdziat/shardwork/pkg/planner"
	"github.com/jdziat/shardwork/pkg/progress"
	"github.com/jdziat/shardwork/pkg/reaper"
	"github.com/jdziat/shardwork/pkg/registry"
	"github.com/jdziat/shardwork/pkg/retry"
	"github.com/jdziat/shardwork/pkg/security"
)

// Scheduler wires the component set over one store.
type Scheduler struct {
	store core.Store

	planner     *planner.Planner
	shardLeases *lease.Manager
	jobLeases   *lease.Manager
	selector    *lease.Selector
	checkpoints *checkpoint.Manager
	progress    *progress.Aggregator
	retries     *retry.Coordinator
	reaper      *reaper.Reaper
	registry    *registry.Registry

	executors map[string]core.ShardExecutor

	cfg config
	mu  sync.RWMutex

	// Hooks
	onShardComplete []func(context.Context, *core.Shard)
	onShardFail     []func(context.Context, *core.Shard, error)
	onShardRetry    []func(context.Context, *core.Shard, int, error)
	onJobFinalized  []func(context.Context, *core.Job, core.JobStatus)

	// Event stream
	eventSubs []chan core.Event
}

// New creates a Scheduler with the given storage backend.
func New(store core.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		cfg:       defaultConfig(),
		executors: make(map[string]core.ShardExecutor),
	}
	for _, opt := range opts {
		opt.ApplyScheduler(s)
	}

	s.registry = registry.New(store,
		registry.WithStaleAfter(s.cfg.staleWorkerAfter),
	)
	s.shardLeases = lease.NewManager(store.ShardLeases(),
		lease.WithTTL(s.cfg.shardLeaseTTL),
	)
	s.jobLeases = lease.NewManager(store.JobLeases(),
		lease.WithTTL(s.cfg.jobLeaseTTL),
	)
	s.selector = lease.NewSelector(store, s.shardLeases,
		lease.WithServiceability(s.registry),
		lease.WithMaxActivePerUser(s.cfg.maxActivePerUser),
		lease.WithClaimAttempts(s.cfg.claimAttempts),
	)

	plannerOpts := []planner.Option{
		planner.WithConfig(s.cfg.sizing),
		planner.WithLogger(s.cfg.logger),
		planner.WithEmitter(s.Emit),
	}
	if s.cfg.advisor != nil {
		plannerOpts = append(plannerOpts, planner.WithRouteAdvisor(s.cfg.advisor))
	}
	s.planner = planner.New(store, plannerOpts...)

	s.checkpoints = checkpoint.New(store,
		checkpoint.WithEmitter(s.Emit),
	)
	s.progress = progress.New(store,
		progress.WithEmitter(s.Emit),
	)
	s.retries = retry.New(store,
		retry.WithBackoff(s.cfg.backoff),
		retry.WithLogger(s.cfg.logger),
		retry.WithEmitter(s.Emit),
	)

	reaperOpts := []reaper.Option{
		reaper.WithStaleWorkerAfter(s.cfg.staleWorkerAfter),
		reaper.WithLogger(s.cfg.logger),
		reaper.WithEmitter(s.Emit),
	}
	if s.cfg.reaperSchedule != nil {
		reaperOpts = append(reaperOpts, reaper.WithSchedule(s.cfg.reaperSchedule))
	}
	s.reaper = reaper.New(store, reaperOpts...)

	return s
}

// RegisterExecutor registers the executor that runs shards of the given
// kind. Registration is startup-time wiring, so an invalid kind panics.
func (s *Scheduler) RegisterExecutor(kind string, ex core.ShardExecutor) {
	if err := security.ValidateKind(kind); err != nil {
		panic(fmt.Sprintf("shardwork: invalid executor kind %q: %v", kind, err))
	}
	if ex == nil {
		panic(fmt.Sprintf("shardwork: nil executor for kind %q", kind))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[kind] = ex
}

// Executor returns the executor registered for kind.
func (s *Scheduler) Executor(kind string) (core.ShardExecutor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executors[kind]
	return ex, ok
}

// HasExecutor checks if an executor is registered for kind.
func (s *Scheduler) HasExecutor(kind string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.executors[kind]
	return ok
}

// Plan partitions a work request into a persisted job and its shards.
func (s *Scheduler) Plan(ctx context.Context, req planner.Request) (*planner.Plan, error) {
	return s.planner.Plan(ctx, req)
}

// Evaluate recommends whether a request is worth sharding, without
// touching the store.
func (s *Scheduler) Evaluate(req planner.Request) planner.Recommendation {
	return s.planner.Evaluate(req)
}

// Store returns the underlying storage.
func (s *Scheduler) Store() core.Store {
	return s.store
}

// Planner returns the planning component.
func (s *Scheduler) Planner() *planner.Planner {
	return s.planner
}

// ShardLeases returns the lease manager for shards.
func (s *Scheduler) ShardLeases() *lease.Manager {
	return s.shardLeases
}

// JobLeases returns the lease manager for jobs.
func (s *Scheduler) JobLeases() *lease.Manager {
	return s.jobLeases
}

// Selector returns the shard claim selector.
func (s *Scheduler) Selector() *lease.Selector {
	return s.selector
}

// Checkpoints returns the checkpoint manager.
func (s *Scheduler) Checkpoints() *checkpoint.Manager {
	return s.checkpoints
}

// Progress returns the progress aggregator.
func (s *Scheduler) Progress() *progress.Aggregator {
	return s.progress
}

// Retries returns the retry coordinator.
func (s *Scheduler) Retries() *retry.Coordinator {
	return s.retries
}

// Reaper returns the lock reaper. Run it with its Start method.
func (s *Scheduler) Reaper() *reaper.Reaper {
	return s.reaper
}

// Registry returns the worker registry.
func (s *Scheduler) Registry() *registry.Registry {
	return s.registry
}

// OnShardComplete registers a callback for when a shard completes.
func (s *Scheduler) OnShardComplete(fn func(context.Context, *core.Shard)) {
	s.mu.Lock()
	s.onShardComplete = append(s.onShardComplete, fn)
	s.mu.Unlock()
}

// OnShardFail registers a callback for when a shard fails permanently.
func (s *Scheduler) OnShardFail(fn func(context.Context, *core.Shard, error)) {
	s.mu.Lock()
	s.onShardFail = append(s.onShardFail, fn)
	s.mu.Unlock()
}

// OnShardRetry registers a callback for when a shard is scheduled for
// another attempt.
func (s *Scheduler) OnShardRetry(fn func(context.Context, *core.Shard, int, error)) {
	s.mu.Lock()
	s.onShardRetry = append(s.onShardRetry, fn)
	s.mu.Unlock()
}

// OnJobFinalized registers a callback for when a job reaches a terminal
// status.
func (s *Scheduler) OnJobFinalized(fn func(context.Context, *core.Job, core.JobStatus)) {
	s.mu.Lock()
	s.onJobFinalized = append(s.onJobFinalized, fn)
	s.mu.Unlock()
}

// Events returns a channel for receiving scheduler events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (s *Scheduler) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	s.mu.Lock()
	s.eventSubs = append(s.eventSubs, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed - callers must stop reading before calling
// Unsubscribe. After Unsubscribe returns, no further events will be
// sent to the channel.
func (s *Scheduler) Unsubscribe(ch <-chan core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.eventSubs {
		if sub == ch {
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers.
func (s *Scheduler) Emit(e core.Event) {
	s.mu.RLock()
	// Copy the slice so a concurrent Events() call cannot race the loop.
	subs := make([]chan core.Event, len(s.eventSubs))
	copy(subs, s.eventSubs)
	s.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full - this prevents blocking on slow consumers
		}
	}
}

// CallShardCompleteHooks calls all registered shard-complete hooks.
func (s *Scheduler) CallShardCompleteHooks(ctx context.Context, shard *core.Shard) {
	s.mu.RLock()
	hooks := make([]func(context.Context, *core.Shard), len(s.onShardComplete))
	copy(hooks, s.onShardComplete)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, shard)
	}
}

// CallShardFailHooks calls all registered shard-fail hooks.
func (s *Scheduler) CallShardFailHooks(ctx context.Context, shard *core.Shard, err error) {
	s.mu.RLock()
	hooks := make([]func(context.Context, *core.Shard, error), len(s.onShardFail))
	copy(hooks, s.onShardFail)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, shard, err)
	}
}

// CallShardRetryHooks calls all registered shard-retry hooks.
func (s *Scheduler) CallShardRetryHooks(ctx context.Context, shard *core.Shard, attempt int, err error) {
	s.mu.RLock()
	hooks := make([]func(context.Context, *core.Shard, int, error), len(s.onShardRetry))
	copy(hooks, s.onShardRetry)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, shard, attempt, err)
	}
}

// CallJobFinalizedHooks calls all registered job-finalized hooks.
func (s *Scheduler) CallJobFinalizedHooks(ctx context.Context, job *core.Job, status core.JobStatus) {
	s.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, core.JobStatus), len(s.onJobFinalized))
	copy(hooks, s.onJobFinalized)
	s.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, status)
	}
}

// WorkerFactory is set by the root package to create workers.
// This avoids import cycles between the sched and worker packages.
var WorkerFactory func(s *Scheduler, opts ...any) core.Starter

// NewWorker creates a new worker for this scheduler.
// Options should be worker.Option values.
func (s *Scheduler) NewWorker(opts ...any) core.Starter {
	if WorkerFactory == nil {
		panic("shardwork: WorkerFactory not initialized - import github.com/jdziat/shardwork to initialize")
	}
	return WorkerFactory(s, opts...)
}
