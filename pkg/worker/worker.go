package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/sched"
	"github.com/jdziat/shardwork/pkg/security"
	"github.com/jdziat/shardwork/pkg/shardctx"
)

// Worker claims shards and runs their executors.
type Worker struct {
	scheduler *sched.Scheduler
	config    Config
	logger    *slog.Logger
	wg        sync.WaitGroup
	inflight  atomic.Int64
}

// New creates a worker bound to the scheduler's component set.
func New(s *sched.Scheduler, opts ...Option) *Worker {
	config := Config{
		Concurrency:           DefaultConcurrency,
		PollInterval:          DefaultPollInterval,
		RegistrationHeartbeat: DefaultRegistrationHeartbeat,
		StorageRetry:          DefaultStorageRetry(),
		ClaimRetry:            DefaultClaimRetry(),
	}
	if host, err := os.Hostname(); err == nil {
		config.Host = host
	}

	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}

	if config.WorkerID == "" {
		config.WorkerID = uuid.New().String()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	config.Concurrency = security.ClampConcurrency(config.Concurrency)
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RegistrationHeartbeat <= 0 {
		config.RegistrationHeartbeat = DefaultRegistrationHeartbeat
	}
	if config.StorageRetry.MaxAttempts <= 0 {
		config.StorageRetry = DefaultStorageRetry()
	}
	if config.ClaimRetry.MaxAttempts <= 0 {
		config.ClaimRetry = DefaultClaimRetry()
	}
	if config.LeaseHeartbeat <= 0 {
		// A third of the TTL leaves two renewal chances before expiry.
		config.LeaseHeartbeat = s.ShardLeases().TTL() / 3
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Worker{
		scheduler: s,
		config:    config,
		logger:    config.Logger,
	}
}

// ID returns the worker's id as reported to the registry.
func (w *Worker) ID() string {
	return w.config.WorkerID
}

// Start registers the worker and begins claiming shards. It blocks
// until the context is cancelled, then reports the registration as
// shutting down, drains in-flight shards, and returns the context's
// error.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.scheduler.Registry().Register(ctx, w.config.WorkerID, w.config.Host, w.config.Concurrency); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	w.logger.Info("worker started",
		"worker_id", w.config.WorkerID,
		"host", w.config.Host,
		"concurrency", w.config.Concurrency)

	shards := make(chan *core.Shard, w.config.Concurrency)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, shards)
	}

	go w.runRegistrationHeartbeat(ctx)

	poll := time.NewTicker(w.config.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutDown()
			close(shards)
			w.wg.Wait()
			w.logger.Info("worker stopped", "worker_id", w.config.WorkerID)
			return ctx.Err()
		case <-poll.C:
			// A queued claim holds a ticking lease, so never claim more
			// than the processors can hold.
			if w.inflight.Load() >= int64(w.config.Concurrency) {
				continue
			}
			shard, err := w.claimWithRetry(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					w.logger.Error("claim failed after retries", "error", err)
				}
				continue
			}
			if shard == nil {
				continue
			}
			w.inflight.Add(1)
			w.scheduler.Emit(&core.ShardAssigned{
				ShardID:   shard.ID,
				JobID:     shard.JobID,
				WorkerID:  w.config.WorkerID,
				Timestamp: time.Now(),
			})
			select {
			case shards <- shard:
			case <-ctx.Done():
				w.inflight.Add(-1)
				w.releaseShard(context.WithoutCancel(ctx), shard)
			}
		}
	}
}

// claimWithRetry runs one claim attempt with backoff on storage errors.
func (w *Worker) claimWithRetry(ctx context.Context) (*core.Shard, error) {
	var shard *core.Shard
	err := withRetry(ctx, w.config.ClaimRetry, func() error {
		var cerr error
		shard, cerr = w.scheduler.Selector().Claim(ctx, w.config.WorkerID, w.config.UserID)
		return cerr
	})
	return shard, err
}

func (w *Worker) processLoop(ctx context.Context, shards <-chan *core.Shard) {
	defer w.wg.Done()

	for shard := range shards {
		w.processShard(ctx, shard)
	}
}

func (w *Worker) processShard(ctx context.Context, shard *core.Shard) {
	defer w.inflight.Add(-1)

	// Outcome writes run on a detached context so cancellation
	// mid-shard cannot lose the result of work already done.
	storeCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		// Drained after shutdown without ever starting.
		w.releaseShard(storeCtx, shard)
		return
	}

	started := time.Now()

	won, err := w.markRunning(storeCtx, shard.ID)
	if err != nil {
		w.logger.Error("failed to mark shard running", "shard_id", shard.ID, "error", err)
		w.releaseShard(storeCtx, shard)
		return
	}
	if !won {
		// The lease expired in the queue and the row moved on.
		w.logger.Debug("shard no longer ours", "shard_id", shard.ID)
		return
	}
	shard.Status = core.StatusRunning

	// The first shard to run moves the job to processing; later calls
	// lose the guard and that is fine.
	if _, err := w.scheduler.Store().MarkJobProcessing(storeCtx, shard.JobID); err != nil {
		w.logger.Warn("failed to mark job processing", "job_id", shard.JobID, "error", err)
	}

	ex, ok := w.scheduler.Executor(shard.Kind)
	if !ok {
		// Another worker in the fleet may carry this executor, so the
		// attempt goes through the retry ledger instead of failing the
		// shard outright.
		w.logger.Error("no executor for shard", "shard_id", shard.ID, "kind", shard.Kind)
		w.failShard(storeCtx, shard, fmt.Errorf("no executor for kind %q", shard.Kind))
		w.finalizeJob(storeCtx, shard.JobID)
		return
	}

	w.scheduler.Emit(&core.ShardStarted{Shard: shard, Timestamp: started})

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var leaseLost atomic.Bool
	go w.runLeaseHeartbeat(runCtx, shard, abort, &leaseLost)

	err = w.executeShard(runCtx, shard, ex)
	abort()

	var partial *core.PartialCompletionError
	switch {
	case leaseLost.Load():
		// The row has a new owner; nothing here is ours to write.
		w.logger.Warn("shard abandoned after lease loss", "shard_id", shard.ID)
		return
	case err == nil:
		w.completeShard(storeCtx, shard, started, false, "")
	case errors.As(err, &partial):
		w.completeShard(storeCtx, shard, started, true, err.Error())
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		// Shutdown interrupted the run. Hand the shard back untouched;
		// the next claimant resumes from its checkpoints.
		w.releaseShard(storeCtx, shard)
		return
	default:
		w.failShard(storeCtx, shard, err)
	}

	w.finalizeJob(storeCtx, shard.JobID)
}

// executeShard loads the resume set, installs the shard context, and
// invokes the executor. A panic in the executor surfaces as an error.
func (w *Worker) executeShard(ctx context.Context, shard *core.Shard, ex core.ShardExecutor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	resume, err := w.scheduler.Checkpoints().Resume(ctx, shard.ID)
	if err != nil {
		return fmt.Errorf("load resume checkpoints: %w", err)
	}

	sc := &shardctx.ShardContext{
		Shard:         shard,
		CorrelationID: uuid.New().String(),
		ReportProgress: func(ctx context.Context, pct float64, items, bytes int64) error {
			won, perr := w.scheduler.Store().UpdateShardProgress(ctx, shard.ID, w.config.WorkerID, pct, items, bytes)
			if perr != nil {
				return perr
			}
			if won {
				w.scheduler.Emit(&core.ShardProgressed{
					ShardID:   shard.ID,
					JobID:     shard.JobID,
					Pct:       pct,
					Items:     items,
					Bytes:     bytes,
					Timestamp: time.Now(),
				})
			}
			return nil
		},
		Checkpoints: w.scheduler.Checkpoints(),
	}

	return ex.Run(shardctx.WithShardContext(ctx, sc), shard, resume)
}

// runLeaseHeartbeat renews the shard lease while the executor runs. It
// shares the run's cancel: the moment the lease cannot be confirmed the
// executor is aborted so a stale owner stops writing.
func (w *Worker) runLeaseHeartbeat(ctx context.Context, shard *core.Shard, abort context.CancelFunc, leaseLost *atomic.Bool) {
	ticker := time.NewTicker(w.config.LeaseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var renewed bool
			err := withRetry(ctx, w.config.StorageRetry, func() error {
				var herr error
				renewed, herr = w.scheduler.ShardLeases().Heartbeat(ctx, shard.ID, w.config.WorkerID)
				return herr
			})
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					// Renewal failed, so ownership is unknown. Stop the run
					// and let the reaper sort the row out.
					w.logger.Warn("lease renewal failed, aborting shard", "shard_id", shard.ID, "error", err)
					leaseLost.Store(true)
					abort()
				}
				return
			}
			if !renewed {
				w.logger.Warn("lease lost, aborting shard", "shard_id", shard.ID, "worker_id", w.config.WorkerID)
				leaseLost.Store(true)
				abort()
				return
			}
			w.logger.Debug("lease renewed", "shard_id", shard.ID)
		}
	}
}

// runRegistrationHeartbeat keeps the worker's registration fresh and
// reports its current load.
func (w *Worker) runRegistrationHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.config.RegistrationHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			load := int(w.inflight.Load())
			err := withRetry(ctx, w.config.StorageRetry, func() error {
				return w.scheduler.Registry().Heartbeat(ctx, w.config.WorkerID, load)
			})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				w.logger.Warn("registration heartbeat failed", "worker_id", w.config.WorkerID, "error", err)
			}
		}
	}
}

func (w *Worker) markRunning(ctx context.Context, shardID string) (bool, error) {
	var won bool
	err := withRetry(ctx, w.config.StorageRetry, func() error {
		var merr error
		won, merr = w.scheduler.Store().MarkShardRunning(ctx, shardID, w.config.WorkerID)
		return merr
	})
	return won, err
}

// completeShard closes a shard the executor finished. The zero result
// keeps the counters the executor last reported.
func (w *Worker) completeShard(ctx context.Context, shard *core.Shard, started time.Time, partial bool, errMsg string) {
	var won bool
	err := withRetry(ctx, w.config.StorageRetry, func() error {
		var serr error
		if partial {
			won, serr = w.scheduler.Store().CompleteShardPartial(ctx, shard.ID, w.config.WorkerID, errMsg, core.ShardResult{})
		} else {
			won, serr = w.scheduler.Store().CompleteShard(ctx, shard.ID, w.config.WorkerID, core.ShardResult{})
		}
		return serr
	})
	if err != nil {
		w.logger.Error("failed to complete shard", "shard_id", shard.ID, "error", err)
		return
	}
	if !won {
		// The lease moved while we were finishing; the new owner's
		// outcome stands.
		w.logger.Debug("completion superseded", "shard_id", shard.ID)
		return
	}

	w.scheduler.Emit(&core.ShardCompleted{
		Shard:     shard,
		Partial:   partial,
		Duration:  time.Since(started),
		Timestamp: time.Now(),
	})
	w.scheduler.CallShardCompleteHooks(ctx, shard)
}

// failShard routes a failed attempt through the retry coordinator,
// which owns the retry-versus-fail decision and its events.
func (w *Worker) failShard(ctx context.Context, shard *core.Shard, cause error) {
	var retried bool
	err := withRetry(ctx, w.config.StorageRetry, func() error {
		var rerr error
		retried, rerr = w.scheduler.Retries().Retry(ctx, shard.ID, cause)
		return rerr
	})
	if err != nil {
		w.logger.Error("failed to record shard failure", "shard_id", shard.ID, "error", err)
		return
	}

	if retried {
		w.scheduler.CallShardRetryHooks(ctx, shard, shard.RetryCount+1, cause)
	} else {
		w.scheduler.CallShardFailHooks(ctx, shard, cause)
	}
}

// finalizeJob rolls the job up once its last shard lands. Only the
// caller that actually performed the finalization fires the hooks.
func (w *Worker) finalizeJob(ctx context.Context, jobID string) {
	var won bool
	err := withRetry(ctx, w.config.StorageRetry, func() error {
		var ferr error
		won, ferr = w.scheduler.Progress().FinalizeIfDone(ctx, jobID)
		return ferr
	})
	if err != nil {
		w.logger.Error("job finalization check failed", "job_id", jobID, "error", err)
		return
	}
	if !won {
		return
	}

	job, err := w.scheduler.Store().GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	w.logger.Info("job finalized", "job_id", jobID, "status", job.Status)
	w.scheduler.CallJobFinalizedHooks(ctx, job, job.Status)
}

// releaseShard hands a claim back to the pool without burning an
// attempt. Losing the guard means the row already moved on.
func (w *Worker) releaseShard(ctx context.Context, shard *core.Shard) {
	err := withRetry(ctx, w.config.StorageRetry, func() error {
		return w.scheduler.ShardLeases().Release(ctx, shard.ID, w.config.WorkerID)
	})
	if err != nil {
		w.logger.Warn("failed to release claim", "shard_id", shard.ID, "error", err)
	}
}

// shutDown reports the registration as draining. The polling context is
// already cancelled by the time this runs, so it uses its own deadline.
func (w *Worker) shutDown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.scheduler.Registry().ShuttingDown(ctx, w.config.WorkerID); err != nil {
		w.logger.Warn("failed to report shutdown", "worker_id", w.config.WorkerID, "error", err)
	}
}
