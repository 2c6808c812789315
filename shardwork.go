// Package shardwork plans collection-style workloads into shards and runs
// them across a fleet of workers with lease-based ownership, durable
// checkpoints, and bounded retries.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and scheduler
//	db, _ := gorm.Open(sqlite.Open("shardwork.db"), &gorm.Config{})
//	store := shardwork.NewGormStore(db)
//	store.Migrate(context.Background())
//	s := shardwork.New(store)
//
//	// Register an executor
//	s.RegisterExecutor("mail.collection", shardwork.ExecutorFunc(
//	    func(ctx context.Context, shard *shardwork.Shard, resume []shardwork.Checkpoint) error {
//	        return collectMail(ctx, shard, resume)
//	    }))
//
//	// Plan a job
//	plan, _ := s.Plan(ctx, shardwork.Request{
//	    Kind:     "mail.collection",
//	    UserID:   "legal-team",
//	    Subjects: []string{"alice@example.com", "bob@example.com"},
//	    From:     from,
//	    To:       to,
//	})
//
//	// Start a worker
//	w := shardwork.NewWorker(s, shardwork.Concurrency(4))
//	w.Start(ctx)
package shardwork

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/shardwork/pkg/audit"
	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/lease"
	"github.com/jdziat/shardwork/pkg/planner"
	"github.com/jdziat/shardwork/pkg/progress"
	"github.com/jdziat/shardwork/pkg/retry"
	"github.com/jdziat/shardwork/pkg/sched"
	"github.com/jdziat/shardwork/pkg/schedule"
	"github.com/jdziat/shardwork/pkg/security"
	"github.com/jdziat/shardwork/pkg/shardctx"
	"github.com/jdziat/shardwork/pkg/storage"
	"github.com/jdziat/shardwork/pkg/worker"
)

func init() {
	// Register the worker factory to enable Scheduler.NewWorker()
	sched.WorkerFactory = func(s *sched.Scheduler, opts ...any) core.Starter {
		workerOpts := make([]worker.Option, 0, len(opts))
		for _, opt := range opts {
			if wo, ok := opt.(worker.Option); ok {
				workerOpts = append(workerOpts, wo)
			}
		}
		return worker.New(s, workerOpts...)
	}
}

// Type aliases for the public API
type (
	// Job is the roll-up record for one planning request.
	Job = core.Job

	// Shard is the unit of assignment: one subject over one time window.
	Shard = core.Shard

	// ShardResult carries counters reported when a shard finishes.
	ShardResult = core.ShardResult

	// Checkpoint records durable intra-shard progress.
	Checkpoint = core.Checkpoint

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// ShardStatus represents the current state of a shard.
	ShardStatus = core.ShardStatus

	// Store defines the persistence layer.
	Store = core.Store

	// ShardExecutor performs the work of a single shard.
	ShardExecutor = core.ShardExecutor

	// ExecutorFunc adapts a function to the ShardExecutor interface.
	ExecutorFunc = core.ExecutorFunc

	// ShardContext carries per-shard helpers into executor code.
	ShardContext = shardctx.ShardContext

	// Event is the interface for all scheduler events.
	Event = core.Event

	// JobPlanned is emitted when planning persists a job and its shards.
	JobPlanned = core.JobPlanned

	// ShardAssigned is emitted when a worker acquires a shard lease.
	ShardAssigned = core.ShardAssigned

	// ShardStarted is emitted when a shard begins executing.
	ShardStarted = core.ShardStarted

	// ShardProgressed is emitted when a shard reports progress.
	ShardProgressed = core.ShardProgressed

	// ShardCompleted is emitted when a shard finishes successfully.
	ShardCompleted = core.ShardCompleted

	// ShardFailed is emitted when a shard fails with no retries remaining.
	ShardFailed = core.ShardFailed

	// ShardRetrying is emitted when a failed shard is scheduled again.
	ShardRetrying = core.ShardRetrying

	// LeaseReclaimed is emitted when the reaper recovers expired leases.
	LeaseReclaimed = core.LeaseReclaimed

	// CheckpointSaved is emitted when an incomplete checkpoint is created.
	CheckpointSaved = core.CheckpointSaved

	// CheckpointCompleted is emitted when a checkpoint is marked done.
	CheckpointCompleted = core.CheckpointCompleted

	// JobFinalized is emitted when a job reaches its terminal status.
	JobFinalized = core.JobFinalized

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// RetryAfterError indicates an error that should be retried after a delay.
	RetryAfterError = core.RetryAfterError

	// PartialCompletionError marks a shard that finished with permanent
	// per-unit failures.
	PartialCompletionError = core.PartialCompletionError

	// Scheduler wires the planner, leases, progress, and retry machinery
	// over one store.
	Scheduler = sched.Scheduler

	// Option configures a Scheduler.
	Option = sched.Option

	// Request describes the work to partition into shards.
	Request = planner.Request

	// Plan is the persisted outcome of one planning request.
	Plan = planner.Plan

	// Truncation records uncovered range for one subject.
	Truncation = planner.Truncation

	// Recommendation is Evaluate's advice on whether to shard a request.
	Recommendation = planner.Recommendation

	// SizingConfig holds the planner's window and cap settings.
	SizingConfig = planner.Config

	// RouteAdvisor supplies per-subject sizing hints during planning.
	RouteAdvisor = core.RouteAdvisor

	// RouteAdvice is one subject's sizing hint.
	RouteAdvice = core.RouteAdvice

	// Backoff computes retry delays with exponential growth and jitter.
	Backoff = retry.Backoff

	// Worker claims shards and drives executors.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.Option

	// WorkerConfig holds worker configuration.
	WorkerConfig = worker.Config

	// RetryConfig bounds client-side retries of storage operations.
	RetryConfig = worker.RetryConfig

	// WorkerRegistration is a worker's self-reported presence and load.
	WorkerRegistration = core.WorkerRegistration

	// WorkerStatus is the advertised state of a worker process.
	WorkerStatus = core.WorkerStatus

	// Snapshot is a point-in-time view of a job's progress.
	Snapshot = progress.Snapshot

	// Schedule defines when a recurring task should run next.
	Schedule = schedule.Schedule

	// AuditEntry is one record in the activity trail.
	AuditEntry = core.AuditEntry

	// AuditSink receives audit entries.
	AuditSink = core.AuditSink

	// AuditRecorder bridges the event bus to an audit sink.
	AuditRecorder = audit.Recorder

	// AuditOption configures an AuditRecorder.
	AuditOption = audit.Option

	// SlogSink writes audit entries as structured log records.
	SlogSink = audit.SlogSink

	// GormStore implements Store using GORM.
	GormStore = storage.GormStore

	// PoolConfig holds database connection pool settings.
	PoolConfig = storage.PoolConfig

	// PoolOption modifies a PoolConfig.
	PoolOption = storage.PoolOption
)

// Job status constants
const (
	JobPending            = core.JobPending
	JobAssigned           = core.JobAssigned
	JobProcessing         = core.JobProcessing
	JobCompleted          = core.JobCompleted
	JobFailed             = core.JobFailed
	JobPartiallyCompleted = core.JobPartiallyCompleted
)

// Shard status constants
const (
	StatusPending            = core.StatusPending
	StatusAssigned           = core.StatusAssigned
	StatusRunning            = core.StatusRunning
	StatusCompleted          = core.StatusCompleted
	StatusFailed             = core.StatusFailed
	StatusPartiallyCompleted = core.StatusPartiallyCompleted
	StatusRetrying           = core.StatusRetrying
)

// Worker status constants
const (
	WorkerAvailable    = core.WorkerAvailable
	WorkerOverloaded   = core.WorkerOverloaded
	WorkerShuttingDown = core.WorkerShuttingDown
	WorkerOffline      = core.WorkerOffline
)

// Sizing defaults
const (
	DefaultMaxWindow           = planner.DefaultMaxWindow
	DefaultMinWindowFloor      = planner.DefaultMinWindowFloor
	DefaultMaxShardsPerSubject = planner.DefaultMaxShardsPerSubject
	DefaultRetryMax            = planner.DefaultRetryMax
	DefaultLeaseTTL            = lease.DefaultTTL
)

// Security limits
const (
	MaxKindLength            = security.MaxKindLength
	MaxSubjectKeyLength      = security.MaxSubjectKeyLength
	MaxWorkerIDLength        = security.MaxWorkerIDLength
	MaxCheckpointTypeLength  = security.MaxCheckpointTypeLength
	MaxCheckpointKeyLength   = security.MaxCheckpointKeyLength
	MaxCheckpointPayloadSize = security.MaxCheckpointPayloadSize
	MaxRetries               = security.MaxRetries
	MaxConcurrency           = security.MaxConcurrency
	MaxErrorMessageLength    = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrInvalidKind           = core.ErrInvalidKind
	ErrKindTooLong           = core.ErrKindTooLong
	ErrInvalidSubjectKey     = core.ErrInvalidSubjectKey
	ErrSubjectKeyTooLong     = core.ErrSubjectKeyTooLong
	ErrInvalidWorkerID       = core.ErrInvalidWorkerID
	ErrWorkerIDTooLong       = core.ErrWorkerIDTooLong
	ErrInvalidCheckpointType = core.ErrInvalidCheckpointType
	ErrCheckpointKeyEmpty    = core.ErrCheckpointKeyEmpty
	ErrCheckpointKeyTooLong  = core.ErrCheckpointKeyTooLong
	ErrPayloadTooLarge       = core.ErrPayloadTooLarge
	ErrInvalidWindow         = core.ErrInvalidWindow
	ErrNoSubjects            = core.ErrNoSubjects
	ErrJobNotFound           = core.ErrJobNotFound
	ErrShardNotFound         = core.ErrShardNotFound
	ErrCheckpointNotFound    = core.ErrCheckpointNotFound
	ErrWorkerNotRegistered   = core.ErrWorkerNotRegistered
)

// New creates a Scheduler with the given storage backend.
func New(store Store, opts ...Option) *Scheduler {
	return sched.New(store, opts...)
}

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return storage.NewGormStore(db)
}

// NewGormStoreWithPool creates a GORM-backed store with the connection
// pool configured.
func NewGormStoreWithPool(db *gorm.DB, opts ...PoolOption) (*GormStore, error) {
	return storage.NewGormStoreWithPool(db, opts...)
}

// NewWorker creates a worker bound to the scheduler.
func NewWorker(s *Scheduler, opts ...WorkerOption) *Worker {
	return worker.New(s, opts...)
}

// NewAuditRecorder creates a recorder consuming the scheduler's events.
func NewAuditRecorder(s *Scheduler, opts ...AuditOption) *AuditRecorder {
	return audit.New(s, opts...)
}

// NewSlogSink creates an audit sink logging at info level.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return audit.NewSlogSink(logger)
}

// DefaultBackoff returns the retry delay curve used when none is configured.
func DefaultBackoff() Backoff {
	return retry.DefaultBackoff()
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// PartialCompletion wraps an error to mark a shard as finished with
// permanent per-unit failures.
func PartialCompletion(err error) error {
	return core.PartialCompletion(err)
}

// ValidateKind validates a job kind.
func ValidateKind(kind string) error {
	return security.ValidateKind(kind)
}

// ValidateSubjectKey validates a partition subject key.
func ValidateSubjectKey(key string) error {
	return security.ValidateSubjectKey(key)
}

// ValidateWorkerID validates a worker identifier.
func ValidateWorkerID(id string) error {
	return security.ValidateWorkerID(id)
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	return security.SanitizeErrorMessage(msg)
}

// ClampRetries ensures a retry ceiling is within limits.
func ClampRetries(n int) int {
	return security.ClampRetries(n)
}

// ClampConcurrency ensures worker capacity is within limits.
func ClampConcurrency(n int) int {
	return security.ClampConcurrency(n)
}

// Connection pool functions

// DefaultPoolConfig returns pool settings suited to a steady worker fleet.
func DefaultPoolConfig() PoolConfig {
	return storage.DefaultPoolConfig()
}

// FleetPoolConfig returns pool settings sized from the number of
// workers and their per-worker concurrency.
func FleetPoolConfig(workers, concurrency int) PoolConfig {
	return storage.FleetPoolConfig(workers, concurrency)
}

// HighConcurrencyPoolConfig returns pool settings for many workers
// sharing one database.
func HighConcurrencyPoolConfig() PoolConfig {
	return storage.HighConcurrencyPoolConfig()
}

// LowLatencyPoolConfig returns pool settings favoring claim latency.
func LowLatencyPoolConfig() PoolConfig {
	return storage.LowLatencyPoolConfig()
}

// ResourceConstrainedPoolConfig returns pool settings for small hosts.
func ResourceConstrainedPoolConfig() PoolConfig {
	return storage.ResourceConstrainedPoolConfig()
}

// MaxOpenConns sets the pool's maximum number of open connections.
func MaxOpenConns(n int) PoolOption {
	return storage.MaxOpenConns(n)
}

// MaxIdleConns sets the pool's maximum number of idle connections.
func MaxIdleConns(n int) PoolOption {
	return storage.MaxIdleConns(n)
}

// ConnMaxLifetime sets how long a pooled connection may live.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return storage.ConnMaxLifetime(d)
}

// ConnMaxIdleTime sets how long a pooled connection may sit idle.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return storage.ConnMaxIdleTime(d)
}

// ConfigurePool applies pool options to an open database handle.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	return storage.ConfigurePool(db, opts...)
}

// Scheduler option functions

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return sched.WithLogger(l)
}

// WithShardLeaseTTL sets how long a shard lease lives between renewals.
func WithShardLeaseTTL(d time.Duration) Option {
	return sched.WithShardLeaseTTL(d)
}

// WithJobLeaseTTL sets how long a job lease lives between renewals.
func WithJobLeaseTTL(d time.Duration) Option {
	return sched.WithJobLeaseTTL(d)
}

// WithBackoff sets the delay curve for shard retries.
func WithBackoff(b Backoff) Option {
	return sched.WithBackoff(b)
}

// WithSizing sets the planner's window and cap configuration.
func WithSizing(cfg SizingConfig) Option {
	return sched.WithSizing(cfg)
}

// WithRouteAdvisor sets a per-subject sizing advisor for planning.
func WithRouteAdvisor(a RouteAdvisor) Option {
	return sched.WithRouteAdvisor(a)
}

// WithMaxActivePerUser caps concurrently assigned shards per user.
func WithMaxActivePerUser(n int) Option {
	return sched.WithMaxActivePerUser(n)
}

// WithClaimAttempts sets how many candidate rows one claim call tries.
func WithClaimAttempts(n int) Option {
	return sched.WithClaimAttempts(n)
}

// WithReaperSchedule sets when lease recovery sweeps run.
func WithReaperSchedule(sc Schedule) Option {
	return sched.WithReaperSchedule(sc)
}

// WithStaleWorkerAfter sets how long after its last heartbeat a worker
// registration is considered offline.
func WithStaleWorkerAfter(d time.Duration) Option {
	return sched.WithStaleWorkerAfter(d)
}

// Worker option functions

// WithWorkerID sets the worker's identifier.
func WithWorkerID(id string) WorkerOption {
	return worker.WithWorkerID(id)
}

// WithHost sets the host name reported in the worker registry.
func WithHost(host string) WorkerOption {
	return worker.WithHost(host)
}

// Concurrency sets how many shards the worker processes at once.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// ForUser binds the worker's claims to one user's shards.
func ForUser(userID string) WorkerOption {
	return worker.ForUser(userID)
}

// WithPollInterval sets how often the worker looks for claimable shards.
func WithPollInterval(d time.Duration) WorkerOption {
	return worker.WithPollInterval(d)
}

// WithRegistrationHeartbeat sets how often the worker reports liveness.
func WithRegistrationHeartbeat(d time.Duration) WorkerOption {
	return worker.WithRegistrationHeartbeat(d)
}

// WithLeaseHeartbeat sets how often a running shard's lease is renewed.
func WithLeaseHeartbeat(d time.Duration) WorkerOption {
	return worker.WithLeaseHeartbeat(d)
}

// WithStorageRetry sets the retry policy for the worker's storage writes.
func WithStorageRetry(cfg RetryConfig) WorkerOption {
	return worker.WithStorageRetry(cfg)
}

// WithClaimRetry sets the retry policy for the worker's claim calls.
func WithClaimRetry(cfg RetryConfig) WorkerOption {
	return worker.WithClaimRetry(cfg)
}

// DefaultStorageRetry returns the default policy for storage writes.
func DefaultStorageRetry() RetryConfig {
	return worker.DefaultStorageRetry()
}

// DefaultClaimRetry returns the default policy for claim calls.
func DefaultClaimRetry() RetryConfig {
	return worker.DefaultClaimRetry()
}

// Audit option functions

// WithAuditSink sets the destination for audit entries.
func WithAuditSink(sink AuditSink) AuditOption {
	return audit.WithSink(sink)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// Executor context helpers

// ShardFromContext returns the current Shard, or nil outside an executor.
func ShardFromContext(ctx context.Context) *Shard {
	return shardctx.ShardFromContext(ctx)
}

// ShardIDFromContext returns the current shard ID, or empty outside an
// executor.
func ShardIDFromContext(ctx context.Context) string {
	return shardctx.ShardIDFromContext(ctx)
}

// CorrelationIDFromContext returns the attempt's correlation ID, or empty
// outside an executor.
func CorrelationIDFromContext(ctx context.Context) string {
	return shardctx.CorrelationIDFromContext(ctx)
}

// ReportProgress records the running shard's progress.
func ReportProgress(ctx context.Context, pct float64, items, bytes int64) error {
	return shardctx.ReportProgress(ctx, pct, items, bytes)
}

// SaveCheckpoint creates an incomplete checkpoint for the running shard.
func SaveCheckpoint(ctx context.Context, ctype, key string, payload []byte) (*Checkpoint, error) {
	return shardctx.SaveCheckpoint(ctx, ctype, key, payload)
}

// CompleteCheckpoint marks a checkpoint done with its final counters.
func CompleteCheckpoint(ctx context.Context, checkpointID string, items, bytes int64) error {
	return shardctx.CompleteCheckpoint(ctx, checkpointID, items, bytes)
}

// LastCursor returns the newest checkpoint for a type and key, or nil.
func LastCursor(ctx context.Context, ctype, key string) (*Checkpoint, error) {
	return shardctx.LastCursor(ctx, ctype, key)
}
