package core

import (
	"context"
	"time"
)

// ShardResult carries the final counters reported when closing a shard.
type ShardResult struct {
	ActualItems int64
	ActualBytes int64
}

// LeaseStore is the conditional-update primitive for time-bounded
// ownership. Every method is a single guarded write: the boolean result
// reports whether this caller won the row, and losing is not an error.
type LeaseStore interface {
	// Acquire takes the lease on an assignable, unowned-or-expired row.
	Acquire(ctx context.Context, id, workerID, userID, token string, expiry time.Time) (bool, error)

	// Heartbeat extends the lease. False means ownership was lost and the
	// caller must stop working on the row.
	Heartbeat(ctx context.Context, id, workerID string, expiry time.Time) (bool, error)

	// Release voluntarily returns an owned, non-terminal row to pending.
	// Releasing a row that is no longer owned is a no-op.
	Release(ctx context.Context, id, workerID string) error

	// ReclaimExpired returns all rows with elapsed leases to pending and
	// reports how many were swept.
	ReclaimExpired(ctx context.Context, now time.Time) (int64, error)
}

// Store defines the persistence layer for jobs, shards, checkpoints, and
// worker registrations. All coordination happens through single-row
// conditional updates; methods returning a bool report whether the guarded
// write matched, and a false result means the caller lost a race, not that
// the store failed.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Planning
	CreateJobWithShards(ctx context.Context, job *Job, shards []*Shard) error

	// Job queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetJobsByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)

	// Shard queries
	GetShard(ctx context.Context, shardID string) (*Shard, error)
	GetShards(ctx context.Context, jobID string) ([]*Shard, error)
	GetShardsByStatus(ctx context.Context, status ShardStatus, limit int) ([]*Shard, error)

	// NextAvailableShard returns the best assignable candidate, or nil when
	// none qualifies. The read is advisory: the shard may be claimed by
	// another worker before the caller's Acquire lands.
	NextAvailableShard(ctx context.Context) (*Shard, error)

	// CountActiveShardsForUser counts shards currently assigned or running
	// on behalf of a user.
	CountActiveShardsForUser(ctx context.Context, userID string) (int64, error)

	// Guarded shard mutations
	MarkShardRunning(ctx context.Context, shardID, workerID string) (bool, error)
	UpdateShardProgress(ctx context.Context, shardID, workerID string, pct float64, items, bytes int64) (bool, error)
	CompleteShard(ctx context.Context, shardID, workerID string, res ShardResult) (bool, error)
	CompleteShardPartial(ctx context.Context, shardID, workerID, errMsg string, res ShardResult) (bool, error)

	// MarkShardRetrying advances retry_count from its expected value and
	// schedules the next attempt. The expected-count guard makes the
	// increment race-free.
	MarkShardRetrying(ctx context.Context, shardID string, fromRetryCount int, errMsg string, nextAttemptAt time.Time) (bool, error)
	MarkShardFailed(ctx context.Context, shardID, errMsg string) (bool, error)

	// Job lifecycle
	MarkJobProcessing(ctx context.Context, jobID string) (bool, error)
	FinalizeJob(ctx context.Context, jobID string, status JobStatus, lastError string) (bool, error)

	// Checkpoints
	CreateCheckpoint(ctx context.Context, cp *Checkpoint) error
	CompleteCheckpoint(ctx context.Context, checkpointID string, items, bytes int64) error
	GetCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error)
	GetCheckpoints(ctx context.Context, shardID string) ([]Checkpoint, error)
	GetIncompleteCheckpoints(ctx context.Context, shardID string) ([]Checkpoint, error)
	LatestCompletedCheckpoint(ctx context.Context, shardID, ctype, key string) (*Checkpoint, error)

	// Worker registrations
	UpsertWorker(ctx context.Context, reg *WorkerRegistration) error
	TouchWorker(ctx context.Context, workerID string, load int, status WorkerStatus) (bool, error)
	GetWorker(ctx context.Context, workerID string) (*WorkerRegistration, error)
	ListWorkers(ctx context.Context) ([]*WorkerRegistration, error)
	MarkStaleWorkersOffline(ctx context.Context, olderThan time.Duration) (int64, error)

	// Leases
	JobLeases() LeaseStore
	ShardLeases() LeaseStore
}
