// Package shardctx provides executor access to the running shard's context.
package shardctx

import (
	"context"

	"github.com/jdziat/shardwork/pkg/core"
)

type ctxKey int

const shardContextKey ctxKey = iota

// CheckpointAccess is the slice of the checkpoint manager exposed to
// executors.
type CheckpointAccess interface {
	Create(ctx context.Context, shardID, ctype, key string, payload []byte, correlationID string) (*core.Checkpoint, error)
	Complete(ctx context.Context, checkpointID string, items, bytes int64) error
	LatestCompleted(ctx context.Context, shardID, ctype, key string) (*core.Checkpoint, error)
}

// ShardContext carries the references an executor needs while running a
// shard. Workers install it before invoking the executor.
type ShardContext struct {
	Shard         *core.Shard
	CorrelationID string

	// ReportProgress persists the shard's running counters. A false-owner
	// write is swallowed here; the lease heartbeat is what tells the
	// executor to stop.
	ReportProgress func(ctx context.Context, pct float64, items, bytes int64) error

	Checkpoints CheckpointAccess
}

// WithShardContext returns a context carrying the shard context.
func WithShardContext(ctx context.Context, sc *ShardContext) context.Context {
	return context.WithValue(ctx, shardContextKey, sc)
}

// FromContext returns the current ShardContext, or nil when the context
// does not belong to a running shard.
func FromContext(ctx context.Context) *ShardContext {
	sc, _ := ctx.Value(shardContextKey).(*ShardContext)
	return sc
}

// ShardFromContext returns the current Shard, or nil outside an executor.
// Use this to get the shard ID for logging or progress tracking.
func ShardFromContext(ctx context.Context) *core.Shard {
	sc := FromContext(ctx)
	if sc == nil {
		return nil
	}
	return sc.Shard
}

// ShardIDFromContext returns the current shard ID, or empty string outside
// an executor.
func ShardIDFromContext(ctx context.Context) string {
	shard := ShardFromContext(ctx)
	if shard == nil {
		return ""
	}
	return shard.ID
}

// CorrelationIDFromContext returns the correlation ID assigned to this
// shard execution, or empty string outside an executor.
func CorrelationIDFromContext(ctx context.Context) string {
	sc := FromContext(ctx)
	if sc == nil {
		return ""
	}
	return sc.CorrelationID
}

// ReportProgress records the shard's progress percentage and counters.
// Outside an executor it is a no-op.
func ReportProgress(ctx context.Context, pct float64, items, bytes int64) error {
	sc := FromContext(ctx)
	if sc == nil || sc.ReportProgress == nil {
		return nil
	}
	return sc.ReportProgress(ctx, pct, items, bytes)
}

// SaveCheckpoint creates an incomplete checkpoint for a resource in the
// current shard. Outside an executor it is a no-op returning nil.
func SaveCheckpoint(ctx context.Context, ctype, key string, payload []byte) (*core.Checkpoint, error) {
	sc := FromContext(ctx)
	if sc == nil || sc.Checkpoints == nil {
		return nil, nil
	}
	return sc.Checkpoints.Create(ctx, sc.Shard.ID, ctype, key, payload, sc.CorrelationID)
}

// CompleteCheckpoint marks a checkpoint complete with its final counters.
// Outside an executor it is a no-op.
func CompleteCheckpoint(ctx context.Context, checkpointID string, items, bytes int64) error {
	sc := FromContext(ctx)
	if sc == nil || sc.Checkpoints == nil {
		return nil
	}
	return sc.Checkpoints.Complete(ctx, checkpointID, items, bytes)
}

// LastCursor returns the most recent completed checkpoint for a resource
// in the current shard, the authoritative point to replay from. Returns
// nil when there is none or outside an executor.
func LastCursor(ctx context.Context, ctype, key string) (*core.Checkpoint, error) {
	sc := FromContext(ctx)
	if sc == nil || sc.Checkpoints == nil {
		return nil, nil
	}
	return sc.Checkpoints.LatestCompleted(ctx, sc.Shard.ID, ctype, key)
}
