package core

import (
	"context"
	"time"
)

// Starter is the interface for long-running components.
type Starter interface {
	Start(ctx context.Context) error
}

// RouteAdvice is a routing recommendation for one shard.
type RouteAdvice struct {
	Route      string // Connector or endpoint the shard should execute against
	EstItems   int64
	EstBytes   int64
	Confidence float64 // Advisor's confidence in the estimates, 0..1, advisory only
}

// RouteAdvisor recommends an execution route and cost estimate for a shard
// at planning time. Advice is best-effort: a failing advisor leaves the
// shard without a route, it does not abort planning.
type RouteAdvisor interface {
	Recommend(ctx context.Context, shard *Shard) (RouteAdvice, error)
}

// ShardExecutor performs the actual work of one shard. Resume holds the
// incomplete checkpoints left by a previous owner; implementations should
// replay those resources from their last completed checkpoint before
// advancing. The context is cancelled if the shard lease is lost.
type ShardExecutor interface {
	Run(ctx context.Context, shard *Shard, resume []Checkpoint) error
}

// ExecutorFunc adapts a function to the ShardExecutor interface.
type ExecutorFunc func(ctx context.Context, shard *Shard, resume []Checkpoint) error

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, shard *Shard, resume []Checkpoint) error {
	return f(ctx, shard, resume)
}

// AuditEntry is one audit record derived from a scheduler event.
type AuditEntry struct {
	Action    string
	JobID     string
	ShardID   string
	WorkerID  string
	Detail    map[string]any
	Timestamp time.Time
}

// AuditSink receives audit records. Sinks must tolerate being called
// concurrently; delivery is fire-and-forget and never blocks scheduling.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry) error
}
