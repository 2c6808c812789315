// Package audit turns scheduler events into a durable activity trail.
//
// A Recorder subscribes to the event bus and forwards lifecycle events
// to an AuditSink as flat entries. Delivery is advisory: a slow or
// failing sink loses its own entries and never blocks scheduling.
package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jdziat/shardwork/pkg/core"
)

// EventSource is the event bus the recorder subscribes to. The
// scheduler implements it.
type EventSource interface {
	Events() <-chan core.Event
	Unsubscribe(ch <-chan core.Event)
}

// Option configures a Recorder.
type Option interface {
	ApplyRecorder(*Recorder)
}

type optionFunc func(*Recorder)

func (f optionFunc) ApplyRecorder(r *Recorder) { f(r) }

// WithSink sets the destination for audit entries.
func WithSink(sink core.AuditSink) Option {
	return optionFunc(func(r *Recorder) {
		if sink != nil {
			r.sink = sink
		}
	})
}

// WithLogger sets the recorder's own logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(r *Recorder) {
		if logger != nil {
			r.logger = logger
		}
	})
}

// Recorder bridges the event bus to an audit sink.
type Recorder struct {
	source EventSource
	sink   core.AuditSink
	logger *slog.Logger

	// ready is closed once the recorder has subscribed.
	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a recorder. Entries go to a SlogSink on the default
// logger unless WithSink overrides it.
func New(source EventSource, opts ...Option) *Recorder {
	r := &Recorder{
		source: source,
		sink:   NewSlogSink(slog.Default()),
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt.ApplyRecorder(r)
	}
	return r
}

// WaitReady blocks until the recorder has subscribed to events.
func (r *Recorder) WaitReady() {
	<-r.ready
}

// Start consumes events until the context is cancelled.
func (r *Recorder) Start(ctx context.Context) error {
	events := r.source.Events()
	defer r.source.Unsubscribe(events)

	r.readyOnce.Do(func() { close(r.ready) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-events:
			entry, ok := entryFor(e)
			if !ok {
				continue
			}
			if err := r.sink.Record(ctx, entry); err != nil {
				r.logger.Warn("audit sink rejected entry", "action", entry.Action, "error", err)
			}
		}
	}
}

// entryFor maps one event onto an audit entry. Telemetry events
// (progress reports, checkpoint creation) are not part of the trail.
func entryFor(e core.Event) (core.AuditEntry, bool) {
	switch ev := e.(type) {
	case *core.JobPlanned:
		return core.AuditEntry{
			Action:    "job.planned",
			JobID:     ev.Job.ID,
			Timestamp: ev.Timestamp,
			Detail: map[string]any{
				"user_id":     ev.Job.UserID,
				"kind":        ev.Job.Kind,
				"shard_count": ev.ShardCount,
				"truncated":   ev.Truncated,
			},
		}, true
	case *core.ShardAssigned:
		return core.AuditEntry{
			Action:    "shard.assigned",
			JobID:     ev.JobID,
			ShardID:   ev.ShardID,
			WorkerID:  ev.WorkerID,
			Timestamp: ev.Timestamp,
		}, true
	case *core.ShardStarted:
		return core.AuditEntry{
			Action:    "shard.started",
			JobID:     ev.Shard.JobID,
			ShardID:   ev.Shard.ID,
			WorkerID:  ev.Shard.AssignedWorker,
			Timestamp: ev.Timestamp,
		}, true
	case *core.ShardCompleted:
		return core.AuditEntry{
			Action:    "shard.completed",
			JobID:     ev.Shard.JobID,
			ShardID:   ev.Shard.ID,
			WorkerID:  ev.Shard.AssignedWorker,
			Timestamp: ev.Timestamp,
			Detail: map[string]any{
				"partial":  ev.Partial,
				"duration": ev.Duration.String(),
			},
		}, true
	case *core.ShardFailed:
		return core.AuditEntry{
			Action:    "shard.failed",
			JobID:     ev.Shard.JobID,
			ShardID:   ev.Shard.ID,
			WorkerID:  ev.Shard.AssignedWorker,
			Timestamp: ev.Timestamp,
			Detail:    map[string]any{"error": errText(ev.Error)},
		}, true
	case *core.ShardRetrying:
		return core.AuditEntry{
			Action:    "shard.retrying",
			JobID:     ev.Shard.JobID,
			ShardID:   ev.Shard.ID,
			WorkerID:  ev.Shard.AssignedWorker,
			Timestamp: ev.Timestamp,
			Detail: map[string]any{
				"attempt":         ev.Attempt,
				"error":           errText(ev.Error),
				"next_attempt_at": ev.NextAttemptAt,
			},
		}, true
	case *core.LeaseReclaimed:
		return core.AuditEntry{
			Action:    "lease.reclaimed",
			Timestamp: ev.Timestamp,
			Detail: map[string]any{
				"scope": ev.Scope,
				"count": ev.Count,
			},
		}, true
	case *core.CheckpointCompleted:
		return core.AuditEntry{
			Action:    "checkpoint.completed",
			ShardID:   ev.ShardID,
			Timestamp: ev.Timestamp,
			Detail:    map[string]any{"checkpoint_id": ev.CheckpointID},
		}, true
	case *core.JobFinalized:
		return core.AuditEntry{
			Action:    "job.finalized",
			JobID:     ev.Job.ID,
			Timestamp: ev.Timestamp,
			Detail:    map[string]any{"status": string(ev.Status)},
		}, true
	default:
		return core.AuditEntry{}, false
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SlogSink writes audit entries as structured log records.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink logging at info level.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Record logs the entry with its action as the message.
func (s *SlogSink) Record(ctx context.Context, entry core.AuditEntry) error {
	args := make([]any, 0, 6+2*len(entry.Detail))
	if entry.JobID != "" {
		args = append(args, "job_id", entry.JobID)
	}
	if entry.ShardID != "" {
		args = append(args, "shard_id", entry.ShardID)
	}
	if entry.WorkerID != "" {
		args = append(args, "worker_id", entry.WorkerID)
	}
	for k, v := range entry.Detail {
		args = append(args, k, v)
	}
	s.logger.InfoContext(ctx, entry.Action, args...)
	return nil
}
