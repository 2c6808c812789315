// Package checkpoint persists durable intra-shard progress markers.
//
// Executors create a checkpoint before working on a resource and
// complete it afterwards. A crash in between leaves an incomplete
// marker, which tells the next owner of the shard to replay that
// resource from its last completed checkpoint. Payloads are opaque
// bytes tagged with a type; the scheduler never interprets them.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/security"
)

// Option configures a Manager.
type Option interface {
	ApplyCheckpoint(*Manager)
}

type optionFunc func(*Manager)

func (f optionFunc) ApplyCheckpoint(m *Manager) { f(m) }

// WithEmitter sets the event emitter, normally wired by the scheduler.
func WithEmitter(emit func(core.Event)) Option {
	return optionFunc(func(m *Manager) {
		m.emit = emit
	})
}

// Manager creates, completes, and audits checkpoints.
type Manager struct {
	store core.Store
	emit  func(core.Event)
}

// New creates a checkpoint Manager over the given store.
func New(store core.Store, opts ...Option) *Manager {
	m := &Manager{store: store}
	for _, opt := range opts {
		opt.ApplyCheckpoint(m)
	}
	return m
}

// Create inserts an incomplete checkpoint for a resource the caller is
// about to process. The payload is size-capped but otherwise opaque.
func (m *Manager) Create(ctx context.Context, shardID, ctype, key string, payload []byte, correlationID string) (*core.Checkpoint, error) {
	if err := security.ValidateCheckpointType(ctype); err != nil {
		return nil, err
	}
	if err := security.ValidateCheckpointKey(key); err != nil {
		return nil, err
	}
	if err := security.ValidatePayloadSize(payload); err != nil {
		return nil, err
	}

	cp := &core.Checkpoint{
		ID:            uuid.New().String(),
		ShardID:       shardID,
		Type:          ctype,
		Key:           key,
		Payload:       payload,
		CorrelationID: correlationID,
	}
	if err := m.store.CreateCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("checkpoint: create %s/%s: %w", ctype, key, err)
	}

	m.emitEvent(&core.CheckpointSaved{
		CheckpointID: cp.ID,
		ShardID:      shardID,
		Type:         ctype,
		Key:          key,
		Timestamp:    time.Now(),
	})
	return cp, nil
}

// Complete marks a checkpoint as durably applied and records its final
// counters. Completing twice rewrites the same terminal state, so a
// worker that crashes between completing and acknowledging can safely
// replay the call.
func (m *Manager) Complete(ctx context.Context, checkpointID string, items, bytes int64) error {
	if err := m.store.CompleteCheckpoint(ctx, checkpointID, items, bytes); err != nil {
		return err
	}

	if m.emit != nil {
		cp, err := m.store.GetCheckpoint(ctx, checkpointID)
		if err == nil && cp != nil {
			m.emitEvent(&core.CheckpointCompleted{
				CheckpointID: cp.ID,
				ShardID:      cp.ShardID,
				Timestamp:    time.Now(),
			})
		}
	}
	return nil
}

// Resume returns the shard's incomplete checkpoints, oldest first. Each
// one names a resource whose processing was interrupted; the resource
// must be replayed from its last completed checkpoint of the same
// (type, key), not assumed partially done.
func (m *Manager) Resume(ctx context.Context, shardID string) ([]core.Checkpoint, error) {
	return m.store.GetIncompleteCheckpoints(ctx, shardID)
}

// LatestCompleted returns the authoritative resume cursor for one
// (type, key), or nil when the resource has never completed a
// checkpoint.
func (m *Manager) LatestCompleted(ctx context.Context, shardID, ctype, key string) (*core.Checkpoint, error) {
	return m.store.LatestCompletedCheckpoint(ctx, shardID, ctype, key)
}

// History returns every checkpoint of a shard in creation order.
func (m *Manager) History(ctx context.Context, shardID string) ([]core.Checkpoint, error) {
	return m.store.GetCheckpoints(ctx, shardID)
}

// Violation is one integrity finding: an incomplete checkpoint that a
// later completed checkpoint of the same type group overtook. It points
// at out-of-order or concurrent writers corrupting the resume chain.
type Violation struct {
	Type          string
	IncompleteID  string
	IncompleteKey string
	CompletedID   string
	CompletedKey  string
}

func (v Violation) String() string {
	return fmt.Sprintf("checkpoint %s (%s/%s) incomplete but %s (%s/%s) completed after it",
		v.IncompleteID, v.Type, v.IncompleteKey, v.CompletedID, v.Type, v.CompletedKey)
}

// ValidateIntegrity scans a shard's checkpoint history per type group in
// creation order and reports every incomplete marker that a completed
// checkpoint later overtook. Findings are data, not an error; the error
// return covers only the store read.
func (m *Manager) ValidateIntegrity(ctx context.Context, shardID string) ([]Violation, error) {
	history, err := m.store.GetCheckpoints(ctx, shardID)
	if err != nil {
		return nil, err
	}

	open := map[string][]core.Checkpoint{} // type -> incomplete markers not yet overtaken
	var violations []Violation
	for _, cp := range history {
		if !cp.Completed {
			open[cp.Type] = append(open[cp.Type], cp)
			continue
		}
		for _, stale := range open[cp.Type] {
			violations = append(violations, Violation{
				Type:          cp.Type,
				IncompleteID:  stale.ID,
				IncompleteKey: stale.Key,
				CompletedID:   cp.ID,
				CompletedKey:  cp.Key,
			})
		}
		delete(open, cp.Type)
	}
	return violations, nil
}

func (m *Manager) emitEvent(ev core.Event) {
	if m.emit != nil {
		m.emit(ev)
	}
}
