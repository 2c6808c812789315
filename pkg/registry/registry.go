// Package registry tracks worker presence, load, and serviceability.
//
// Registrations are advisory capacity signals: selection consults them
// to avoid handing work to overloaded or vanished workers, but lease
// acquisition remains the sole ownership mechanism. Only the owning
// worker writes its row; the reaper may flip a stale row to offline.
package registry

import (
	"context"
	"time"

	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/security"
)

// DefaultStaleAfter is the heartbeat age beyond which a worker no longer
// counts as present.
const DefaultStaleAfter = 2 * time.Minute

// Option configures a Registry.
type Option interface {
	ApplyRegistry(*Registry)
}

type optionFunc func(*Registry)

func (f optionFunc) ApplyRegistry(r *Registry) { f(r) }

// WithStaleAfter sets the heartbeat freshness horizon.
func WithStaleAfter(d time.Duration) Option {
	return optionFunc(func(r *Registry) {
		r.staleAfter = d
	})
}

// Registry reads and maintains worker registrations.
type Registry struct {
	store      core.Store
	staleAfter time.Duration
}

// New creates a Registry over the given store.
func New(store core.Store, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt.ApplyRegistry(r)
	}
	if r.staleAfter <= 0 {
		r.staleAfter = DefaultStaleAfter
	}
	return r
}

// Register announces a worker, creating or refreshing its registration.
// Capacity is clamped to [1, MaxConcurrency] and the worker starts out
// available with zero load.
func (r *Registry) Register(ctx context.Context, workerID, host string, capacity int) error {
	if err := security.ValidateWorkerID(workerID); err != nil {
		return err
	}
	return r.store.UpsertWorker(ctx, &core.WorkerRegistration{
		WorkerID:      workerID,
		Host:          host,
		Capacity:      security.ClampConcurrency(capacity),
		Status:        core.WorkerAvailable,
		LastHeartbeat: time.Now(),
	})
}

// Heartbeat refreshes a worker's presence and re-derives its status from
// load against registered capacity. A draining worker stays
// shutting_down no matter what it reports. Unknown workers get
// ErrWorkerNotRegistered.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, load int) error {
	reg, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if reg == nil {
		return core.ErrWorkerNotRegistered
	}

	status := deriveStatus(load, reg.Capacity)
	if reg.Status == core.WorkerShuttingDown {
		status = core.WorkerShuttingDown
	}

	ok, err := r.store.TouchWorker(ctx, workerID, load, status)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrWorkerNotRegistered
	}
	return nil
}

// ShuttingDown marks a worker as draining: it keeps its current leases
// but is handed no new work. The state sticks until the worker
// re-registers.
func (r *Registry) ShuttingDown(ctx context.Context, workerID string) error {
	reg, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if reg == nil {
		return core.ErrWorkerNotRegistered
	}

	ok, err := r.store.TouchWorker(ctx, workerID, reg.CurrentLoad, core.WorkerShuttingDown)
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrWorkerNotRegistered
	}
	return nil
}

// Serviceable reports whether a worker should be handed new work. False
// for unknown, stale, overloaded, draining, or offline workers; never an
// error for a refusal.
func (r *Registry) Serviceable(ctx context.Context, workerID string) (bool, error) {
	reg, err := r.store.GetWorker(ctx, workerID)
	if err != nil {
		return false, err
	}
	if reg == nil {
		return false, nil
	}
	if time.Since(reg.LastHeartbeat) > r.staleAfter {
		return false, nil
	}
	return reg.Status == core.WorkerAvailable, nil
}

// Worker returns one registration, or nil when unknown.
func (r *Registry) Worker(ctx context.Context, workerID string) (*core.WorkerRegistration, error) {
	return r.store.GetWorker(ctx, workerID)
}

// Workers lists every known registration.
func (r *Registry) Workers(ctx context.Context) ([]*core.WorkerRegistration, error) {
	return r.store.ListWorkers(ctx)
}

func deriveStatus(load, capacity int) core.WorkerStatus {
	if capacity > 0 && load >= capacity {
		return core.WorkerOverloaded
	}
	return core.WorkerAvailable
}
