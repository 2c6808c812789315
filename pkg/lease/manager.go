// Package lease implements time-bounded ownership of jobs and shards.
//
// A lease is the system's only mutual-exclusion mechanism: a single
// conditional update stamps owner fields, a fresh token, and an expiry
// on an assignable row. Winning is a boolean, losing is routine, and an
// expired lease is simply up for grabs again.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/security"
)

// DefaultTTL is the lease duration granted on acquire and extended on
// each heartbeat.
const DefaultTTL = 30 * time.Minute

// ManagerOption configures a Manager.
type ManagerOption interface {
	ApplyManager(*Manager)
}

type managerOptionFunc func(*Manager)

func (f managerOptionFunc) ApplyManager(m *Manager) { f(m) }

// WithTTL sets the lease duration.
func WithTTL(d time.Duration) ManagerOption {
	return managerOptionFunc(func(m *Manager) {
		m.ttl = d
	})
}

// Manager grants, extends, and releases leases against one LeaseStore.
// Instantiate one per leased table: shards for worker claims, jobs for
// coarse single-owner processing.
type Manager struct {
	leases core.LeaseStore
	ttl    time.Duration
}

// NewManager creates a Manager over the given lease store.
func NewManager(leases core.LeaseStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		leases: leases,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt.ApplyManager(m)
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	return m
}

// TTL returns the configured lease duration.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire attempts to take ownership of a record for workerID on behalf
// of userID. A fresh random token and an expiry of now+TTL are stamped
// in the same conditional write that checks the record is assignable and
// unowned or expired. False means another worker holds it; try the next
// candidate.
func (m *Manager) Acquire(ctx context.Context, id, workerID, userID string) (bool, error) {
	if err := security.ValidateWorkerID(workerID); err != nil {
		return false, err
	}
	token := uuid.New().String()
	return m.leases.Acquire(ctx, id, workerID, userID, token, time.Now().Add(m.ttl))
}

// Heartbeat extends the lease to now+TTL. False means ownership was
// already lost to expiry or reclaim; the caller must stop processing the
// record immediately, another worker may own it by now.
func (m *Manager) Heartbeat(ctx context.Context, id, workerID string) (bool, error) {
	return m.leases.Heartbeat(ctx, id, workerID, time.Now().Add(m.ttl))
}

// Release returns an owned record to the assignable pool. Releasing a
// record whose lease was already lost is a no-op, so a second Release
// can never disturb a lease acquired by another worker in between.
func (m *Manager) Release(ctx context.Context, id, workerID string) error {
	return m.leases.Release(ctx, id, workerID)
}
