package storage

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/shardwork/pkg/core"
)

// leaseTarget describes how one table maps onto the lease primitive.
// Jobs and shards share the same lease columns but differ in which
// statuses are eligible and whether retry backoff gates acquisition.
type leaseTarget struct {
	model       any
	assignable  []string // statuses on which an unowned-or-expired lease may be taken
	acquired    string   // status stamped on successful acquire
	reclaimable []string // owned statuses swept back on release or expiry
	reclaimed   string   // status restored by release and reclaim
	gateBackoff bool     // also require next_attempt_at to have elapsed
}

// gormLeaseStore implements core.LeaseStore with single-row conditional
// updates. Winning or losing a row is decided entirely by RowsAffected.
type gormLeaseStore struct {
	db     *gorm.DB
	target leaseTarget
}

func newJobLeaseStore(db *gorm.DB) *gormLeaseStore {
	return &gormLeaseStore{
		db: db,
		target: leaseTarget{
			model: &core.Job{},
			assignable: []string{
				string(core.JobPending),
				string(core.JobAssigned),
				string(core.JobProcessing),
			},
			acquired: string(core.JobAssigned),
			reclaimable: []string{
				string(core.JobAssigned),
				string(core.JobProcessing),
			},
			reclaimed: string(core.JobPending),
		},
	}
}

func newShardLeaseStore(db *gorm.DB) *gormLeaseStore {
	return &gormLeaseStore{
		db: db,
		target: leaseTarget{
			model: &core.Shard{},
			// Assigned and running shards qualify too: their expired leases
			// can be taken over directly without waiting for a reaper sweep.
			assignable: []string{
				string(core.StatusPending),
				string(core.StatusRetrying),
				string(core.StatusAssigned),
				string(core.StatusRunning),
			},
			acquired: string(core.StatusAssigned),
			reclaimable: []string{
				string(core.StatusAssigned),
				string(core.StatusRunning),
			},
			reclaimed:   string(core.StatusPending),
			gateBackoff: true,
		},
	}
}

// Acquire takes the lease when the row is assignable, its lease is absent
// or expired, and its retry backoff (if gated) has elapsed.
func (ls *gormLeaseStore) Acquire(ctx context.Context, id, workerID, userID, token string, expiry time.Time) (bool, error) {
	now := time.Now()

	q := ls.db.WithContext(ctx).
		Model(ls.target.model).
		Where("id = ?", id).
		Where("status IN ?", ls.target.assignable).
		Where("(lease_expiry IS NULL OR lease_expiry < ?)", now)

	if ls.target.gateBackoff {
		q = q.Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now)
	}

	result := q.Updates(map[string]any{
		"status":          ls.target.acquired,
		"assigned_worker": workerID,
		"assigned_user":   userID,
		"lease_token":     token,
		"lease_expiry":    expiry,
	})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Heartbeat extends the lease while the caller still owns the row.
func (ls *gormLeaseStore) Heartbeat(ctx context.Context, id, workerID string, expiry time.Time) (bool, error) {
	result := ls.db.WithContext(ctx).
		Model(ls.target.model).
		Where("id = ? AND assigned_worker = ?", id, workerID).
		Update("lease_expiry", expiry)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Release returns an owned, non-terminal row to the reclaimed status.
// Zero rows affected means the row was already released, reclaimed, or
// closed; that is not an error.
func (ls *gormLeaseStore) Release(ctx context.Context, id, workerID string) error {
	return ls.db.WithContext(ctx).
		Model(ls.target.model).
		Where("id = ? AND assigned_worker = ?", id, workerID).
		Where("status IN ?", ls.target.reclaimable).
		Updates(reclaimUpdates(ls.target.reclaimed)).Error
}

// ReclaimExpired sweeps every owned row whose lease has elapsed.
func (ls *gormLeaseStore) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	result := ls.db.WithContext(ctx).
		Model(ls.target.model).
		Where("status IN ?", ls.target.reclaimable).
		Where("lease_expiry IS NOT NULL AND lease_expiry < ?", now).
		Updates(reclaimUpdates(ls.target.reclaimed))

	return result.RowsAffected, result.Error
}

func reclaimUpdates(reclaimed string) map[string]any {
	return map[string]any{
		"status":          reclaimed,
		"assigned_worker": "",
		"assigned_user":   "",
		"lease_token":     "",
		"lease_expiry":    nil,
	}
}
