package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/security"
)

// shardBatchSize keeps multi-row inserts under SQLite's bound-variable limit.
const shardBatchSize = 25

// GormStore implements core.Store using GORM.
type GormStore struct {
	db          *gorm.DB
	jobLeases   *gormLeaseStore
	shardLeases *gormLeaseStore
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:          db,
		jobLeases:   newJobLeaseStore(db),
		shardLeases: newShardLeaseStore(db),
	}
}

// DB exposes the underlying handle for pool configuration and tests.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the store runs on SQLite. Callers use this to
// clamp writer concurrency, since SQLite serializes writes.
func (s *GormStore) IsSQLite() bool {
	return s.db != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Job{},
		&core.Shard{},
		&core.Checkpoint{},
		&core.WorkerRegistration{},
	)
}

// JobLeases returns the lease primitive over the jobs table.
func (s *GormStore) JobLeases() core.LeaseStore {
	return s.jobLeases
}

// ShardLeases returns the lease primitive over the shards table.
func (s *GormStore) ShardLeases() core.LeaseStore {
	return s.shardLeases
}

// CreateJobWithShards persists a job and its planned shards atomically.
// Either the whole plan lands or none of it does.
func (s *GormStore) CreateJobWithShards(ctx context.Context, job *core.Job, shards []*core.Shard) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.JobPending
	}
	for _, shard := range shards {
		if shard.ID == "" {
			shard.ID = uuid.New().String()
		}
		if shard.Status == "" {
			shard.Status = core.StatusPending
		}
		shard.JobID = job.ID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		if len(shards) == 0 {
			return nil
		}
		return tx.CreateInBatches(shards, shardBatchSize).Error
	})
}

// GetJob retrieves a job by ID. Returns nil when no such job exists.
func (s *GormStore) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobsByStatus retrieves jobs by status.
func (s *GormStore) GetJobsByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	var jobList []*core.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Limit(limit).
		Find(&jobList).Error
	return jobList, err
}

// GetShard retrieves a shard by ID. Returns nil when no such shard exists.
func (s *GormStore) GetShard(ctx context.Context, shardID string) (*core.Shard, error) {
	var shard core.Shard
	err := s.db.WithContext(ctx).First(&shard, "id = ?", shardID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shard, nil
}

// GetShards retrieves every shard of a job in plan order.
func (s *GormStore) GetShards(ctx context.Context, jobID string) ([]*core.Shard, error) {
	var shards []*core.Shard
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("subject_key ASC, shard_index ASC").
		Find(&shards).Error
	return shards, err
}

// GetShardsByStatus retrieves shards by status.
func (s *GormStore) GetShardsByStatus(ctx context.Context, status core.ShardStatus, limit int) ([]*core.Shard, error) {
	var shards []*core.Shard
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Limit(limit).
		Find(&shards).Error
	return shards, err
}

// NextAvailableShard returns the best candidate a worker could try to
// acquire right now, or nil when nothing is eligible. The answer is
// advisory: another worker may win the row first, and only Acquire on
// the shard lease store decides ownership.
func (s *GormStore) NextAvailableShard(ctx context.Context) (*core.Shard, error) {
	var shard core.Shard
	now := time.Now()

	err := s.db.WithContext(ctx).
		Where("status IN ?", []core.ShardStatus{
			core.StatusPending,
			core.StatusRetrying,
			core.StatusAssigned,
			core.StatusRunning,
		}).
		Where("(lease_expiry IS NULL OR lease_expiry < ?)", now).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
		Order("priority DESC, created_at ASC").
		First(&shard).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shard, nil
}

// CountActiveShardsForUser counts shards currently leased on behalf of a
// user. Callers use it to cap per-user concurrency before acquiring.
func (s *GormStore) CountActiveShardsForUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Shard{}).
		Where("assigned_user = ?", userID).
		Where("status IN ?", []core.ShardStatus{core.StatusAssigned, core.StatusRunning}).
		Count(&count).Error
	return count, err
}

// MarkShardRunning moves an assigned shard to running. The worker must
// still own the shard; losing the race reports false, not an error.
func (s *GormStore) MarkShardRunning(ctx context.Context, shardID, workerID string) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Shard{}).
		Where("id = ? AND assigned_worker = ?", shardID, workerID).
		Where("status = ?", core.StatusAssigned).
		Updates(map[string]any{
			"status":     core.StatusRunning,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateShardProgress records forward progress on a running shard.
// Percentages outside [0, 100] are clamped.
func (s *GormStore) UpdateShardProgress(ctx context.Context, shardID, workerID string, pct float64, items, bytes int64) (bool, error) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	result := s.db.WithContext(ctx).
		Model(&core.Shard{}).
		Where("id = ? AND assigned_worker = ?", shardID, workerID).
		Where("status = ?", core.StatusRunning).
		Updates(map[string]any{
			"progress_pct": pct,
			"actual_items": items,
			"actual_bytes": bytes,
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CompleteShard marks an owned shard as successfully completed.
func (s *GormStore) CompleteShard(ctx context.Context, shardID, workerID string, res core.ShardResult) (bool, error) {
	updates := map[string]any{
		"status":       core.StatusCompleted,
		"progress_pct": 100.0,
		"completed_at": time.Now(),
	}
	addShardResult(updates, res)
	addLeaseClear(updates)

	result := s.db.WithContext(ctx).
		Model(&core.Shard{}).
		Where("id = ? AND assigned_worker = ?", shardID, workerID).
		Where("status IN ?", []core.ShardStatus{core.StatusAssigned, core.StatusRunning}).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CompleteShardPartial closes an owned shard that finished with known
// gaps. The shard will not be retried; the error message records what
// was skipped.
func (s *GormStore) CompleteShardPartial(ctx context.Context, shardID, workerID, errMsg string, res core.ShardResult) (bool, error) {
	updates := map[string]any{
		"status":       core.StatusPartiallyCompleted,
		"completed_at": time.Now(),
		"last_error":   security.SanitizeErrorMessage(errMsg),
	}
	addShardResult(updates, res)
	addLeaseClear(updates)

	result := s.db.WithContext(ctx).
		Model(&core.Shard{}).
		Where("id = ? AND assigned_worker = ?", shardID, workerID).
		Where("status IN ?", []core.ShardStatus{core.StatusAssigned, core.StatusRunning}).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkShardRetrying schedules a failed attempt for another try. The
// retry_count equality check makes the increment a compare-and-swap:
// two coordinators observing the same attempt produce one retry, not
// two.
func (s *GormStore) MarkShardRetrying(ctx context.Context, shardID string, fromRetryCount int, errMsg string, nextAttemptAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":          core.StatusRetrying,
		"retry_count":     fromRetryCount + 1,
		"next_attempt_at": nextAttemptAt,
		"last_error":      security.SanitizeErrorMessage(errMsg),
	}
	addLeaseClear(updates)

	result := s.db.WithContext(ctx).
		Model(&core.Shard{}).
		Where("id = ? AND retry_count = ?", shardID, fromRetryCount).
		Where("status IN ?", []core.ShardStatus{core.StatusRunning, core.StatusFailed}).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkShardFailed closes a shard permanently.
func (s *GormStore) MarkShardFailed(ctx context.Context, shardID, errMsg string) (bool, error) {
	updates := map[string]any{
		"status":       core.StatusFailed,
		"completed_at": time.Now(),
		"last_error":   security.SanitizeErrorMessage(errMsg),
	}
	addLeaseClear(updates)

	result := s.db.WithContext(ctx).
		Model(&core.Shard{}).
		Where("id = ?", shardID).
		Where("status IN ?", []core.ShardStatus{core.StatusAssigned, core.StatusRunning, core.StatusRetrying}).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkJobProcessing records that work on the job's shards has begun.
func (s *GormStore) MarkJobProcessing(ctx context.Context, jobID string) (bool, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Where("status IN ?", []core.JobStatus{core.JobPending, core.JobAssigned}).
		Updates(map[string]any{
			"status":     core.JobProcessing,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FinalizeJob moves a job to a terminal status once all of its shards
// are closed. The status guard makes finalization idempotent under
// racing aggregators: exactly one caller observes true.
func (s *GormStore) FinalizeJob(ctx context.Context, jobID string, status core.JobStatus, lastError string) (bool, error) {
	updates := map[string]any{
		"status":       status,
		"completed_at": time.Now(),
	}
	if lastError != "" {
		updates["last_error"] = security.SanitizeErrorMessage(lastError)
	}
	addLeaseClear(updates)

	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Where("status IN ?", []core.JobStatus{core.JobPending, core.JobAssigned, core.JobProcessing}).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CreateCheckpoint stores a checkpoint for a shard.
func (s *GormStore) CreateCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(cp).Error
}

// CompleteCheckpoint marks a checkpoint as durably applied. Completing
// an already-completed checkpoint rewrites the same terminal state, so
// replays are harmless.
func (s *GormStore) CompleteCheckpoint(ctx context.Context, checkpointID string, items, bytes int64) error {
	var cp core.Checkpoint
	err := s.db.WithContext(ctx).First(&cp, "id = ?", checkpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.ErrCheckpointNotFound
	}
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).
		Model(&core.Checkpoint{}).
		Where("id = ?", checkpointID).
		Updates(map[string]any{
			"completed":       true,
			"completed_at":    time.Now(),
			"items_processed": items,
			"bytes_processed": bytes,
		}).Error
}

// GetCheckpoint retrieves a single checkpoint. Returns nil when it does
// not exist.
func (s *GormStore) GetCheckpoint(ctx context.Context, checkpointID string) (*core.Checkpoint, error) {
	var cp core.Checkpoint
	err := s.db.WithContext(ctx).First(&cp, "id = ?", checkpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// GetCheckpoints retrieves all checkpoints for a shard, oldest first.
func (s *GormStore) GetCheckpoints(ctx context.Context, shardID string) ([]core.Checkpoint, error) {
	var checkpoints []core.Checkpoint
	err := s.db.WithContext(ctx).
		Where("shard_id = ?", shardID).
		Order("created_at ASC").
		Find(&checkpoints).Error
	return checkpoints, err
}

// GetIncompleteCheckpoints retrieves the resume set for a shard: work
// that was started but never confirmed complete.
func (s *GormStore) GetIncompleteCheckpoints(ctx context.Context, shardID string) ([]core.Checkpoint, error) {
	var checkpoints []core.Checkpoint
	err := s.db.WithContext(ctx).
		Where("shard_id = ? AND completed = ?", shardID, false).
		Order("created_at ASC").
		Find(&checkpoints).Error
	return checkpoints, err
}

// LatestCompletedCheckpoint returns the most recent completed checkpoint
// of the given type and key, or nil when none exists.
func (s *GormStore) LatestCompletedCheckpoint(ctx context.Context, shardID, checkpointType, key string) (*core.Checkpoint, error) {
	var cp core.Checkpoint
	err := s.db.WithContext(ctx).
		Where("shard_id = ? AND type = ? AND key = ? AND completed = ?", shardID, checkpointType, key, true).
		Order("created_at DESC").
		First(&cp).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// UpsertWorker registers a worker or refreshes an existing registration.
func (s *GormStore) UpsertWorker(ctx context.Context, w *core.WorkerRegistration) error {
	var existing core.WorkerRegistration
	err := s.db.WithContext(ctx).
		Where("worker_id = ?", w.WorkerID).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(w).Error
	}
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).
		Model(&core.WorkerRegistration{}).
		Where("worker_id = ?", w.WorkerID).
		Updates(map[string]any{
			"host":           w.Host,
			"capacity":       w.Capacity,
			"current_load":   w.CurrentLoad,
			"status":         w.Status,
			"last_heartbeat": w.LastHeartbeat,
		}).Error
}

// TouchWorker refreshes a worker's heartbeat, load, and status. Reports
// false when the worker was never registered.
func (s *GormStore) TouchWorker(ctx context.Context, workerID string, load int, status core.WorkerStatus) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&core.WorkerRegistration{}).
		Where("worker_id = ?", workerID).
		Updates(map[string]any{
			"current_load":   load,
			"status":         status,
			"last_heartbeat": time.Now(),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetWorker retrieves a worker registration. Returns nil when unknown.
func (s *GormStore) GetWorker(ctx context.Context, workerID string) (*core.WorkerRegistration, error) {
	var w core.WorkerRegistration
	err := s.db.WithContext(ctx).First(&w, "worker_id = ?", workerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkers retrieves every known worker registration.
func (s *GormStore) ListWorkers(ctx context.Context) ([]*core.WorkerRegistration, error) {
	var workers []*core.WorkerRegistration
	err := s.db.WithContext(ctx).
		Order("worker_id ASC").
		Find(&workers).Error
	return workers, err
}

// MarkStaleWorkersOffline flips workers whose heartbeat stopped to
// offline and reports how many were flipped.
func (s *GormStore) MarkStaleWorkersOffline(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Model(&core.WorkerRegistration{}).
		Where("last_heartbeat < ?", cutoff).
		Where("status <> ?", core.WorkerOffline).
		Update("status", core.WorkerOffline)
	return result.RowsAffected, result.Error
}

// addShardResult folds final counters into an update map. Zero values
// are skipped so that counters already reported through progress
// updates survive.
func addShardResult(updates map[string]any, res core.ShardResult) {
	if res.ActualItems > 0 {
		updates["actual_items"] = res.ActualItems
	}
	if res.ActualBytes > 0 {
		updates["actual_bytes"] = res.ActualBytes
	}
}

// addLeaseClear folds a full lease reset into an update map.
func addLeaseClear(updates map[string]any) {
	updates["assigned_worker"] = ""
	updates["assigned_user"] = ""
	updates["lease_token"] = ""
	updates["lease_expiry"] = nil
}
