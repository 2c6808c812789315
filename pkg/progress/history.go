package progress

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// ProgressStat stores per-kind shard statistics bucketed by minute.
// Counter columns accumulate event counts within the bucket; depth
// columns are point-in-time gauges overwritten by each snapshot.
type ProgressStat struct {
	ID        uint      `gorm:"primaryKey"`
	Kind      string    `gorm:"index:idx_progress_stats_kind_ts;size:255;not null"`
	Timestamp time.Time `gorm:"index:idx_progress_stats_kind_ts;not null"`
	Pending   int64     `gorm:"default:0"`
	Running   int64     `gorm:"default:0"`
	Completed int64     `gorm:"default:0"`
	Partial   int64     `gorm:"default:0"`
	Failed    int64     `gorm:"default:0"`
	Retried   int64     `gorm:"default:0"`
}

// HistoryStore persists progress history buckets.
type HistoryStore interface {
	MigrateHistory(ctx context.Context) error
	UpsertCounters(ctx context.Context, kind string, ts time.Time, completed, partial, failed, retried int64) error
	SnapshotDepth(ctx context.Context, kind string, ts time.Time, pending, running int64) error
	History(ctx context.Context, kind string, since, until time.Time) ([]ProgressStat, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// gormHistoryStore implements HistoryStore using GORM.
type gormHistoryStore struct {
	db *gorm.DB
}

// NewGormHistoryStore creates a GORM-backed history store.
func NewGormHistoryStore(db *gorm.DB) HistoryStore {
	return &gormHistoryStore{db: db}
}

func (s *gormHistoryStore) MigrateHistory(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&ProgressStat{})
}

func (s *gormHistoryStore) UpsertCounters(ctx context.Context, kind string, ts time.Time, completed, partial, failed, retried int64) error {
	ts = ts.Truncate(time.Minute)

	var existing ProgressStat
	result := s.db.WithContext(ctx).
		Where("kind = ? AND timestamp = ?", kind, ts).
		First(&existing)

	if result.Error == gorm.ErrRecordNotFound {
		return s.db.WithContext(ctx).Create(&ProgressStat{
			Kind:      kind,
			Timestamp: ts,
			Completed: completed,
			Partial:   partial,
			Failed:    failed,
			Retried:   retried,
		}).Error
	}
	if result.Error != nil {
		return result.Error
	}

	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"completed": gorm.Expr("completed + ?", completed),
		"partial":   gorm.Expr("partial + ?", partial),
		"failed":    gorm.Expr("failed + ?", failed),
		"retried":   gorm.Expr("retried + ?", retried),
	}).Error
}

func (s *gormHistoryStore) SnapshotDepth(ctx context.Context, kind string, ts time.Time, pending, running int64) error {
	ts = ts.Truncate(time.Minute)

	var existing ProgressStat
	result := s.db.WithContext(ctx).
		Where("kind = ? AND timestamp = ?", kind, ts).
		First(&existing)

	if result.Error == gorm.ErrRecordNotFound {
		return s.db.WithContext(ctx).Create(&ProgressStat{
			Kind:      kind,
			Timestamp: ts,
			Pending:   pending,
			Running:   running,
		}).Error
	}
	if result.Error != nil {
		return result.Error
	}

	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"pending": pending,
		"running": running,
	}).Error
}

func (s *gormHistoryStore) History(ctx context.Context, kind string, since, until time.Time) ([]ProgressStat, error) {
	var stats []ProgressStat
	q := s.db.WithContext(ctx).Order("timestamp ASC")

	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	if !until.IsZero() {
		q = q.Where("timestamp <= ?", until)
	}

	return stats, q.Find(&stats).Error
}

func (s *gormHistoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&ProgressStat{})
	return result.RowsAffected, result.Error
}
