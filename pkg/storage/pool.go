package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PoolConfig bounds the database connections the scheduling core may
// hold open. Every claim poll, lease heartbeat, progress write, and
// reaper sweep is one short-lived connection checkout, so the pool
// ceiling is effectively the ceiling on concurrent store traffic.
type PoolConfig struct {
	// MaxOpenConns caps connections to the database. Zero means
	// unlimited, which lets a large fleet exhaust the server.
	MaxOpenConns int

	// MaxIdleConns is how many warm connections to keep between
	// checkouts. Claim polls arrive on a tick, so warm connections
	// decide claim latency.
	MaxIdleConns int

	// ConnMaxLifetime retires connections so server-side restarts and
	// failovers are picked up.
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime releases connections a quiet fleet no longer
	// needs.
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig suits a steady fleet of a few workers: enough
// headroom for their claim polls and in-flight shard writes without
// crowding the database.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// FleetPoolConfig sizes the pool from the fleet shape. Each worker
// holds at most one connection per in-flight shard for progress and
// checkpoint writes, plus one for its claim poll and heartbeats.
func FleetPoolConfig(workers, concurrency int) PoolConfig {
	if workers < 1 {
		workers = 1
	}
	if concurrency < 1 {
		concurrency = 1
	}
	cfg := DefaultPoolConfig()
	open := workers * (concurrency + 1)
	if open < cfg.MaxOpenConns {
		open = cfg.MaxOpenConns
	}
	cfg.MaxOpenConns = open
	// A quarter warm covers the steady heartbeat and poll cadence.
	cfg.MaxIdleConns = open / 4
	if cfg.MaxIdleConns < 2 {
		cfg.MaxIdleConns = 2
	}
	return cfg
}

// HighConcurrencyPoolConfig is for fleets of 50+ workers or plans that
// fan a job out into hundreds of shards at once.
func HighConcurrencyPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    100,
		MaxIdleConns:    25,
		ConnMaxLifetime: 10 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
	}
}

// LowLatencyPoolConfig keeps most connections warm so a claim never
// waits on a fresh dial. Use it when shards are short and turnaround
// matters more than connection count.
func LowLatencyPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    50,
		MaxIdleConns:    40,
		ConnMaxLifetime: 15 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// ResourceConstrainedPoolConfig is for databases with tight connection
// limits shared with other services.
func ResourceConstrainedPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 3 * time.Minute,
		ConnMaxIdleTime: 30 * time.Second,
	}
}

// PoolOption adjusts a PoolConfig.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// MaxOpenConns sets the connection ceiling. Zero removes the limit.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxOpenConns = n
	})
}

// MaxIdleConns sets the warm-connection count. Values above
// MaxOpenConns are pointless; database/sql ignores the excess.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxIdleConns = n
	})
}

// ConnMaxLifetime sets how long a pooled connection may be reused.
// Zero keeps connections forever.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxLifetime = d
	})
}

// ConnMaxIdleTime sets how long an unused connection is kept. Zero
// keeps idle connections indefinitely.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxIdleTime = d
	})
}

// ConfigurePool applies DefaultPoolConfig plus any overrides to an open
// database handle.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	config := DefaultPoolConfig()
	for _, opt := range opts {
		opt.applyPool(&config)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	return nil
}

// NewGormStoreWithPool creates a GORM-backed store with the connection
// pool configured in the same call.
//
// Example:
//
//	store, err := NewGormStoreWithPool(db,
//	    MaxOpenConns(50),
//	    MaxIdleConns(20),
//	)
func NewGormStoreWithPool(db *gorm.DB, opts ...PoolOption) (*GormStore, error) {
	if err := ConfigurePool(db, opts...); err != nil {
		return nil, err
	}
	return NewGormStore(db), nil
}
