package core

import (
	"time"
)

// Checkpoint records durable intra-shard progress. A checkpoint is created
// incomplete when work on a resource begins and completed when it finishes;
// an incomplete checkpoint left behind by a crash tells the next owner
// which resource to replay. The payload is opaque to the scheduler.
type Checkpoint struct {
	ID      string `gorm:"primaryKey;size:36"`
	ShardID string `gorm:"index;size:36;not null"`
	Type    string `gorm:"index;size:64;not null"` // Resource category, e.g. "folder" or "message-batch"
	Key     string `gorm:"size:255;not null"`      // Resource identifier within the shard
	Payload []byte `gorm:"type:bytes"`

	ItemsProcessed int64 `gorm:"default:0"`
	BytesProcessed int64 `gorm:"default:0"`

	Completed     bool   `gorm:"index;default:false"`
	CorrelationID string `gorm:"size:36"`

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	CompletedAt *time.Time
}

// WorkerStatus represents the advertised state of a worker process.
type WorkerStatus string

const (
	WorkerAvailable    WorkerStatus = "available"
	WorkerOverloaded   WorkerStatus = "overloaded"
	WorkerShuttingDown WorkerStatus = "shutting_down"
	WorkerOffline      WorkerStatus = "offline"
)

// WorkerRegistration is a worker's self-reported presence and load.
// Load figures are advisory; lease acquisition remains the source of truth
// for shard ownership.
type WorkerRegistration struct {
	WorkerID      string       `gorm:"primaryKey;size:255"`
	Host          string       `gorm:"size:255"`
	Capacity      int          `gorm:"default:1"`
	CurrentLoad   int          `gorm:"default:0"`
	Status        WorkerStatus `gorm:"index;size:20;default:'available'"`
	LastHeartbeat time.Time    `gorm:"index"`
	CreatedAt     time.Time    `gorm:"autoCreateTime"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime"`
}
