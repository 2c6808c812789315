package core

import (
	"time"
)

// ShardStatus represents the current state of a shard.
type ShardStatus string

const (
	StatusPending            ShardStatus = "pending"
	StatusAssigned           ShardStatus = "assigned"
	StatusRunning            ShardStatus = "running"
	StatusCompleted          ShardStatus = "completed"
	StatusFailed             ShardStatus = "failed"
	StatusPartiallyCompleted ShardStatus = "partially_completed"
	StatusRetrying           ShardStatus = "retrying" // Failed, waiting out its backoff delay
)

// Terminal reports whether the status is a final state.
// A failed shard is only provisionally terminal: the retry coordinator
// may move it back to retrying while attempts remain.
func (s ShardStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyCompleted:
		return true
	}
	return false
}

// Assignable reports whether a lease may be acquired on a shard in this
// status. Backoff eligibility (NextAttemptAt) is checked separately.
func (s ShardStatus) Assignable() bool {
	return s == StatusPending || s == StatusRetrying
}

var shardTransitions = map[ShardStatus][]ShardStatus{
	StatusPending:  {StatusAssigned},
	StatusAssigned: {StatusRunning, StatusPending, StatusFailed},
	StatusRunning:  {StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusRetrying, StatusPending},
	StatusFailed:   {StatusRetrying},
	StatusRetrying: {StatusAssigned, StatusFailed},
}

// ValidShardTransition reports whether moving a shard from one status to
// another is legal. Assigned/Running -> Pending is the reclaim path.
func ValidShardTransition(from, to ShardStatus) bool {
	for _, next := range shardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Shard is one time-window slice of a job for a single subject.
// WindowStart is inclusive, WindowEnd exclusive.
type Shard struct {
	ID         string `gorm:"primaryKey;size:36"`
	JobID      string `gorm:"index;size:36;not null"`
	Kind       string `gorm:"index;size:255;not null"` // Copied from the job so workers need no join
	UserID     string `gorm:"index;size:255"`
	SubjectKey string `gorm:"index;size:255;not null"`

	WindowStart time.Time `gorm:"not null"`
	WindowEnd   time.Time `gorm:"not null"`
	ShardIndex  int       `gorm:"default:0"` // Position among this subject's shards
	ShardCount  int       `gorm:"default:0"` // Total shards planned for this subject

	Priority int         `gorm:"index;default:0"` // Copied from the job so selection needs no join
	Status   ShardStatus `gorm:"index;size:20;default:'pending'"`
	Route    string      `gorm:"size:255"`

	EstItems    int64   `gorm:"default:0"`
	EstBytes    int64   `gorm:"default:0"`
	ActualItems int64   `gorm:"default:0"`
	ActualBytes int64   `gorm:"default:0"`
	ProgressPct float64 `gorm:"default:0"`

	RetryCount    int        `gorm:"default:0"`
	RetryMax      int        `gorm:"default:3"`
	NextAttemptAt *time.Time `gorm:"index"` // Earliest time the shard may be re-acquired after a retry

	// Lease fields, same discipline as on Job.
	AssignedWorker string     `gorm:"index;size:255"`
	AssignedUser   string     `gorm:"index;size:255"`
	LeaseToken     string     `gorm:"size:36"`
	LeaseExpiry    *time.Time `gorm:"index"`

	LastError   string `gorm:"type:text"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Window returns the shard's half-open time window.
func (s *Shard) Window() (start, end time.Time) {
	return s.WindowStart, s.WindowEnd
}

// WindowDuration returns the length of the shard's window.
func (s *Shard) WindowDuration() time.Duration {
	return s.WindowEnd.Sub(s.WindowStart)
}
