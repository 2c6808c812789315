// Package core provides the domain models and interfaces for the shardwork package.
package core

import (
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobPending            JobStatus = "pending"
	JobAssigned           JobStatus = "assigned"
	JobProcessing         JobStatus = "processing"
	JobCompleted          JobStatus = "completed"
	JobFailed             JobStatus = "failed"
	JobPartiallyCompleted JobStatus = "partially_completed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobPartiallyCompleted:
		return true
	}
	return false
}

// Job represents one unit of collection work, partitioned into shards.
type Job struct {
	ID       string    `gorm:"primaryKey;size:36"`
	Kind     string    `gorm:"index;size:255;not null"`
	UserID   string    `gorm:"index;size:255"`
	Priority int       `gorm:"index;default:0"`
	Status   JobStatus `gorm:"index;size:20;default:'pending'"`

	// Lease fields. AssignedWorker and LeaseExpiry gate ownership;
	// LeaseToken is regenerated on every successful acquire.
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
