package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobPlanned_ImplementsEvent(t *testing.T) {
	var e Event = &JobPlanned{
		Job:        &Job{ID: "job"},
		ShardCount: 28,
		Timestamp:  time.Now(),
	}
	assert.NotNil(t, e)
}

func TestShardAssigned_ImplementsEvent(t *testing.T) {
	var e Event = &ShardAssigned{
		ShardID:   "shard",
		JobID:     "job",
		WorkerID:  "worker-1",
		Timestamp: time.Now(),
	}
	assert.NotNil(t, e)
}

func TestShardStarted_ImplementsEvent(t *testing.T) {
	var e Event = &ShardStarted{
		Shard:     &Shard{ID: "shard"},
		Timestamp: time.Now(),
	}
	assert.NotNil(t, e)
}

func TestShardCompleted_ImplementsEvent(t *testing.T) {
	var e Event = &ShardCompleted{
		Shard:     &Shard{ID: "shard"},
		Duration:  time.Second,
		Timestamp: time.Now(),
	}
	assert.NotNil(t, e)
}

func TestShardFailed_ImplementsEvent(t *testing.T) {
	var e Event = &ShardFailed{
		Shard:     &Shard{ID: "shard"},
		Error:     errors.New("boom"),
		Timestamp: time.Now(),
	}
	assert.NotNil(t, e)
}

func TestShardRetrying_ImplementsEvent(t *testing.T) {
	var e Event = &ShardRetrying{
		Shard:         &Shard{ID: "shard"},
		Attempt:       1,
		Error:         errors.New("transient"),
		NextAttemptAt: time.Now().Add(time.Minute),
		Timestamp:     time.Now(),
	}
	assert.NotNil(t, e)
}

func TestLeaseReclaimed_ImplementsEvent(t *testing.T) {
	var e Event = &LeaseReclaimed{Scope: "shards", Count: 3, Timestamp: time.Now()}
	assert.NotNil(t, e)
}

func TestCheckpointEvents_ImplementEvent(t *testing.T) {
	var saved Event = &CheckpointSaved{
		CheckpointID: "cp",
		ShardID:      "shard",
		Type:         "folder",
		Key:          "INBOX",
		Timestamp:    time.Now(),
	}
	assert.NotNil(t, saved)

	var completed Event = &CheckpointCompleted{
		CheckpointID: "cp",
		ShardID:      "shard",
		Timestamp:    time.Now(),
	}
	assert.NotNil(t, completed)
}

func TestJobFinalized_ImplementsEvent(t *testing.T) {
	var e Event = &JobFinalized{
		Job:       &Job{ID: "job"},
		Status:    JobPartiallyCompleted,
		Timestamp: time.Now(),
	}
	assert.NotNil(t, e)
}

func TestEvent_TypeSwitch(t *testing.T) {
	events := []Event{
		&JobPlanned{},
		&ShardAssigned{},
		&ShardStarted{},
		&ShardProgressed{},
		&ShardCompleted{},
		&ShardFailed{},
		&ShardRetrying{},
		&LeaseReclaimed{},
		&CheckpointSaved{},
		&CheckpointCompleted{},
		&JobFinalized{},
	}

	var seen int
	for _, e := range events {
		switch e.(type) {
		case *JobPlanned, *JobFinalized:
			seen++
		case *ShardAssigned, *ShardStarted, *ShardProgressed,
			*ShardCompleted, *ShardFailed, *ShardRetrying:
			seen++
		case *LeaseReclaimed, *CheckpointSaved, *CheckpointCompleted:
			seen++
		}
	}
	assert.Equal(t, len(events), seen)
}
