package core

import "time"

// Event is the interface for all scheduler events.
type Event interface {
	eventMarker()
}

// JobPlanned is emitted when planning persists a job and its shards.
type JobPlanned struct {
	Job        *Job
	ShardCount int
	Truncated  bool
	Timestamp  time.Time
}

func (*JobPlanned) eventMarker() {}

// ShardAssigned is emitted when a worker acquires a shard lease.
type ShardAssigned struct {
	ShardID   string
	JobID     string
	WorkerID  string
	Timestamp time.Time
}

func (*ShardAssigned) eventMarker() {}

// ShardStarted is emitted when a shard begins executing.
type ShardStarted struct {
	Shard     *Shard
	Timestamp time.Time
}

func (*ShardStarted) eventMarker() {}

// ShardProgressed is emitted when a shard reports progress.
type ShardProgressed struct {
	ShardID   string
	JobID     string
	Pct       float64
	Items     int64
	Bytes     int64
	Timestamp time.Time
}

func (*ShardProgressed) eventMarker() {}

// ShardCompleted is emitted when a shard finishes successfully.
// Partial is set when some units failed permanently.
type ShardCompleted struct {
	Shard     *Shard
	Partial   bool
	Duration  time.Duration
	Timestamp time.Time
}

func (*ShardCompleted) eventMarker() {}

// ShardFailed is emitted when a shard fails with no retries remaining.
type ShardFailed struct {
	Shard     *Shard
	Error     error
	Timestamp time.Time
}

func (*ShardFailed) eventMarker() {}

// ShardRetrying is emitted when a failed shard is scheduled for another
// attempt.
type ShardRetrying struct {
	Shard         *Shard
	Attempt       int
	Error         error
	NextAttemptAt time.Time
	Timestamp     time.Time
}

func (*ShardRetrying) eventMarker() {}

// LeaseReclaimed is emitted after a reaper sweep that released expired
// leases. Scope is "shards" or "jobs".
type LeaseReclaimed struct {
	Scope     string
	Count     int64
	Timestamp time.Time
}

func (*LeaseReclaimed) eventMarker() {}

// CheckpointSaved is emitted when an incomplete checkpoint is created.
type CheckpointSaved struct {
	CheckpointID string
	ShardID      string
	Type         string
	Key          string
	Timestamp    time.Time
}

func (*CheckpointSaved) eventMarker() {}

// CheckpointCompleted is emitted when a checkpoint is marked complete.
type CheckpointCompleted struct {
	CheckpointID string
	ShardID      string
	Timestamp    time.Time
}

func (*CheckpointCompleted) eventMarker() {}

// JobFinalized is emitted when every shard of a job has reached a terminal
// state and the job's final status has been computed.
type JobFinalized struct {
	Job       *Job
	Status    JobStatus
	Timestamp time.Time
}

func (*JobFinalized) eventMarker() {}
