package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/shardwork/pkg/core"
)

// ──────────────────────────────────────────────────────────────────────────────
// Shard leases: Acquire
// ──────────────────────────────────────────────────────────────────────────────

func TestShardLeaseAcquire_WinsOnPendingShard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	expiry := time.Now().Add(30 * time.Minute)

	ok, err := s.ShardLeases().Acquire(ctx, shard.ID, "worker-1", "user-1", "tok-1", expiry)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetShard(ctx, shard.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusAssigned, got.Status)
	assert.Equal(t, "worker-1", got.AssignedWorker)
	assert.Equal(t, "user-1", got.AssignedUser)
	assert.Equal(t, "tok-1", got.LeaseToken)
	require.NotNil(t, got.LeaseExpiry)
	assert.WithinDuration(t, expiry, *got.LeaseExpiry, time.Second)
}

func TestShardLeaseAcquire_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	expiry := time.Now().Add(30 * time.Minute)

	ok, err := s.ShardLeases().Acquire(ctx, shard.ID, "worker-1", "user-1", "tok-1", expiry)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ShardLeases().Acquire(ctx, shard.ID, "worker-2", "user-1", "tok-2", expiry)
	require.NoError(t, err)
	assert.False(t, ok, "losing the race is a boolean, not an error")

	got, err := s.GetShard(ctx, shard.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", got.AssignedWorker, "winner keeps the shard")
	assert.Equal(t, "tok-1", got.LeaseToken)
}

func TestShardLeaseAcquire_TakesOverExpiredLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	ok, err := s.ShardLeases().Acquire(ctx, shard.ID, "worker-dead", "user-1", "tok-dead",
		time.Now().Add(-1*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ShardLeases().Acquire(ctx, shard.ID, "worker-2", "user-1", "tok-2",
		time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is up for grabs without waiting for a sweep")

	got, err := s.GetShard(ctx, shard.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-2", got.AssignedWorker)
	assert.Equal(t, "tok-2", got.LeaseToken, "token identifies the new tenancy")
}

func TestShardLeaseAcquire_RespectsBackoff(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Now().Add(1 * time.Hour)
	job := &core.Job{Kind: "mail.scan"}
	shards := []*core.Shard{
		{Kind: "mail.scan", SubjectKey: "s", Status: core.StatusRetrying,
			NextAttemptAt: &future, WindowStart: start, WindowEnd: start.AddDate(0, 0, 30)},
	}
	require.NoError(t, s.CreateJobWithShards(ctx, job, shards))

	ok, err := s.ShardLeases().Acquire(ctx, shards[0].ID, "worker-1", "user-1", "tok-1",
		time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "backoff delay must hold even against an eager worker")
}

func TestShardLeaseAcquire_AllowsElapsedBackoff(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	past := time.Now().Add(-1 * time.Second)
	job := &core.Job{Kind: "mail.scan"}
	shards := []*core.Shard{
		{Kind: "mail.scan", SubjectKey: "s", Status: core.StatusRetrying,
			NextAttemptAt: &past, WindowStart: start, WindowEnd: start.AddDate(0, 0, 30)},
	}
	require.NoError(t, s.CreateJobWithShards(ctx, job, shards))

	ok, err := s.ShardLeases().Acquire(ctx, shards[0].ID, "worker-1", "user-1", "tok-1",
		time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "elapsed backoff frees the shard for another attempt")

	got, err := s.GetShard(ctx, shards[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusAssigned, got.Status, "retrying moves back to assigned on acquire")
}

func TestShardLeaseAcquire_RejectsTerminalShard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	leaseShard(t, s, shard.ID, "worker-1")
	ok, err := s.CompleteShard(ctx, shard.ID, "worker-1", core.ShardResult{})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ShardLeases().Acquire(ctx, shard.ID, "worker-2", "user-1", "tok-2",
		time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "terminal shards are never reassigned")
}

func TestShardLeaseAcquire_UnknownShard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.ShardLeases().Acquire(ctx, "no-such-shard", "worker-1", "user-1", "tok-1",
		time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "acquiring a missing row simply reports false")
}

// ──────────────────────────────────────────────────────────────────────────────
// Shard leases: Heartbeat
// ──────────────────────────────────────────────────────────────────────────────

func TestShardLeaseHeartbeat_ExtendsOwnedLease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	leaseShard(t, s, shard.ID, "worker-1")

	extended := time.Now().Add(45 * time.Minute)
	ok, err := s.ShardLeases().Heartbeat(ctx, shard.ID, "worker-1", extended)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetShard(ctx, shard.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LeaseExpiry)
	assert.WithinDuration(t, extended, *got.LeaseExpiry, time.Second)
}

func TestShardLeaseHeartbeat_RejectsNonOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	leaseShard(t, s, shard.ID, "worker-1")

	ok, err := s.ShardLeases().Heartbeat(ctx, shard.ID, "worker-2", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "a worker that lost the shard learns it from the heartbeat")
}

func TestShardLeaseHeartbeat_AfterTakeover(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	ok, err := s.ShardLeases().Acquire(ctx, shard.ID, "worker-1", "user-1", "tok-1",
		time.Now().Add(-1*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	// Another worker takes over the expired lease.
	leaseShard(t, s, shard.ID, "worker-2")

	ok, err = s.ShardLeases().Heartbeat(ctx, shard.ID, "worker-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "the previous owner's heartbeat must not resurrect its lease")
}

// ──────────────────────────────────────────────────────────────────────────────
// Shard leases: Release
// ──────────────────────────────────────────────────────────────────────────────

func TestShardLeaseRelease_ReturnsShardToPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	leaseShard(t, s, shard.ID, "worker-1")

	require.NoError(t, s.ShardLeases().Release(ctx, shard.ID, "worker-1"))

	got, err := s.GetShard(ctx, shard.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Empty(t, got.AssignedWorker)
	assert.Empty(t, got.AssignedUser)
	assert.Empty(t, got.LeaseToken)
	assert.Nil(t, got.LeaseExpiry)
}

func TestShardLeaseRelease_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	leaseShard(t, s, shard.ID, "worker-1")

	require.NoError(t, s.ShardLeases().Release(ctx, shard.ID, "worker-1"))
	require.NoError(t, s.ShardLeases().Release(ctx, shard.ID, "worker-1"),
		"second release is a no-op, not an error")
}

func TestShardLeaseRelease_IgnoresNonOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	leaseShard(t, s, shard.ID, "worker-1")

	require.NoError(t, s.ShardLeases().Release(ctx, shard.ID, "worker-2"))

	got, err := s.GetShard(ctx, shard.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", got.AssignedWorker, "non-owner release must not strip the lease")
	assert.Equal(t, core.StatusAssigned, got.Status)
}

func TestShardLeaseRelease_LeavesTerminalShardAlone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	leaseShard(t, s, shard.ID, "worker-1")
	ok, err := s.CompleteShard(ctx, shard.ID, "worker-1", core.ShardResult{})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ShardLeases().Release(ctx, shard.ID, "worker-1"))

	got, err := s.GetShard(ctx, shard.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status, "release after completion must not reopen the shard")
}

// ──────────────────────────────────────────────────────────────────────────────
// Shard leases: ReclaimExpired
// ──────────────────────────────────────────────────────────────────────────────

func TestShardLeaseReclaimExpired_SweepsDeadLeases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, shards := newTestPlan("mail.scan", "user-1", 3)
	require.NoError(t, s.CreateJobWithShards(ctx, job, shards))

	// One dead lease, one live lease, one untouched pending shard.
	ok, err := s.ShardLeases().Acquire(ctx, shards[0].ID, "worker-dead", "user-1", "tok-d",
		time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	leaseShard(t, s, shards[1].ID, "worker-live")

	count, err := s.ShardLeases().ReclaimExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "only the dead lease is swept")

	got, err := s.GetShard(ctx, shards[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Empty(t, got.AssignedWorker)
	assert.Nil(t, got.LeaseExpiry)

	got, err = s.GetShard(ctx, shards[1].ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusAssigned, got.Status, "live lease survives the sweep")
	assert.Equal(t, "worker-live", got.AssignedWorker)
}

func TestShardLeaseReclaimExpired_SweepsRunningShards(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	shard := seedShard(t, s)
	ok, err := s.ShardLeases().Acquire(ctx, shard.ID, "worker-1", "user-1", "tok-1",
		time.Now().Add(-1*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.MarkShardRunning(ctx, shard.ID, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)

	count, err := s.ShardLeases().ReclaimExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "a crashed worker's running shard is reclaimed")

	got, err := s.GetShard(ctx, shard.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
}

func TestShardLeaseReclaimExpired_NothingToSweep(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seedShard(t, s)

	count, err := s.ShardLeases().ReclaimExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
}

// ──────────────────────────────────────────────────────────────────────────────
// Job leases
// ──────────────────────────────────────────────────────────────────────────────

func TestJobLeaseAcquire_WinsOnPendingJob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, shards := newTestPlan("mail.scan", "user-1", 1)
	require.NoError(t, s.CreateJobWithShards(ctx, job, shards))

	ok, err := s.JobLeases().Acquire(ctx, job.ID, "worker-1", "user-1", "tok-1",
		time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobAssigned, got.Status)
	assert.Equal(t, "worker-1", got.AssignedWorker)
}

func TestJobLeaseAcquire_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, shards := newTestPlan("mail.scan", "user-1", 1)
	require.NoError(t, s.CreateJobWithShards(ctx, job, shards))

	expiry := time.Now().Add(30 * time.Minute)
	ok, err := s.JobLeases().Acquire(ctx, job.ID, "worker-1", "user-1", "tok-1", expiry)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.JobLeases().Acquire(ctx, job.ID, "worker-2", "user-1", "tok-2", expiry)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobLeaseRelease_ReturnsJobToPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, shards := newTestPlan("mail.scan", "user-1", 1)
	require.NoError(t, s.CreateJobWithShards(ctx, job, shards))

	ok, err := s.JobLeases().Acquire(ctx, job.ID, "worker-1", "user-1", "tok-1",
		time.Now().Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.JobLeases().Release(ctx, job.ID, "worker-1"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, got.Status)
	assert.Empty(t, got.AssignedWorker)
}

func TestJobLeaseReclaimExpired_SweepsDeadJobLeases(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, shards := newTestPlan("mail.scan", "user-1", 1)
	require.NoError(t, s.CreateJobWithShards(ctx, job, shards))

	ok, err := s.JobLeases().Acquire(ctx, job.ID, "worker-dead", "user-1", "tok-d",
		time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	count, err := s.JobLeases().ReclaimExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, got.Status)
}

func TestJobLeaseReclaimExpired_LeavesFinalizedJobsAlone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, shards := newTestPlan("mail.scan", "user-1", 1)
	require.NoError(t, s.CreateJobWithShards(ctx, job, shards))

	ok, err := s.FinalizeJob(ctx, job.ID, core.JobCompleted, "")
	require.NoError(t, err)
	require.True(t, ok)

	count, err := s.JobLeases().ReclaimExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, count, "terminal jobs are outside the sweep")
}
