package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/planner"
	"github.com/jdziat/shardwork/pkg/storage"
)

func setupSchedulerTest(t *testing.T, opts ...Option) (*Scheduler, *storage.GormStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.NewGormStore(db)
	require.NoError(t, store.Migrate(context.Background()))
	return New(store, opts...), store
}

func planRequest(subjects ...string) planner.Request {
	return planner.Request{
		Kind:     "mailbox.collection",
		UserID:   "user-1",
		Subjects: subjects,
		From:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestNew_WiresComponentSet(t *testing.T) {
	s, store := setupSchedulerTest(t)

	assert.Equal(t, store, s.Store())
	assert.NotNil(t, s.Planner())
	assert.NotNil(t, s.ShardLeases())
	assert.NotNil(t, s.JobLeases())
	assert.NotNil(t, s.Selector())
	assert.NotNil(t, s.Checkpoints())
	assert.NotNil(t, s.Progress())
	assert.NotNil(t, s.Retries())
	assert.NotNil(t, s.Reaper())
	assert.NotNil(t, s.Registry())
}

func TestScheduler_RegisterExecutor(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	ex := core.ExecutorFunc(func(ctx context.Context, shard *core.Shard, resume []core.Checkpoint) error {
		return nil
	})
	s.RegisterExecutor("mailbox.collection", ex)

	assert.True(t, s.HasExecutor("mailbox.collection"))
	got, ok := s.Executor("mailbox.collection")
	assert.True(t, ok)
	assert.NotNil(t, got)

	assert.False(t, s.HasExecutor("drive.collection"))
	_, ok = s.Executor("drive.collection")
	assert.False(t, ok)
}

func TestScheduler_RegisterExecutor_InvalidKindPanics(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	ex := core.ExecutorFunc(func(ctx context.Context, shard *core.Shard, resume []core.Checkpoint) error {
		return nil
	})

	assert.Panics(t, func() {
		s.RegisterExecutor("has spaces", ex)
	})
	assert.Panics(t, func() {
		s.RegisterExecutor("mailbox.collection", nil)
	})
}

func TestScheduler_LeaseTTLOptions(t *testing.T) {
	s, _ := setupSchedulerTest(t,
		WithShardLeaseTTL(5*time.Minute),
		WithJobLeaseTTL(10*time.Minute),
	)

	assert.Equal(t, 5*time.Minute, s.ShardLeases().TTL())
	assert.Equal(t, 10*time.Minute, s.JobLeases().TTL())
}

func TestScheduler_PlanThroughClaim(t *testing.T) {
	ctx := context.Background()
	s, store := setupSchedulerTest(t)

	require.NoError(t, s.Registry().Register(ctx, "w-1", "host-a", 4))

	plan, err := s.Plan(ctx, planRequest("alice@example.com"))
	require.NoError(t, err)
	require.Len(t, plan.Shards, 1)

	claimed, err := s.Selector().Claim(ctx, "w-1", "")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, plan.Shards[0].ID, claimed.ID)
	assert.Equal(t, core.StatusAssigned, claimed.Status)
	assert.Equal(t, "w-1", claimed.AssignedWorker)

	got, err := store.GetJob(ctx, plan.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobPending, got.Status)
}

func TestScheduler_UnregisteredWorkerClaimsNothing(t *testing.T) {
	ctx := context.Background()
	s, _ := setupSchedulerTest(t)

	_, err := s.Plan(ctx, planRequest("alice@example.com"))
	require.NoError(t, err)

	claimed, err := s.Selector().Claim(ctx, "w-ghost", "")
	require.NoError(t, err)
	assert.Nil(t, claimed, "registry gate refuses unknown workers")
}

func TestScheduler_EvaluateDelegates(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	rec := s.Evaluate(planRequest("alice@example.com"))
	assert.False(t, rec.ShouldShard)
	assert.Equal(t, 1, rec.SuggestedShards)
}

func TestScheduler_WithSizing(t *testing.T) {
	ctx := context.Background()
	cfg := planner.DefaultConfig()
	cfg.MaxWindow = 10 * 24 * time.Hour
	s, _ := setupSchedulerTest(t, WithSizing(cfg))

	plan, err := s.Plan(ctx, planRequest("alice@example.com"))
	require.NoError(t, err)
	assert.Len(t, plan.Shards, 3, "30 days cut into 10-day windows")
}

func TestScheduler_Events(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	ch := s.Events()
	require.NotNil(t, ch)

	event := &core.ShardAssigned{ShardID: "test", WorkerID: "w-1", Timestamp: time.Now()}
	s.Emit(event)

	select {
	case received := <-ch:
		assert.Equal(t, event, received)
	default:
		t.Fatal("expected to receive event")
	}
}

func TestScheduler_PlanEmitsToSubscribers(t *testing.T) {
	ctx := context.Background()
	s, _ := setupSchedulerTest(t)

	ch := s.Events()
	_, err := s.Plan(ctx, planRequest("alice@example.com"))
	require.NoError(t, err)

	select {
	case e := <-ch:
		ev, ok := e.(*core.JobPlanned)
		require.True(t, ok, "expected JobPlanned, got %T", e)
		assert.Equal(t, 1, ev.ShardCount)
	default:
		t.Fatal("expected planner event on the bus")
	}
}

func TestScheduler_Emit_DropsWhenFull(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	ch := s.Events()

	// Fill the channel (buffer size is 100)
	for i := 0; i < 100; i++ {
		s.Emit(&core.ShardAssigned{ShardID: "test"})
	}

	// This should not block - it should drop
	s.Emit(&core.ShardAssigned{ShardID: "dropped"})

	assert.Len(t, ch, 100)
}

func TestScheduler_Unsubscribe_StopsDelivery(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	ch := s.Events()

	s.Emit(&core.ShardAssigned{ShardID: "before"})
	select {
	case e := <-ch:
		assert.Equal(t, "before", e.(*core.ShardAssigned).ShardID)
	default:
		t.Fatal("expected event before unsubscribe")
	}

	s.Unsubscribe(ch)

	s.Emit(&core.ShardAssigned{ShardID: "after"})
	select {
	case <-ch:
		t.Fatal("should not receive events after unsubscribe")
	default:
	}
}

func TestScheduler_Unsubscribe_UnknownChannel_IsNoop(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	foreign := make(chan core.Event, 100)
	s.Unsubscribe(foreign)
}

func TestScheduler_Unsubscribe_ConcurrentWithEmit(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	const subscribers = 10
	channels := make([]<-chan core.Event, subscribers)
	for i := range channels {
		channels[i] = s.Events()
	}

	// Concurrently emit and unsubscribe - must not panic or race
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.Emit(&core.ShardAssigned{ShardID: "concurrent"})
		}
	}()

	for _, ch := range channels {
		s.Unsubscribe(ch)
	}
	<-done
}

func TestScheduler_Hooks(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	var completeCalled, failCalled, retryCalled, finalizedCalled bool
	var retryAttempt int
	var finalStatus core.JobStatus

	s.OnShardComplete(func(ctx context.Context, shard *core.Shard) {
		completeCalled = true
	})
	s.OnShardFail(func(ctx context.Context, shard *core.Shard, err error) {
		failCalled = true
	})
	s.OnShardRetry(func(ctx context.Context, shard *core.Shard, attempt int, err error) {
		retryCalled = true
		retryAttempt = attempt
	})
	s.OnJobFinalized(func(ctx context.Context, job *core.Job, status core.JobStatus) {
		finalizedCalled = true
		finalStatus = status
	})

	ctx := context.Background()
	shard := &core.Shard{ID: "test"}
	job := &core.Job{ID: "test-job"}

	s.CallShardCompleteHooks(ctx, shard)
	assert.True(t, completeCalled)

	s.CallShardFailHooks(ctx, shard, nil)
	assert.True(t, failCalled)

	s.CallShardRetryHooks(ctx, shard, 2, nil)
	assert.True(t, retryCalled)
	assert.Equal(t, 2, retryAttempt)

	s.CallJobFinalizedHooks(ctx, job, core.JobCompleted)
	assert.True(t, finalizedCalled)
	assert.Equal(t, core.JobCompleted, finalStatus)
}

func TestScheduler_MaxActivePerUserFlowsToSelector(t *testing.T) {
	ctx := context.Background()
	s, _ := setupSchedulerTest(t, WithMaxActivePerUser(1))

	require.NoError(t, s.Registry().Register(ctx, "w-1", "host-a", 4))

	req := planRequest("alice@example.com", "bob@example.com")
	_, err := s.Plan(ctx, req)
	require.NoError(t, err)

	first, err := s.Selector().Claim(ctx, "w-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.Selector().Claim(ctx, "w-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, second, "per-user ceiling holds the second claim back")
}

func TestWorkerFactory_NotInitialized(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	savedFactory := WorkerFactory
	WorkerFactory = nil
	defer func() {
		WorkerFactory = savedFactory
	}()

	assert.Panics(t, func() {
		s.NewWorker()
	})
}

func TestWorkerFactory_Initialized(t *testing.T) {
	s, _ := setupSchedulerTest(t)

	savedFactory := WorkerFactory
	var factoryCalled bool
	var receivedScheduler *Scheduler
	var receivedOpts []any

	WorkerFactory = func(sched *Scheduler, opts ...any) core.Starter {
		factoryCalled = true
		receivedScheduler = sched
		receivedOpts = opts
		return &mockStarter{}
	}
	defer func() {
		WorkerFactory = savedFactory
	}()

	result := s.NewWorker("opt1", "opt2")

	assert.True(t, factoryCalled)
	assert.Equal(t, s, receivedScheduler)
	assert.Equal(t, []any{"opt1", "opt2"}, receivedOpts)
	assert.NotNil(t, result)
}

type mockStarter struct{}

func (m *mockStarter) Start(ctx context.Context) error {
	return nil
}
