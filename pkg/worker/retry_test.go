package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/shardwork/pkg/retry"
)

func TestDefaultStorageRetry(t *testing.T) {
	cfg := DefaultStorageRetry()

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Backoff.Initial)
	assert.Equal(t, 5*time.Second, cfg.Backoff.Max)
	assert.Equal(t, 2.0, cfg.Backoff.Multiplier)
	assert.Equal(t, 0.1, cfg.Backoff.JitterFraction)
}

func TestDefaultClaimRetry(t *testing.T) {
	cfg := DefaultClaimRetry()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff.Initial)
	assert.Equal(t, 10*time.Second, cfg.Backoff.Max)
	assert.Equal(t, 0.2, cfg.Backoff.JitterFraction)
}

func TestWithRetry_SuccessOnFirstAttempt(t *testing.T) {
	cfg := DefaultStorageRetry()
	var attempts int

	err := withRetry(context.Background(), cfg, func() error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_SuccessAfterRetries(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 5,
		Backoff: retry.Backoff{
			Initial:    10 * time.Millisecond,
			Max:        100 * time.Millisecond,
			Multiplier: 2.0,
		},
	}
	var attempts int

	err := withRetry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 3,
		Backoff: retry.Backoff{
			Initial:    10 * time.Millisecond,
			Max:        50 * time.Millisecond,
			Multiplier: 2.0,
		},
	}
	var attempts int
	expectedErr := errors.New("persistent error")

	err := withRetry(context.Background(), cfg, func() error {
		attempts++
		return expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_RespectsContextCancellation(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 10,
		Backoff: retry.Backoff{
			Initial:    100 * time.Millisecond,
			Max:        time.Second,
			Multiplier: 2.0,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	var attempts atomic.Int32

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := withRetry(ctx, cfg, func() error {
		attempts.Add(1)
		return errors.New("keep failing")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, attempts.Load(), int32(1))
}

func TestWithRetry_StopsOnContextError(t *testing.T) {
	cfg := DefaultStorageRetry()
	var attempts int

	err := withRetry(context.Background(), cfg, func() error {
		attempts++
		return context.Canceled
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_BackoffGrowsBetweenAttempts(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 4,
		Backoff: retry.Backoff{
			Initial:    10 * time.Millisecond,
			Max:        time.Second,
			Multiplier: 2.0,
		},
	}

	var timestamps []time.Time
	err := withRetry(context.Background(), cfg, func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New("fail")
	})

	assert.Error(t, err)
	require.Len(t, timestamps, 4)

	interval1 := timestamps[1].Sub(timestamps[0])
	interval2 := timestamps[2].Sub(timestamps[1])
	interval3 := timestamps[3].Sub(timestamps[2])

	assert.Greater(t, interval2, interval1, "second interval should be longer than first")
	assert.Greater(t, interval3, interval2, "third interval should be longer than second")
}

func TestWithRetry_RespectsMaxBackoff(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 5,
		Backoff: retry.Backoff{
			Initial:    50 * time.Millisecond,
			Max:        60 * time.Millisecond,
			Multiplier: 10.0,
		},
	}

	var timestamps []time.Time
	err := withRetry(context.Background(), cfg, func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New("fail")
	})

	assert.Error(t, err)
	require.Len(t, timestamps, 5)

	for i := 2; i < len(timestamps); i++ {
		interval := timestamps[i].Sub(timestamps[i-1])
		assert.LessOrEqual(t, interval, 120*time.Millisecond, "interval should be capped near the backoff max")
	}
}

func TestWithStorageRetry_Option(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 10,
		Backoff:     retry.Backoff{Initial: 200 * time.Millisecond},
	}

	workerCfg := Config{}
	WithStorageRetry(cfg).ApplyWorker(&workerCfg)

	assert.Equal(t, 10, workerCfg.StorageRetry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, workerCfg.StorageRetry.Backoff.Initial)
}

func TestWithClaimRetry_Option(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts: 2,
		Backoff:     retry.Backoff{Initial: time.Second},
	}

	workerCfg := Config{}
	WithClaimRetry(cfg).ApplyWorker(&workerCfg)

	assert.Equal(t, 2, workerCfg.ClaimRetry.MaxAttempts)
	assert.Equal(t, time.Second, workerCfg.ClaimRetry.Backoff.Initial)
}
