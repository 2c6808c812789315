package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jdziat/shardwork/pkg/retry"
)

// RetryConfig bounds the worker's retries against the store. These are
// client-side retries for transient storage failures and have nothing
// to do with the shard attempt ledger kept by the retry coordinator.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// Backoff shapes the wait between tries.
	Backoff retry.Backoff
}

// DefaultStorageRetry returns the retry policy for ordinary store
// writes made while processing a shard.
func DefaultStorageRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		Backoff: retry.Backoff{
			Initial:        100 * time.Millisecond,
			Max:            5 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
		},
	}
}

// DefaultClaimRetry returns the retry policy for the claim poll. The
// backoff is longer and more jittered so a struggling database is not
// hammered by every worker at once.
func DefaultClaimRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff: retry.Backoff{
			Initial:        500 * time.Millisecond,
			Max:            10 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.2,
		},
	}
}

// withRetry runs op until it succeeds, attempts run out, or the context
// ends. Context errors are returned as-is and never retried.
func withRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Backoff.Delay(attempt)):
		}
	}

	return lastErr
}
