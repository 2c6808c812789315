// Package retry decides whether a failed shard attempt gets another run.
//
// The coordinator owns the ceiling check and the backoff schedule. The
// computed delay is persisted on the shard as next_attempt_at, so
// acquisition eligibility enforces the backoff no matter how fast
// workers poll.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/jdziat/shardwork/pkg/core"
)

// Backoff shapes the delay between shard attempts.
type Backoff struct {
	// Initial is the delay before the first re-attempt.
	// Default: 30s
	Initial time.Duration

	// Max caps the delay regardless of attempt count.
	// Default: 15m
	Max time.Duration

	// Multiplier grows the delay after each attempt.
	// Default: 2.0
	Multiplier float64

	// JitterFraction randomizes the delay by +/- this fraction (0.0 to 1.0).
	// Default: 0.1
	JitterFraction float64
}

// DefaultBackoff returns the schedule used when none is configured.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:        30 * time.Second,
		Max:            15 * time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Delay computes the wait before the next attempt. attempt counts
// re-attempts already spent: 0 yields the initial delay.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	// Clamp while still a float so large attempt counts cannot overflow.
	if d > float64(b.Max) {
		d = float64(b.Max)
	}

	jitter := d * b.JitterFraction * (rand.Float64()*2 - 1)
	delay := time.Duration(d + jitter)
	if delay < 0 {
		delay = time.Duration(d)
	}
	return delay
}

// Option configures a Coordinator.
type Option interface {
	ApplyRetry(*Coordinator)
}

type optionFunc func(*Coordinator)

func (f optionFunc) ApplyRetry(c *Coordinator) { f(c) }

// WithBackoff overrides the delay schedule.
func WithBackoff(b Backoff) Option {
	return optionFunc(func(c *Coordinator) { c.backoff = b })
}

// WithLogger sets the coordinator's logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithEmitter routes lifecycle events to fn.
func WithEmitter(fn func(core.Event)) Option {
	return optionFunc(func(c *Coordinator) { c.emit = fn })
}

// Coordinator routes a shard failure either to another attempt or to the
// terminal failed state.
type Coordinator struct {
	store   core.Store
	backoff Backoff
	logger  *slog.Logger
	emit    func(core.Event)
}

// New creates a retry coordinator backed by store.
func New(store core.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:   store,
		backoff: DefaultBackoff(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt.ApplyRetry(c)
	}

	def := DefaultBackoff()
	if c.backoff.Initial <= 0 {
		c.backoff.Initial = def.Initial
	}
	if c.backoff.Max <= 0 {
		c.backoff.Max = def.Max
	}
	if c.backoff.Multiplier < 1 {
		c.backoff.Multiplier = def.Multiplier
	}
	if c.backoff.JitterFraction < 0 || c.backoff.JitterFraction > 1 {
		c.backoff.JitterFraction = def.JitterFraction
	}
	return c
}

// Retry routes the failure in cause. It returns true when the shard was
// scheduled for another attempt, false when it was closed as failed or
// when another owner already moved it.
//
// A NoRetryError in cause fails the shard immediately. A RetryAfterError
// replaces the computed backoff with the caller-supplied delay.
func (c *Coordinator) Retry(ctx context.Context, shardID string, cause error) (bool, error) {
	shard, err := c.store.GetShard(ctx, shardID)
	if err != nil {
		return false, err
	}
	if shard == nil {
		return false, core.ErrShardNotFound
	}

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	var noRetry *core.NoRetryError
	if errors.As(cause, &noRetry) {
		return false, c.fail(ctx, shard, cause, msg)
	}

	if shard.RetryCount >= shard.RetryMax {
		return false, c.fail(ctx, shard, cause, msg)
	}

	delay := c.backoff.Delay(shard.RetryCount)
	var retryAfter *core.RetryAfterError
	if errors.As(cause, &retryAfter) {
		delay = retryAfter.Delay
	}
	next := time.Now().Add(delay)

	ok, err := c.store.MarkShardRetrying(ctx, shard.ID, shard.RetryCount, msg, next)
	if err != nil {
		return false, err
	}
	if !ok {
		// Lost the retry_count race or the shard moved on. Whoever won
		// owns the outcome.
		return false, nil
	}

	c.logger.Info("shard retry scheduled",
		"shard_id", shard.ID,
		"attempt", shard.RetryCount+1,
		"retry_max", shard.RetryMax,
		"next_attempt_at", next,
	)
	c.emitEvent(&core.ShardRetrying{
		Shard:         shard,
		Attempt:       shard.RetryCount + 1,
		Error:         cause,
		NextAttemptAt: next,
		Timestamp:     time.Now(),
	})
	return true, nil
}

// fail closes the shard permanently. Replays against an already-failed
// shard lose the guarded update and emit nothing.
func (c *Coordinator) fail(ctx context.Context, shard *core.Shard, cause error, msg string) error {
	ok, err := c.store.MarkShardFailed(ctx, shard.ID, msg)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	c.logger.Warn("shard failed permanently",
		"shard_id", shard.ID,
		"retry_count", shard.RetryCount,
		"error", msg,
	)
	c.emitEvent(&core.ShardFailed{
		Shard:     shard,
		Error:     cause,
		Timestamp: time.Now(),
	})
	return nil
}

func (c *Coordinator) emitEvent(e core.Event) {
	if c.emit != nil {
		c.emit(e)
	}
}
