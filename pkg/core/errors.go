package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation and lookup errors
var (
	ErrInvalidKind           = errors.New("shardwork: invalid job kind (must be alphanumeric, start with letter)")
	ErrKindTooLong           = errors.New("shardwork: job kind too long")
	ErrInvalidSubjectKey     = errors.New("shardwork: invalid subject key")
	ErrSubjectKeyTooLong     = errors.New("shardwork: subject key too long")
	ErrInvalidWorkerID       = errors.New("shardwork: invalid worker id")
	ErrWorkerIDTooLong       = errors.New("shardwork: worker id too long")
	ErrInvalidCheckpointType = errors.New("shardwork: invalid checkpoint type")
	ErrCheckpointKeyEmpty    = errors.New("shardwork: checkpoint key is empty")
	ErrCheckpointKeyTooLong  = errors.New("shardwork: checkpoint key too long")
	ErrPayloadTooLarge       = errors.New("shardwork: checkpoint payload exceeds size limit")
	ErrInvalidWindow         = errors.New("shardwork: window start must precede window end")
	ErrNoSubjects            = errors.New("shardwork: planning request has no subjects")
	ErrJobNotFound           = errors.New("shardwork: job not found")
	ErrShardNotFound         = errors.New("shardwork: shard not found")
	ErrCheckpointNotFound    = errors.New("shardwork: checkpoint not found")
	ErrWorkerNotRegistered   = errors.New("shardwork: worker not registered")
)

// NoRetryError indicates an executor failure that must not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates a failure that should be retried after a
// specific delay, overriding the coordinator's backoff.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}

// PartialCompletionError indicates an executor finished its shard but some
// units of work failed permanently. The shard is closed as partially
// completed rather than retried.
type PartialCompletionError struct {
	Err error
}

func (e *PartialCompletionError) Error() string {
	return fmt.Sprintf("partial completion: %v", e.Err)
}

func (e *PartialCompletionError) Unwrap() error {
	return e.Err
}

// PartialCompletion wraps an error to close a shard as partially completed.
func PartialCompletion(err error) error {
	return &PartialCompletionError{Err: err}
}
