package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/shardwork/pkg/security"
)

// Defaults applied by New when an option does not override them.
const (
	DefaultConcurrency           = 4
	DefaultPollInterval          = time.Second
	DefaultRegistrationHeartbeat = 30 * time.Second
)

// Option configures a Worker.
type Option interface {
	ApplyWorker(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyWorker(c *Config) { f(c) }

// Config holds worker configuration.
type Config struct {
	WorkerID string
	Host     string

	// Concurrency is how many shards run at once. It doubles as the
	// capacity reported to the registry.
	Concurrency int

	// UserID binds every claim to one user's active-shard ceiling.
	// Empty claims without a user gate.
	UserID string

	PollInterval          time.Duration
	RegistrationHeartbeat time.Duration

	// LeaseHeartbeat is how often a running shard's lease is renewed.
	// Zero derives a third of the shard lease TTL.
	LeaseHeartbeat time.Duration

	StorageRetry RetryConfig
	ClaimRetry   RetryConfig

	Logger *slog.Logger
}

// WithWorkerID overrides the generated worker id.
func WithWorkerID(id string) Option {
	return optionFunc(func(c *Config) {
		c.WorkerID = id
	})
}

// WithHost sets the host name reported to the registry.
func WithHost(host string) Option {
	return optionFunc(func(c *Config) {
		c.Host = host
	})
}

// Concurrency sets how many shards the worker runs at once.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) Option {
	return optionFunc(func(c *Config) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// ForUser restricts the worker to claims on behalf of one user, keeping
// its work under that user's active-shard ceiling.
func ForUser(userID string) Option {
	return optionFunc(func(c *Config) {
		c.UserID = userID
	})
}

// WithPollInterval sets the claim polling cadence.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.PollInterval = d
	})
}

// WithRegistrationHeartbeat sets how often the worker refreshes its
// registration with its current load.
func WithRegistrationHeartbeat(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.RegistrationHeartbeat = d
	})
}

// WithLeaseHeartbeat sets how often running shards renew their leases.
func WithLeaseHeartbeat(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.LeaseHeartbeat = d
	})
}

// WithStorageRetry sets the retry policy for store writes.
func WithStorageRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = cfg
	})
}

// WithClaimRetry sets the retry policy for the claim poll.
func WithClaimRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.ClaimRetry = cfg
	})
}

// WithLogger sets the worker's logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	})
}
