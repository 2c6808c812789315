package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/shardwork/pkg/core"
	"github.com/jdziat/shardwork/pkg/security"
)

// Default sizing. A 30-day window with a 5-day floor keeps shards large
// enough to amortize connector setup while bounding replay after a crash.
const (
	DefaultMaxWindow           = 30 * 24 * time.Hour
	DefaultMinWindowFloor      = 5 * 24 * time.Hour
	DefaultMaxShardsPerSubject = 64
	DefaultRetryMax            = 3
)

// Default Evaluate thresholds.
const (
	DefaultShardAboveSubjects    = 5
	DefaultShardAboveSubjectDays = 180
	DefaultShardAboveSpan        = 60 * 24 * time.Hour
)

// Config holds planner sizing and evaluation thresholds.
type Config struct {
	MaxWindow           time.Duration
	MinWindowFloor      time.Duration
	MaxShardsPerSubject int
	RetryMax            int

	ShardAboveSubjects    int
	ShardAboveSubjectDays int
	ShardAboveSpan        time.Duration
}

// DefaultConfig returns the default planner configuration.
func DefaultConfig() Config {
	return Config{
		MaxWindow:             DefaultMaxWindow,
		MinWindowFloor:        DefaultMinWindowFloor,
		MaxShardsPerSubject:   DefaultMaxShardsPerSubject,
		RetryMax:              DefaultRetryMax,
		ShardAboveSubjects:    DefaultShardAboveSubjects,
		ShardAboveSubjectDays: DefaultShardAboveSubjectDays,
		ShardAboveSpan:        DefaultShardAboveSpan,
	}
}

// Option configures a Planner.
type Option interface {
	ApplyPlanner(*Planner)
}

type optionFunc func(*Planner)

func (f optionFunc) ApplyPlanner(p *Planner) { f(p) }

// WithConfig replaces the planner configuration wholesale.
func WithConfig(cfg Config) Option {
	return optionFunc(func(p *Planner) {
		p.cfg = cfg
	})
}

// WithMaxWindow sets the default maximum shard window.
func WithMaxWindow(d time.Duration) Option {
	return optionFunc(func(p *Planner) {
		p.cfg.MaxWindow = d
	})
}

// WithMinWindowFloor sets the smallest trailing window worth emitting.
func WithMinWindowFloor(d time.Duration) Option {
	return optionFunc(func(p *Planner) {
		p.cfg.MinWindowFloor = d
	})
}

// WithMaxShardsPerSubject caps fan-out per subject.
func WithMaxShardsPerSubject(n int) Option {
	return optionFunc(func(p *Planner) {
		p.cfg.MaxShardsPerSubject = n
	})
}

// WithRetryMax sets the retry ceiling stamped on planned shards.
// Values are clamped to [0, MaxRetries].
func WithRetryMax(n int) Option {
	return optionFunc(func(p *Planner) {
		p.cfg.RetryMax = security.ClampRetries(n)
	})
}

// WithRouteAdvisor sets the per-shard routing collaborator.
func WithRouteAdvisor(advisor core.RouteAdvisor) Option {
	return optionFunc(func(p *Planner) {
		p.advisor = advisor
	})
}

// WithLogger sets the planner's logger.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(p *Planner) {
		p.logger = logger
	})
}

// WithEmitter sets the event emitter, normally wired by the scheduler.
func WithEmitter(emit func(core.Event)) Option {
	return optionFunc(func(p *Planner) {
		p.emit = emit
	})
}

// Request describes the work to partition into shards.
type Request struct {
	Kind     string
	UserID   string
	Priority int
	Subjects []string // Partition subjects, e.g. custodian mailboxes

	// Overall half-open time range shared by every subject.
	From time.Time
	To   time.Time

	// Per-request sizing overrides; zero values fall back to the
	// planner's configuration.
	MaxWindow           time.Duration
	MinWindowFloor      time.Duration
	MaxShardsPerSubject int
	RetryMax            int
}

// TruncationReason says why planning stopped short of the requested range.
type TruncationReason string

const (
	// TruncationShardCap means the per-subject shard cap was reached
	// before the range was covered.
	TruncationShardCap TruncationReason = "shard_cap"
	// TruncationWindowFloor means a trailing window smaller than the
	// floor was dropped rather than emitted as a degenerate shard.
	TruncationWindowFloor TruncationReason = "window_floor"
)

// Truncation records uncovered range for one subject. It is data, not a
// log line: callers decide whether a truncated plan is acceptable.
type Truncation struct {
	SubjectKey string
	Reason     TruncationReason
	CoveredEnd time.Time // Planning stopped emitting windows here
	RangeEnd   time.Time // The requested end of range
}

// Plan is the persisted outcome of one planning request.
type Plan struct {
	Job         *core.Job
	Shards      []*core.Shard
	Truncations []Truncation
}

// Truncated reports whether any subject's range was left partly uncovered.
func (p *Plan) Truncated() bool {
	return len(p.Truncations) > 0
}

// Planner partitions work requests into persisted jobs and shards.
type Planner struct {
	store   core.Store
	cfg     Config
	advisor core.RouteAdvisor
	logger  *slog.Logger
	emit    func(core.Event)
}

// New creates a Planner backed by the given store.
func New(store core.Store, opts ...Option) *Planner {
	p := &Planner{
		store:  store,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt.ApplyPlanner(p)
	}
	return p
}

// Plan partitions the request into shards, asks the route advisor to cost
// each one, and persists the job with all of its shards in one
// transaction. Identical inputs always produce identical shard
// boundaries. Truncations are reported on the result, never dropped.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	if err := p.validate(req); err != nil {
		return nil, err
	}
	sizing := p.sizing(req)

	windows, reason, coveredEnd := planWindows(req.From, req.To, sizing)

	job := &core.Job{
		ID:       uuid.New().String(),
		Kind:     req.Kind,
		UserID:   req.UserID,
		Priority: req.Priority,
		Status:   core.JobPending,
	}

	plan := &Plan{Job: job}
	for _, subject := range req.Subjects {
		for i, w := range windows {
			shard := &core.Shard{
				ID:          uuid.New().String(),
				JobID:       job.ID,
				Kind:        req.Kind,
				UserID:      req.UserID,
				SubjectKey:  subject,
				WindowStart: w.start,
				WindowEnd:   w.end,
				ShardIndex:  i,
				ShardCount:  len(windows),
				Priority:    req.Priority,
				Status:      core.StatusPending,
				RetryMax:    sizing.RetryMax,
			}
			p.advise(ctx, shard)
			plan.Shards = append(plan.Shards, shard)
		}
		if reason != "" {
			plan.Truncations = append(plan.Truncations, Truncation{
				SubjectKey: subject,
				Reason:     reason,
				CoveredEnd: coveredEnd,
				RangeEnd:   req.To,
			})
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if err := p.store.CreateJobWithShards(ctx, job, plan.Shards); err != nil {
		return nil, fmt.Errorf("planner: persist plan: %w", err)
	}

	if plan.Truncated() {
		p.logger.Warn("plan truncated",
			"job_id", job.ID,
			"subjects", len(req.Subjects),
			"reason", string(reason),
			"covered_end", coveredEnd,
			"range_end", req.To)
	}
	p.emitEvent(&core.JobPlanned{
		Job:        job,
		ShardCount: len(plan.Shards),
		Truncated:  plan.Truncated(),
		Timestamp:  time.Now(),
	})

	return plan, nil
}

func (p *Planner) validate(req Request) error {
	if err := security.ValidateKind(req.Kind); err != nil {
		return err
	}
	if len(req.Subjects) == 0 {
		return core.ErrNoSubjects
	}
	for _, subject := range req.Subjects {
		if err := security.ValidateSubjectKey(subject); err != nil {
			return fmt.Errorf("planner: subject %q: %w", subject, err)
		}
	}
	if !req.To.After(req.From) {
		return core.ErrInvalidWindow
	}
	return nil
}

// sizing resolves effective sizing for one request. The floor can never
// exceed the window, whatever the caller passed.
func (p *Planner) sizing(req Request) Config {
	cfg := p.cfg
	if req.MaxWindow > 0 {
		cfg.MaxWindow = req.MaxWindow
	}
	if req.MinWindowFloor > 0 {
		cfg.MinWindowFloor = req.MinWindowFloor
	}
	if req.MaxShardsPerSubject > 0 {
		cfg.MaxShardsPerSubject = req.MaxShardsPerSubject
	}
	if req.RetryMax > 0 {
		cfg.RetryMax = security.ClampRetries(req.RetryMax)
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = DefaultMaxWindow
	}
	if cfg.MinWindowFloor > cfg.MaxWindow {
		cfg.MinWindowFloor = cfg.MaxWindow
	}
	if cfg.MaxShardsPerSubject <= 0 {
		cfg.MaxShardsPerSubject = DefaultMaxShardsPerSubject
	}
	return cfg
}

// advise asks the route advisor to cost one shard. Advice is best-effort:
// a failing advisor leaves the shard unrouted rather than failing the plan.
func (p *Planner) advise(ctx context.Context, shard *core.Shard) {
	if p.advisor == nil {
		return
	}
	advice, err := p.advisor.Recommend(ctx, shard)
	if err != nil {
		p.logger.Warn("route advisor failed",
			"subject_key", shard.SubjectKey,
			"shard_index", shard.ShardIndex,
			"error", err)
		return
	}
	shard.Route = advice.Route
	shard.EstItems = advice.EstItems
	shard.EstBytes = advice.EstBytes
}

func (p *Planner) emitEvent(ev core.Event) {
	if p.emit != nil {
		p.emit(ev)
	}
}

type window struct {
	start, end time.Time
}

// planWindows walks [from, to) in MaxWindow steps, clamping the final
// step. A trailing remainder smaller than the floor is dropped unless it
// is the only window. Emission stops at the per-subject cap. The reason
// is empty when the whole range was covered.
func planWindows(from, to time.Time, cfg Config) ([]window, TruncationReason, time.Time) {
	var windows []window
	cursor := from

	for cursor.Before(to) {
		remaining := to.Sub(cursor)
		if remaining < cfg.MinWindowFloor && len(windows) > 0 {
			return windows, TruncationWindowFloor, cursor
		}

		end := to
		if remaining > cfg.MaxWindow {
			end = cursor.Add(cfg.MaxWindow)
		}
		windows = append(windows, window{start: cursor, end: end})
		cursor = end

		if len(windows) == cfg.MaxShardsPerSubject && cursor.Before(to) {
			return windows, TruncationShardCap, cursor
		}
	}
	return windows, "", to
}
