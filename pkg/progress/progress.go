// Package progress rolls shard state up into job-level progress and
// drives job finalization once every shard is terminal.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/jdziat/shardwork/pkg/core"
)

// Option configures an Aggregator.
type Option interface {
	ApplyProgress(*Aggregator)
}

type optionFunc func(*Aggregator)

func (f optionFunc) ApplyProgress(a *Aggregator) { f(a) }

// WithEmitter sets the event emitter, normally wired by the scheduler.
func WithEmitter(emit func(core.Event)) Option {
	return optionFunc(func(a *Aggregator) {
		a.emit = emit
	})
}

// Snapshot is a point-in-time roll-up of one job's shards.
//
// OverallPct is the unweighted arithmetic mean of each shard's own
// progress percentage. A 2-day shard moves the needle exactly as much
// as a 90-day shard; with very uneven shard sizes the figure over- or
// under-states true progress, which is accepted for its stability and
// simplicity.
type Snapshot struct {
	JobID        string
	Status       core.JobStatus
	TotalShards  int
	StatusCounts map[core.ShardStatus]int

	ItemsProcessed int64
	BytesProcessed int64
	ItemsEstimated int64
	BytesEstimated int64

	OverallPct float64
	Running    []*core.Shard // Shards currently executing, for dashboards
	ETA        *time.Time    // Nil until the job has started and made progress
}

// Aggregator computes job progress and finalizes finished jobs.
type Aggregator struct {
	store core.Store
	emit  func(core.Event)
}

// New creates an Aggregator over the given store.
func New(store core.Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: store}
	for _, opt := range opts {
		opt.ApplyProgress(a)
	}
	return a
}

// Snapshot loads every shard of the job and computes counts by status,
// processed versus estimated volume, the overall percentage, and an ETA
// extrapolated from elapsed time and progress so far.
func (a *Aggregator) Snapshot(ctx context.Context, jobID string) (*Snapshot, error) {
	job, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, core.ErrJobNotFound
	}

	shards, err := a.store.GetShards(ctx, jobID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		JobID:        job.ID,
		Status:       job.Status,
		TotalShards:  len(shards),
		StatusCounts: make(map[core.ShardStatus]int),
	}

	var pctSum float64
	for _, shard := range shards {
		snap.StatusCounts[shard.Status]++
		snap.ItemsProcessed += shard.ActualItems
		snap.BytesProcessed += shard.ActualBytes
		snap.ItemsEstimated += shard.EstItems
		snap.BytesEstimated += shard.EstBytes
		pctSum += shard.ProgressPct
		if shard.Status == core.StatusRunning {
			snap.Running = append(snap.Running, shard)
		}
	}

	if len(shards) > 0 {
		snap.OverallPct = pctSum / float64(len(shards))
	}
	if snap.OverallPct < 0 {
		snap.OverallPct = 0
	}
	if snap.OverallPct > 100 {
		snap.OverallPct = 100
	}

	snap.ETA = extrapolateETA(job.StartedAt, snap.OverallPct)
	return snap, nil
}

// extrapolateETA projects completion time assuming progress continues at
// the average rate observed since the job started.
func extrapolateETA(startedAt *time.Time, pct float64) *time.Time {
	if startedAt == nil || pct <= 0 || pct >= 100 {
		return nil
	}
	elapsed := time.Since(*startedAt)
	if elapsed <= 0 {
		return nil
	}
	remaining := time.Duration(float64(elapsed) * (100 - pct) / pct)
	eta := time.Now().Add(remaining)
	return &eta
}

// FinalizeIfDone finalizes the job once every shard has reached a
// terminal state: completed when all shards fully completed, failed when
// none yielded anything, partially_completed otherwise. Reports whether
// this call performed the finalization; a replay after the job is
// already terminal returns false with no error.
func (a *Aggregator) FinalizeIfDone(ctx context.Context, jobID string) (bool, error) {
	shards, err := a.store.GetShards(ctx, jobID)
	if err != nil {
		return false, err
	}
	if len(shards) == 0 {
		return false, nil
	}

	var completed, partial, failed int
	for _, shard := range shards {
		switch shard.Status {
		case core.StatusCompleted:
			completed++
		case core.StatusPartiallyCompleted:
			partial++
		case core.StatusFailed:
			failed++
		default:
			return false, nil // Still work in flight
		}
	}

	status, lastError := finalVerdict(completed, partial, failed, len(shards))
	won, err := a.store.FinalizeJob(ctx, jobID, status, lastError)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	if a.emit != nil {
		job, err := a.store.GetJob(ctx, jobID)
		if err == nil && job != nil {
			a.emit(&core.JobFinalized{
				Job:       job,
				Status:    status,
				Timestamp: time.Now(),
			})
		}
	}
	return true, nil
}

// finalVerdict maps terminal shard counts onto the job's final status.
// Partially completed shards count as yield: a job is only failed when
// no shard produced anything at all.
func finalVerdict(completed, partial, failed, total int) (core.JobStatus, string) {
	switch {
	case completed == total:
		return core.JobCompleted, ""
	case completed == 0 && partial == 0:
		return core.JobFailed, fmt.Sprintf("all %d shards failed", total)
	default:
		return core.JobPartiallyCompleted,
			fmt.Sprintf("%d of %d shards completed, %d partial, %d failed",
				completed, total, partial, failed)
	}
}
