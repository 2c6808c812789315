// Package worker provides the shard processing runtime.
//
// A Worker registers itself with the scheduler's registry, claims
// assignable shards through the selector, and drives the executor
// registered for each shard's kind while renewing the shard lease in
// the background. Failed attempts are routed through the retry
// coordinator; the worker that closes a job's last shard finalizes the
// job.
//
// Most users should import the root package github.com/jdziat/shardwork
// which wires workers through Scheduler.NewWorker.
package worker
