// Package core provides the fundamental types and interfaces for the
// shardwork package.
//
// This package contains:
//   - Job, Shard, Checkpoint, and WorkerRegistration data models with GORM annotations
//   - Store and LeaseStore interfaces defining the persistence contract
//   - RouteAdvisor, ShardExecutor, and AuditSink collaborator contracts
//   - Event types for scheduler monitoring
//   - Error types for shard processing
//
// Most users should import the root package github.com/jdziat/shardwork
// instead of this package directly.
package core
