// Package planner partitions work requests into persisted jobs and shards.
//
// This package includes:
//   - Planner: walks each subject's time range in bounded windows and
//     persists the resulting job and shards in one transaction
//   - Evaluate: a pure heuristic deciding whether sharding is warranted
//   - Truncation: uncovered-range reporting as data, not log lines
//
// Shard boundaries are deterministic: identical requests always produce
// identical plans. Routing and cost estimates come from the caller's
// RouteAdvisor, consulted once per shard.
package planner
