// Package schedule provides scheduling implementations for recurring
// background work such as reaper sweeps and history snapshots.
//
// This package includes:
//   - Schedule interface for defining activation times
//   - Every() for fixed-interval schedules
//   - Daily()/DailyIn() for daily schedules at a specific time
//   - Weekly()/WeeklyIn() for weekly schedules on a specific day and time
//   - Cron() for cron expression-based schedules
//
// Most users should import the root package github.com/jdziat/shardwork
// which re-exports these functions.
package schedule
