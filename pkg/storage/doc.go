// Package storage provides storage implementations for job and shard
// persistence.
//
// This package includes:
//   - GormStore: A GORM-based implementation supporting SQLite and Postgres
//
// The Store interface is defined in pkg/core and must be implemented by
// any custom storage backend. All ownership-sensitive writes are single
// conditional UPDATE statements so that concurrent workers race safely on
// any database GORM supports.
//
// Most users should import the root package github.com/jdziat/shardwork
// which provides NewGormStore() to create store instances.
package storage
