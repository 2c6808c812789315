package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB opens a fresh in-memory SQLite instance, or PostgreSQL
// when TEST_DATABASE_URL is set. The shared PostgreSQL database is
// wiped before and after each test and its pool kept tiny so parallel
// packages cannot exhaust max_connections.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err, "open in-memory sqlite")
		return db
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open postgres test db")
	require.NoError(t, ConfigurePool(db, MaxOpenConns(2), MaxIdleConns(1)))

	wipeTestTables(t, db)
	t.Cleanup(func() {
		wipeTestTables(t, db)
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// wipeTestTables empties the scheduling tables, children before
// parents so foreign keys hold. Missing tables (first run before any
// migration) are fine.
func wipeTestTables(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, tbl := range []string{"checkpoints", "shards", "jobs", "worker_registrations"} {
		db.Exec("DELETE FROM " + tbl)
	}
}
