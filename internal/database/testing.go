package database

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

// OpenTest returns a migrated SQLite database in a per-test directory.
// Connections are capped at one so concurrent writers queue instead of
// failing with SQLITE_BUSY.
func OpenTest(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "engine.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := Open(Options{Driver: DriverSQLite, DSN: dsn, MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
