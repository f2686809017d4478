package testutil

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/wandergen/wandergen-backend/internal/logger"
)

// DB opens a fresh in-memory sqlite database with the full schema. The
// production schema relies on Postgres defaults and extensions, so the test
// schema is spelled out by hand and repos assign ids client-side.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open test db: %v", err)
	}

	for _, ddl := range schema {
		if err := db.Exec(ddl).Error; err != nil {
			tb.Fatalf("create test schema: %v", err)
		}
	}

	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Tx wraps a test in a transaction that rolls back on cleanup.
func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.NewNop()
}

var schema = []string{
	`CREATE TABLE job (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		input TEXT,
		output TEXT,
		error TEXT,
		idempotency_key TEXT,
		started_at DATETIME,
		completed_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at DATETIME
	)`,
	`CREATE UNIQUE INDEX idx_job_idempotency_key ON job(idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE job_log (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE knowledge_file (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		file_type TEXT,
		size_bytes INTEGER,
		storage_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		last_indexed_at DATETIME,
		metadata TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at DATETIME
	)`,
	`CREATE TABLE knowledge_chunk (
		id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(file_id, chunk_index)
	)`,
	`CREATE TABLE knowledge_pack (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at DATETIME
	)`,
	`CREATE TABLE knowledge_pack_file (
		id TEXT PRIMARY KEY,
		pack_id TEXT NOT NULL,
		file_id TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(pack_id, file_id)
	)`,
}
