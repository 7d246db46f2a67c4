package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS ledger_records (
		seq         INTEGER PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		kind        TEXT NOT NULL,
		window_id   TEXT NOT NULL,
		attempt_id  TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL,
		payload     TEXT NOT NULL
	)
`

// NewSQLiteLog opens the SQLite database at path in WAL mode with full fsync.
func NewSQLiteLog(ctx context.Context, path string, logger *zap.Logger) (*SQLLog, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// single writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("prepare sqlite database: %w", err)
		}
	}

	log := newSQLLog(db, insertRecordSQLite, BackendSQLite, logger)
	log.logger.Info("sqlite-storage-opened", zap.String("path", path))
	return log, nil
}
