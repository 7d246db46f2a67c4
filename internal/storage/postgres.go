package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS ledger_records (
		seq         BIGINT PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		kind        TEXT NOT NULL,
		window_id   TEXT NOT NULL,
		attempt_id  TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL,
		payload     JSONB NOT NULL
	)
`

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// DSN renders the lib/pq connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewPostgresLog connects to PostgreSQL and ensures the records table exists.
func NewPostgresLog(ctx context.Context, cfg *PostgresConfig) (*SQLLog, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log, err := newPostgresLog(ctx, db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return log, nil
}

func newPostgresLog(ctx context.Context, db *sql.DB, logger *zap.Logger) (*SQLLog, error) {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return newSQLLog(db, insertRecordPostgres, BackendPostgres, logger), nil
}
