// Package storage provides durable ledger.Log backends.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mselser95/updown-arb/internal/ledger"
	"go.uber.org/zap"
)

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Storage is a durable, append-only record log.
type Storage = ledger.Log

// Config selects and configures a backend.
type Config struct {
	Backend  string
	Path     string
	Postgres *PostgresConfig
	// Console, when set, also prints every terminal record in human-readable form.
	Console io.Writer
	Logger  *zap.Logger
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg *Config) (Storage, error) {
	var (
		log Storage
		err error
	)

	switch cfg.Backend {
	case BackendFile, "":
		log, err = NewFileLog(cfg.Path, cfg.Logger)
	case BackendSQLite:
		log, err = NewSQLiteLog(ctx, cfg.Path, cfg.Logger)
	case BackendPostgres:
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres backend requires postgres config")
		}
		pg := *cfg.Postgres
		pg.Logger = cfg.Logger
		log, err = NewPostgresLog(ctx, &pg)
	case BackendMemory:
		log = ledger.NewMemoryLog()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Console != nil {
		log = NewConsole(log, cfg.Console, cfg.Logger)
	}
	return log, nil
}

// DefaultConsole is where console output goes when enabled.
func DefaultConsole() io.Writer {
	return os.Stdout
}
