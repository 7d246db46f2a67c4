package storage

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/mselser95/updown-arb/internal/ledger"
	"go.uber.org/zap"
)

const insertRecordPostgres = `
		INSERT INTO ledger_records (
			seq, id, kind, window_id, attempt_id, recorded_at, payload
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

const insertRecordSQLite = `
		INSERT INTO ledger_records (
			seq, id, kind, window_id, attempt_id, recorded_at, payload
		) VALUES (
			?, ?, ?, ?, ?, ?, ?
		)
	`

const selectRecords = `SELECT payload FROM ledger_records ORDER BY seq`

// SQLLog stores records as rows keyed by sequence number. The full record is
// kept as a JSON payload; the other columns exist for ad-hoc queries.
type SQLLog struct {
	db     *sql.DB
	insert string
	name   string
	logger *zap.Logger
}

func newSQLLog(db *sql.DB, insert, name string, logger *zap.Logger) *SQLLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLLog{db: db, insert: insert, name: name, logger: logger}
}

// Append inserts rec. The insert commits before returning.
func (s *SQLLog) Append(ctx context.Context, rec *ledger.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.insert,
		rec.Seq,
		rec.ID,
		string(rec.Kind),
		rec.WindowID,
		rec.AttemptID,
		rec.Timestamp,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	s.logger.Debug("ledger-record-stored",
		zap.String("backend", s.name),
		zap.Int64("seq", rec.Seq),
		zap.String("kind", string(rec.Kind)))

	return nil
}

// Replay streams records in sequence order.
func (s *SQLLog) Replay(ctx context.Context, fn func(rec *ledger.Record) error) error {
	rows, err := s.db.QueryContext(ctx, selectRecords)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		var rec ledger.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLLog) Close() error {
	s.logger.Info("closing-sql-storage", zap.String("backend", s.name))
	return s.db.Close()
}
