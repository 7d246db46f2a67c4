package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	json "github.com/goccy/go-json"
	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRecord(seq int64, kind ledger.Kind) *ledger.Record {
	return &ledger.Record{
		Seq:            seq,
		ID:             "rec-" + string(rune('a'+seq)),
		Kind:           kind,
		Timestamp:      time.Date(2026, 3, 14, 12, 0, int(seq), 0, time.UTC),
		WindowID:       "w1",
		AttemptID:      "a1",
		Opportunity:    arbitrage.CreateTestOpportunity("w1"),
		Outcome:        execution.OutcomeBothFilled,
		Invested:       4.95,
		ExpectedPayout: 5,
		RealizedPnL:    0.05,
		PnLResolved:    true,
		OrderIDs:       []string{"o1", "o2"},
	}
}

func replayAll(t *testing.T, log ledger.Log) []*ledger.Record {
	t.Helper()
	var out []*ledger.Record
	err := log.Replay(context.Background(), func(rec *ledger.Record) error {
		out = append(out, rec)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestFileLog_AppendReplay(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "data", "ledger.jsonl")

	log, err := NewFileLog(path, logger)
	require.NoError(t, err)

	require.NoError(t, log.Append(context.Background(), testRecord(1, ledger.KindTrade)))
	require.NoError(t, log.Append(context.Background(), testRecord(2, ledger.KindMissed)))
	require.NoError(t, log.Close())

	reopened, err := NewFileLog(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	recs := replayAll(t, reopened)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].Seq)
	assert.Equal(t, ledger.KindMissed, recs[1].Kind)
	assert.Equal(t, []string{"o1", "o2"}, recs[0].OrderIDs)
	assert.InDelta(t, 0.48, recs[0].Opportunity.Up.Price, 1e-12)
}

func TestFileLog_TornTailDiscarded(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	log, err := NewFileLog(path, logger)
	require.NoError(t, err)
	require.NoError(t, log.Append(context.Background(), testRecord(1, ledger.KindTrade)))
	require.NoError(t, log.Close())

	// simulate a crash halfway through the second write
	b, err := json.Marshal(testRecord(2, ledger.KindTrade))
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(b[:len(b)/2])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := NewFileLog(path, logger)
	require.NoError(t, err)
	require.Len(t, replayAll(t, reopened), 1)

	// appends after recovery start on a clean line
	require.NoError(t, reopened.Append(context.Background(), testRecord(2, ledger.KindMissed)))
	recs := replayAll(t, reopened)
	require.Len(t, recs, 2)
	assert.Equal(t, ledger.KindMissed, recs[1].Kind)
	require.NoError(t, reopened.Close())
}

func TestFileLog_CorruptLineFailsReplay(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	b, err := json.Marshal(testRecord(2, ledger.KindTrade))
	require.NoError(t, err)
	content := "{not json}\n" + string(b) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	log, err := NewFileLog(path, logger)
	require.NoError(t, err)
	defer log.Close()

	err = log.Replay(context.Background(), func(*ledger.Record) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

// flakyFile fails the next write after landing part of it, or the next sync.
type flakyFile struct {
	*os.File
	partialWrite bool
	failSync     bool
}

func (f *flakyFile) Write(b []byte) (int, error) {
	if f.partialWrite {
		f.partialWrite = false
		n, _ := f.File.Write(b[:len(b)/2])
		return n, errors.New("no space left on device")
	}
	return f.File.Write(b)
}

func (f *flakyFile) Sync() error {
	if f.failSync {
		f.failSync = false
		return errors.New("input/output error")
	}
	return f.File.Sync()
}

func TestFileLog_FailedAppendLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name   string
		inject func(f *flakyFile)
		errMsg string
	}{
		{name: "partial_write", inject: func(f *flakyFile) { f.partialWrite = true }, errMsg: "write record"},
		{name: "sync_failure", inject: func(f *flakyFile) { f.failSync = true }, errMsg: "sync record"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := zap.NewDevelopment()
			path := filepath.Join(t.TempDir(), "ledger.jsonl")

			log, err := NewFileLog(path, logger)
			require.NoError(t, err)
			require.NoError(t, log.Append(context.Background(), testRecord(1, ledger.KindTrade)))

			flaky := &flakyFile{File: log.file.(*os.File)}
			log.file = flaky
			tt.inject(flaky)

			err = log.Append(context.Background(), testRecord(2, ledger.KindAttemptSubmitted))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)

			// the next record starts on a clean line
			require.NoError(t, log.Append(context.Background(), testRecord(3, ledger.KindTrade)))
			require.NoError(t, log.Close())

			reopened, err := NewFileLog(path, logger)
			require.NoError(t, err)
			defer reopened.Close()

			recs := replayAll(t, reopened)
			require.Len(t, recs, 2)
			assert.Equal(t, int64(1), recs[0].Seq)
			assert.Equal(t, int64(3), recs[1].Seq)
		})
	}
}

func TestFileLog_AppendAfterClose(t *testing.T) {
	log, err := NewFileLog(filepath.Join(t.TempDir(), "ledger.jsonl"), nil)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	err = log.Append(context.Background(), testRecord(1, ledger.KindTrade))
	assert.Error(t, err)
}

func TestFileLog_LedgerReplayMatches(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	log, err := NewFileLog(path, nil)
	require.NoError(t, err)
	l, err := ledger.Open(ctx, &ledger.Config{Log: log})
	require.NoError(t, err)

	_, err = l.RecordMissed(ctx, arbitrage.CreateTestOpportunity("w1"), "daily_loss")
	require.NoError(t, err)
	_, err = l.RecordMissed(ctx, arbitrage.CreateTestOpportunity("w2"), "balance")
	require.NoError(t, err)
	want := l.Stats()
	require.NoError(t, l.Close())

	log, err = NewFileLog(path, nil)
	require.NoError(t, err)
	replayed, err := ledger.Open(ctx, &ledger.Config{Log: log})
	require.NoError(t, err)
	defer replayed.Close()

	got := replayed.Stats()
	assert.Equal(t, want.Missed, got.Missed)
	assert.Equal(t, want.Opportunities, got.Opportunities)
	assert.True(t, want.LastRecordAt.Equal(got.LastRecordAt))
	assert.Len(t, replayed.Windows(), 2)
}

func TestSQLiteLog_AppendReplay(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	log, err := NewSQLiteLog(ctx, path, logger)
	require.NoError(t, err)
	require.NoError(t, log.Append(ctx, testRecord(1, ledger.KindTrade)))
	require.NoError(t, log.Append(ctx, testRecord(2, ledger.KindSettlement)))

	// sequence numbers are unique
	assert.Error(t, log.Append(ctx, testRecord(2, ledger.KindSettlement)))
	require.NoError(t, log.Close())

	reopened, err := NewSQLiteLog(ctx, path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	recs := replayAll(t, reopened)
	require.Len(t, recs, 2)
	assert.Equal(t, ledger.KindTrade, recs[0].Kind)
	assert.Equal(t, ledger.KindSettlement, recs[1].Kind)
}

func TestPostgresLog_Append(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ledger_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	log, err := newPostgresLog(context.Background(), db, logger)
	require.NoError(t, err)

	rec := testRecord(7, ledger.KindTrade)
	mock.ExpectExec("INSERT INTO ledger_records").
		WithArgs(
			rec.Seq,
			rec.ID,
			"trade",
			"w1",
			"a1",
			sqlmock.AnyArg(), // recorded_at
			sqlmock.AnyArg(), // payload
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = log.Append(context.Background(), rec)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresLog_Append_Error(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	log := newSQLLog(db, insertRecordPostgres, BackendPostgres, logger)

	mock.ExpectExec("INSERT INTO ledger_records").
		WillReturnError(sqlmock.ErrCancelled)

	err = log.Append(context.Background(), testRecord(1, ledger.KindTrade))
	if err == nil {
		t.Error("expected error, got nil")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresLog_Replay(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	log := newSQLLog(db, insertRecordPostgres, BackendPostgres, logger)

	first, _ := json.Marshal(testRecord(1, ledger.KindTrade))
	second, _ := json.Marshal(testRecord(2, ledger.KindMissed))
	mock.ExpectQuery("SELECT payload FROM ledger_records ORDER BY seq").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow(string(first)).
			AddRow(string(second)))

	recs := replayAll(t, log)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[1].Seq)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresLog_Close(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	log := newSQLLog(db, insertRecordPostgres, BackendPostgres, logger)
	mock.ExpectClose()

	if err := log.Close(); err != nil {
		t.Errorf("expected no error on close, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := &PostgresConfig{Host: "localhost", Port: "5432", User: "u", Password: "p", Database: "arb", SSLMode: "disable"}
	assert.Equal(t, "host=localhost port=5432 user=u password=p dbname=arb sslmode=disable", cfg.DSN())
}

func TestConsole_PrintsAfterAppend(t *testing.T) {
	var out bytes.Buffer
	inner := ledger.NewMemoryLog()
	console := NewConsole(inner, &out, nil)

	require.NoError(t, console.Append(context.Background(), testRecord(1, ledger.KindTrade)))
	assert.Equal(t, 1, inner.Len())
	assert.Contains(t, out.String(), "TRADE both-filled")
	assert.Contains(t, out.String(), "Sum:       0.9900")

	out.Reset()
	inner.FailErr = sqlmock.ErrCancelled
	require.Error(t, console.Append(context.Background(), testRecord(2, ledger.KindMissed)))
	assert.Empty(t, out.String())
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{name: "file", cfg: &Config{Backend: BackendFile, Path: filepath.Join(dir, "a.jsonl")}},
		{name: "sqlite", cfg: &Config{Backend: BackendSQLite, Path: filepath.Join(dir, "a.db")}},
		{name: "memory", cfg: &Config{Backend: BackendMemory}},
		{name: "console", cfg: &Config{Backend: BackendMemory, Console: &bytes.Buffer{}}},
		{name: "postgres without config", cfg: &Config{Backend: BackendPostgres}, wantErr: "postgres config"},
		{name: "unknown", cfg: &Config{Backend: "redis"}, wantErr: "unknown storage backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := Open(ctx, tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.wantErr))
				return
			}
			require.NoError(t, err)
			require.NoError(t, log.Close())
		})
	}
}
