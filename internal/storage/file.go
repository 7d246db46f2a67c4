package storage

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/mselser95/updown-arb/internal/ledger"
	"go.uber.org/zap"
)

// logFile is the subset of *os.File the log writes through.
type logFile interface {
	io.Writer
	io.Seeker
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// FileLog stores one JSON record per line and fsyncs after every append.
// A trailing line without a newline is a torn write from a crash; it is
// dropped on open and never replayed. A failed append is truncated away
// before it returns, so the file only ever holds whole records.
type FileLog struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	file   logFile
	size   int64 // offset just past the last committed record
	broken error // set when a failed append could not be rolled back
}

// NewFileLog opens (or creates) the log at path.
func NewFileLog(path string, logger *zap.Logger) (*FileLog, error) {
	if path == "" {
		return nil, errors.New("file log path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	good, size, err := validLength(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if good < size {
		logger.Warn("ledger-torn-tail-discarded",
			zap.String("path", path),
			zap.Int64("bytes", size-good))
		if err := f.Truncate(good); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate torn tail: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("sync log file: %w", err)
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek log file: %w", err)
	}

	logger.Info("file-storage-opened", zap.String("path", path), zap.Int64("bytes", good))

	return &FileLog{path: path, logger: logger, file: f, size: good}, nil
}

// validLength returns the offset just past the last newline-terminated line.
func validLength(f *os.File) (good, size int64, err error) {
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("seek log file: %w", err)
	}

	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadBytes('\n')
		size += int64(len(line))
		if readErr == io.EOF {
			return good, size, nil
		}
		if readErr != nil {
			return 0, 0, fmt.Errorf("scan log file: %w", readErr)
		}
		good += int64(len(line))
	}
}

// Append writes rec as a single line and fsyncs before returning.
func (f *FileLog) Append(_ context.Context, rec *ledger.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	b = append(b, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return errors.New("file log closed")
	}
	if f.broken != nil {
		return fmt.Errorf("file log unusable: %w", f.broken)
	}

	if _, err := f.file.Write(b); err != nil {
		return f.rollback(fmt.Errorf("write record: %w", err))
	}
	if err := f.file.Sync(); err != nil {
		return f.rollback(fmt.Errorf("sync record: %w", err))
	}
	f.size += int64(len(b))
	return nil
}

// rollback cuts the file back to the last committed record after a failed
// append. If that fails too, the log stops accepting appends.
func (f *FileLog) rollback(cause error) error {
	err := f.file.Truncate(f.size)
	if err == nil {
		_, err = f.file.Seek(f.size, io.SeekStart)
	}
	if err == nil {
		err = f.file.Sync()
	}
	if err != nil {
		f.broken = fmt.Errorf("roll back partial append: %w", err)
		f.logger.Error("ledger-rollback-failed",
			zap.String("path", f.path),
			zap.Int64("offset", f.size),
			zap.Error(err))
		return errors.Join(cause, f.broken)
	}

	f.logger.Warn("ledger-append-rolled-back",
		zap.String("path", f.path),
		zap.Int64("offset", f.size),
		zap.Error(cause))
	return cause
}

// Replay reads the log from the start. A complete line that fails to decode is
// corruption and stops the replay with an error.
func (f *FileLog) Replay(ctx context.Context, fn func(rec *ledger.Record) error) error {
	rf, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer rf.Close()

	r := bufio.NewReader(rf)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := r.ReadBytes('\n')
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read log file: %w", readErr)
		}
		lineNo++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var rec ledger.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decode record at line %d: %w", lineNo, err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
}

// Close closes the file.
func (f *FileLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.logger.Info("closing-file-storage", zap.String("path", f.path))
	return err
}
