package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
)

// MemoryLog keeps encoded records in memory. Records round-trip through JSON
// exactly as the durable backends store them.
type MemoryLog struct {
	mu      sync.Mutex
	lines   [][]byte
	closed  bool
	FailErr error
}

// NewMemoryLog returns an empty in-memory log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("memory log closed")
	}
	if m.FailErr != nil {
		return m.FailErr
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	m.lines = append(m.lines, b)
	return nil
}

func (m *MemoryLog) Replay(ctx context.Context, fn func(rec *Record) error) error {
	m.mu.Lock()
	lines := make([][]byte, len(m.lines))
	copy(lines, m.lines)
	m.mu.Unlock()

	for _, b := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records stored.
func (m *MemoryLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
