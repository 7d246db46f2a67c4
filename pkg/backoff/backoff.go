// Package backoff provides exponential backoff with jitter and a bounded retry helper.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds the configuration for exponential backoff.
type Config struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterPercent     float64 // 0.2 = 20%
	// MaxAttempts bounds Retry. Zero means a single attempt.
	MaxAttempts int
}

// Backoff tracks the current delay of an exponential backoff sequence.
type Backoff struct {
	config  Config
	current time.Duration
	mu      sync.Mutex
}

// New creates a backoff sequence starting at cfg.InitialDelay.
func New(cfg Config) *Backoff {
	return &Backoff{
		config:  cfg,
		current: cfg.InitialDelay,
	}
}

// Next returns the current delay with jitter applied and advances the sequence.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	// backoff * (1.0 + random(0, jitterPercent))
	jitter := rand.Float64() * b.config.JitterPercent //nolint:gosec // jitter does not need crypto randomness
	delay := time.Duration(float64(b.current) * (1.0 + jitter))

	mult := b.config.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(b.current) * mult)
	if b.config.MaxDelay > 0 && next > b.config.MaxDelay {
		next = b.config.MaxDelay
	}
	b.current = next

	return delay
}

// Current returns the un-jittered delay the next call to Next will be based on.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset restarts the sequence at the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.config.InitialDelay
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a Permanent error, ctx is done, or
// cfg.MaxAttempts is exhausted. The last error is returned wrapped with the attempt count.
func Retry(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func(context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := New(cfg)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		RetriesTotal.WithLabelValues(operation).Inc()

		if attempt == attempts {
			break
		}

		delay := b.Next()
		logger.Debug("retrying-operation",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(lastErr))

		if err := Sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", operation, err)
		}
	}

	RetriesExhaustedTotal.WithLabelValues(operation).Inc()

	return fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}
