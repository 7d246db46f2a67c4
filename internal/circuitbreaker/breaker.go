package circuitbreaker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/internal/ledger"
	"go.uber.org/zap"
)

// Block reasons reported by Allow.
const (
	BlockCooldown = "breaker_cooldown"
	BlockSpacing  = "execution_cooldown"
)

// ExecutionBreaker pauses trading after consecutive failed attempts and
// enforces a minimum spacing between executions.
type ExecutionBreaker struct {
	enabled atomic.Bool // Atomic for lock-free reads

	// Configuration
	maxFailures       int
	cooldown          time.Duration
	executionCooldown time.Duration
	logger            *zap.Logger
	now               func() time.Time

	// Protected by mutex
	mu            sync.RWMutex
	failures      int
	trippedAt     time.Time
	lastExecution time.Time
	lastFailure   string
}

// Config holds circuit breaker configuration.
type Config struct {
	MaxFailures       int
	Cooldown          time.Duration
	ExecutionCooldown time.Duration
	Logger            *zap.Logger
}

// Status holds current circuit breaker status for debugging.
type Status struct {
	Enabled             bool      `json:"enabled"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TrippedAt           time.Time `json:"tripped_at,omitempty"`
	ResumesAt           time.Time `json:"resumes_at,omitempty"`
	LastExecution       time.Time `json:"last_execution,omitempty"`
	LastFailure         string    `json:"last_failure,omitempty"`
}

// New creates a new circuit breaker with the given configuration.
func New(cfg *Config) (breaker *ExecutionBreaker, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MaxFailures < 0 {
		return nil, fmt.Errorf("max failures must be non-negative")
	}
	if cfg.MaxFailures > 0 && cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive when max failures is set")
	}
	if cfg.ExecutionCooldown < 0 {
		return nil, fmt.Errorf("execution cooldown must be non-negative")
	}

	breaker = &ExecutionBreaker{
		maxFailures:       cfg.MaxFailures,
		cooldown:          cfg.Cooldown,
		executionCooldown: cfg.ExecutionCooldown,
		logger:            cfg.Logger,
		now:               time.Now,
	}

	// Start enabled by default
	breaker.enabled.Store(true)
	CircuitBreakerEnabled.Set(1)
	CircuitBreakerConsecutiveFailures.Set(0)

	return breaker, nil
}

// IsEnabled returns false while the breaker is tripped. It does not check spacing.
// This is lock-free and safe to call from hot paths.
func (b *ExecutionBreaker) IsEnabled() (enabled bool) {
	return b.enabled.Load()
}

// Allow reports whether an execution may start now, and if not, why.
// A tripped breaker whose cooldown has elapsed re-enables here.
func (b *ExecutionBreaker) Allow() (ok bool, reason string) {
	now := b.now()

	if !b.enabled.Load() {
		b.mu.Lock()
		if now.Sub(b.trippedAt) < b.cooldown {
			b.mu.Unlock()
			return false, BlockCooldown
		}
		b.failures = 0
		b.mu.Unlock()

		b.enabled.Store(true)
		CircuitBreakerEnabled.Set(1)
		CircuitBreakerConsecutiveFailures.Set(0)
		CircuitBreakerStateChanges.Inc()
		b.logger.Info("circuit-breaker-enabled", zap.Duration("cooldown", b.cooldown))
	}

	b.mu.RLock()
	last := b.lastExecution
	b.mu.RUnlock()

	if b.executionCooldown > 0 && !last.IsZero() && now.Sub(last) < b.executionCooldown {
		return false, BlockSpacing
	}
	return true, ""
}

// RecordExecution marks the start of an execution for spacing.
func (b *ExecutionBreaker) RecordExecution() {
	b.mu.Lock()
	b.lastExecution = b.now()
	b.mu.Unlock()
}

// RecordSuccess clears the consecutive failure count.
func (b *ExecutionBreaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
	CircuitBreakerConsecutiveFailures.Set(0)
}

// RecordFailure counts a failed attempt and trips the breaker at the configured limit.
func (b *ExecutionBreaker) RecordFailure(reason string) {
	b.mu.Lock()
	b.failures++
	b.lastFailure = reason
	failures := b.failures
	trip := b.maxFailures > 0 && failures >= b.maxFailures && b.enabled.Load()
	if trip {
		b.trippedAt = b.now()
	}
	b.mu.Unlock()

	CircuitBreakerConsecutiveFailures.Set(float64(failures))
	b.logger.Warn("execution-failure-recorded",
		zap.String("reason", reason),
		zap.Int("consecutive-failures", failures),
		zap.Int("max-failures", b.maxFailures))

	if trip {
		b.enabled.Store(false)
		CircuitBreakerEnabled.Set(0)
		CircuitBreakerStateChanges.Inc()
		CircuitBreakerTripsTotal.Inc()

		b.logger.Warn("circuit-breaker-disabled",
			zap.Int("consecutive-failures", failures),
			zap.Duration("cooldown", b.cooldown))
	}
}

// OnRecord classifies terminal ledger records: a hedged attempt is a success,
// a one-legged attempt is a failure. Misses are neutral.
func (b *ExecutionBreaker) OnRecord(rec *ledger.Record) {
	if rec.Kind != ledger.KindTrade {
		return
	}
	switch rec.Outcome {
	case execution.OutcomeBothFilled:
		b.RecordSuccess()
	case execution.OutcomeRecovered, execution.OutcomeUnrecovered:
		b.RecordFailure(string(rec.Outcome))
	}
}

// GetStatus returns current circuit breaker status for debugging and HTTP endpoints.
func (b *ExecutionBreaker) GetStatus() (status Status) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status = Status{
		Enabled:             b.enabled.Load(),
		ConsecutiveFailures: b.failures,
		LastExecution:       b.lastExecution,
		LastFailure:         b.lastFailure,
	}
	if !status.Enabled {
		status.TrippedAt = b.trippedAt
		status.ResumesAt = b.trippedAt.Add(b.cooldown)
	}

	return status
}
