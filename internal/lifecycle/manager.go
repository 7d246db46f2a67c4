// Package lifecycle runs the scan loop: it discovers the active window, trades it
// until close, settles it and moves on to the next one.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mselser95/updown-arb/internal/alert"
	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/internal/exchange"
	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/mselser95/updown-arb/internal/risk"
	"github.com/mselser95/updown-arb/pkg/backoff"
	"github.com/mselser95/updown-arb/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the phase the manager is in.
type State string

const (
	StateDiscovering State = "discovering"
	StateActive      State = "active"
	StateClosing     State = "closing"
	StateSettled     State = "settled"
	StateWaiting     State = "waiting"
	StateHalted      State = "halted"
)

var allStates = []State{StateDiscovering, StateActive, StateClosing, StateSettled, StateWaiting, StateHalted}

// ErrHalted is returned once the manager has stopped trading after a fatal error.
var ErrHalted = errors.New("lifecycle halted")

var errUnresolved = errors.New("settlement unresolved")

// RiskGate approves or vetoes opportunities.
type RiskGate interface {
	Approve(ctx context.Context, opp *arbitrage.Opportunity) (risk.Decision, error)
}

// Breaker pauses executions after repeated failures.
type Breaker interface {
	Allow() (ok bool, reason string)
	RecordExecution()
}

// Executor places attempts and closes positions.
type Executor interface {
	Execute(ctx context.Context, window *types.Window, opp *arbitrage.Opportunity) (*execution.Attempt, error)
	ClosePosition(ctx context.Context, window *types.Window, pos execution.Position) (*execution.PositionClose, error)
	Reconcile(ctx context.Context, pending []*execution.Attempt) ([]*execution.Attempt, error)
}

// Config holds the manager's collaborators and timing.
type Config struct {
	Exchange exchange.Exchange
	Detector *arbitrage.Detector
	Gate     RiskGate
	Breaker  Breaker // optional
	Executor Executor
	Ledger   *ledger.Ledger
	Alerter  alert.Alerter // optional

	TickInterval time.Duration
	QuoteRetry   backoff.Config
	// SettlementRetry bounds the settlement lookups made at close. MaxAttempts is
	// the retry budget before the window is deferred.
	SettlementRetry      backoff.Config
	DiscoveryGracePeriod time.Duration
	// DiscoveryHaltAfter halts the manager after this long without a window. Zero never halts.
	DiscoveryHaltAfter time.Duration

	// OnWindow is called from the loop when a new window is adopted.
	OnWindow func(window *types.Window)
	// OnSummary is called from the loop with every emitted window summary.
	OnSummary func(summary ledger.WindowSummary)

	Logger *zap.Logger
}

// Status is a point-in-time view of the manager.
type Status struct {
	State              State     `json:"state"`
	WindowID           string    `json:"window_id,omitempty"`
	Slug               string    `json:"slug,omitempty"`
	UpTokenID          string    `json:"up_token_id,omitempty"`
	DownTokenID        string    `json:"down_token_id,omitempty"`
	CloseTime          time.Time `json:"close_time,omitempty"`
	PendingSettlements []string  `json:"pending_settlements,omitempty"`
	HaltReason         string    `json:"halt_reason,omitempty"`
}

// Manager owns the single control loop. Ticks never overlap.
type Manager struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	state   State
	window  *types.Window
	pending map[string]*types.Window
	haltErr error

	// loop goroutine only
	reconciled    bool
	lastClosed    string
	noWindowSince time.Time
	denials       map[string]struct{}

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a manager.
func New(cfg *Config) (*Manager, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config cannot be nil")
	case cfg.Exchange == nil:
		return nil, errors.New("exchange is required")
	case cfg.Detector == nil:
		return nil, errors.New("detector is required")
	case cfg.Gate == nil:
		return nil, errors.New("risk gate is required")
	case cfg.Executor == nil:
		return nil, errors.New("executor is required")
	case cfg.Ledger == nil:
		return nil, errors.New("ledger is required")
	}

	m := &Manager{
		config:  *cfg,
		logger:  cfg.Logger,
		now:     time.Now,
		pending: make(map[string]*types.Window),
		denials: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.config.TickInterval <= 0 {
		m.config.TickInterval = time.Second
	}
	m.setState(StateDiscovering)
	return m, nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns the current state, window and deferred settlements.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Status{State: m.state}
	if m.window != nil {
		s.WindowID = m.window.ID
		s.Slug = m.window.Slug
		s.UpTokenID = m.window.UpTokenID
		s.DownTokenID = m.window.DownTokenID
		s.CloseTime = m.window.CloseTime
	}
	for id := range m.pending {
		s.PendingSettlements = append(s.PendingSettlements, id)
	}
	sort.Strings(s.PendingSettlements)
	if m.haltErr != nil {
		s.HaltReason = m.haltErr.Error()
	}
	return s
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev == s {
		return
	}
	for _, st := range allStates {
		StateGauge.WithLabelValues(string(st)).Set(0)
	}
	StateGauge.WithLabelValues(string(s)).Set(1)
	m.logger.Debug("lifecycle-state-changed",
		zap.String("from", string(prev)),
		zap.String("to", string(s)))
}

// CurrentWindow returns the window being traded, discovering one if none is held.
// It returns types.ErrNoActiveMarket when the venue has no open window.
func (m *Manager) CurrentWindow(ctx context.Context) (*types.Window, error) {
	m.mu.RLock()
	w := m.window
	m.mu.RUnlock()
	if w != nil {
		return w, nil
	}
	return m.discover(ctx)
}

// Run ticks until ctx is cancelled, Stop is called or the manager halts.
// Cancellation is observed only between ticks; each tick runs detached from ctx so an
// attempt in flight is always carried to a terminal record.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("lifecycle already running")
	}
	defer close(m.done)

	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	m.logger.Info("lifecycle-started", zap.Duration("tick-interval", m.config.TickInterval))
	tickCtx := context.WithoutCancel(ctx)

	for {
		if m.stopRequested(ctx) {
			return m.finish(nil)
		}

		err := m.Tick(tickCtx)
		if errors.Is(err, ErrHalted) {
			return m.finish(err)
		}
		if err != nil {
			m.logger.Warn("tick-failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return m.finish(nil)
		case <-m.stopCh:
			return m.finish(nil)
		case <-ticker.C:
		}
	}
}

// Stop asks Run to return after the current tick and waits until it has.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.running.Load() {
		<-m.done
	}
}

func (m *Manager) stopRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *Manager) finish(err error) error {
	stats := m.config.Ledger.Stats()
	fields := []zap.Field{
		zap.String("state", string(m.State())),
		zap.Int("total-trades", stats.TotalTrades),
		zap.Float64("total-profit", stats.TotalProfit),
		zap.Int("open-positions", stats.OpenPositions),
		zap.Int("pending-settlements", len(m.Status().PendingSettlements)),
	}
	if err != nil {
		m.logger.Error("lifecycle-stopped", append(fields, zap.Error(err))...)
		return err
	}
	m.logger.Info("lifecycle-stopped", fields...)
	return nil
}

// Tick runs one scan cycle. A returned error abandons the cycle without mutating
// state; an error wrapping ErrHalted means the manager will not trade again.
func (m *Manager) Tick(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		TickDurationSeconds.Observe(time.Since(start).Seconds())
		TicksTotal.WithLabelValues(tickResult(err)).Inc()
	}()

	if m.State() == StateHalted {
		return m.haltError()
	}

	if !m.reconciled {
		if err = m.reconcile(ctx); err != nil {
			return err
		}
	}

	if err = m.settlePending(ctx); err != nil {
		return err
	}

	window, err := m.CurrentWindow(ctx)
	if errors.Is(err, types.ErrNoActiveMarket) {
		return nil
	}
	if err != nil {
		return err
	}

	if window.Closed(m.now()) {
		return m.CloseWindow(ctx)
	}

	if err = m.closeStalePositions(ctx, window); err != nil {
		return err
	}

	up, down, err := m.fetchQuotes(ctx, window)
	if err != nil {
		m.logger.Warn("tick-abandoned",
			zap.String("window-id", window.ID),
			zap.Error(err))
		return fmt.Errorf("fetch quotes: %w", err)
	}

	if err = m.trade(ctx, window, up, down); err != nil {
		return err
	}

	if window.Closed(m.now()) {
		return m.CloseWindow(ctx)
	}
	return nil
}

func tickResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrHalted):
		return "halted"
	default:
		return "abandoned"
	}
}

// fetchQuotes reads both sides concurrently. Either failing abandons the pair.
func (m *Manager) fetchQuotes(ctx context.Context, window *types.Window) (up, down types.Quote, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var qErr error
		up, qErr = m.quote(gctx, window, types.SideUp)
		return qErr
	})
	g.Go(func() error {
		var qErr error
		down, qErr = m.quote(gctx, window, types.SideDown)
		return qErr
	})
	err = g.Wait()
	return up, down, err
}

func (m *Manager) quote(ctx context.Context, window *types.Window, side types.Side) (types.Quote, error) {
	var q types.Quote
	err := backoff.Retry(ctx, m.config.QuoteRetry, m.logger, "top-of-book", func(ctx context.Context) error {
		var err error
		q, err = m.config.Exchange.TopOfBook(ctx, window, side)
		if errors.Is(err, types.ErrNoLiquidity) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return types.Quote{}, fmt.Errorf("quote %s: %w", side, err)
	}
	return q, nil
}

// trade runs detect, breaker, risk gate and execution for one quote pair.
func (m *Manager) trade(ctx context.Context, window *types.Window, up, down types.Quote) error {
	opp, ok := m.config.Detector.Detect(window, up, down)
	if !ok {
		return nil
	}

	if m.config.Breaker != nil {
		if allowed, reason := m.config.Breaker.Allow(); !allowed {
			return m.deny(ctx, opp, reason, "execution breaker")
		}
	}

	decision, err := m.config.Gate.Approve(ctx, opp)
	if err != nil {
		return fmt.Errorf("approve opportunity: %w", err)
	}
	if !decision.Approved {
		return m.deny(ctx, opp, string(decision.Reason), decision.Detail)
	}

	if m.config.Breaker != nil {
		m.config.Breaker.RecordExecution()
	}

	att, err := m.config.Executor.Execute(ctx, window, opp)
	switch {
	case errors.Is(err, execution.ErrAttemptInFlight):
		m.logger.Debug("execution-skipped",
			zap.String("opportunity-id", opp.ID),
			zap.String("reason", "attempt in flight"))
		return nil
	case errors.Is(err, ledger.ErrLogWrite):
		return m.halt(fmt.Errorf("execute opportunity: %w", err))
	case err != nil:
		return fmt.Errorf("execute opportunity: %w", err)
	}

	rec, err := m.config.Ledger.RecordAttempt(ctx, att)
	if err != nil {
		return m.halt(fmt.Errorf("record attempt %s: %w", att.ID, err))
	}

	m.logger.Info("trade-recorded",
		zap.Int64("seq", rec.Seq),
		zap.String("kind", string(rec.Kind)),
		zap.String("attempt-id", att.ID),
		zap.String("window-id", window.ID),
		zap.String("outcome", string(att.Outcome)),
		zap.Float64("invested", att.Invested),
		zap.Float64("realized-pnl", att.RealizedPnL),
		zap.Bool("pnl-resolved", att.PnLResolved))
	return nil
}

// deny records a detected opportunity that was not executed. The same reason at the
// same prices and size is recorded once per window.
func (m *Manager) deny(ctx context.Context, opp *arbitrage.Opportunity, reason, detail string) error {
	DenialsTotal.WithLabelValues(reason).Inc()

	key := fmt.Sprintf("%s|%.6f|%.6f|%.6f", reason, opp.Up.Price, opp.Down.Price, opp.Size)
	if _, seen := m.denials[key]; seen {
		return nil
	}
	m.denials[key] = struct{}{}

	m.logger.Info("opportunity-denied",
		zap.String("opportunity-id", opp.ID),
		zap.String("window-id", opp.WindowID),
		zap.String("reason", reason),
		zap.String("detail", detail),
		zap.Float64("combined-cost", opp.CombinedCost),
		zap.Float64("size", opp.Size),
		zap.Float64("total-cost", opp.TotalCost))

	if _, err := m.config.Ledger.RecordMissed(ctx, opp, reason); err != nil {
		return m.halt(fmt.Errorf("record missed opportunity: %w", err))
	}
	return nil
}

// closeStalePositions retries the sale of every open position in the current window.
func (m *Manager) closeStalePositions(ctx context.Context, window *types.Window) error {
	for _, pos := range m.config.Ledger.OpenPositionsFor(window.ID) {
		pc, err := m.config.Executor.ClosePosition(ctx, window, pos)
		if err != nil {
			PositionClosesTotal.WithLabelValues("error").Inc()
			m.logger.Warn("position-close-failed",
				zap.String("attempt-id", pos.AttemptID),
				zap.String("side", string(pos.Side)),
				zap.Error(err))
			continue
		}
		if pc.SoldSize <= 0 {
			PositionClosesTotal.WithLabelValues("unfilled").Inc()
			continue
		}

		if _, err := m.config.Ledger.RecordPositionClose(ctx, pc); err != nil {
			return m.halt(fmt.Errorf("record position close: %w", err))
		}

		result := "closed"
		if pc.Remaining != nil {
			result = "partial"
		}
		PositionClosesTotal.WithLabelValues(result).Inc()
		m.logger.Info("position-closed",
			zap.String("attempt-id", pos.AttemptID),
			zap.String("window-id", pos.WindowID),
			zap.String("side", string(pos.Side)),
			zap.Float64("sold", pc.SoldSize),
			zap.Float64("proceeds", pc.Proceeds),
			zap.Float64("realized-pnl", pc.RealizedPnL),
			zap.String("result", result))
	}
	return nil
}

// CloseWindow settles the current window, emits its summary and looks for the next
// one. A settlement still unknown after the configured retries is deferred and
// re-checked on later ticks.
func (m *Manager) CloseWindow(ctx context.Context) error {
	m.mu.RLock()
	window := m.window
	m.mu.RUnlock()
	if window == nil {
		return nil
	}

	m.setState(StateClosing)
	m.logger.Info("window-closing",
		zap.String("window-id", window.ID),
		zap.Time("close-time", window.CloseTime))

	settlement, err := m.fetchSettlement(ctx, window)
	if err != nil {
		m.mu.Lock()
		m.pending[window.ID] = window
		n := len(m.pending)
		m.mu.Unlock()
		PendingSettlements.Set(float64(n))

		m.logger.Warn("settlement-deferred",
			zap.String("window-id", window.ID),
			zap.Error(err))
	} else {
		window.Settlement = settlement
		if err := m.recordSettlement(ctx, window); err != nil {
			return err
		}
	}

	m.emitSummary(ctx, window.ID)

	m.mu.Lock()
	m.window = nil
	m.mu.Unlock()
	m.lastClosed = window.ID
	m.setState(StateSettled)

	if _, err := m.discover(ctx); err != nil && !errors.Is(err, types.ErrNoActiveMarket) {
		return err
	}
	return nil
}

func (m *Manager) fetchSettlement(ctx context.Context, window *types.Window) (types.Settlement, error) {
	var s types.Settlement
	err := backoff.Retry(ctx, m.config.SettlementRetry, m.logger, "fetch-settlement", func(ctx context.Context) error {
		var err error
		s, err = m.config.Exchange.Settlement(ctx, window)
		if err != nil {
			return err
		}
		if !resolved(s) {
			return errUnresolved
		}
		return nil
	})
	return s, err
}

func resolved(s types.Settlement) bool {
	_, ok := s.Winner()
	return ok
}

func (m *Manager) recordSettlement(ctx context.Context, window *types.Window) error {
	recs, err := m.config.Ledger.RecordSettlement(ctx, window)
	if err != nil {
		return m.halt(fmt.Errorf("record settlement %s: %w", window.ID, err))
	}
	m.logger.Info("window-settled",
		zap.String("window-id", window.ID),
		zap.String("settlement", string(window.Settlement)),
		zap.Int("records", len(recs)))
	return nil
}

// settlePending re-checks deferred settlements once each.
func (m *Manager) settlePending(ctx context.Context) error {
	m.mu.RLock()
	windows := make([]*types.Window, 0, len(m.pending))
	for _, w := range m.pending {
		windows = append(windows, w)
	}
	m.mu.RUnlock()
	sort.Slice(windows, func(i, j int) bool { return windows[i].CloseTime.Before(windows[j].CloseTime) })

	for _, w := range windows {
		s, err := m.config.Exchange.Settlement(ctx, w)
		if err != nil {
			m.logger.Debug("pending-settlement-check-failed",
				zap.String("window-id", w.ID),
				zap.Error(err))
			continue
		}
		if !resolved(s) {
			continue
		}

		w.Settlement = s
		if err := m.recordSettlement(ctx, w); err != nil {
			return err
		}

		m.mu.Lock()
		delete(m.pending, w.ID)
		n := len(m.pending)
		m.mu.Unlock()
		PendingSettlements.Set(float64(n))

		m.emitSummary(ctx, w.ID)
	}
	return nil
}

func (m *Manager) emitSummary(ctx context.Context, windowID string) {
	summary, ok := m.config.Ledger.Summary(windowID)
	if !ok {
		summary = ledger.WindowSummary{WindowID: windowID, Outcomes: map[string]int{}}
	}
	if summary.Settlement == "" {
		summary.Settlement = types.SettlementUnresolved
	}

	m.logger.Info("window-summary",
		zap.String("window-id", summary.WindowID),
		zap.String("settlement", string(summary.Settlement)),
		zap.Int("opportunities", summary.OpportunitiesDetected),
		zap.Int("trades", summary.TradesExecuted),
		zap.Int("missed", summary.Missed),
		zap.Float64("total-invested", summary.TotalInvested),
		zap.Float64("total-expected-payout", summary.TotalExpectedPayout),
		zap.Float64("net-result", summary.NetResult),
		zap.Int("open-positions", summary.OpenPositions))

	if m.config.Alerter != nil {
		if err := m.config.Alerter.Notify(ctx, alert.WindowSummary(summary)); err != nil {
			m.logger.Warn("summary-alert-failed", zap.Error(err))
		}
	}
	if m.config.OnSummary != nil {
		m.config.OnSummary(summary)
	}
}

// discover asks the venue for a new window. Not finding one is normal between
// windows; after the grace period the manager waits, and after DiscoveryHaltAfter it halts.
func (m *Manager) discover(ctx context.Context) (*types.Window, error) {
	now := m.now()
	w, err := m.config.Exchange.ActiveWindow(ctx)
	switch {
	case err == nil && w != nil && w.ID != m.lastClosed && !w.Closed(now):
		m.adopt(w)
		return w, nil
	case err != nil && !errors.Is(err, types.ErrNoActiveMarket):
		m.logger.Warn("window-discovery-failed", zap.Error(err))
	}

	if m.noWindowSince.IsZero() {
		m.noWindowSince = now
	}
	waited := now.Sub(m.noWindowSince)

	if m.config.DiscoveryHaltAfter > 0 && waited >= m.config.DiscoveryHaltAfter {
		return nil, m.halt(fmt.Errorf("no active window for %s", waited))
	}

	if waited >= m.config.DiscoveryGracePeriod {
		if m.State() != StateWaiting {
			m.logger.Warn("waiting-for-window",
				zap.Duration("waited", waited),
				zap.String("last-window-id", m.lastClosed))
		}
		m.setState(StateWaiting)
	} else {
		m.setState(StateDiscovering)
	}
	return nil, types.ErrNoActiveMarket
}

func (m *Manager) adopt(w *types.Window) {
	m.mu.Lock()
	m.window = w
	m.mu.Unlock()

	m.noWindowSince = time.Time{}
	m.denials = make(map[string]struct{})
	m.setState(StateActive)
	WindowsTotal.Inc()

	m.logger.Info("window-active",
		zap.String("window-id", w.ID),
		zap.String("question", w.Question),
		zap.Time("close-time", w.CloseTime),
		zap.Float64("min-order-size", w.MinOrderSize))

	if m.config.OnWindow != nil {
		m.config.OnWindow(w)
	}
}

// reconcile classifies attempts journaled before a restart. Trading waits until it succeeds.
func (m *Manager) reconcile(ctx context.Context) error {
	pending := m.config.Ledger.Pending()
	if len(pending) == 0 {
		m.reconciled = true
		return nil
	}

	m.logger.Warn("reconciling-pending-attempts", zap.Int("count", len(pending)))

	atts, err := m.config.Executor.Reconcile(ctx, pending)
	for _, att := range atts {
		if _, recErr := m.config.Ledger.RecordAttempt(ctx, att); recErr != nil {
			return m.halt(fmt.Errorf("record reconciled attempt %s: %w", att.ID, recErr))
		}
	}
	if err != nil {
		return fmt.Errorf("reconcile pending attempts: %w", err)
	}

	m.reconciled = true
	return nil
}

func (m *Manager) halt(cause error) error {
	m.mu.Lock()
	if m.haltErr == nil {
		m.haltErr = cause
	}
	m.mu.Unlock()
	m.setState(StateHalted)

	m.logger.Error("lifecycle-halted", zap.Error(cause))
	if m.config.Alerter != nil {
		a := alert.Alert{
			Level:  alert.LevelCritical,
			Title:  "Engine halted",
			Fields: map[string]string{"error": cause.Error()},
		}
		if err := m.config.Alerter.Notify(context.Background(), a); err != nil {
			m.logger.Warn("halt-alert-failed", zap.Error(err))
		}
	}
	return fmt.Errorf("%w: %w", ErrHalted, cause)
}

func (m *Manager) haltError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Errorf("%w: %w", ErrHalted, m.haltErr)
}
