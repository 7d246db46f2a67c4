// Package ledger keeps the durable, append-only record of everything the engine
// traded or declined to trade, and the running statistics derived from it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrLogWrite is returned when a record could not be made durable.
// Callers must treat it as fatal: the engine may not trade without a ledger.
var ErrLogWrite = errors.New("ledger log write failed")

// Log is the durable backing store for records.
type Log interface {
	// Append durably writes rec. It returns only after the record survives a crash.
	Append(ctx context.Context, rec *Record) error
	// Replay calls fn for each record in append order.
	Replay(ctx context.Context, fn func(rec *Record) error) error
	Close() error
}

// Observer is notified of every record, during Open's replay and after each append.
type Observer interface {
	OnRecord(rec *Record)
}

// Config holds ledger configuration.
type Config struct {
	Log       Log
	Observers []Observer
	Logger    *zap.Logger
}

// Ledger appends records and maintains aggregates. A single writer appends; readers may be concurrent.
type Ledger struct {
	log       Log
	observers []Observer
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.RWMutex
	seq        int64
	sums       accumulator
	stats      Stats
	windows    map[string]*windowAgg
	pending    map[string]*execution.Attempt
	unresolved map[string]*unresolvedAttempt
}

// Open replays the log and returns a ledger whose aggregates reflect every record in it.
func Open(ctx context.Context, cfg *Config) (*Ledger, error) {
	if cfg.Log == nil {
		return nil, errors.New("ledger log is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{
		log:        cfg.Log,
		observers:  cfg.Observers,
		logger:     logger,
		now:        time.Now,
		stats:      Stats{Outcomes: map[string]int{}},
		windows:    make(map[string]*windowAgg),
		pending:    make(map[string]*execution.Attempt),
		unresolved: make(map[string]*unresolvedAttempt),
	}

	start := time.Now()
	count := 0
	err := cfg.Log.Replay(ctx, func(rec *Record) error {
		l.apply(rec)
		for _, o := range l.observers {
			o.OnRecord(rec)
		}
		count++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay ledger: %w", err)
	}
	ReplayDurationSeconds.Observe(time.Since(start).Seconds())
	l.publishGauges()

	logger.Info("ledger-replayed",
		zap.Int("records", count),
		zap.Int64("last-seq", l.seq),
		zap.Int("pending-attempts", len(l.pending)),
		zap.Int("open-positions", len(l.unresolved)),
		zap.Float64("total-profit", l.stats.TotalProfit))

	return l, nil
}

// AddObserver registers o for records appended from now on.
func (l *Ledger) AddObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Replay feeds every persisted record to o, for observers created after Open.
func (l *Ledger) Replay(ctx context.Context, o Observer) error {
	return l.log.Replay(ctx, func(rec *Record) error {
		o.OnRecord(rec)
		return nil
	})
}

// AttemptOpened journals an attempt before its orders are submitted.
func (l *Ledger) AttemptOpened(ctx context.Context, att *execution.Attempt) error {
	_, err := l.append(ctx, &Record{
		Kind:      KindAttemptOpen,
		WindowID:  att.WindowID,
		AttemptID: att.ID,
		Attempt:   snapshot(att),
	})
	return err
}

// AttemptSubmitted journals the order IDs of an in-flight attempt.
func (l *Ledger) AttemptSubmitted(ctx context.Context, att *execution.Attempt) error {
	_, err := l.append(ctx, &Record{
		Kind:      KindAttemptSubmitted,
		WindowID:  att.WindowID,
		AttemptID: att.ID,
		Attempt:   snapshot(att),
		OrderIDs:  att.OrderIDs(),
	})
	return err
}

// RecordAttempt writes the terminal record for an attempt. An attempt where
// neither leg filled is recorded as a missed opportunity.
func (l *Ledger) RecordAttempt(ctx context.Context, att *execution.Attempt) (*Record, error) {
	if !att.Terminal() {
		return nil, fmt.Errorf("record attempt %s: attempt has no outcome", att.ID)
	}

	rec := &Record{
		Kind:           KindTrade,
		WindowID:       att.WindowID,
		AttemptID:      att.ID,
		Attempt:        snapshot(att),
		Outcome:        att.Outcome,
		Invested:       att.Invested,
		ExpectedPayout: att.ExpectedPayout,
		RealizedPnL:    att.RealizedPnL,
		PnLResolved:    att.PnLResolved,
		OrderIDs:       att.OrderIDs(),
	}
	if att.OpenPosition != nil {
		p := *att.OpenPosition
		rec.OpenPosition = &p
	}
	if att.Outcome == execution.OutcomeNeitherFilled {
		rec.Kind = KindMissed
		rec.Reason = string(execution.OutcomeNeitherFilled)
		rec.PnLResolved = true
	}

	return l.append(ctx, rec)
}

// RecordMissed notes an opportunity that was detected but not traded.
func (l *Ledger) RecordMissed(ctx context.Context, opp *arbitrage.Opportunity, reason string) (*Record, error) {
	return l.append(ctx, &Record{
		Kind:        KindMissed,
		WindowID:    opp.WindowID,
		Opportunity: opp,
		Reason:      reason,
		PnLResolved: true,
	})
}

// RecordPositionClose records a (possibly partial) sale of an open position.
func (l *Ledger) RecordPositionClose(ctx context.Context, pc *execution.PositionClose) (*Record, error) {
	rec := &Record{
		Kind:        KindPositionClose,
		WindowID:    pc.Position.WindowID,
		AttemptID:   pc.Position.AttemptID,
		Reason:      string(pc.Leg.Status),
		RealizedPnL: pc.RealizedPnL,
		PnLResolved: pc.Remaining == nil,
	}
	if pc.Remaining != nil {
		p := *pc.Remaining
		rec.OpenPosition = &p
	}
	if pc.Leg.OrderID != "" {
		rec.OrderIDs = []string{pc.Leg.OrderID}
	}
	return l.append(ctx, rec)
}

// RecordSettlement writes the window's settlement and values every position
// still open in it against the winning side's payout.
func (l *Ledger) RecordSettlement(ctx context.Context, window *types.Window) ([]*Record, error) {
	if !window.Resolved() {
		return nil, fmt.Errorf("record settlement %s: window is unresolved", window.ID)
	}

	recs := make([]*Record, 0, 1)
	rec, err := l.append(ctx, &Record{
		Kind:        KindSettlement,
		WindowID:    window.ID,
		Settlement:  window.Settlement,
		PnLResolved: true,
	})
	if err != nil {
		return recs, err
	}
	recs = append(recs, rec)

	for _, pos := range l.OpenPositionsFor(window.ID) {
		payout := decimal.NewFromFloat(window.Payout(pos.Side)).Mul(decimal.NewFromFloat(pos.Size))
		pnl, _ := payout.Sub(decimal.NewFromFloat(pos.Cost)).Float64()

		rec, err = l.append(ctx, &Record{
			Kind:        KindSettlement,
			WindowID:    window.ID,
			AttemptID:   pos.AttemptID,
			Settlement:  window.Settlement,
			RealizedPnL: pnl,
			PnLResolved: true,
		})
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

func (l *Ledger) append(ctx context.Context, rec *Record) (*Record, error) {
	l.mu.Lock()
	rec.Seq = l.seq + 1
	rec.ID = uuid.New().String()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}

	start := time.Now()
	if err := l.log.Append(ctx, rec); err != nil {
		l.mu.Unlock()
		AppendErrorsTotal.Inc()
		l.logger.Error("ledger-append-failed",
			zap.String("kind", string(rec.Kind)),
			zap.String("window-id", rec.WindowID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrLogWrite, err)
	}
	AppendDurationSeconds.Observe(time.Since(start).Seconds())
	RecordsTotal.WithLabelValues(string(rec.Kind)).Inc()

	l.apply(rec)
	observers := l.observers
	l.mu.Unlock()

	l.publishGauges()
	for _, o := range observers {
		o.OnRecord(rec)
	}
	return rec, nil
}

// apply folds a record into the aggregates. It is the only place aggregates change,
// so replay reproduces exactly what incremental appends produced.
func (l *Ledger) apply(rec *Record) {
	if rec.Seq > l.seq {
		l.seq = rec.Seq
	}

	w := l.window(rec.WindowID)
	if w.summary.FirstRecordAt.IsZero() || rec.Timestamp.Before(w.summary.FirstRecordAt) {
		w.summary.FirstRecordAt = rec.Timestamp
	}
	if rec.Timestamp.After(w.summary.LastRecordAt) {
		w.summary.LastRecordAt = rec.Timestamp
	}
	if rec.Timestamp.After(l.stats.LastRecordAt) {
		l.stats.LastRecordAt = rec.Timestamp
	}

	switch rec.Kind {
	case KindAttemptOpen, KindAttemptSubmitted:
		if rec.Attempt != nil {
			l.pending[rec.AttemptID] = rec.Attempt
		}

	case KindTrade:
		delete(l.pending, rec.AttemptID)
		l.stats.Opportunities++
		l.stats.TotalTrades++
		l.stats.Outcomes[string(rec.Outcome)]++
		l.sums.add(rec.Invested, rec.ExpectedPayout, rec.RealizedPnL)

		w.summary.OpportunitiesDetected++
		w.summary.TradesExecuted++
		w.summary.Outcomes[string(rec.Outcome)]++
		w.sums.add(rec.Invested, rec.ExpectedPayout, rec.RealizedPnL)

		if rec.PnLResolved || rec.OpenPosition == nil {
			l.resolve(decimal.NewFromFloat(rec.RealizedPnL))
			break
		}
		l.unresolved[rec.AttemptID] = &unresolvedAttempt{
			pnl:      decimal.NewFromFloat(rec.RealizedPnL),
			position: *rec.OpenPosition,
		}
		w.summary.OpenPositions++

	case KindMissed:
		if rec.AttemptID != "" {
			delete(l.pending, rec.AttemptID)
		}
		l.stats.Opportunities++
		l.stats.Missed++
		w.summary.OpportunitiesDetected++
		w.summary.Missed++
		if rec.Outcome != "" {
			l.stats.Outcomes[string(rec.Outcome)]++
			w.summary.Outcomes[string(rec.Outcome)]++
		}

	case KindPositionClose:
		l.sums.add(0, 0, rec.RealizedPnL)
		w.sums.add(0, 0, rec.RealizedPnL)
		u, ok := l.unresolved[rec.AttemptID]
		if !ok {
			break
		}
		u.pnl = u.pnl.Add(decimal.NewFromFloat(rec.RealizedPnL))
		if rec.OpenPosition != nil {
			u.position = *rec.OpenPosition
			break
		}
		l.closeUnresolved(rec.AttemptID, u, w)

	case KindSettlement:
		if rec.AttemptID == "" {
			w.summary.Settlement = rec.Settlement
			break
		}
		l.sums.add(0, 0, rec.RealizedPnL)
		w.sums.add(0, 0, rec.RealizedPnL)
		if u, ok := l.unresolved[rec.AttemptID]; ok {
			u.pnl = u.pnl.Add(decimal.NewFromFloat(rec.RealizedPnL))
			l.closeUnresolved(rec.AttemptID, u, w)
		}
	}

	l.stats.OpenPositions = len(l.unresolved)
}

func (l *Ledger) closeUnresolved(id string, u *unresolvedAttempt, w *windowAgg) {
	delete(l.unresolved, id)
	if u.position.WindowID != w.summary.WindowID {
		w = l.window(u.position.WindowID)
	}
	if w.summary.OpenPositions > 0 {
		w.summary.OpenPositions--
	}
	l.resolve(u.pnl)
}

// resolve counts an attempt whose P/L is final.
func (l *Ledger) resolve(pnl decimal.Decimal) {
	l.stats.ResolvedTrades++
	switch {
	case pnl.IsPositive():
		l.stats.Wins++
	case pnl.IsNegative():
		l.stats.Losses++
		loss, _ := pnl.Neg().Float64()
		if loss > l.stats.LargestLoss {
			l.stats.LargestLoss = loss
		}
	}
}

func (l *Ledger) window(id string) *windowAgg {
	w, ok := l.windows[id]
	if !ok {
		w = newWindowAgg(id)
		l.windows[id] = w
	}
	return w
}

func (l *Ledger) publishGauges() {
	s := l.Stats()
	NetPnL.Set(s.TotalProfit)
	OpenPositionsGauge.Set(float64(s.OpenPositions))
	PendingAttemptsGauge.Set(float64(len(l.Pending())))
}

// Stats returns a copy of the running aggregates.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.stats
	s.TotalInvested, _ = l.sums.invested.Float64()
	s.ExpectedPayout, _ = l.sums.payout.Float64()
	s.TotalProfit, _ = l.sums.profit.Float64()
	s.Outcomes = make(map[string]int, len(l.stats.Outcomes))
	for k, v := range l.stats.Outcomes {
		s.Outcomes[k] = v
	}
	return s
}

// Summary returns the aggregates for one window.
func (l *Ledger) Summary(windowID string) (WindowSummary, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	w, ok := l.windows[windowID]
	if !ok {
		return WindowSummary{}, false
	}
	return w.snapshot(), true
}

// Windows returns every window summary ordered by first record time.
func (l *Ledger) Windows() []WindowSummary {
	l.mu.RLock()
	out := make([]WindowSummary, 0, len(l.windows))
	for _, w := range l.windows {
		out = append(out, w.snapshot())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstRecordAt.Equal(out[j].FirstRecordAt) {
			return out[i].WindowID < out[j].WindowID
		}
		return out[i].FirstRecordAt.Before(out[j].FirstRecordAt)
	})
	return out
}

// Pending returns the latest journaled snapshot of every attempt without a terminal record.
func (l *Ledger) Pending() []*execution.Attempt {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*execution.Attempt, 0, len(l.pending))
	for _, a := range l.pending {
		out = append(out, snapshot(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// OpenPositions returns every position not yet closed or settled.
func (l *Ledger) OpenPositions() []execution.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]execution.Position, 0, len(l.unresolved))
	for _, u := range l.unresolved {
		out = append(out, u.position)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// OpenPositionsFor returns the open positions held in one window.
func (l *Ledger) OpenPositionsFor(windowID string) []execution.Position {
	all := l.OpenPositions()
	out := all[:0]
	for _, p := range all {
		if p.WindowID == windowID {
			out = append(out, p)
		}
	}
	return out
}

// Close closes the underlying log.
func (l *Ledger) Close() error {
	return l.log.Close()
}
