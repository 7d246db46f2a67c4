package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/pkg/backoff"
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrAttemptInFlight is returned when an attempt is requested while another is still open.
var ErrAttemptInFlight = errors.New("execution attempt already in flight")

// Journal durably notes attempts before their outcome is known, so a restart can
// find orders that were submitted but never classified.
type Journal interface {
	AttemptOpened(ctx context.Context, attempt *Attempt) error
	AttemptSubmitted(ctx context.Context, attempt *Attempt) error
}

// Config holds coordinator configuration.
type Config struct {
	Mode                string
	TimeInForce         types.TimeInForce
	RecoveryTimeInForce types.TimeInForce
	FillTimeout         time.Duration
	RecoveryTimeout     time.Duration
	FillTolerance       float64
	SubmitRetry         backoff.Config
	QuoteRetry          backoff.Config
	Poll                FillTrackerConfig
	Logger              *zap.Logger
}

// Coordinator submits both legs of an opportunity and drives partial-fill recovery.
// At most one attempt (or position close) is open at any instant.
type Coordinator struct {
	venue    OrderVenue
	journal  Journal
	tracker  *FillTracker
	config   Config
	logger   *zap.Logger
	inFlight atomic.Bool
	now      func() time.Time
	newID    func() string
}

// New creates a coordinator. journal may be nil.
func New(cfg *Config, venue OrderVenue, journal Journal) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		venue:   venue,
		journal: journal,
		config:  *cfg,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
	}
	if c.config.TimeInForce == "" {
		c.config.TimeInForce = types.FOK
	}
	if c.config.RecoveryTimeInForce == "" {
		c.config.RecoveryTimeInForce = types.FAK
	}
	if c.config.FillTolerance <= 0 {
		c.config.FillTolerance = 0.001
	}
	c.tracker = NewFillTracker(venue, logger, &c.config.Poll)
	return c
}

// InFlight reports whether an attempt is currently open.
func (c *Coordinator) InFlight() bool {
	return c.inFlight.Load()
}

func (c *Coordinator) acquire() bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		return false
	}
	AttemptInFlight.Set(1)
	return true
}

func (c *Coordinator) release() {
	c.inFlight.Store(false)
	AttemptInFlight.Set(0)
}

// Execute runs one attempt to a terminal outcome. The returned error is reserved for
// conditions where no attempt was made (another in flight, journal unwritable); order
// failures are reported through the attempt's outcome.
func (c *Coordinator) Execute(ctx context.Context, window *types.Window, opp *arbitrage.Opportunity) (*Attempt, error) {
	if !c.acquire() {
		return nil, ErrAttemptInFlight
	}
	defer c.release()

	start := c.now()
	att := &Attempt{
		ID:          c.newID(),
		WindowID:    window.ID,
		Opportunity: opp,
		Up:          c.buyLeg(window, opp, types.SideUp),
		Down:        c.buyLeg(window, opp, types.SideDown),
		StartedAt:   start,
	}

	if c.journal != nil {
		if err := c.journal.AttemptOpened(ctx, att); err != nil {
			ExecutionErrorsTotal.WithLabelValues("journal").Inc()
			return nil, fmt.Errorf("journal attempt open: %w", err)
		}
	}

	c.logger.Info("execution-attempt-started",
		zap.String("attempt-id", att.ID),
		zap.String("opportunity-id", opp.ID),
		zap.String("window-id", window.ID),
		zap.Float64("up-price", att.Up.Price),
		zap.Float64("down-price", att.Down.Price),
		zap.Float64("size", opp.Size),
		zap.String("time-in-force", string(c.config.TimeInForce)))

	handles := c.submitLegs(ctx, window, att)
	c.journalSubmitted(ctx, att)
	c.trackLegs(ctx, att, handles)
	c.settle(ctx, window, att)

	att.CompletedAt = c.now()
	ExecutionDurationSeconds.Observe(att.CompletedAt.Sub(start).Seconds())
	AttemptsTotal.WithLabelValues(c.config.Mode, string(att.Outcome)).Inc()
	if att.PnLResolved {
		RealizedPnL.Observe(att.RealizedPnL)
	}

	fields := []zap.Field{
		zap.String("attempt-id", att.ID),
		zap.String("window-id", window.ID),
		zap.String("outcome", string(att.Outcome)),
		zap.String("up-status", string(att.Up.Status)),
		zap.String("down-status", string(att.Down.Status)),
		zap.Float64("invested", att.Invested),
		zap.Float64("realized-pnl", att.RealizedPnL),
		zap.Bool("pnl-resolved", att.PnLResolved),
		zap.Duration("duration", att.CompletedAt.Sub(start)),
	}
	if att.Outcome == OutcomeUnrecovered {
		c.logger.Error("execution-attempt-left-open-position", fields...)
	} else {
		c.logger.Info("execution-attempt-completed", fields...)
	}

	return att, nil
}

func (c *Coordinator) buyLeg(window *types.Window, opp *arbitrage.Opportunity, side types.Side) Leg {
	q := opp.Quote(side)
	return Leg{
		Side:    side,
		Action:  types.ActionBuy,
		TokenID: window.TokenID(side),
		Price:   q.Price,
		Size:    opp.Size,
		Status:  types.OrderSubmitted,
	}
}

// submitLegs issues both buy orders concurrently and joins on both.
func (c *Coordinator) submitLegs(ctx context.Context, window *types.Window, att *Attempt) [2]*types.OrderHandle {
	var (
		handles [2]*types.OrderHandle
		wg      sync.WaitGroup
	)
	for i, leg := range []*Leg{&att.Up, &att.Down} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i] = c.submit(ctx, window, leg, c.config.TimeInForce)
		}()
	}
	wg.Wait()
	return handles
}

// submit places one order with bounded retries. Venue rejections are not retried.
// On failure the leg is marked unfilled and nil is returned.
func (c *Coordinator) submit(ctx context.Context, window *types.Window, leg *Leg, tif types.TimeInForce) *types.OrderHandle {
	req := types.OrderRequest{
		WindowID:    window.ID,
		TokenID:     leg.TokenID,
		Side:        leg.Side,
		Action:      leg.Action,
		Price:       leg.Price,
		Size:        leg.Size,
		TimeInForce: tif,
		TickSize:    window.TickSize,
		NegRisk:     window.NegRisk,
	}

	var handle *types.OrderHandle
	err := backoff.Retry(ctx, c.config.SubmitRetry, c.logger, "submit-order", func(ctx context.Context) error {
		h, sErr := c.venue.SubmitOrder(ctx, req)
		if sErr != nil {
			var orderErr *types.OrderError
			if errors.As(sErr, &orderErr) {
				return backoff.Permanent(sErr)
			}
			return sErr
		}
		handle = h
		return nil
	})
	if err != nil {
		leg.Status = types.OrderUnfilled
		leg.Error = err.Error()
		ExecutionErrorsTotal.WithLabelValues("submit").Inc()
		LegsTotal.WithLabelValues(string(leg.Side), string(leg.Action), string(leg.Status)).Inc()
		c.logger.Warn("order-submission-failed",
			zap.String("window-id", window.ID),
			zap.String("side", string(leg.Side)),
			zap.String("action", string(leg.Action)),
			zap.Float64("price", leg.Price),
			zap.Float64("size", leg.Size),
			zap.Error(err))
		return nil
	}

	leg.OrderID = handle.ID
	leg.Status = types.OrderSubmitted
	c.logger.Debug("order-submitted",
		zap.String("order-id", handle.ID),
		zap.String("side", string(leg.Side)),
		zap.String("action", string(leg.Action)),
		zap.Float64("price", leg.Price),
		zap.Float64("size", leg.Size))
	return handle
}

func (c *Coordinator) journalSubmitted(ctx context.Context, att *Attempt) {
	if c.journal == nil {
		return
	}
	if err := c.journal.AttemptSubmitted(ctx, att); err != nil {
		ExecutionErrorsTotal.WithLabelValues("journal").Inc()
		c.logger.Error("journal-attempt-submitted-failed",
			zap.String("attempt-id", att.ID),
			zap.Error(err))
	}
}

// trackLegs waits concurrently for both legs to be terminal or timed out.
func (c *Coordinator) trackLegs(ctx context.Context, att *Attempt, handles [2]*types.OrderHandle) {
	var wg sync.WaitGroup
	for i, leg := range []*Leg{&att.Up, &att.Down} {
		if handles[i] == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := c.tracker.Track(ctx, handles[i], c.config.FillTimeout)
			if err != nil {
				c.logger.Warn("fill-tracking-interrupted",
					zap.String("order-id", handles[i].ID),
					zap.Error(err))
			}
			c.applyState(leg, state)
			LegsTotal.WithLabelValues(string(leg.Side), string(leg.Action), string(leg.Status)).Inc()
		}()
	}
	wg.Wait()
}

func (c *Coordinator) applyState(leg *Leg, state types.OrderState) {
	price := state.AvgPrice
	if price <= 0 {
		price = leg.Price
	}
	leg.FilledSize = state.FilledSize
	leg.FilledCost = toFloat(dec(state.FilledSize).Mul(dec(price)))

	tol := c.config.FillTolerance
	switch {
	case leg.FilledSize >= leg.Size-tol:
		leg.Status = types.OrderFilled
	case leg.FilledSize > tol:
		leg.Status = types.OrderPartiallyFilled
	case state.Status == types.OrderCancelled:
		leg.Status = types.OrderCancelled
	default:
		leg.Status = types.OrderUnfilled
	}
}

// settle classifies the filled legs. Quantity bought on one side beyond what the other side
// matched is unhedged: when window is non-nil it is sold back at the current bid.
func (c *Coordinator) settle(ctx context.Context, window *types.Window, att *Attempt) {
	tol := dec(c.config.FillTolerance)
	payout := dec(unitPayout(att, window))

	upQty, downQty := dec(att.Up.FilledSize), dec(att.Down.FilledSize)
	matched := decimal.Min(upQty, downQty)
	pairedCost := matched.Mul(legAvg(&att.Up).Add(legAvg(&att.Down)))
	pnl := payout.Mul(matched).Sub(pairedCost)

	att.Invested = toFloat(dec(att.Up.FilledCost).Add(dec(att.Down.FilledCost)))
	att.ExpectedPayout = toFloat(payout.Mul(matched))

	excess := upQty.Sub(downQty).Abs()
	if excess.LessThanOrEqual(tol) {
		att.PnLResolved = true
		if matched.LessThanOrEqual(tol) {
			att.Outcome = OutcomeNeitherFilled
			att.RealizedPnL = 0
			return
		}
		att.Outcome = OutcomeBothFilled
		att.RealizedPnL = toFloat(pnl)
		return
	}

	excessLeg := &att.Up
	if downQty.GreaterThan(upQty) {
		excessLeg = &att.Down
	}
	unitCost := legAvg(excessLeg)

	sold, proceeds := decimal.Zero, decimal.Zero
	if window != nil {
		c.cancelResidual(ctx, window.ID, att)
		c.logger.Warn("partial-fill-recovery-started",
			zap.String("attempt-id", att.ID),
			zap.String("filled-side", string(excessLeg.Side)),
			zap.String("unhedged-size", excess.String()),
			zap.String("unit-cost", unitCost.String()))

		rec := c.recoverySell(ctx, window, excessLeg.Side, toFloat(excess), func(leg *Leg) {
			att.Recovery = leg
			c.journalSubmitted(ctx, att)
		})
		att.Recovery = rec
		sold, proceeds = dec(rec.FilledSize), dec(rec.FilledCost)
	}

	pnl = pnl.Add(proceeds).Sub(sold.Mul(unitCost))
	att.RealizedPnL = toFloat(pnl)

	remaining := excess.Sub(sold)
	if remaining.LessThanOrEqual(tol) {
		att.Outcome = OutcomeRecovered
		att.PnLResolved = true
		RecoveriesTotal.WithLabelValues("filled").Inc()
		return
	}

	att.Outcome = OutcomeUnrecovered
	att.PnLResolved = false
	att.OpenPosition = &Position{
		WindowID:  att.WindowID,
		AttemptID: att.ID,
		Side:      excessLeg.Side,
		TokenID:   excessLeg.TokenID,
		Size:      toFloat(remaining),
		Cost:      toFloat(remaining.Mul(unitCost)),
		OpenedAt:  c.now(),
	}
	RecoveriesTotal.WithLabelValues("unfilled").Inc()
}

// cancelResidual cancels whatever is still resting from partially filled buy legs.
func (c *Coordinator) cancelResidual(ctx context.Context, windowID string, att *Attempt) {
	for _, leg := range []*Leg{&att.Up, &att.Down} {
		if leg.Status != types.OrderPartiallyFilled {
			continue
		}
		h := leg.Handle(windowID)
		if h == nil {
			continue
		}
		if err := c.venue.CancelOrder(ctx, h); err != nil && !errors.Is(err, types.ErrNotFound) {
			c.logger.Warn("residual-cancel-failed",
				zap.String("order-id", h.ID),
				zap.Error(err))
		}
	}
}

// recoverySell sells size of side at the current best bid and waits up to the recovery timeout.
// onSubmitted runs after the order is accepted and before tracking starts.
func (c *Coordinator) recoverySell(
	ctx context.Context,
	window *types.Window,
	side types.Side,
	size float64,
	onSubmitted func(*Leg),
) *Leg {
	leg := &Leg{
		Side:    side,
		Action:  types.ActionSell,
		TokenID: window.TokenID(side),
		Size:    size,
		Status:  types.OrderUnfilled,
	}

	var quote types.Quote
	err := backoff.Retry(ctx, c.config.QuoteRetry, c.logger, "recovery-quote", func(ctx context.Context) error {
		q, qErr := c.venue.TopOfBook(ctx, window, side)
		if qErr != nil {
			return qErr
		}
		quote = q
		return nil
	})
	if err != nil {
		leg.Error = err.Error()
		c.logger.Error("recovery-quote-failed",
			zap.String("window-id", window.ID),
			zap.String("side", string(side)),
			zap.Error(err))
		return leg
	}
	if quote.BidPrice <= 0 {
		leg.Error = types.ErrNoLiquidity.Error()
		c.logger.Error("recovery-no-bid",
			zap.String("window-id", window.ID),
			zap.String("side", string(side)))
		return leg
	}
	leg.Price = quote.BidPrice

	handle := c.submit(ctx, window, leg, c.config.RecoveryTimeInForce)
	if handle == nil {
		return leg
	}
	if onSubmitted != nil {
		onSubmitted(leg)
	}

	state, err := c.tracker.Track(ctx, handle, c.config.RecoveryTimeout)
	if err != nil {
		c.logger.Warn("recovery-tracking-interrupted",
			zap.String("order-id", handle.ID),
			zap.Error(err))
	}
	c.applyState(leg, state)
	LegsTotal.WithLabelValues(string(leg.Side), string(leg.Action), string(leg.Status)).Inc()

	c.logger.Info("recovery-sell-finished",
		zap.String("order-id", handle.ID),
		zap.String("side", string(side)),
		zap.Float64("bid", leg.Price),
		zap.Float64("size", size),
		zap.Float64("sold", leg.FilledSize),
		zap.Float64("proceeds", leg.FilledCost),
		zap.String("status", string(leg.Status)))

	return leg
}

// ClosePosition tries to flatten a stale open position at the current bid.
func (c *Coordinator) ClosePosition(ctx context.Context, window *types.Window, pos Position) (*PositionClose, error) {
	if !c.acquire() {
		return nil, ErrAttemptInFlight
	}
	defer c.release()

	leg := c.recoverySell(ctx, window, pos.Side, pos.Size, nil)

	sold, proceeds := dec(leg.FilledSize), dec(leg.FilledCost)
	unitCost := decimal.Zero
	if pos.Size > 0 {
		unitCost = dec(pos.Cost).Div(dec(pos.Size))
	}
	soldCost := sold.Mul(unitCost)

	pc := &PositionClose{
		Position:    pos,
		Leg:         *leg,
		SoldSize:    leg.FilledSize,
		Proceeds:    leg.FilledCost,
		RealizedPnL: toFloat(proceeds.Sub(soldCost)),
		ClosedAt:    c.now(),
	}

	remaining := dec(pos.Size).Sub(sold)
	if remaining.GreaterThan(dec(c.config.FillTolerance)) {
		rest := pos
		rest.Size = toFloat(remaining)
		rest.Cost = toFloat(dec(pos.Cost).Sub(soldCost))
		pc.Remaining = &rest
	}

	return pc, nil
}

// Reconcile classifies attempts that were journaled but never reached a terminal record,
// using the exchange's order state as the source of truth. No recovery sells are placed;
// unmatched fills become open positions for the regular stale-position handling.
func (c *Coordinator) Reconcile(ctx context.Context, pending []*Attempt) ([]*Attempt, error) {
	if !c.acquire() {
		return nil, ErrAttemptInFlight
	}
	defer c.release()

	out := make([]*Attempt, 0, len(pending))
	for _, att := range pending {
		for _, leg := range []*Leg{&att.Up, &att.Down} {
			if err := c.reconcileLeg(ctx, att.WindowID, leg); err != nil {
				return out, fmt.Errorf("reconcile attempt %s: %w", att.ID, err)
			}
		}

		var soldBack *Leg
		if att.Recovery != nil {
			if err := c.reconcileLeg(ctx, att.WindowID, att.Recovery); err != nil {
				return out, fmt.Errorf("reconcile attempt %s recovery: %w", att.ID, err)
			}
			soldBack = att.Recovery
		}

		c.settle(ctx, nil, att)
		if soldBack != nil && soldBack.FilledSize > 0 {
			c.applyRecoveredSale(att, soldBack)
		}

		att.Reconciled = true
		att.CompletedAt = c.now()
		AttemptsTotal.WithLabelValues(c.config.Mode, string(att.Outcome)).Inc()

		c.logger.Warn("execution-attempt-reconciled",
			zap.String("attempt-id", att.ID),
			zap.String("window-id", att.WindowID),
			zap.String("outcome", string(att.Outcome)),
			zap.Float64("up-filled", att.Up.FilledSize),
			zap.Float64("down-filled", att.Down.FilledSize),
			zap.Float64("realized-pnl", att.RealizedPnL))

		out = append(out, att)
	}

	return out, nil
}

func (c *Coordinator) reconcileLeg(ctx context.Context, windowID string, leg *Leg) error {
	h := leg.Handle(windowID)
	if h == nil {
		leg.Status = types.OrderUnfilled
		if leg.Error == "" {
			leg.Error = "no order handle journaled"
		}
		c.logger.Warn("reconcile-leg-without-order",
			zap.String("window-id", windowID),
			zap.String("side", string(leg.Side)),
			zap.String("action", string(leg.Action)))
		return nil
	}

	var state types.OrderState
	err := backoff.Retry(ctx, c.config.QuoteRetry, c.logger, "reconcile-order", func(ctx context.Context) error {
		s, qErr := c.venue.OrderState(ctx, h)
		if errors.Is(qErr, types.ErrNotFound) {
			return backoff.Permanent(qErr)
		}
		if qErr != nil {
			return qErr
		}
		state = s
		return nil
	})
	switch {
	case errors.Is(err, types.ErrNotFound):
		state = types.OrderState{Status: types.OrderUnfilled}
	case err != nil:
		return err
	case !state.Status.Terminal():
		state, _ = c.tracker.cancelAndRequery(ctx, h, state)
	}

	c.applyState(leg, state)
	return nil
}

// applyRecoveredSale folds a recovery sell found during reconciliation into the attempt.
func (c *Coordinator) applyRecoveredSale(att *Attempt, sale *Leg) {
	if att.OpenPosition == nil {
		return
	}
	pos := att.OpenPosition
	unitCost := dec(pos.Cost).Div(dec(pos.Size))
	sold := decimal.Min(dec(sale.FilledSize), dec(pos.Size))
	pnl := dec(att.RealizedPnL).Add(dec(sale.FilledCost)).Sub(sold.Mul(unitCost))
	att.RealizedPnL = toFloat(pnl)

	remaining := dec(pos.Size).Sub(sold)
	if remaining.LessThanOrEqual(dec(c.config.FillTolerance)) {
		att.Outcome = OutcomeRecovered
		att.PnLResolved = true
		att.OpenPosition = nil
		return
	}
	pos.Size = toFloat(remaining)
	pos.Cost = toFloat(remaining.Mul(unitCost))
}

func unitPayout(att *Attempt, window *types.Window) float64 {
	if att.Opportunity != nil && att.Opportunity.UnitPayout > 0 {
		return att.Opportunity.UnitPayout
	}
	if window != nil && window.UnitPayout > 0 {
		return window.UnitPayout
	}
	return 1.0
}

func legAvg(l *Leg) decimal.Decimal {
	if l.FilledSize <= 0 {
		return decimal.Zero
	}
	return dec(l.FilledCost).Div(dec(l.FilledSize))
}

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
