package execution

import (
	"context"
	"errors"
	"time"

	"github.com/mselser95/updown-arb/pkg/backoff"
	"github.com/mselser95/updown-arb/pkg/types"
	"go.uber.org/zap"
)

// OrderVenue is the subset of the exchange the coordinator needs.
type OrderVenue interface {
	TopOfBook(ctx context.Context, window *types.Window, side types.Side) (types.Quote, error)
	SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.OrderHandle, error)
	OrderState(ctx context.Context, handle *types.OrderHandle) (types.OrderState, error)
	CancelOrder(ctx context.Context, handle *types.OrderHandle) error
}

// FillTracker polls an order with exponential backoff until it is terminal or times out.
type FillTracker struct {
	venue  OrderVenue
	logger *zap.Logger
	poll   backoff.Config
}

// FillTrackerConfig holds configuration for fill polling.
type FillTrackerConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffMult    float64
}

// NewFillTracker creates a new FillTracker instance.
func NewFillTracker(venue OrderVenue, logger *zap.Logger, cfg *FillTrackerConfig) *FillTracker {
	return &FillTracker{
		venue:  venue,
		logger: logger,
		poll: backoff.Config{
			InitialDelay:      cfg.InitialBackoff,
			MaxDelay:          cfg.MaxBackoff,
			BackoffMultiplier: cfg.BackoffMult,
		},
	}
}

// Track waits for the order to reach a terminal state. When timeout expires first the
// residual is cancelled and the exchange is queried again, so the returned state is the
// venue's authoritative view rather than the last poll.
func (ft *FillTracker) Track(ctx context.Context, handle *types.OrderHandle, timeout time.Duration) (types.OrderState, error) {
	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	b := backoff.New(ft.poll)
	last := types.OrderState{Status: types.OrderSubmitted}
	attempt := 1

	for {
		state, err := ft.venue.OrderState(ctx, handle)
		if err != nil {
			ft.logger.Warn("order-query-failed-retrying",
				zap.String("order-id", handle.ID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			last = state
			if state.Status.Terminal() {
				FillLatencySeconds.WithLabelValues(string(state.Status)).Observe(time.Since(start).Seconds())
				ft.logger.Debug("order-terminal",
					zap.String("order-id", handle.ID),
					zap.String("status", string(state.Status)),
					zap.Float64("filled-size", state.FilledSize),
					zap.Duration("duration", time.Since(start)))
				return state, nil
			}
		}

		select {
		case <-deadline.C:
			ft.logger.Warn("fill-timeout-cancelling",
				zap.String("order-id", handle.ID),
				zap.Duration("timeout", timeout),
				zap.Int("attempts", attempt),
				zap.Float64("filled-size", last.FilledSize))
			return ft.cancelAndRequery(ctx, handle, last)

		case <-ctx.Done():
			return last, ctx.Err()

		case <-time.After(b.Next()):
			attempt++
		}
	}
}

func (ft *FillTracker) cancelAndRequery(ctx context.Context, handle *types.OrderHandle, last types.OrderState) (types.OrderState, error) {
	err := ft.venue.CancelOrder(ctx, handle)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		ft.logger.Warn("order-cancel-failed",
			zap.String("order-id", handle.ID),
			zap.Error(err))
	}

	var state types.OrderState
	cfg := ft.poll
	cfg.MaxAttempts = 3
	err = backoff.Retry(ctx, cfg, ft.logger, "order-requery", func(ctx context.Context) error {
		s, qErr := ft.venue.OrderState(ctx, handle)
		if qErr != nil {
			return qErr
		}
		state = s
		return nil
	})
	if err != nil {
		// Fall back to the last observed fill; anything unfilled is considered dead after cancel.
		ft.logger.Error("order-requery-failed",
			zap.String("order-id", handle.ID),
			zap.Error(err))
		state = last
	}

	if !state.Status.Terminal() {
		state.Status = types.OrderCancelled
	}
	FillTimeoutsTotal.Inc()

	return state, nil
}
