package execution

import (
	"time"

	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/pkg/types"
)

// Outcome is the terminal classification of an execution attempt.
type Outcome string

const (
	OutcomeBothFilled    Outcome = "both-filled"
	OutcomeRecovered     Outcome = "one-leg-filled-recovered"
	OutcomeUnrecovered   Outcome = "one-leg-filled-unrecovered"
	OutcomeNeitherFilled Outcome = "neither-filled"
)

// Leg is one order of an attempt. It is owned by exactly one attempt.
type Leg struct {
	Side       types.Side        `json:"side"`
	Action     types.OrderAction `json:"action"`
	TokenID    string            `json:"token_id"`
	OrderID    string            `json:"order_id,omitempty"`
	Price      float64           `json:"price"`
	Size       float64           `json:"size"`
	Status     types.OrderStatus `json:"status"`
	FilledSize float64           `json:"filled_size"`
	FilledCost float64           `json:"filled_cost"`
	Error      string            `json:"error,omitempty"`
}

// AvgPrice returns the average fill price, or the requested price when nothing filled.
func (l *Leg) AvgPrice() float64 {
	if l.FilledSize <= 0 {
		return l.Price
	}
	return l.FilledCost / l.FilledSize
}

// Handle reconstructs the order handle for a submitted leg.
func (l *Leg) Handle(windowID string) *types.OrderHandle {
	if l.OrderID == "" {
		return nil
	}
	return &types.OrderHandle{
		ID:       l.OrderID,
		WindowID: windowID,
		Side:     l.Side,
		Action:   l.Action,
		Price:    l.Price,
		Size:     l.Size,
	}
}

// Position is unhedged exposure left behind by an unrecovered attempt.
type Position struct {
	WindowID  string     `json:"window_id"`
	AttemptID string     `json:"attempt_id"`
	Side      types.Side `json:"side"`
	TokenID   string     `json:"token_id"`
	Size      float64    `json:"size"`
	Cost      float64    `json:"cost"`
	OpenedAt  time.Time  `json:"opened_at"`
}

// Attempt pairs the two legs for one opportunity. Outcome is empty until the attempt is terminal.
type Attempt struct {
	ID             string                 `json:"id"`
	WindowID       string                 `json:"window_id"`
	Opportunity    *arbitrage.Opportunity `json:"opportunity"`
	Up             Leg                    `json:"up"`
	Down           Leg                    `json:"down"`
	Recovery       *Leg                   `json:"recovery,omitempty"`
	Outcome        Outcome                `json:"outcome,omitempty"`
	Invested       float64                `json:"invested"`
	ExpectedPayout float64                `json:"expected_payout"`
	RealizedPnL    float64                `json:"realized_pnl"`
	PnLResolved    bool                   `json:"pnl_resolved"`
	OpenPosition   *Position              `json:"open_position,omitempty"`
	Reconciled     bool                   `json:"reconciled,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    time.Time              `json:"completed_at,omitempty"`
}

// Leg returns a pointer to the buy leg for side.
func (a *Attempt) Leg(side types.Side) *Leg {
	if side == types.SideUp {
		return &a.Up
	}
	return &a.Down
}

// Terminal reports whether the attempt has an outcome.
func (a *Attempt) Terminal() bool {
	return a.Outcome != ""
}

// OrderIDs lists every order ID the attempt submitted.
func (a *Attempt) OrderIDs() []string {
	ids := make([]string, 0, 3)
	for _, l := range []*Leg{&a.Up, &a.Down, a.Recovery} {
		if l != nil && l.OrderID != "" {
			ids = append(ids, l.OrderID)
		}
	}
	return ids
}

// PositionClose is the result of flattening a stale open position.
type PositionClose struct {
	Position    Position  `json:"position"`
	Leg         Leg       `json:"leg"`
	SoldSize    float64   `json:"sold_size"`
	Proceeds    float64   `json:"proceeds"`
	RealizedPnL float64   `json:"realized_pnl"`
	Remaining   *Position `json:"remaining,omitempty"`
	ClosedAt    time.Time `json:"closed_at"`
}
