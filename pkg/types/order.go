package types

import "time"

// OrderAction is BUY or SELL.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// TimeInForce controls how long an order may rest on the book.
type TimeInForce string

const (
	// FOK fills completely and immediately or is cancelled.
	FOK TimeInForce = "FOK"
	// FAK fills what it can immediately and cancels the rest.
	FAK TimeInForce = "FAK"
	// GTC rests until cancelled.
	GTC TimeInForce = "GTC"
)

// ParseTimeInForce validates a configured time-in-force value.
func ParseTimeInForce(s string) (TimeInForce, bool) {
	switch TimeInForce(s) {
	case FOK, FAK, GTC:
		return TimeInForce(s), true
	}
	return "", false
}

// OrderRequest is one order to submit against a window.
type OrderRequest struct {
	WindowID    string
	TokenID     string
	Side        Side
	Action      OrderAction
	Price       float64
	Size        float64
	TimeInForce TimeInForce
	TickSize    float64
	NegRisk     bool
}

// OrderHandle identifies a submitted order.
type OrderHandle struct {
	ID          string
	WindowID    string
	Side        Side
	Action      OrderAction
	Price       float64
	Size        float64
	SubmittedAt time.Time

	// MatchedSize and MatchedCost carry the execution the venue reported
	// when the order matched on submission. Zero when unknown.
	MatchedSize float64
	MatchedCost float64
}

// OrderStatus is the lifecycle state of a submitted order.
type OrderStatus string

const (
	OrderSubmitted       OrderStatus = "submitted"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially-filled"
	OrderUnfilled        OrderStatus = "unfilled"
	OrderCancelled       OrderStatus = "cancelled"
)

// Terminal reports whether no further fills can happen.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderUnfilled || s == OrderCancelled
}

// OrderState is the exchange's authoritative view of an order.
type OrderState struct {
	Status     OrderStatus
	FilledSize float64
	AvgPrice   float64
}
