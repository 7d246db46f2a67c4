package types

import "time"

// Quote is the top of book for one side at one instant.
// Price and Size describe the best ask; BidPrice and BidSize are used when
// selling back a leg.
type Quote struct {
	Side      Side
	TokenID   string
	Price     float64
	Size      float64
	BidPrice  float64
	BidSize   float64
	Timestamp time.Time
}

// Valid reports whether the ask is tradable against a unit payout.
func (q Quote) Valid(unitPayout float64) bool {
	return q.Price > 0 && q.Price < unitPayout && q.Size > 0
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}
