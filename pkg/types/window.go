package types

import (
	"fmt"
	"strings"
	"time"
)

// Side identifies one leg of the complementary pair.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// ParseSide accepts the venue's outcome labels ("Up", "Yes", ...) as well as UP/DOWN.
func ParseSide(label string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "UP", "YES":
		return SideUp, nil
	case "DOWN", "NO":
		return SideDown, nil
	}
	return "", fmt.Errorf("unknown side %q", label)
}

// Settlement is the resolved outcome of a window.
type Settlement string

const (
	SettlementUnresolved Settlement = "unresolved"
	SettlementUp         Settlement = "up"
	SettlementDown       Settlement = "down"
)

// Winner returns the winning side. ok is false while unresolved.
func (s Settlement) Winner() (side Side, ok bool) {
	switch s {
	case SettlementUp:
		return SideUp, true
	case SettlementDown:
		return SideDown, true
	}
	return "", false
}

// Window is one fixed-duration settlement period of the up/down market.
type Window struct {
	ID           string
	Slug         string
	Question     string
	UpTokenID    string
	DownTokenID  string
	OpenTime     time.Time
	CloseTime    time.Time
	Settlement   Settlement
	UnitPayout   float64
	TickSize     float64
	MinOrderSize float64
	NegRisk      bool
}

// TokenID returns the instrument identifier for a side.
func (w *Window) TokenID(side Side) string {
	if side == SideUp {
		return w.UpTokenID
	}
	return w.DownTokenID
}

// Closed reports whether the window has reached its close time.
func (w *Window) Closed(now time.Time) bool {
	return !now.Before(w.CloseTime)
}

// Resolved reports whether settlement is known.
func (w *Window) Resolved() bool {
	_, ok := w.Settlement.Winner()
	return ok
}

// Payout returns what one unit of side pays under the window's settlement.
// Unresolved windows pay nothing yet.
func (w *Window) Payout(side Side) float64 {
	winner, ok := w.Settlement.Winner()
	if !ok || winner != side {
		return 0
	}
	return w.UnitPayout
}
