package ledger

import (
	"time"

	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/pkg/types"
)

// Kind classifies a ledger record.
type Kind string

const (
	// KindAttemptOpen is journaled before any order of an attempt is submitted.
	KindAttemptOpen Kind = "attempt-open"
	// KindAttemptSubmitted is journaled once order IDs are known.
	KindAttemptSubmitted Kind = "attempt-submitted"
	// KindTrade is a terminal attempt that bought at least one leg.
	KindTrade Kind = "trade"
	// KindMissed is an opportunity that was not traded: denied, blocked or neither leg filled.
	KindMissed Kind = "missed"
	// KindSettlement values an open position (or the window itself) against the settlement outcome.
	KindSettlement Kind = "settlement"
	// KindPositionClose is a stale open position sold on a later tick.
	KindPositionClose Kind = "position-close"
)

// Terminal reports whether the kind closes an attempt's journal entry.
func (k Kind) Terminal() bool {
	return k == KindTrade || k == KindMissed
}

// Record is one immutable, append-only ledger entry.
type Record struct {
	Seq            int64                  `json:"seq"`
	ID             string                 `json:"id"`
	Kind           Kind                   `json:"kind"`
	Timestamp      time.Time              `json:"timestamp"`
	WindowID       string                 `json:"window_id"`
	AttemptID      string                 `json:"attempt_id,omitempty"`
	Opportunity    *arbitrage.Opportunity `json:"opportunity,omitempty"`
	Attempt        *execution.Attempt     `json:"attempt,omitempty"`
	Outcome        execution.Outcome      `json:"outcome,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	Invested       float64                `json:"invested"`
	ExpectedPayout float64                `json:"expected_payout"`
	RealizedPnL    float64                `json:"realized_pnl"`
	PnLResolved    bool                   `json:"pnl_resolved"`
	OpenPosition   *execution.Position    `json:"open_position,omitempty"`
	Settlement     types.Settlement       `json:"settlement,omitempty"`
	OrderIDs       []string               `json:"order_ids,omitempty"`
}

// Opp returns the opportunity snapshot, from the attempt when the record carries one.
func (r *Record) Opp() *arbitrage.Opportunity {
	if r.Opportunity != nil {
		return r.Opportunity
	}
	if r.Attempt != nil {
		return r.Attempt.Opportunity
	}
	return nil
}

// snapshot copies an attempt so later mutation by the coordinator does not leak into a record.
func snapshot(a *execution.Attempt) *execution.Attempt {
	if a == nil {
		return nil
	}
	c := *a
	if a.Recovery != nil {
		r := *a.Recovery
		c.Recovery = &r
	}
	if a.OpenPosition != nil {
		p := *a.OpenPosition
		c.OpenPosition = &p
	}
	return &c
}
