package ledger

import (
	"time"

	"github.com/mselser95/updown-arb/internal/execution"
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// Stats are the running performance aggregates over the whole log.
type Stats struct {
	Opportunities  int            `json:"opportunities"`
	TotalTrades    int            `json:"total_trades"`
	Missed         int            `json:"missed"`
	ResolvedTrades int            `json:"resolved_trades"`
	Wins           int            `json:"wins"`
	Losses         int            `json:"losses"`
	TotalInvested  float64        `json:"total_invested"`
	ExpectedPayout float64        `json:"expected_payout"`
	TotalProfit    float64        `json:"total_profit"`
	LargestLoss    float64        `json:"largest_loss"`
	OpenPositions  int            `json:"open_positions"`
	Outcomes       map[string]int `json:"outcomes"`
	LastRecordAt   time.Time      `json:"last_record_at"`
}

// WinRate is the percentage of resolved trades with positive P/L.
func (s Stats) WinRate() float64 {
	if s.ResolvedTrades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.ResolvedTrades) * 100
}

// AvgProfitPerTrade is total profit divided by trades executed.
func (s Stats) AvgProfitPerTrade() float64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return s.TotalProfit / float64(s.TotalTrades)
}

// AvgProfitPct is total profit as a percentage of capital invested.
func (s Stats) AvgProfitPct() float64 {
	if s.TotalInvested == 0 {
		return 0
	}
	return s.TotalProfit / s.TotalInvested * 100
}

// WindowSummary aggregates one settlement window.
type WindowSummary struct {
	WindowID              string           `json:"window_id"`
	OpportunitiesDetected int              `json:"opportunities_detected"`
	TradesExecuted        int              `json:"trades_executed"`
	Missed                int              `json:"missed"`
	TotalInvested         float64          `json:"total_invested"`
	TotalExpectedPayout   float64          `json:"total_expected_payout"`
	NetResult             float64          `json:"net_result"`
	OpenPositions         int              `json:"open_positions"`
	Outcomes              map[string]int   `json:"outcomes"`
	Settlement            types.Settlement `json:"settlement"`
	FirstRecordAt         time.Time        `json:"first_record_at"`
	LastRecordAt          time.Time        `json:"last_record_at"`
}

// accumulator holds decimal running sums so replay and incremental updates agree exactly.
type accumulator struct {
	invested decimal.Decimal
	payout   decimal.Decimal
	profit   decimal.Decimal
}

func (a *accumulator) add(invested, payout, profit float64) {
	a.invested = a.invested.Add(decimal.NewFromFloat(invested))
	a.payout = a.payout.Add(decimal.NewFromFloat(payout))
	a.profit = a.profit.Add(decimal.NewFromFloat(profit))
}

type windowAgg struct {
	summary WindowSummary
	sums    accumulator
}

func newWindowAgg(id string) *windowAgg {
	return &windowAgg{summary: WindowSummary{
		WindowID:   id,
		Outcomes:   map[string]int{},
		Settlement: types.SettlementUnresolved,
	}}
}

func (w *windowAgg) snapshot() WindowSummary {
	s := w.summary
	s.TotalInvested, _ = w.sums.invested.Float64()
	s.TotalExpectedPayout, _ = w.sums.payout.Float64()
	s.NetResult, _ = w.sums.profit.Float64()
	s.Outcomes = make(map[string]int, len(w.summary.Outcomes))
	for k, v := range w.summary.Outcomes {
		s.Outcomes[k] = v
	}
	return s
}

// unresolvedAttempt tracks P/L for an attempt whose position is still open.
type unresolvedAttempt struct {
	pnl      decimal.Decimal
	position execution.Position
}
