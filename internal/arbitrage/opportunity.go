package arbitrage

import (
	"fmt"
	"time"

	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// Opportunity is a candidate two-leg purchase whose combined cost clears the threshold.
type Opportunity struct {
	ID             string      `json:"id"`
	WindowID       string      `json:"window_id"`
	DetectedAt     time.Time   `json:"detected_at"`
	Up             types.Quote `json:"up"`
	Down           types.Quote `json:"down"`
	CombinedCost   float64     `json:"combined_cost"`
	AdjustedCost   float64     `json:"adjusted_cost"` // combined cost including the configured buffer
	Size           float64     `json:"size"`
	UnitPayout     float64     `json:"unit_payout"`
	ProfitPerUnit  float64     `json:"profit_per_unit"`
	ExpectedProfit float64     `json:"expected_profit"`
	TotalCost      float64     `json:"total_cost"`
	TotalFees      float64     `json:"total_fees"`
	NetProfit      float64     `json:"net_profit"`
	ProfitBPS      int         `json:"profit_bps"`
	Threshold      float64     `json:"threshold"`
}

// Quote returns the quote the opportunity was built from for side.
func (o *Opportunity) Quote(side types.Side) types.Quote {
	if side == types.SideUp {
		return o.Up
	}
	return o.Down
}

// LegCost returns price × size for one leg.
func (o *Opportunity) LegCost(side types.Side) float64 {
	q := o.Quote(side)
	cost, _ := decimal.NewFromFloat(q.Price).Mul(decimal.NewFromFloat(o.Size)).Float64()
	return cost
}

// ExpectedPayout is what the pair pays at settlement.
func (o *Opportunity) ExpectedPayout() float64 {
	v, _ := decimal.NewFromFloat(o.UnitPayout).Mul(decimal.NewFromFloat(o.Size)).Float64()
	return v
}

// String returns a human-readable representation of the opportunity.
func (o *Opportunity) String() string {
	id := o.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf(
		"Opportunity[%s] Window=%s UP=%.4f DOWN=%.4f Sum=%.4f Profit=%dbps Size=%.2f Est=$%.4f",
		id,
		o.WindowID,
		o.Up.Price,
		o.Down.Price,
		o.CombinedCost,
		o.ProfitBPS,
		o.Size,
		o.ExpectedProfit,
	)
}
