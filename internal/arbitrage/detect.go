package arbitrage

import (
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/shopspring/decimal"
)

// Rejection reasons reported when a quote pair does not produce an opportunity.
const (
	RejectInvalidPrice      = "invalid_price"
	RejectInvalidSize       = "invalid_size"
	RejectAboveThreshold    = "price_above_threshold"
	RejectBelowMinSize      = "below_min_size"
	RejectNoProfit          = "no_profit"
	RejectNegativeAfterFees = "negative_profit_after_fees"
)

// Params are the inputs to Detect besides the two quotes.
type Params struct {
	// Threshold is the maximum combined cost, as a fraction of unit payout.
	Threshold float64
	// MaxSize caps the proposed trade size in units.
	MaxSize float64
	// MinOrderSize is the floor both sides must offer, independent of MaxSize.
	MinOrderSize float64
	// LotSize is the venue's minimum tradable unit; sizes round down to it.
	LotSize float64
	// UnitPayout is what the winning side pays per unit.
	UnitPayout float64
	// CostBuffer inflates the combined cost before the threshold check (0.004 = 0.4%).
	CostBuffer float64
	// TakerFee is charged on the notional of both legs.
	TakerFee float64
}

// Detect combines two quotes into an opportunity. It has no side effects:
// the returned opportunity has no ID and is stamped with the newer quote's timestamp.
// When no opportunity exists the rejection reason is returned instead.
func Detect(up, down types.Quote, p Params) (*Opportunity, string) {
	payout := p.UnitPayout
	if payout <= 0 {
		payout = 1.0
	}

	if !priceInRange(up.Price, payout) || !priceInRange(down.Price, payout) {
		return nil, RejectInvalidPrice
	}
	if up.Size <= 0 || down.Size <= 0 {
		return nil, RejectInvalidSize
	}

	dPayout := decimal.NewFromFloat(payout)
	combined := decimal.NewFromFloat(up.Price).Add(decimal.NewFromFloat(down.Price))
	adjusted := combined.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(p.CostBuffer)))

	if !adjusted.LessThan(decimal.NewFromFloat(p.Threshold).Mul(dPayout)) {
		return nil, RejectAboveThreshold
	}

	profitPerUnit := dPayout.Sub(adjusted)
	if !profitPerUnit.IsPositive() {
		return nil, RejectNoProfit
	}

	minSize := decimal.NewFromFloat(p.MinOrderSize)
	upSize := decimal.NewFromFloat(up.Size)
	downSize := decimal.NewFromFloat(down.Size)
	if upSize.LessThan(minSize) || downSize.LessThan(minSize) {
		return nil, RejectBelowMinSize
	}

	size := decimal.Min(upSize, downSize)
	if p.MaxSize > 0 {
		size = decimal.Min(size, decimal.NewFromFloat(p.MaxSize))
	}
	size = RoundDownToLot(size, p.LotSize)
	if !size.IsPositive() || size.LessThan(minSize) {
		return nil, RejectBelowMinSize
	}

	totalCost := combined.Mul(size)
	fees := totalCost.Mul(decimal.NewFromFloat(p.TakerFee))
	expected := profitPerUnit.Mul(size)
	net := expected.Sub(fees)
	if !net.IsPositive() {
		return nil, RejectNegativeAfterFees
	}

	detectedAt := up.Timestamp
	if down.Timestamp.After(detectedAt) {
		detectedAt = down.Timestamp
	}

	opp := &Opportunity{
		DetectedAt: detectedAt,
		Up:         up,
		Down:       down,
		UnitPayout: payout,
		Threshold:  p.Threshold,
		ProfitBPS:  int(profitPerUnit.Div(dPayout).Mul(decimal.NewFromInt(10000)).IntPart()),
	}
	opp.CombinedCost, _ = combined.Float64()
	opp.AdjustedCost, _ = adjusted.Float64()
	opp.Size, _ = size.Float64()
	opp.ProfitPerUnit, _ = profitPerUnit.Float64()
	opp.ExpectedProfit, _ = expected.Float64()
	opp.TotalCost, _ = totalCost.Float64()
	opp.TotalFees, _ = fees.Float64()
	opp.NetProfit, _ = net.Float64()

	return opp, ""
}

// RoundDownToLot truncates size to a whole number of lots. A non-positive lot leaves size unchanged.
func RoundDownToLot(size decimal.Decimal, lot float64) decimal.Decimal {
	if lot <= 0 {
		return size
	}
	l := decimal.NewFromFloat(lot)
	return size.Div(l).Floor().Mul(l)
}

func priceInRange(price, payout float64) bool {
	return price > 0 && price < payout
}
