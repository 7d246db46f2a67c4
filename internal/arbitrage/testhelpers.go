package arbitrage

import (
	"time"

	"github.com/mselser95/updown-arb/pkg/types"
)

// CreateTestOpportunity builds the canonical 0.48/0.51 × 5 opportunity for tests in other packages.
func CreateTestOpportunity(windowID string) *Opportunity {
	now := time.Now()
	return &Opportunity{
		ID:             "test-opp-" + windowID,
		WindowID:       windowID,
		DetectedAt:     now,
		Up:             types.Quote{Side: types.SideUp, TokenID: "tok-up-" + windowID, Price: 0.48, Size: 100, BidPrice: 0.46, BidSize: 100, Timestamp: now},
		Down:           types.Quote{Side: types.SideDown, TokenID: "tok-down-" + windowID, Price: 0.51, Size: 100, BidPrice: 0.49, BidSize: 100, Timestamp: now},
		CombinedCost:   0.99,
		AdjustedCost:   0.99,
		Size:           5,
		UnitPayout:     1.0,
		ProfitPerUnit:  0.01,
		ExpectedProfit: 0.05,
		TotalCost:      4.95,
		NetProfit:      0.05,
		ProfitBPS:      100,
		Threshold:      0.995,
	}
}
