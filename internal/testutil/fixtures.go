package testutil

import (
	"fmt"
	"time"

	"github.com/mselser95/updown-arb/pkg/types"
)

// CreateTestWindow creates a 15-minute window closing at closeTime.
func CreateTestWindow(id string, closeTime time.Time) *types.Window {
	return &types.Window{
		ID:           id,
		Slug:         id,
		Question:     "Bitcoin Up or Down - " + id,
		UpTokenID:    id + "-up",
		DownTokenID:  id + "-down",
		OpenTime:     closeTime.Add(-15 * time.Minute),
		CloseTime:    closeTime,
		Settlement:   types.SettlementUnresolved,
		UnitPayout:   1.0,
		TickSize:     0.01,
		MinOrderSize: 5,
	}
}

// CreateTestMarket creates a Gamma market for the window starting at start.
func CreateTestMarket(start time.Time) *types.Market {
	slug := fmt.Sprintf("btc-updown-15m-%d", start.Unix())
	return &types.Market{
		ID:             slug,
		Slug:           slug,
		Question:       "Bitcoin Up or Down",
		Active:         true,
		EventStartTime: start,
		EndDate:        start.Add(15 * time.Minute),
		TickSize:       0.01,
		MinOrderSize:   5,
		Outcomes:       `["Up", "Down"]`,
		ClobTokens:     `["` + slug + `-up", "` + slug + `-down"]`,
		OutcomePrices:  `["0.5", "0.5"]`,
		Tokens: []types.Token{
			{TokenID: slug + "-up", Outcome: "Up", Price: 0.5},
			{TokenID: slug + "-down", Outcome: "Down", Price: 0.5},
		},
	}
}

// CreateTestQuote creates a quote with the bid one tick under the ask.
func CreateTestQuote(side types.Side, ask, size float64) types.Quote {
	return types.Quote{
		Side:      side,
		Price:     ask,
		Size:      size,
		BidPrice:  ask - 0.02,
		BidSize:   size,
		Timestamp: time.Now(),
	}
}

// CreateTestBookMessage creates a "book" message for assetID.
func CreateTestBookMessage(assetID string, marketID string) *types.OrderbookMessage {
	return &types.OrderbookMessage{
		EventType: "book",
		Market:    marketID,
		AssetID:   assetID,
		Timestamp: time.Now().UnixMilli(),
		Bids: []types.PriceLevel{
			{Price: "0.46", Size: "50.0"},
			{Price: "0.47", Size: "100.0"},
		},
		Asks: []types.PriceLevel{
			{Price: "0.49", Size: "50.0"},
			{Price: "0.48", Size: "100.0"},
		},
	}
}
