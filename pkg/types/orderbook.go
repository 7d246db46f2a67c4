package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// OrderbookMessage is one market-channel event from the Polymarket WebSocket.
// "book" events carry full Bids/Asks for AssetID; "price_change" events carry
// per-asset best bid/ask in PriceChanges.
type OrderbookMessage struct {
	EventType    string        `json:"event_type"` // "book", "price_change", "last_trade_price"
	AssetID      string        `json:"asset_id"`
	Market       string        `json:"market"`
	Timestamp    int64         `json:"-"` // Parsed from string via UnmarshalJSON
	Hash         string        `json:"hash,omitempty"`
	Bids         []PriceLevel  `json:"bids,omitempty"`
	Asks         []PriceLevel  `json:"asks,omitempty"`
	PriceChanges []PriceChange `json:"price_changes,omitempty"`
}

// UnmarshalJSON custom unmarshaler to handle string timestamp.
func (o *OrderbookMessage) UnmarshalJSON(data []byte) error {
	type Alias OrderbookMessage
	aux := &struct {
		TimestampStr string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(o),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	ts, err := parseTimestamp(aux.TimestampStr)
	if err != nil {
		return err
	}
	o.Timestamp = ts

	return nil
}

// PriceChange is one asset's top-of-book update within a price_change message.
type PriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price,omitempty"`
	Size    string `json:"size,omitempty"`
	Side    string `json:"side,omitempty"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

func parseTimestamp(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// PriceLevel represents a single price level in the orderbook.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderbookSnapshot represents the current top of book for a token.
type OrderbookSnapshot struct {
	MarketID     string
	TokenID      string
	BestBidPrice float64
	BestBidSize  float64
	BestAskPrice float64
	BestAskSize  float64
	LastUpdated  time.Time
}

// Quote converts the snapshot into a quote for side.
func (s *OrderbookSnapshot) Quote(side Side) Quote {
	return Quote{
		Side:      side,
		TokenID:   s.TokenID,
		Price:     s.BestAskPrice,
		Size:      s.BestAskSize,
		BidPrice:  s.BestBidPrice,
		BidSize:   s.BestBidSize,
		Timestamp: s.LastUpdated,
	}
}
