package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Market represents a Polymarket market from the Gamma API.
type Market struct {
	ID             string    `json:"id"`
	ConditionID    string    `json:"conditionId"`
	Question       string    `json:"question"`
	Slug           string    `json:"slug"`
	Closed         bool      `json:"closed"`
	Active         bool      `json:"active"`
	EventStartTime time.Time `json:"eventStartTime"`
	EndDate        time.Time `json:"endDate"`
	NegRisk        bool      `json:"negRisk"`
	TickSize       float64   `json:"orderPriceMinTickSize"`
	MinOrderSize   float64   `json:"orderMinSize"`
	Tokens         []Token   `json:"-"`             // Populated from outcomes + clobTokenIds + outcomePrices
	Outcomes       string    `json:"outcomes"`      // JSON string: "[\"Up\", \"Down\"]"
	ClobTokens     string    `json:"clobTokenIds"`  // JSON string: "[\"token1\", \"token2\"]"
	OutcomePrices  string    `json:"outcomePrices"` // JSON string: "[\"1\", \"0\"]"
}

// UnmarshalJSON custom unmarshaler to parse outcomes, clobTokenIds and outcomePrices into Tokens.
func (m *Market) UnmarshalJSON(data []byte) error {
	type Alias Market
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if m.Outcomes == "" || m.ClobTokens == "" {
		return nil
	}

	var outcomes, tokenIDs, prices []string
	if err := json.Unmarshal([]byte(m.Outcomes), &outcomes); err != nil {
		return fmt.Errorf("parse outcomes: %w", err)
	}
	if err := json.Unmarshal([]byte(m.ClobTokens), &tokenIDs); err != nil {
		return fmt.Errorf("parse clobTokenIds: %w", err)
	}
	if m.OutcomePrices != "" {
		// Prices are informational; a malformed list leaves them at zero.
		_ = json.Unmarshal([]byte(m.OutcomePrices), &prices)
	}

	m.Tokens = make([]Token, 0, len(outcomes))
	for i, outcome := range outcomes {
		if i >= len(tokenIDs) {
			break
		}
		tok := Token{TokenID: tokenIDs[i], Outcome: outcome}
		if i < len(prices) {
			tok.Price, _ = strconv.ParseFloat(prices[i], 64)
		}
		m.Tokens = append(m.Tokens, tok)
	}

	return nil
}

// Token represents a market outcome token (Up or Down).
type Token struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price,omitempty"`
}

// TokenBySide returns the token for a side. Outcome labels are matched case-insensitively
// and Yes/No are accepted as Up/Down.
func (m *Market) TokenBySide(side Side) *Token {
	for i := range m.Tokens {
		s, err := ParseSide(m.Tokens[i].Outcome)
		if err == nil && s == side {
			return &m.Tokens[i]
		}
	}
	return nil
}

// Settlement derives the resolved outcome from the final outcome prices.
// A closed market whose winning token trades at 1 is resolved.
func (m *Market) Settlement() Settlement {
	if !m.Closed {
		return SettlementUnresolved
	}
	up, down := m.TokenBySide(SideUp), m.TokenBySide(SideDown)
	if up == nil || down == nil {
		return SettlementUnresolved
	}
	switch {
	case up.Price >= 0.99 && down.Price <= 0.01:
		return SettlementUp
	case down.Price >= 0.99 && up.Price <= 0.01:
		return SettlementDown
	}
	return SettlementUnresolved
}

// ToWindow converts the market to a settlement window with the given window length.
func (m *Market) ToWindow(length time.Duration, unitPayout float64) (*Window, error) {
	up, down := m.TokenBySide(SideUp), m.TokenBySide(SideDown)
	if up == nil || down == nil {
		return nil, fmt.Errorf("market %s: missing up/down tokens", m.Slug)
	}

	closeTime := m.EndDate
	openTime := m.EventStartTime
	if openTime.IsZero() && !closeTime.IsZero() {
		openTime = closeTime.Add(-length)
	}

	return &Window{
		ID:           m.Slug,
		Slug:         m.Slug,
		Question:     m.Question,
		UpTokenID:    up.TokenID,
		DownTokenID:  down.TokenID,
		OpenTime:     openTime,
		CloseTime:    closeTime,
		Settlement:   m.Settlement(),
		UnitPayout:   unitPayout,
		TickSize:     m.TickSize,
		MinOrderSize: m.MinOrderSize,
		NegRisk:      m.NegRisk,
	}, nil
}
