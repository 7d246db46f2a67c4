package clob

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/updown-arb/pkg/types"
	"go.uber.org/zap"
)

const (
	defaultTickSize     = 0.01
	defaultMinOrderSize = 5.0
)

// Slug names the window starting at start, e.g. btc-updown-15m-1767225600.
func (c *Client) Slug(start time.Time) string {
	return fmt.Sprintf("%s-%d", c.config.SlugPrefix, start.Unix())
}

// ActiveWindow looks up the market for the window containing now.
func (c *Client) ActiveWindow(ctx context.Context) (*types.Window, error) {
	start := c.now().Truncate(c.config.WindowLength)
	slug := c.Slug(start)

	market, err := c.fetchMarket(ctx, slug)
	if err != nil {
		return nil, err
	}
	if market == nil || market.Closed {
		c.logger.Debug("window-not-listed", zap.String("slug", slug))
		return nil, types.ErrNoActiveMarket
	}

	window, err := market.ToWindow(c.config.WindowLength, c.config.UnitPayout)
	if err != nil {
		return nil, fmt.Errorf("convert market %s: %w", slug, err)
	}
	if window.OpenTime.IsZero() {
		window.OpenTime = start
	}
	if window.CloseTime.IsZero() {
		window.CloseTime = start.Add(c.config.WindowLength)
	}
	if !c.now().Before(window.CloseTime) {
		return nil, types.ErrNoActiveMarket
	}

	if window.TickSize <= 0 || window.MinOrderSize <= 0 {
		tick, minSize := c.tokenMetadata(ctx, window.UpTokenID)
		if window.TickSize <= 0 {
			window.TickSize = tick
		}
		if window.MinOrderSize <= 0 {
			window.MinOrderSize = minSize
		}
	}

	c.logger.Info("window-discovered",
		zap.String("window-id", window.ID),
		zap.String("question", window.Question),
		zap.Time("close-time", window.CloseTime),
		zap.Float64("tick-size", window.TickSize),
		zap.Float64("min-order-size", window.MinOrderSize))

	return window, nil
}

// Settlement reads the window outcome from Gamma's resolved outcome prices.
func (c *Client) Settlement(ctx context.Context, window *types.Window) (types.Settlement, error) {
	market, err := c.fetchMarket(ctx, window.Slug)
	if err != nil {
		return types.SettlementUnresolved, err
	}
	if market == nil {
		return types.SettlementUnresolved, fmt.Errorf("market %s: %w", window.Slug, types.ErrNotFound)
	}
	return market.Settlement(), nil
}

// fetchMarket returns nil without error when Gamma does not list the slug.
func (c *Client) fetchMarket(ctx context.Context, slug string) (*types.Market, error) {
	req, done, err := c.request(ctx, c.gamma, "gamma_markets")
	if err != nil {
		return nil, err
	}

	var markets []types.Market
	resp, err := req.
		SetQueryParam("slug", slug).
		SetResult(&markets).
		Get("/markets")
	done(resp, err)
	if err != nil {
		return nil, fmt.Errorf("fetch market %s: %w", slug, err)
	}
	if resp.IsError() {
		return nil, statusError("fetch market "+slug, resp)
	}

	for i := range markets {
		if markets[i].Slug == slug {
			return &markets[i], nil
		}
	}
	return nil, nil
}

type tokenMetadata struct {
	TickSize     float64
	MinOrderSize float64
}

// tokenMetadata returns tick size and minimum order size, cached per token.
// Lookup failures fall back to the venue defaults.
func (c *Client) tokenMetadata(ctx context.Context, tokenID string) (tickSize, minOrderSize float64) {
	key := "metadata:" + tokenID
	if c.config.Cache != nil {
		if cached, ok := c.config.Cache.Get(key); ok {
			if meta, ok := cached.(*tokenMetadata); ok {
				return meta.TickSize, meta.MinOrderSize
			}
		}
	}

	meta := &tokenMetadata{TickSize: defaultTickSize, MinOrderSize: defaultMinOrderSize}

	req, done, err := c.request(ctx, c.reads, "tick_size")
	if err == nil {
		var data struct {
			MinimumTickSize float64 `json:"minimum_tick_size"`
		}
		resp, reqErr := req.SetQueryParam("token_id", tokenID).SetResult(&data).Get("/tick-size")
		done(resp, reqErr)
		if reqErr == nil && !resp.IsError() && data.MinimumTickSize > 0 {
			meta.TickSize = data.MinimumTickSize
		} else {
			c.logger.Warn("tick-size-lookup-failed", zap.String("token-id", tokenID), zap.Error(reqErr))
		}
	}

	book, err := c.fetchBook(ctx, tokenID)
	if err == nil && book.MinOrderSize > 0 {
		meta.MinOrderSize = book.MinOrderSize
	}

	if c.config.Cache != nil {
		c.config.Cache.Set(key, meta, c.config.MetadataTTL)
	}
	return meta.TickSize, meta.MinOrderSize
}
