package clob

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mselser95/updown-arb/pkg/types"
)

type bookResponse struct {
	types.BookResponse
	MinOrderSize float64 `json:"min_order_size,string"`
	TickSize     float64 `json:"tick_size,string"`
}

// TopOfBook prefers a fresh streamed snapshot and falls back to GET /book.
func (c *Client) TopOfBook(ctx context.Context, window *types.Window, side types.Side) (types.Quote, error) {
	tokenID := window.TokenID(side)

	if c.config.Books != nil {
		if snap, ok := c.config.Books.GetSnapshot(tokenID); ok && c.now().Sub(snap.LastUpdated) <= c.config.MaxBookAge {
			if snap.BestAskPrice > 0 && snap.BestAskSize > 0 {
				QuoteSourceTotal.WithLabelValues("stream").Inc()
				q := snap.Quote(side)
				q.TokenID = tokenID
				return q, nil
			}
		}
	}

	book, err := c.fetchBook(ctx, tokenID)
	if err != nil {
		return types.Quote{}, err
	}
	QuoteSourceTotal.WithLabelValues("rest").Inc()

	ask, askSize, okAsk := bestLevel(book.Asks, func(a, b float64) bool { return a < b })
	bid, bidSize, _ := bestLevel(book.Bids, func(a, b float64) bool { return a > b })
	if !okAsk {
		return types.Quote{}, fmt.Errorf("book %s: %w", tokenID, types.ErrNoLiquidity)
	}

	return types.Quote{
		Side:      side,
		TokenID:   tokenID,
		Price:     ask,
		Size:      askSize,
		BidPrice:  bid,
		BidSize:   bidSize,
		Timestamp: c.now(),
	}, nil
}

func (c *Client) fetchBook(ctx context.Context, tokenID string) (*bookResponse, error) {
	req, done, err := c.request(ctx, c.reads, "book")
	if err != nil {
		return nil, err
	}

	var book bookResponse
	resp, err := req.SetQueryParam("token_id", tokenID).SetResult(&book).Get("/book")
	done(resp, err)
	if err != nil {
		return nil, fmt.Errorf("fetch book %s: %w", tokenID, err)
	}
	if resp.IsError() {
		return nil, statusError("fetch book "+tokenID, resp)
	}
	return &book, nil
}

// bestLevel picks the best priced level; the API does not guarantee order.
func bestLevel(levels []types.PriceLevel, better func(a, b float64) bool) (price, size float64, ok bool) {
	for _, l := range levels {
		p, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		s, err := strconv.ParseFloat(l.Size, 64)
		if err != nil || s <= 0 {
			continue
		}
		if !ok || better(p, price) {
			price, size, ok = p, s, true
		}
	}
	return price, size, ok
}
