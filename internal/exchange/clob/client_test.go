package clob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	json "github.com/goccy/go-json"
	"github.com/mselser95/updown-arb/pkg/cache"
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/mselser95/updown-arb/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSlug = "btc-updown-15m-1767225600"

var windowStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const gammaMarket = `[{
	"id": "1",
	"slug": "btc-updown-15m-1767225600",
	"question": "Bitcoin Up or Down - January 1, 12:00AM-12:15AM ET",
	"closed": false,
	"active": true,
	"eventStartTime": "2026-01-01T00:00:00Z",
	"endDate": "2026-01-01T00:15:00Z",
	"orderPriceMinTickSize": 0.01,
	"orderMinSize": 5,
	"outcomes": "[\"Up\", \"Down\"]",
	"clobTokenIds": "[\"111\", \"222\"]",
	"outcomePrices": "[\"0.5\", \"0.5\"]"
}]`

type fixture struct {
	client *Client
	gamma  *http.ServeMux
	clob   *http.ServeMux
	secret []byte
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		gamma:  http.NewServeMux(),
		clob:   http.NewServeMux(),
		secret: []byte("0123456789abcdef0123456789abcdef"),
		now:    windowStart.Add(3 * time.Minute),
	}
	gammaSrv := httptest.NewServer(f.gamma)
	clobSrv := httptest.NewServer(f.clob)
	t.Cleanup(gammaSrv.Close)
	t.Cleanup(clobSrv.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	c, err := New(&Config{
		GammaURL:       gammaSrv.URL,
		CLOBURL:        clobSrv.URL,
		APIKey:         "api-key",
		Secret:         base64.URLEncoding.EncodeToString(f.secret),
		Passphrase:     "pass",
		PrivateKey:     hex.EncodeToString(crypto.FromECDSA(key)),
		SlugPrefix:     "btc-updown-15m",
		WindowLength:   15 * time.Minute,
		UnitPayout:     1.0,
		RequestTimeout: 2 * time.Second,
		MaxBookAge:     2 * time.Second,
		MetadataTTL:    time.Hour,
		Logger:         zaptest.NewLogger(t),
		nowFunc:        func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.client = c
	return f
}

func (f *fixture) window(t *testing.T) *types.Window {
	t.Helper()
	f.gamma.HandleFunc("/markets", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("slug") != testSlug {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(gammaMarket))
	})
	window, err := f.client.ActiveWindow(context.Background())
	require.NoError(t, err)
	return window
}

func TestActiveWindow(t *testing.T) {
	f := newFixture(t)
	window := f.window(t)

	assert.Equal(t, testSlug, window.ID)
	assert.Equal(t, "111", window.UpTokenID)
	assert.Equal(t, "222", window.DownTokenID)
	assert.Equal(t, windowStart, window.OpenTime.UTC())
	assert.Equal(t, windowStart.Add(15*time.Minute), window.CloseTime.UTC())
	assert.InDelta(t, 0.01, window.TickSize, 1e-12)
	assert.InDelta(t, 5.0, window.MinOrderSize, 1e-12)
	assert.InDelta(t, 1.0, window.UnitPayout, 1e-12)
}

func TestActiveWindow_NotListed(t *testing.T) {
	f := newFixture(t)
	f.gamma.HandleFunc("/markets", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := f.client.ActiveWindow(context.Background())
	assert.ErrorIs(t, err, types.ErrNoActiveMarket)
}

func TestActiveWindow_MetadataCached(t *testing.T) {
	f := newFixture(t)
	metaCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name: "metadata", NumCounters: 100, MaxCost: 10, BufferItems: 64,
	})
	require.NoError(t, err)
	defer metaCache.Close()
	f.client.config.Cache = metaCache

	f.gamma.HandleFunc("/markets", func(w http.ResponseWriter, _ *http.Request) {
		var m []map[string]any
		require.NoError(t, json.Unmarshal([]byte(gammaMarket), &m))
		delete(m[0], "orderPriceMinTickSize")
		delete(m[0], "orderMinSize")
		body, _ := json.Marshal(m)
		_, _ = w.Write(body)
	})
	var tickCalls atomic.Int32
	f.clob.HandleFunc("/tick-size", func(w http.ResponseWriter, _ *http.Request) {
		tickCalls.Add(1)
		_, _ = w.Write([]byte(`{"minimum_tick_size": 0.001}`))
	})
	f.clob.HandleFunc("/book", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"asset_id":"111","bids":[],"asks":[],"min_order_size":"2","tick_size":"0.001"}`))
	})

	window, err := f.client.ActiveWindow(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.001, window.TickSize, 1e-12)
	assert.InDelta(t, 2.0, window.MinOrderSize, 1e-12)

	metaCache.(*cache.RistrettoCache).Wait()
	_, err = f.client.ActiveWindow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), tickCalls.Load())
}

func TestSettlement(t *testing.T) {
	tests := []struct {
		name   string
		closed bool
		prices string
		want   types.Settlement
	}{
		{name: "open", closed: false, prices: `[\"0.5\", \"0.5\"]`, want: types.SettlementUnresolved},
		{name: "up won", closed: true, prices: `[\"1\", \"0\"]`, want: types.SettlementUp},
		{name: "down won", closed: true, prices: `[\"0\", \"1\"]`, want: types.SettlementDown},
		{name: "closed not final", closed: true, prices: `[\"0.6\", \"0.4\"]`, want: types.SettlementUnresolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gamma.HandleFunc("/markets", func(w http.ResponseWriter, _ *http.Request) {
				closed := "false"
				if tt.closed {
					closed = "true"
				}
				_, _ = w.Write([]byte(`[{"slug":"` + testSlug + `","closed":` + closed +
					`,"outcomes":"[\"Up\", \"Down\"]","clobTokenIds":"[\"111\", \"222\"]","outcomePrices":"` + tt.prices + `"}]`))
			})

			got, err := f.client.Settlement(context.Background(), &types.Window{Slug: testSlug})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type staticBooks map[string]*types.OrderbookSnapshot

func (s staticBooks) GetSnapshot(tokenID string) (*types.OrderbookSnapshot, bool) {
	snap, ok := s[tokenID]
	return snap, ok
}

func TestTopOfBook(t *testing.T) {
	f := newFixture(t)
	window := &types.Window{UpTokenID: "111", DownTokenID: "222"}

	f.clob.HandleFunc("/book", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "222", r.URL.Query().Get("token_id"))
		_, _ = w.Write([]byte(`{"asset_id":"222",
			"bids":[{"price":"0.47","size":"10"},{"price":"0.49","size":"3"}],
			"asks":[{"price":"0.55","size":"10"},{"price":"0.51","size":"12"},{"price":"0.52","size":"0"}]}`))
	})

	t.Run("rest", func(t *testing.T) {
		q, err := f.client.TopOfBook(context.Background(), window, types.SideDown)
		require.NoError(t, err)
		assert.Equal(t, types.SideDown, q.Side)
		assert.InDelta(t, 0.51, q.Price, 1e-12)
		assert.InDelta(t, 12.0, q.Size, 1e-12)
		assert.InDelta(t, 0.49, q.BidPrice, 1e-12)
		assert.InDelta(t, 3.0, q.BidSize, 1e-12)
	})

	t.Run("fresh stream snapshot", func(t *testing.T) {
		f.client.config.Books = staticBooks{"111": {
			TokenID: "111", BestAskPrice: 0.48, BestAskSize: 20, BestBidPrice: 0.46, BestBidSize: 5,
			LastUpdated: f.now.Add(-500 * time.Millisecond),
		}}
		q, err := f.client.TopOfBook(context.Background(), window, types.SideUp)
		require.NoError(t, err)
		assert.InDelta(t, 0.48, q.Price, 1e-12)
		assert.Equal(t, "111", q.TokenID)
	})

	t.Run("stale stream falls back", func(t *testing.T) {
		f.client.config.Books = staticBooks{"222": {
			TokenID: "222", BestAskPrice: 0.40, BestAskSize: 20,
			LastUpdated: f.now.Add(-time.Minute),
		}}
		q, err := f.client.TopOfBook(context.Background(), window, types.SideDown)
		require.NoError(t, err)
		assert.InDelta(t, 0.51, q.Price, 1e-12)
	})
}

func TestTopOfBook_NoAsks(t *testing.T) {
	f := newFixture(t)
	f.clob.HandleFunc("/book", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"asset_id":"111","bids":[{"price":"0.4","size":"1"}],"asks":[]}`))
	})

	_, err := f.client.TopOfBook(context.Background(), &types.Window{UpTokenID: "111"}, types.SideUp)
	assert.ErrorIs(t, err, types.ErrNoLiquidity)
}

func (f *fixture) verifySignature(t *testing.T, r *http.Request, body []byte) {
	t.Helper()
	assert.Equal(t, "api-key", r.Header.Get("POLY_API_KEY"))
	assert.Equal(t, "pass", r.Header.Get("POLY_PASSPHRASE"))
	assert.Equal(t, f.client.address, r.Header.Get("POLY_ADDRESS"))

	ts := r.Header.Get("POLY_TIMESTAMP")
	h := hmac.New(sha256.New, f.secret)
	h.Write([]byte(ts + r.Method + r.URL.Path + string(body)))
	assert.Equal(t, base64.URLEncoding.EncodeToString(h.Sum(nil)), r.Header.Get("POLY_SIGNATURE"))
}

func TestSubmitOrder(t *testing.T) {
	f := newFixture(t)

	var posted types.OrderSubmissionRequest
	f.clob.HandleFunc("POST /order", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		f.verifySignature(t, r, body)
		require.NoError(t, json.Unmarshal(body, &posted))
		_, _ = w.Write([]byte(`{"success":true,"orderId":"0xabc","status":"matched","makingAmount":"2.35","takingAmount":"5"}`))
	})

	handle, err := f.client.SubmitOrder(context.Background(), types.OrderRequest{
		WindowID:    testSlug,
		TokenID:     "111",
		Side:        types.SideUp,
		Action:      types.ActionBuy,
		Price:       0.48,
		Size:        5,
		TimeInForce: types.FOK,
	})
	require.NoError(t, err)

	assert.Equal(t, "0xabc", handle.ID)
	assert.Equal(t, types.SideUp, handle.Side)
	assert.InDelta(t, 5, handle.MatchedSize, 1e-12)
	assert.InDelta(t, 2.35, handle.MatchedCost, 1e-12)
	assert.Equal(t, "FOK", posted.OrderType)
	assert.Equal(t, "api-key", posted.Owner)
	assert.Equal(t, "BUY", posted.Order.Side)
	assert.Equal(t, "2400000", posted.Order.MakerAmount)
	assert.Equal(t, "5000000", posted.Order.TakerAmount)
	assert.Equal(t, "111", posted.Order.TokenID)
	assert.True(t, common.IsHexAddress(posted.Order.Maker))
	assert.NotEqual(t, "0x", posted.Order.Signature)
}

func TestSubmitOrder_SellAmounts(t *testing.T) {
	f := newFixture(t)

	var posted types.OrderSubmissionRequest
	f.clob.HandleFunc("POST /order", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &posted))
		_, _ = w.Write([]byte(`{"success":true,"orderId":"0xdef","status":"live"}`))
	})

	handle, err := f.client.SubmitOrder(context.Background(), types.OrderRequest{
		TokenID: "111", Side: types.SideUp, Action: types.ActionSell,
		Price: 0.46, Size: 5, TimeInForce: types.FAK,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xdef", handle.ID)
	assert.Zero(t, handle.MatchedSize, "a resting order has no matched amounts")
	assert.Equal(t, "SELL", posted.Order.Side)
	assert.Equal(t, "5000000", posted.Order.MakerAmount)
	assert.Equal(t, "2300000", posted.Order.TakerAmount)
	assert.Equal(t, "FAK", posted.OrderType)
}

func TestSubmitOrder_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCode  string
		wantOrder bool
	}{
		{
			name:      "rejected balance",
			status:    http.StatusBadRequest,
			body:      `{"success":false,"errorMsg":"not enough balance / allowance"}`,
			wantCode:  types.ErrNotEnoughBalance,
			wantOrder: true,
		},
		{
			name:      "fok killed",
			status:    http.StatusOK,
			body:      `{"success":false,"errorMsg":"FOK_ORDER_NOT_FILLED_ERROR"}`,
			wantCode:  types.ErrFOKNotFilled,
			wantOrder: true,
		},
		{
			name:   "server error is transient",
			status: http.StatusBadGateway,
			body:   `upstream`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.clob.HandleFunc("POST /order", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := f.client.SubmitOrder(context.Background(), types.OrderRequest{
				TokenID: "111", Side: types.SideUp, Action: types.ActionBuy,
				Price: 0.48, Size: 5, TimeInForce: types.FOK,
			})
			require.Error(t, err)

			var orderErr *types.OrderError
			assert.Equal(t, tt.wantOrder, errors.As(err, &orderErr))
			if tt.wantOrder {
				assert.Equal(t, tt.wantCode, orderErr.Code)
				assert.Equal(t, types.SideUp, orderErr.Side)
			}
		})
	}
}

func TestOrderStateMapping(t *testing.T) {
	tests := []struct {
		name       string
		resp       types.OrderQueryResponse
		wantStatus types.OrderStatus
		wantFilled float64
	}{
		{name: "matched full", resp: types.OrderQueryResponse{Status: "MATCHED", Price: 0.48, Size: 5, SizeFilled: 5}, wantStatus: types.OrderFilled, wantFilled: 5},
		{name: "matched partial", resp: types.OrderQueryResponse{Status: "MATCHED", Price: 0.48, Size: 5, SizeFilled: 2}, wantStatus: types.OrderPartiallyFilled, wantFilled: 2},
		{name: "live", resp: types.OrderQueryResponse{Status: "LIVE", Size: 5}, wantStatus: types.OrderSubmitted},
		{name: "live partial", resp: types.OrderQueryResponse{Status: "live", Size: 5, SizeFilled: 1}, wantStatus: types.OrderPartiallyFilled, wantFilled: 1},
		{name: "canceled", resp: types.OrderQueryResponse{Status: "CANCELED", Size: 5, SizeFilled: 3}, wantStatus: types.OrderCancelled, wantFilled: 3},
		{name: "unmatched", resp: types.OrderQueryResponse{Status: "UNMATCHED", Size: 5}, wantStatus: types.OrderUnfilled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := orderState(&tt.resp, nil)
			assert.Equal(t, tt.wantStatus, state.Status)
			assert.InDelta(t, tt.wantFilled, state.FilledSize, 1e-12)
		})
	}
}

func TestOrderState(t *testing.T) {
	f := newFixture(t)
	f.clob.HandleFunc("GET /data/order/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.verifySignature(t, r, nil)
		if r.PathValue("id") != "0xabc" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"0xabc","status":"MATCHED","price":"0.48","original_size":"5","size_matched":"5"}`))
	})

	state, err := f.client.OrderState(context.Background(), &types.OrderHandle{ID: "0xabc"})
	require.NoError(t, err)
	assert.Equal(t, types.OrderFilled, state.Status)
	assert.InDelta(t, 0.48, state.AvgPrice, 1e-12)

	_, err = f.client.OrderState(context.Background(), &types.OrderHandle{ID: "0xmissing"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestOrderState_IgnoresResponseContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
	}{
		{name: "missing", contentType: ""},
		{name: "text_plain", contentType: "text/plain; charset=utf-8"},
		{name: "octet_stream", contentType: "application/octet-stream"},
	}

	for _, tt := range tests {
		contentType := tt.contentType
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.clob.HandleFunc("GET /data/order/{id}", func(w http.ResponseWriter, _ *http.Request) {
				if contentType != "" {
					w.Header().Set("Content-Type", contentType)
				}
				_, _ = w.Write([]byte(`{"id":"0xabc","status":"MATCHED","price":"0.48","original_size":"5","size_matched":"5"}`))
			})

			state, err := f.client.OrderState(context.Background(), &types.OrderHandle{ID: "0xabc"})
			require.NoError(t, err)
			assert.Equal(t, types.OrderFilled, state.Status)
			assert.InDelta(t, 5, state.FilledSize, 1e-12)
		})
	}
}

func TestOrderState_PriceFromMatchedAmounts(t *testing.T) {
	resp := types.OrderQueryResponse{Status: "MATCHED", Price: 0.48, Size: 5, SizeFilled: 5}

	tests := []struct {
		name      string
		handle    *types.OrderHandle
		wantPrice float64
	}{
		{name: "no handle", handle: nil, wantPrice: 0.48},
		{name: "nothing matched on submit", handle: &types.OrderHandle{ID: "0xabc"}, wantPrice: 0.48},
		{name: "price improved", handle: &types.OrderHandle{ID: "0xabc", MatchedSize: 5, MatchedCost: 2.35}, wantPrice: 0.47},
		{name: "matched amounts cover part of fill", handle: &types.OrderHandle{ID: "0xabc", MatchedSize: 2, MatchedCost: 0.9}, wantPrice: 0.48},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := orderState(&resp, tt.handle)
			assert.InDelta(t, tt.wantPrice, state.AvgPrice, 1e-12)
		})
	}
}

func TestMatchedAmounts(t *testing.T) {
	tests := []struct {
		name     string
		out      types.OrderSubmissionResponse
		action   types.OrderAction
		wantSize float64
		wantCost float64
	}{
		{name: "buy", out: types.OrderSubmissionResponse{Status: "matched", MakingAmount: "2.35", TakingAmount: "5"}, action: types.ActionBuy, wantSize: 5, wantCost: 2.35},
		{name: "sell", out: types.OrderSubmissionResponse{Status: "MATCHED", MakingAmount: "5", TakingAmount: "2.3"}, action: types.ActionSell, wantSize: 5, wantCost: 2.3},
		{name: "live", out: types.OrderSubmissionResponse{Status: "live", MakingAmount: "2.4", TakingAmount: "5"}, action: types.ActionBuy},
		{name: "missing amounts", out: types.OrderSubmissionResponse{Status: "matched"}, action: types.ActionBuy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, cost := matchedAmounts(&tt.out, tt.action)
			assert.InDelta(t, tt.wantSize, size, 1e-12)
			assert.InDelta(t, tt.wantCost, cost, 1e-12)
		})
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	var cancelled string
	f.clob.HandleFunc("DELETE /order", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.verifySignature(t, r, body)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))
		cancelled = req["orderID"]
		_, _ = w.Write([]byte(`{"canceled":["0xabc"],"not_canceled":{}}`))
	})

	require.NoError(t, f.client.CancelOrder(context.Background(), &types.OrderHandle{ID: "0xabc"}))
	assert.Equal(t, "0xabc", cancelled)
}

type fakeWallet struct {
	usdc *big.Int
	err  error
	addr common.Address
}

func (w *fakeWallet) GetBalances(_ context.Context, address common.Address) (*wallet.Balances, error) {
	w.addr = address
	if w.err != nil {
		return nil, w.err
	}
	return &wallet.Balances{USDC: w.usdc}, nil
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	w := &fakeWallet{usdc: big.NewInt(987_650_000)}
	f.client.config.Wallet = w

	balance, err := f.client.Balance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 987.65, balance, 1e-9)
	assert.Equal(t, common.HexToAddress(f.client.maker), w.addr)

	w.err = errors.New("rpc down")
	_, err = f.client.Balance(context.Background())
	assert.ErrorContains(t, err, "rpc down")
}

func TestNew_InvalidKey(t *testing.T) {
	_, err := New(&Config{WindowLength: time.Minute, PrivateKey: "not-hex"})
	assert.ErrorContains(t, err, "parse private key")
}
