// Package sim is a seeded, deterministic stand-in for the live exchange used in dry-run mode.
// Quotes, fills and settlements are pure functions of the seed, the window and the clock,
// so a run replays identically given the same inputs.
package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mselser95/updown-arb/internal/exchange"
	"github.com/mselser95/updown-arb/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ exchange.Exchange = (*Exchange)(nil)

// Config holds simulator parameters.
type Config struct {
	Seed            uint64
	SlugPrefix      string
	WindowLength    time.Duration
	UnitPayout      float64
	TickSize        float64
	MinOrderSize    float64
	StartBalance    float64
	QuoteInterval   time.Duration
	ArbProbability  float64
	FillProbability float64
	PartialFillRate float64
	MaxDepth        float64
	SettlementDelay time.Duration
	Logger          *zap.Logger
}

// DefaultConfig returns parameters for a 15-minute BTC window market.
func DefaultConfig() Config {
	return Config{
		Seed:            1,
		SlugPrefix:      "btc-updown-15m",
		WindowLength:    15 * time.Minute,
		UnitPayout:      1.0,
		TickSize:        0.01,
		MinOrderSize:    5,
		StartBalance:    1000,
		QuoteInterval:   time.Second,
		ArbProbability:  0.15,
		FillProbability: 0.9,
		PartialFillRate: 0.05,
		MaxDepth:        200,
		SettlementDelay: 10 * time.Second,
	}
}

type simOrder struct {
	handle types.OrderHandle
	state  types.OrderState
}

// Exchange is the simulated venue.
type Exchange struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	balance decimal.Decimal
	orders  map[string]*simOrder
	seq     map[string]int
}

// New creates a simulator.
func New(cfg *Config) *Exchange {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("sim-exchange-initialized",
		zap.Uint64("seed", cfg.Seed),
		zap.Float64("start-balance", cfg.StartBalance),
		zap.Float64("arb-probability", cfg.ArbProbability))

	return &Exchange{
		config:  *cfg,
		logger:  logger,
		now:     time.Now,
		balance: decimal.NewFromFloat(cfg.StartBalance),
		orders:  make(map[string]*simOrder),
		seq:     make(map[string]int),
	}
}

// rng returns a generator keyed by the seed and parts. The same parts always
// produce the same stream, regardless of call order across goroutines.
func (e *Exchange) rng(parts ...any) *rand.Rand {
	h := fnv.New64a()
	for _, p := range parts {
		fmt.Fprint(h, p, "|")
	}
	return rand.New(rand.NewPCG(e.config.Seed, h.Sum64()))
}

func (e *Exchange) windowAt(now time.Time) *types.Window {
	start := now.Truncate(e.config.WindowLength)
	slug := fmt.Sprintf("%s-%d", e.config.SlugPrefix, start.Unix())
	return &types.Window{
		ID:           slug,
		Slug:         slug,
		Question:     fmt.Sprintf("Simulated Up or Down - %s", start.UTC().Format(time.RFC3339)),
		UpTokenID:    slug + "-up",
		DownTokenID:  slug + "-down",
		OpenTime:     start,
		CloseTime:    start.Add(e.config.WindowLength),
		Settlement:   types.SettlementUnresolved,
		UnitPayout:   e.config.UnitPayout,
		TickSize:     e.config.TickSize,
		MinOrderSize: e.config.MinOrderSize,
	}
}

// ActiveWindow returns the window containing the current time.
func (e *Exchange) ActiveWindow(_ context.Context) (*types.Window, error) {
	return e.windowAt(e.now()), nil
}

type book struct {
	ask, askSize, bid, bidSize float64
}

// books derives both sides' top of book for the quote step containing at.
func (e *Exchange) books(window *types.Window, at time.Time) (up, down book) {
	step := int64(0)
	if e.config.QuoteInterval > 0 {
		step = int64(at.Sub(window.OpenTime) / e.config.QuoteInterval)
	}
	r := e.rng("book", window.ID, step)

	tick := e.config.TickSize
	payout := e.config.UnitPayout
	upAsk := roundTick(payout*(0.3+0.4*r.Float64()), tick)

	// combined ask sits a few ticks above payout, and occasionally below it
	ticks := float64(1 + r.IntN(3))
	if r.Float64() < e.config.ArbProbability {
		ticks = -ticks
	}
	downAsk := roundTick(payout+ticks*tick-upAsk, tick)

	depth := func() float64 {
		return math.Floor(e.config.MinOrderSize + r.Float64()*(e.config.MaxDepth-e.config.MinOrderSize))
	}
	up = book{ask: upAsk, askSize: depth(), bid: roundTick(upAsk-2*tick, tick), bidSize: depth()}
	down = book{ask: downAsk, askSize: depth(), bid: roundTick(downAsk-2*tick, tick), bidSize: depth()}
	return up, down
}

func (e *Exchange) bookFor(window *types.Window, side types.Side, at time.Time) book {
	up, down := e.books(window, at)
	if side == types.SideUp {
		return up
	}
	return down
}

// TopOfBook returns the synthetic quote for side.
func (e *Exchange) TopOfBook(_ context.Context, window *types.Window, side types.Side) (types.Quote, error) {
	now := e.now()
	b := e.bookFor(window, side, now)
	return types.Quote{
		Side:      side,
		TokenID:   window.TokenID(side),
		Price:     b.ask,
		Size:      b.askSize,
		BidPrice:  b.bid,
		BidSize:   b.bidSize,
		Timestamp: now,
	}, nil
}

// SubmitOrder matches the order immediately against the synthetic book.
func (e *Exchange) SubmitOrder(_ context.Context, req types.OrderRequest) (*types.OrderHandle, error) {
	if req.Price <= 0 || req.Price >= e.config.UnitPayout {
		return nil, &types.OrderError{Code: types.ErrInvalidMinTickSize, Message: "price out of range", Side: req.Side}
	}
	if req.Size <= 0 {
		return nil, &types.OrderError{Code: types.ErrUnmatched, Message: "size must be positive", Side: req.Side}
	}

	now := e.now()
	window := &types.Window{ID: req.WindowID, OpenTime: e.windowAt(now).OpenTime}
	b := e.bookFor(window, req.Side, now)

	e.mu.Lock()
	defer e.mu.Unlock()

	key := fmt.Sprintf("%s/%s/%s", req.WindowID, req.Side, req.Action)
	e.seq[key]++
	id := fmt.Sprintf("sim-%s-%d", key, e.seq[key])

	if req.Action == types.ActionBuy {
		cost := decimal.NewFromFloat(req.Price).Mul(decimal.NewFromFloat(req.Size))
		if cost.GreaterThan(e.balance) {
			return nil, &types.OrderError{Code: types.ErrNotEnoughBalance, Message: "insufficient simulated balance", Side: req.Side}
		}
	}

	state := e.match(id, req, b)
	e.settleBalance(req, state)

	handle := types.OrderHandle{
		ID:          id,
		WindowID:    req.WindowID,
		Side:        req.Side,
		Action:      req.Action,
		Price:       req.Price,
		Size:        req.Size,
		SubmittedAt: now,
	}
	e.orders[id] = &simOrder{handle: handle, state: state}

	SimOrdersTotal.WithLabelValues(string(req.Action), string(state.Status)).Inc()
	e.logger.Debug("sim-order-matched",
		zap.String("order-id", id),
		zap.String("side", string(req.Side)),
		zap.String("action", string(req.Action)),
		zap.Float64("price", req.Price),
		zap.Float64("size", req.Size),
		zap.String("status", string(state.Status)),
		zap.Float64("filled", state.FilledSize))

	return &handle, nil
}

// match decides the fill for one order. The order marketable against the
// synthetic book fills with FillProbability; a fraction of those fill partially.
func (e *Exchange) match(id string, req types.OrderRequest, b book) types.OrderState {
	r := e.rng("fill", id, req.Price, req.Size)

	marketable := req.Price >= b.ask
	available := b.askSize
	if req.Action == types.ActionSell {
		marketable = req.Price <= b.bid
		available = b.bidSize
	}
	if !marketable || r.Float64() >= e.config.FillProbability {
		return types.OrderState{Status: types.OrderUnfilled}
	}

	filled := math.Min(req.Size, available)
	if r.Float64() < e.config.PartialFillRate {
		filled = math.Floor(filled * (0.2 + 0.6*r.Float64()))
	}
	if filled < req.Size && req.TimeInForce == types.FOK {
		return types.OrderState{Status: types.OrderUnfilled}
	}
	if filled <= 0 {
		return types.OrderState{Status: types.OrderUnfilled}
	}

	status := types.OrderFilled
	if filled < req.Size {
		// the unfilled remainder of a FAK is cancelled immediately
		status = types.OrderCancelled
		if req.TimeInForce == types.GTC {
			status = types.OrderPartiallyFilled
		}
	}
	return types.OrderState{Status: status, FilledSize: filled, AvgPrice: req.Price}
}

func (e *Exchange) settleBalance(req types.OrderRequest, state types.OrderState) {
	notional := decimal.NewFromFloat(state.AvgPrice).Mul(decimal.NewFromFloat(state.FilledSize))
	if req.Action == types.ActionBuy {
		e.balance = e.balance.Sub(notional)
	} else {
		e.balance = e.balance.Add(notional)
	}
	bal, _ := e.balance.Float64()
	SimBalance.Set(bal)
}

// OrderState returns the state recorded at submission.
func (e *Exchange) OrderState(_ context.Context, handle *types.OrderHandle) (types.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[handle.ID]
	if !ok {
		return types.OrderState{}, fmt.Errorf("order %s: %w", handle.ID, types.ErrNotFound)
	}
	return o.state, nil
}

// CancelOrder cancels a resting order. Terminal orders are left unchanged.
func (e *Exchange) CancelOrder(_ context.Context, handle *types.OrderHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[handle.ID]
	if !ok {
		return fmt.Errorf("cancel order %s: %w", handle.ID, types.ErrNotFound)
	}
	if !o.state.Status.Terminal() {
		o.state.Status = types.OrderCancelled
	}
	return nil
}

// Balance returns the simulated collateral.
func (e *Exchange) Balance(_ context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bal, _ := e.balance.Float64()
	return bal, nil
}

// Settlement resolves a window SettlementDelay after it closes.
func (e *Exchange) Settlement(_ context.Context, window *types.Window) (types.Settlement, error) {
	if e.now().Before(window.CloseTime.Add(e.config.SettlementDelay)) {
		return types.SettlementUnresolved, nil
	}

	if e.rng("settle", window.ID).IntN(2) == 0 {
		return types.SettlementUp, nil
	}
	return types.SettlementDown, nil
}

func roundTick(p, tick float64) float64 {
	if tick <= 0 {
		return p
	}
	d := decimal.NewFromFloat(p).Div(decimal.NewFromFloat(tick)).Round(0).Mul(decimal.NewFromFloat(tick))
	f, _ := d.Float64()
	return f
}
