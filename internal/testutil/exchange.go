package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/mselser95/updown-arb/pkg/types"
)

// FillRule scripts how the mock exchange treats orders for one side and action.
type FillRule struct {
	// Reject is returned from SubmitOrder.
	Reject error
	// Final is the terminal state. nil fills the full size at the order price.
	Final *types.OrderState
	// PendingPolls is how many OrderState calls report "submitted" first.
	PendingPolls int
	// Hang keeps the order open (with Final's filled size) until it is cancelled.
	Hang bool
}

type ruleKey struct {
	side   types.Side
	action types.OrderAction
}

type mockOrder struct {
	req       types.OrderRequest
	rule      FillRule
	polls     int
	cancelled bool
}

// MockExchange is an in-memory exchange with scripted quotes, fills and settlements.
type MockExchange struct {
	mu sync.Mutex

	Window       *types.Window
	Quotes       map[types.Side]types.Quote
	QuoteErrs    map[types.Side]error
	BalanceValue float64
	BalanceErr   error
	Settlements  map[string]types.Settlement
	// SubmitGate, when set, blocks SubmitOrder until it is closed or receives.
	SubmitGate chan struct{}

	rules   map[ruleKey]FillRule
	orders  map[string]*mockOrder
	nextID  int
	quoteN  map[types.Side]int
	failN   map[types.Side]int
	subFail map[ruleKey]int
	stateFn func(id string) error

	Submitted    []types.OrderRequest
	Cancelled    []string
	BalanceCalls int
	QuoteCalls   int
	SettleCalls  int
	WindowCalls  int
}

// NewMockExchange creates a mock exchange serving window with a default 0.48/0.51 book.
func NewMockExchange(window *types.Window) *MockExchange {
	return &MockExchange{
		Window: window,
		Quotes: map[types.Side]types.Quote{
			types.SideUp:   {Side: types.SideUp, Price: 0.48, Size: 100, BidPrice: 0.46, BidSize: 100},
			types.SideDown: {Side: types.SideDown, Price: 0.51, Size: 100, BidPrice: 0.49, BidSize: 100},
		},
		QuoteErrs:    map[types.Side]error{},
		BalanceValue: 1000,
		Settlements:  map[string]types.Settlement{},
		rules:        map[ruleKey]FillRule{},
		orders:       map[string]*mockOrder{},
		quoteN:       map[types.Side]int{},
		failN:        map[types.Side]int{},
		subFail:      map[ruleKey]int{},
	}
}

// SetRule scripts orders for side/action.
func (m *MockExchange) SetRule(side types.Side, action types.OrderAction, rule FillRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleKey{side, action}] = rule
}

// FailSubmits makes the next n submissions for side/action fail with a transport error.
func (m *MockExchange) FailSubmits(side types.Side, action types.OrderAction, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subFail[ruleKey{side, action}] = n
}

// SetQuote replaces the top of book for a side.
func (m *MockExchange) SetQuote(side types.Side, q types.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Side = side
	m.Quotes[side] = q
}

// FailQuotes makes the next n TopOfBook calls for side fail.
func (m *MockExchange) FailQuotes(side types.Side, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN[side] = n
}

// SetWindow replaces the active window. nil means none is discoverable.
func (m *MockExchange) SetWindow(w *types.Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Window = w
}

// SetSettlement sets the outcome reported for a window.
func (m *MockExchange) SetSettlement(windowID string, s types.Settlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Settlements[windowID] = s
}

// SubmittedOrders returns a copy of every accepted or rejected order request.
func (m *MockExchange) SubmittedOrders() []types.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.OrderRequest, len(m.Submitted))
	copy(out, m.Submitted)
	return out
}

// ActiveWindow returns the configured window.
func (m *MockExchange) ActiveWindow(_ context.Context) (*types.Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WindowCalls++
	if m.Window == nil {
		return nil, types.ErrNoActiveMarket
	}
	w := *m.Window
	return &w, nil
}

// TopOfBook returns the scripted quote for side.
func (m *MockExchange) TopOfBook(_ context.Context, window *types.Window, side types.Side) (types.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuoteCalls++
	m.quoteN[side]++

	if m.failN[side] > 0 {
		m.failN[side]--
		return types.Quote{}, fmt.Errorf("mock quote timeout for %s", side)
	}
	if err := m.QuoteErrs[side]; err != nil {
		return types.Quote{}, err
	}
	q := m.Quotes[side]
	q.TokenID = window.TokenID(side)
	return q, nil
}

// SubmitOrder accepts or rejects an order according to its rule.
func (m *MockExchange) SubmitOrder(ctx context.Context, req types.OrderRequest) (*types.OrderHandle, error) {
	if gate := m.SubmitGate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Submitted = append(m.Submitted, req)
	key := ruleKey{req.Side, req.Action}
	if m.subFail[key] > 0 {
		m.subFail[key]--
		return nil, fmt.Errorf("mock network error submitting %s %s", req.Action, req.Side)
	}
	rule := m.rules[key]
	if rule.Reject != nil {
		return nil, rule.Reject
	}

	m.nextID++
	id := fmt.Sprintf("mock-order-%d", m.nextID)
	m.orders[id] = &mockOrder{req: req, rule: rule}

	return &types.OrderHandle{
		ID:       id,
		WindowID: req.WindowID,
		Side:     req.Side,
		Action:   req.Action,
		Price:    req.Price,
		Size:     req.Size,
	}, nil
}

// OrderState reports the scripted state of an order.
func (m *MockExchange) OrderState(_ context.Context, handle *types.OrderHandle) (types.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stateFn != nil {
		if err := m.stateFn(handle.ID); err != nil {
			return types.OrderState{}, err
		}
	}

	o, ok := m.orders[handle.ID]
	if !ok {
		return types.OrderState{}, types.ErrNotFound
	}

	final := types.OrderState{Status: types.OrderFilled, FilledSize: o.req.Size, AvgPrice: o.req.Price}
	if o.rule.Final != nil {
		final = *o.rule.Final
	}

	if o.rule.Hang {
		if o.cancelled {
			return types.OrderState{Status: types.OrderCancelled, FilledSize: final.FilledSize, AvgPrice: final.AvgPrice}, nil
		}
		return types.OrderState{Status: types.OrderSubmitted, FilledSize: final.FilledSize, AvgPrice: final.AvgPrice}, nil
	}

	if o.polls < o.rule.PendingPolls {
		o.polls++
		return types.OrderState{Status: types.OrderSubmitted}, nil
	}

	return final, nil
}

// CancelOrder marks an order cancelled.
func (m *MockExchange) CancelOrder(_ context.Context, handle *types.OrderHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Cancelled = append(m.Cancelled, handle.ID)
	o, ok := m.orders[handle.ID]
	if !ok {
		return types.ErrNotFound
	}
	o.cancelled = true
	return nil
}

// Balance returns the scripted balance.
func (m *MockExchange) Balance(_ context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BalanceCalls++
	return m.BalanceValue, m.BalanceErr
}

// Settlement returns the scripted settlement, unresolved by default.
func (m *MockExchange) Settlement(_ context.Context, window *types.Window) (types.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SettleCalls++
	if s, ok := m.Settlements[window.ID]; ok {
		return s, nil
	}
	return types.SettlementUnresolved, nil
}

// SeedOrder registers an order as if it had been submitted before a restart.
func (m *MockExchange) SeedOrder(id string, req types.OrderRequest, final types.OrderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[id] = &mockOrder{req: req, rule: FillRule{Final: &final}}
}

// FailOrderState makes OrderState return fn's error when it is non-nil.
func (m *MockExchange) FailOrderState(fn func(id string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFn = fn
}
