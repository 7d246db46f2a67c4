package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubBalance struct {
	value float64
	err   error
	calls int
}

func (s *stubBalance) Balance(context.Context) (float64, error) {
	s.calls++
	return s.value, s.err
}

func newTestGate(t *testing.T, cfg *Config, bal BalanceSource, now time.Time) *Gate {
	t.Helper()
	cfg.Logger = zaptest.NewLogger(t)
	g := New(cfg, bal)
	g.now = func() time.Time { return now }
	return g
}

func tradeRecord(at time.Time, invested, pnl float64) *ledger.Record {
	return &ledger.Record{Kind: ledger.KindTrade, Timestamp: at, Invested: invested, RealizedPnL: pnl, PnLResolved: true}
}

var noon = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestGate_PositionSize(t *testing.T) {
	tests := []struct {
		name     string
		maxSize  float64
		approved bool
	}{
		{name: "cost above cap", maxSize: 4.90, approved: false},
		{name: "cost equal to cap", maxSize: 4.95, approved: true},
		{name: "cap disabled", maxSize: 0, approved: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(t, &Config{MaxPositionSize: tt.maxSize}, nil, noon)

			d, err := g.Approve(context.Background(), arbitrage.CreateTestOpportunity("w1"))
			require.NoError(t, err)
			assert.Equal(t, tt.approved, d.Approved)
			if !tt.approved {
				assert.Equal(t, ReasonPositionSize, d.Reason)
				assert.NotEmpty(t, d.Detail)
			}
		})
	}
}

func TestGate_DailyLoss(t *testing.T) {
	g := newTestGate(t, &Config{MaxDailyLoss: 1, MaxPositionSize: 1}, nil, noon)

	g.OnRecord(tradeRecord(noon, 4.95, -1.0))
	d, err := g.Approve(context.Background(), arbitrage.CreateTestOpportunity("w1"))
	require.NoError(t, err)
	// loss equal to the cap has not exceeded it; the position cap denies instead
	assert.Equal(t, ReasonPositionSize, d.Reason)

	g.OnRecord(&ledger.Record{Kind: ledger.KindSettlement, Timestamp: noon, RealizedPnL: -0.5})
	d, err = g.Approve(context.Background(), arbitrage.CreateTestOpportunity("w1"))
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonDailyLoss, d.Reason, "loss is checked before position size")
}

func TestGate_TradeCount(t *testing.T) {
	g := newTestGate(t, &Config{MaxTradesPerDay: 2}, nil, noon)
	opp := arbitrage.CreateTestOpportunity("w1")

	g.OnRecord(tradeRecord(noon, 4.95, 0.05))
	d, err := g.Approve(context.Background(), opp)
	require.NoError(t, err)
	assert.True(t, d.Approved)

	// missed opportunities do not count as trades
	g.OnRecord(&ledger.Record{Kind: ledger.KindMissed, Timestamp: noon})
	d, _ = g.Approve(context.Background(), opp)
	assert.True(t, d.Approved)

	g.OnRecord(tradeRecord(noon, 4.95, 0.05))
	d, err = g.Approve(context.Background(), opp)
	require.NoError(t, err)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonTradeCount, d.Reason)
}

func TestGate_Balance(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		balance  float64
		approved bool
	}{
		{name: "enough above minimum", cfg: Config{MinBalanceRequired: 5}, balance: 10, approved: true},
		{name: "reservation breaches minimum", cfg: Config{MinBalanceRequired: 5.1}, balance: 10, approved: false},
		{name: "within utilization", cfg: Config{MaxBalanceUtilization: 0.5}, balance: 10, approved: true},
		{name: "above utilization", cfg: Config{MaxBalanceUtilization: 0.4}, balance: 10, approved: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bal := &stubBalance{value: tt.balance}
			cfg := tt.cfg
			g := newTestGate(t, &cfg, bal, noon)

			d, err := g.Approve(context.Background(), arbitrage.CreateTestOpportunity("w1"))
			require.NoError(t, err)
			assert.Equal(t, tt.approved, d.Approved)
			assert.Equal(t, 1, bal.calls)
			if !tt.approved {
				assert.Equal(t, ReasonBalance, d.Reason)
			}
		})
	}
}

func TestGate_BalanceNotQueriedWhenDisabled(t *testing.T) {
	bal := &stubBalance{value: 0}
	g := newTestGate(t, &Config{}, bal, noon)

	d, err := g.Approve(context.Background(), arbitrage.CreateTestOpportunity("w1"))
	require.NoError(t, err)
	assert.True(t, d.Approved)
	assert.Zero(t, bal.calls)
}

func TestGate_BalanceError(t *testing.T) {
	bal := &stubBalance{err: errors.New("rpc unavailable")}
	g := newTestGate(t, &Config{MinBalanceRequired: 1}, bal, noon)

	_, err := g.Approve(context.Background(), arbitrage.CreateTestOpportunity("w1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc unavailable")
}

func TestGate_DayBoundary(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	beforeMidnight := time.Date(2026, 3, 14, 23, 59, 59, 999_999_999, loc)
	midnight := time.Date(2026, 3, 15, 0, 0, 0, 0, loc)

	now := beforeMidnight
	g := New(&Config{MaxTradesPerDay: 1, Location: loc, Logger: zaptest.NewLogger(t)}, nil)
	g.now = func() time.Time { return now }

	g.OnRecord(tradeRecord(beforeMidnight.Add(-time.Hour), 4.95, -0.10))
	c := g.Snapshot()
	assert.Equal(t, 1, c.Trades)
	assert.InDelta(t, 0.10, c.Loss(), 1e-9)

	d, err := g.Approve(context.Background(), arbitrage.CreateTestOpportunity("w1"))
	require.NoError(t, err)
	assert.Equal(t, ReasonTradeCount, d.Reason, "still the same day one nanosecond before midnight")

	now = midnight
	c = g.Snapshot()
	assert.Equal(t, "2026-03-15", c.Day)
	assert.Zero(t, c.Trades)
	assert.Zero(t, c.RealizedPnL)

	d, err = g.Approve(context.Background(), arbitrage.CreateTestOpportunity("w1"))
	require.NoError(t, err)
	assert.True(t, d.Approved)
}

func TestGate_IgnoresOtherDays(t *testing.T) {
	g := newTestGate(t, &Config{}, nil, noon)

	g.OnRecord(tradeRecord(noon.Add(-24*time.Hour), 4.95, -3))
	g.OnRecord(tradeRecord(noon.Add(-time.Minute), 2.40, 0))
	g.OnRecord(&ledger.Record{Kind: ledger.KindPositionClose, Timestamp: noon, RealizedPnL: -0.10})

	c := g.Snapshot()
	assert.Equal(t, 1, c.Trades)
	assert.InDelta(t, 2.40, c.Exposure, 1e-9)
	assert.InDelta(t, -0.10, c.RealizedPnL, 1e-9)
}

func TestGate_RestoredFromLedgerReplay(t *testing.T) {
	ctx := context.Background()
	log := ledger.NewMemoryLog()
	now := time.Now()

	rec := tradeRecord(now, 4.95, -0.10)
	rec.Seq = 1
	require.NoError(t, log.Append(ctx, rec))

	// a gate registered at open sees records persisted before the restart
	g := New(&Config{MaxTradesPerDay: 1}, nil)
	_, err := ledger.Open(ctx, &ledger.Config{Log: log, Observers: []ledger.Observer{g}})
	require.NoError(t, err)

	c := g.Snapshot()
	assert.Equal(t, 1, c.Trades)
	assert.InDelta(t, -0.10, c.RealizedPnL, 1e-9)

	d, err := g.Approve(ctx, arbitrage.CreateTestOpportunity("w1"))
	require.NoError(t, err)
	assert.Equal(t, ReasonTradeCount, d.Reason)
}
