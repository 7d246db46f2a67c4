// Package risk approves or vetoes opportunities against daily and per-trade limits.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/updown-arb/internal/arbitrage"
	"github.com/mselser95/updown-arb/internal/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reason tags a denial.
type Reason string

const (
	ReasonDailyLoss    Reason = "daily_loss"
	ReasonPositionSize Reason = "position_size"
	ReasonTradeCount   Reason = "trade_count"
	ReasonBalance      Reason = "balance"
)

// Decision is the result of Approve.
type Decision struct {
	Approved bool
	Reason   Reason
	Detail   string
}

func approve() Decision {
	return Decision{Approved: true}
}

func deny(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// BalanceSource reports available collateral.
type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}

// Config holds risk limits. A zero limit disables its check.
type Config struct {
	MaxDailyLoss          float64
	MaxPositionSize       float64
	MaxTradesPerDay       int
	MinBalanceRequired    float64
	MaxBalanceUtilization float64
	Location              *time.Location
	Logger                *zap.Logger
}

// Counters are the risk state for one calendar day.
type Counters struct {
	Day         string  `json:"day"`
	RealizedPnL float64 `json:"realized_pnl"`
	Trades      int     `json:"trades"`
	Exposure    float64 `json:"exposure"`
}

// Loss is the negative part of realized P/L.
func (c Counters) Loss() float64 {
	if c.RealizedPnL < 0 {
		return -c.RealizedPnL
	}
	return 0
}

// Gate evaluates opportunities. Counters change only through OnRecord.
type Gate struct {
	config  *Config
	balance BalanceSource
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	day      string
	pnl      decimal.Decimal
	exposure decimal.Decimal
	trades   int
}

// New creates a gate. balance may be nil when both balance checks are disabled.
func New(cfg *Config, balance BalanceSource) *Gate {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Gate{
		config:  cfg,
		balance: balance,
		logger:  cfg.Logger,
		now:     time.Now,
	}
}

func (g *Gate) dayKey(t time.Time) string {
	return t.In(g.config.Location).Format(time.DateOnly)
}

// rollover resets counters when the day changed. Caller holds the write lock.
func (g *Gate) rollover(now time.Time) {
	key := g.dayKey(now)
	if key == g.day {
		return
	}
	if g.day != "" {
		g.logger.Info("risk-counters-reset",
			zap.String("previous-day", g.day),
			zap.String("day", key),
			zap.Int("trades", g.trades),
			zap.String("realized-pnl", g.pnl.String()))
	}
	g.day = key
	g.pnl = decimal.Zero
	g.exposure = decimal.Zero
	g.trades = 0
}

// Snapshot returns today's counters.
func (g *Gate) Snapshot() Counters {
	g.mu.Lock()
	g.rollover(g.now())
	c := Counters{Day: g.day, Trades: g.trades}
	c.RealizedPnL, _ = g.pnl.Float64()
	c.Exposure, _ = g.exposure.Float64()
	g.mu.Unlock()
	return c
}

// Approve checks opp against every enabled limit in a fixed order. An error means the
// balance could not be read and no decision was made.
func (g *Gate) Approve(ctx context.Context, opp *arbitrage.Opportunity) (Decision, error) {
	c := g.Snapshot()
	d, err := g.evaluate(ctx, c, opp)
	if err != nil {
		RiskErrorsTotal.Inc()
		return Decision{}, err
	}

	if d.Approved {
		DecisionsTotal.WithLabelValues("approved").Inc()
		g.logger.Debug("risk-approved",
			zap.String("opportunity-id", opp.ID),
			zap.Float64("total-cost", opp.TotalCost),
			zap.Int("trades-today", c.Trades))
	} else {
		DecisionsTotal.WithLabelValues(string(d.Reason)).Inc()
		g.logger.Info("risk-denied",
			zap.String("opportunity-id", opp.ID),
			zap.String("window-id", opp.WindowID),
			zap.String("reason", string(d.Reason)),
			zap.String("detail", d.Detail))
	}
	return d, nil
}

func (g *Gate) evaluate(ctx context.Context, c Counters, opp *arbitrage.Opportunity) (Decision, error) {
	cfg := g.config

	if cfg.MaxDailyLoss > 0 && c.Loss() > cfg.MaxDailyLoss {
		return deny(ReasonDailyLoss, "daily loss %.4f exceeds cap %.4f", c.Loss(), cfg.MaxDailyLoss), nil
	}

	if cfg.MaxPositionSize > 0 && opp.TotalCost > cfg.MaxPositionSize {
		return deny(ReasonPositionSize, "position cost %.4f exceeds cap %.4f", opp.TotalCost, cfg.MaxPositionSize), nil
	}

	if cfg.MaxTradesPerDay > 0 && c.Trades >= cfg.MaxTradesPerDay {
		return deny(ReasonTradeCount, "%d trades today, cap %d", c.Trades, cfg.MaxTradesPerDay), nil
	}

	if cfg.MinBalanceRequired <= 0 && cfg.MaxBalanceUtilization <= 0 {
		return approve(), nil
	}
	if g.balance == nil {
		return Decision{}, fmt.Errorf("check balance: no balance source configured")
	}

	balance, err := g.balance.Balance(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("check balance: %w", err)
	}
	BalanceGauge.Set(balance)

	cost := decimal.NewFromFloat(opp.TotalCost)
	bal := decimal.NewFromFloat(balance)

	if cfg.MinBalanceRequired > 0 {
		after := bal.Sub(cost)
		if after.LessThan(decimal.NewFromFloat(cfg.MinBalanceRequired)) {
			return deny(ReasonBalance, "balance %.4f after cost %.4f is below minimum %.4f",
				balance, opp.TotalCost, cfg.MinBalanceRequired), nil
		}
	}

	if cfg.MaxBalanceUtilization > 0 {
		limit := bal.Mul(decimal.NewFromFloat(cfg.MaxBalanceUtilization))
		if cost.GreaterThan(limit) {
			return deny(ReasonBalance, "cost %.4f exceeds %.0f%% of balance %.4f",
				opp.TotalCost, cfg.MaxBalanceUtilization*100, balance), nil
		}
	}

	return approve(), nil
}

// OnRecord commits a ledger record into today's counters. Records stamped on
// another day are ignored, so replaying history only restores the current day.
func (g *Gate) OnRecord(rec *ledger.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover(g.now())
	if g.dayKey(rec.Timestamp) != g.day {
		return
	}

	switch rec.Kind {
	case ledger.KindTrade:
		g.trades++
		g.exposure = g.exposure.Add(decimal.NewFromFloat(rec.Invested))
		g.pnl = g.pnl.Add(decimal.NewFromFloat(rec.RealizedPnL))
	case ledger.KindSettlement, ledger.KindPositionClose:
		g.pnl = g.pnl.Add(decimal.NewFromFloat(rec.RealizedPnL))
	default:
		return
	}

	pnl, _ := g.pnl.Float64()
	DailyPnL.Set(pnl)
	DailyTrades.Set(float64(g.trades))
}
