package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts gate decisions by result ("approved" or a denial reason).
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_risk_decisions_total",
			Help: "Total risk gate decisions by result",
		},
		[]string{"result"},
	)

	RiskErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "updown_arb_risk_errors_total",
			Help: "Total risk evaluations abandoned on balance lookup errors",
		},
	)

	DailyPnL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updown_arb_risk_daily_pnl",
			Help: "Realized profit and loss for the current risk day",
		},
	)

	DailyTrades = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updown_arb_risk_daily_trades",
			Help: "Trades executed in the current risk day",
		},
	)

	BalanceGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updown_arb_risk_balance",
			Help: "Last available balance seen by the risk gate",
		},
	)
)
