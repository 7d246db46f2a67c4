package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal tracks terminal execution attempts by outcome.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_execution_attempts_total",
			Help: "Total number of execution attempts by outcome",
		},
		[]string{"mode", "outcome"},
	)

	// LegsTotal tracks submitted legs by side and final status.
	LegsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_execution_legs_total",
			Help: "Total number of order legs by side and final status",
		},
		[]string{"side", "action", "status"},
	)

	// RealizedPnL tracks per-attempt realized profit and loss.
	RealizedPnL = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_execution_realized_pnl",
		Help:    "Realized profit or loss per execution attempt",
		Buckets: []float64{-5, -1, -0.5, -0.1, -0.01, 0, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// ExecutionDurationSeconds tracks execution latency.
	ExecutionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_execution_duration_seconds",
		Help:    "Duration of an execution attempt from submission to terminal outcome",
		Buckets: prometheus.DefBuckets,
	})

	// FillLatencySeconds tracks time until an order reached a terminal state.
	FillLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "updown_arb_fill_latency_seconds",
			Help:    "Time from submission until an order was terminal",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"status"},
	)

	// FillTimeoutsTotal tracks orders cancelled because the fill timeout expired.
	FillTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_fill_timeouts_total",
		Help: "Total number of orders cancelled after the fill timeout",
	})

	// RecoveriesTotal tracks recovery sells by result.
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_recoveries_total",
			Help: "Total number of recovery sells by result",
		},
		[]string{"result"},
	)

	// ExecutionErrorsTotal tracks submission and journaling failures.
	ExecutionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_execution_errors_total",
			Help: "Total number of execution errors",
		},
		[]string{"stage"},
	)

	// AttemptInFlight is 1 while an attempt is open.
	AttemptInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_execution_attempt_in_flight",
		Help: "1 while an execution attempt is open",
	})
)
