package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// TicksTotal counts scan cycles by result.
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_lifecycle_ticks_total",
			Help: "Total number of scan cycles by result",
		},
		[]string{"result"},
	)

	// TickDurationSeconds tracks how long a scan cycle takes.
	TickDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_lifecycle_tick_duration_seconds",
		Help:    "Time spent in one scan cycle",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// StateGauge is 1 for the current lifecycle state and 0 for all others.
	StateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "updown_arb_lifecycle_state",
			Help: "Current lifecycle state (1 = current)",
		},
		[]string{"state"},
	)

	// WindowsTotal counts windows adopted for trading.
	WindowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_lifecycle_windows_total",
		Help: "Total number of windows adopted for trading",
	})

	// DenialsTotal counts opportunities that were not executed, by reason.
	DenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_lifecycle_denials_total",
			Help: "Total number of detected opportunities not executed, by reason",
		},
		[]string{"reason"},
	)

	// PendingSettlements tracks closed windows whose settlement is still unknown.
	PendingSettlements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_lifecycle_pending_settlements",
		Help: "Number of closed windows awaiting settlement",
	})

	// PositionClosesTotal counts attempts to flatten stale positions by result.
	PositionClosesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_lifecycle_position_closes_total",
			Help: "Total number of stale position close attempts by result",
		},
		[]string{"result"},
	)
)
