package arbitrage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpportunitiesDetectedTotal tracks arbitrage opportunities detected.
	OpportunitiesDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_opportunities_detected_total",
		Help: "Total number of arbitrage opportunities detected",
	})

	// OpportunityProfitBPS tracks profit margins in basis points.
	OpportunityProfitBPS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_opportunity_profit_bps",
		Help:    "Arbitrage opportunity profit margin in basis points",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	})

	// OpportunitySizeUnits tracks proposed trade sizes.
	OpportunitySizeUnits = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_opportunity_size_units",
		Help:    "Arbitrage opportunity proposed size in units per leg",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	})

	// DetectionDurationSeconds tracks detection latency.
	DetectionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_detection_duration_seconds",
		Help:    "Duration of arbitrage detection",
		Buckets: prometheus.DefBuckets,
	})

	// OpportunitiesRejectedTotal tracks rejected quote pairs by reason.
	OpportunitiesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_opportunities_rejected_total",
			Help: "Total number of quote pairs rejected by the detector",
		},
		[]string{"reason"},
	)

	// QuoteAgeSeconds tracks how old the newer quote was when the opportunity was detected.
	QuoteAgeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_quote_age_seconds",
		Help:    "Age of the quotes an opportunity was detected from",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)
