package clob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts venue API requests by endpoint and HTTP status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_clob_requests_total",
			Help: "Total venue API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// RequestDurationSeconds tracks venue API latency.
	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "updown_arb_clob_request_duration_seconds",
			Help:    "Venue API request latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)

	// QuoteSourceTotal counts quotes served from the stream versus REST.
	QuoteSourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_clob_quote_source_total",
			Help: "Top-of-book reads by source (stream, rest)",
		},
		[]string{"source"},
	)

	// OrderRejectionsTotal counts orders the venue refused, by error code.
	OrderRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_clob_order_rejections_total",
			Help: "Orders rejected by the venue by error code",
		},
		[]string{"code"},
	)
)
