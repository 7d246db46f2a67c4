package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_ws_active_connections",
		Help: "Number of active market-channel connections",
	})

	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_ws_reconnect_attempts_total",
		Help: "Total reconnection attempts",
	})

	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_ws_reconnect_failures_total",
		Help: "Total failed reconnection attempts",
	})

	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_ws_messages_received_total",
			Help: "Total messages received by event type",
		},
		[]string{"event_type"},
	)

	MessageLatencySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_ws_message_latency_seconds",
		Help:    "Time to hand a decoded message to the consumer",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
	})

	SubscriptionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_ws_subscription_count",
		Help: "Number of subscribed tokens",
	})

	MessagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_ws_messages_dropped_total",
			Help: "Total messages dropped by reason",
		},
		[]string{"reason"},
	)

	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_ws_connection_duration_seconds",
		Help:    "Lifetime of a connection before it dropped",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400},
	})

	UnsubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_ws_unsubscriptions_total",
		Help: "Total unsubscribe operations",
	})
)
