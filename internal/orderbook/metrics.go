package orderbook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpdatesTotal tracks orderbook updates by event type.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_orderbook_updates_total",
			Help: "Total number of orderbook updates",
		},
		[]string{"event_type"},
	)

	// SnapshotsTracked tracks the number of orderbook snapshots in memory.
	SnapshotsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_orderbook_snapshots_tracked",
		Help: "Number of orderbook snapshots tracked in memory",
	})

	UpdateProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_orderbook_update_processing_seconds",
		Help:    "Time to apply one stream message",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01},
	})

	LockContentionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_orderbook_lock_wait_seconds",
		Help:    "Time spent waiting for the book lock",
		Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001},
	})

	UpdatesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_orderbook_updates_dropped_total",
			Help: "Snapshot notifications dropped by reason",
		},
		[]string{"reason"},
	)
)
