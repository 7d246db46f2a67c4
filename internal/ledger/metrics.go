package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsTotal counts appended records by kind.
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_ledger_records_total",
			Help: "Total ledger records appended by kind",
		},
		[]string{"kind"},
	)

	AppendErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "updown_arb_ledger_append_errors_total",
			Help: "Total ledger appends that failed to persist",
		},
	)

	AppendDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "updown_arb_ledger_append_duration_seconds",
			Help:    "Time to durably append one ledger record",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	ReplayDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "updown_arb_ledger_replay_duration_seconds",
			Help:    "Time to replay the ledger log at startup",
			Buckets: prometheus.DefBuckets,
		},
	)

	// NetPnL is cumulative realized profit and loss.
	NetPnL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updown_arb_ledger_net_pnl",
			Help: "Cumulative realized profit and loss",
		},
	)

	OpenPositionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updown_arb_ledger_open_positions",
			Help: "Positions held without a hedge",
		},
	)

	PendingAttemptsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updown_arb_ledger_pending_attempts",
			Help: "Journaled attempts without a terminal record",
		},
	)
)
