package alert

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AlertsTotal counts delivered alerts by channel and level.
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_alerts_total",
			Help: "Operator alerts delivered by channel and level",
		},
		[]string{"channel", "level"},
	)

	// AlertErrorsTotal counts failed deliveries.
	AlertErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_alert_errors_total",
		Help: "Operator alerts that failed to deliver",
	})

	// AlertsDroppedTotal counts alerts dropped because the queue was full.
	AlertsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_alerts_dropped_total",
		Help: "Operator alerts dropped on a full queue",
	})
)
