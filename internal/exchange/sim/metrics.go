package sim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SimOrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_sim_orders_total",
			Help: "Total simulated orders by action and status",
		},
		[]string{"action", "status"},
	)

	SimBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updown_arb_sim_balance",
			Help: "Simulated collateral balance",
		},
	)
)
