package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerEnabled indicates whether the circuit breaker allows trade execution.
	CircuitBreakerEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_circuit_breaker_enabled",
		Help: "Whether circuit breaker allows trade execution (1=enabled, 0=disabled)",
	})

	// CircuitBreakerConsecutiveFailures tracks failed attempts since the last success.
	CircuitBreakerConsecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_circuit_breaker_consecutive_failures",
		Help: "Consecutive failed execution attempts",
	})

	// CircuitBreakerStateChanges tracks the number of times the circuit breaker changed state.
	CircuitBreakerStateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_circuit_breaker_state_changes_total",
		Help: "Total number of times circuit breaker changed state (enabled/disabled)",
	})

	CircuitBreakerTripsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_circuit_breaker_trips_total",
		Help: "Total number of times consecutive failures tripped the breaker",
	})
)
