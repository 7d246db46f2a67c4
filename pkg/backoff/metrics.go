package backoff

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetriesTotal counts failed attempts that were followed by a retry decision.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_retries_total",
			Help: "Total failed attempts of retried operations",
		},
		[]string{"operation"},
	)

	// RetriesExhaustedTotal counts operations that failed every attempt.
	RetriesExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_arb_retries_exhausted_total",
			Help: "Total operations that exhausted their retry budget",
		},
		[]string{"operation"},
	)
)
