package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// MATICBalance tracks the current MATIC balance for gas fees.
	MATICBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_wallet_matic_balance",
		Help: "Current MATIC balance in wallet (native units)",
	})

	// USDCBalance tracks the current USDC balance for trading.
	USDCBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_wallet_usdc_balance",
		Help: "Current USDC balance in wallet (USD)",
	})

	// USDCAllowance tracks the USDC allowance approved to CTF Exchange.
	USDCAllowance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "updown_arb_wallet_usdc_allowance",
		Help: "USDC allowance approved to CTF Exchange (USD)",
	})

	// FetchErrorsTotal tracks failed balance reads.
	FetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "updown_arb_wallet_fetch_errors_total",
		Help: "Total number of failed wallet balance reads",
	})

	// FetchDuration tracks the time taken to read balances.
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "updown_arb_wallet_fetch_duration_seconds",
		Help:    "Time taken to read wallet balances (seconds)",
		Buckets: prometheus.DefBuckets,
	})
)
