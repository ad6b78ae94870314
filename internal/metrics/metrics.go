package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Settlement pipeline

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offramp_settlements_total",
			Help: "Total settlement runs by outcome",
		},
		[]string{"outcome"}, // completed, no_deposit, failed, payout_deferred, already_processing
	)

	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offramp_settlement_duration_seconds",
		Help:    "Duration of a full settlement run",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// Swap routing

	SwapAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offramp_swap_attempts_total",
			Help: "Swap provider attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	SwapRouterExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offramp_swap_router_exhausted_total",
		Help: "Swaps where every provider layer failed",
	})

	// Payouts

	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offramp_payouts_total",
			Help: "Bank payout dispatches by outcome",
		},
		[]string{"outcome"}, // dispatched, reused_reference, provider_error
	)

	// Wallet scanning

	ScanErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offramp_scan_errors_total",
		Help: "Per-token balance check failures tolerated during scans",
	})

	// Sweep job

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offramp_sweep_runs_total",
		Help: "Periodic settlement sweep executions",
	})

	SweepTransactionsPicked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "offramp_sweep_transactions_picked",
		Help: "Transactions picked up by the last sweep run",
	})
)
