package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics for monitoring
var (
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_transitions_total",
		Help: "The total number of applied status transitions",
	}, []string{"flow", "from", "to"})

	Conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_transition_conflicts_total",
		Help: "Transitions lost to a concurrent writer",
	}, []string{"flow", "from", "to"})

	IllegalTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_illegal_transitions_total",
		Help: "Transitions rejected because the edge is not in the state graph",
	}, []string{"flow", "from", "to"})

	IntentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_intents_created_total",
		Help: "The total number of accepted intents",
	}, []string{"flow"})

	IntentsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_intents_completed_total",
		Help: "Intents that reached a terminal status",
	}, []string{"flow", "status"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_validation_errors_total",
		Help: "Intents rejected at creation or preflight",
	}, []string{"flow"})

	LegDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relayer_leg_duration_seconds",
		Help:    "Time from submission to confirmed receipt for each on-chain leg",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"chain_id", "leg"})

	ChainErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_chain_errors_total",
		Help: "Chain RPC and contract errors by type",
	}, []string{"chain_id", "error_type"})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_gas_price_gwei",
		Help: "Current gas price in gwei",
	}, []string{"chain_id"})

	BridgeWatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_bridge_watches_total",
		Help: "Bridge completion watches by outcome",
	}, []string{"chain_id", "outcome"})

	BridgedAmount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_last_bridged_amount",
		Help: "Last observed bridged amount in token units",
	}, []string{"chain_id"})

	Nudges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_nudges_total",
		Help: "Settlement nudges by source and outcome",
	}, []string{"source", "outcome"})

	ActiveSettlements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_active_settlements",
		Help: "Settlements currently being driven by a worker",
	})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_retry_queue_size",
		Help: "Current size of the stalled-settlement retry queue",
	})

	RetriesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_retries_executed_total",
		Help: "Number of stalled settlements nudged again",
	}, []string{"error_type"})

	MaxRetriesReached = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_max_retries_reached_total",
		Help: "Number of stalled settlements that exhausted their retries",
	}, []string{"error_type"})

	CircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_circuit_open",
		Help: "1 when the submission circuit breaker of a chain is open",
	}, []string{"chain_id"})
)

// TokenUnits converts an integer amount in smallest units to a float in token units
func TokenUnits(amount string, decimals int32) float64 {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0
	}
	f, _ := d.Shift(-decimals).Float64()
	return f
}
