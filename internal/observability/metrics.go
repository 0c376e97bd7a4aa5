package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the risk engine.
type Metrics struct {
	// --- Validation ---
	Validations        *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec

	// --- Oracle ---
	OracleFetchDuration prometheus.Histogram
	OracleFailures      *prometheus.CounterVec
	QuoteAge            prometheus.Gauge
	QuotePrice          prometheus.Gauge

	// --- Chain reads ---
	ChainCalls       *prometheus.CounterVec
	ChainCallLatency *prometheus.HistogramVec
	ChainRetries     *prometheus.CounterVec

	// --- Position cache ---
	CacheHits       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram

	// --- Contract drift ---
	HealthFactorDrift  prometheus.Histogram
	HealthFactorDrifts prometheus.Counter

	// --- Intents & results ---
	IntentsPublished *prometheus.CounterVec
	IntentPublishErr *prometheus.CounterVec
	ActionResults    *prometheus.CounterVec
	DuplicateResults *prometheus.CounterVec
	ActionsInFlight  prometheus.Gauge

	// --- Persistence ---
	PersistErrors *prometheus.CounterVec

	// --- API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	rpcBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	apiBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025,
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
	}

	return &Metrics{
		Validations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_validations_total",
			Help: "Action validations by action and outcome kind",
		}, []string{"action", "outcome"}),

		ValidationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "btcfi_validation_duration_seconds",
			Help:    "End-to-end gate latency including refresh and quote fetch",
			Buckets: rpcBuckets,
		}, []string{"action"}),

		OracleFetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "btcfi_oracle_fetch_duration_seconds",
			Help:    "Price source fetch latency",
			Buckets: rpcBuckets,
		}),

		OracleFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_oracle_failures_total",
			Help: "Quote fetches that produced OracleUnavailable",
		}, []string{"reason"}),

		QuoteAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "btcfi_quote_age_seconds",
			Help: "Age of the last quote at validation time",
		}),

		QuotePrice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "btcfi_quote_price",
			Help: "Last normalized collateral price (display units)",
		}),

		ChainCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_chain_calls_total",
			Help: "Contract view calls by method and status",
		}, []string{"method", "status"}),

		ChainCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "btcfi_chain_call_duration_seconds",
			Help:    "Contract view call latency",
			Buckets: rpcBuckets,
		}, []string{"method"}),

		ChainRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_chain_retries_total",
			Help: "Retried contract view calls",
		}, []string{"method"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_position_cache_lookups_total",
			Help: "Position cache lookups by result (hit/miss)",
		}, []string{"result"}),

		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "btcfi_position_refresh_duration_seconds",
			Help:    "Time to refresh a position from the external ledger",
			Buckets: rpcBuckets,
		}),

		HealthFactorDrift: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "btcfi_health_factor_drift_hundredths",
			Help:    "Absolute difference between contract and local health factor (x100)",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),

		HealthFactorDrifts: factory.NewCounter(prometheus.CounterOpts{
			Name: "btcfi_health_factor_drift_exceeded_total",
			Help: "Drift checks above tolerance",
		}),

		IntentsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_intents_published_total",
			Help: "Validated intents handed to the external ledger",
		}, []string{"action"}),

		IntentPublishErr: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_intent_publish_errors_total",
			Help: "Intent publish failures",
		}, []string{"action"}),

		ActionResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_action_results_total",
			Help: "Execution results received from the external ledger",
		}, []string{"action", "outcome"}),

		DuplicateResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_duplicate_results_total",
			Help: "Redelivered execution results, by where they were caught",
		}, []string{"tier"}),

		ActionsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "btcfi_actions_in_flight",
			Help: "Actions awaiting an execution result",
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"operation"}),

		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "btcfi_api_requests_total",
			Help: "API requests",
		}, []string{"route", "status"}),

		APIDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "btcfi_api_duration_seconds",
			Help:    "API latency",
			Buckets: apiBuckets,
		}, []string{"route"}),
	}
}
