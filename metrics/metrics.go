package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fds_transactions_evaluated_total",
			Help: "Total number of transactions fully evaluated against the rule catalog",
		},
	)

	// RuleMatches counts condition tree matches.
	// Labels:
	//   - rule_id: the matching rule
	//   - outcome: "below_threshold", "detected" or "terminal"
	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fds_rule_matches_total",
			Help: "Total number of rule condition tree matches by outcome",
		},
		[]string{"rule_id", "outcome"},
	)

	// LeafFailClosed counts leaves that evaluated false because of unusable data.
	// Labels:
	//   - reason: "missing_field", "timestamp", "aggregation", "type_mismatch", "pattern_timeout"
	LeafFailClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fds_leaf_fail_closed_total",
			Help: "Total number of leaf evaluations that failed closed",
		},
		[]string{"reason"},
	)

	IncidentsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fds_incidents_raised_total",
			Help: "Total number of incidents raised by terminal detections",
		},
		[]string{"action", "level"},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fds_actions_executed_total",
			Help: "Total number of on-detected caching actions executed",
		},
		[]string{"type"},
	)

	StoreResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fds_store_resets_total",
			Help: "Total number of counter store flushes triggered by terminal detections",
		},
	)

	EvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fds_evaluation_errors_total",
			Help: "Total number of batch evaluations aborted by a fatal error",
		},
		[]string{"kind"},
	)

	BatchEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fds_batch_evaluation_duration_seconds",
			Help:    "Time taken to evaluate a transaction batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StoreOperations counts counter store calls.
	// Labels:
	//   - op: redis command family
	//   - status: "ok", "error" or "rejected" (circuit breaker open)
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fds_store_operations_total",
			Help: "Total number of counter store operations",
		},
		[]string{"op", "status"},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fds_store_operation_duration_seconds",
			Help:    "Counter store round trip latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"op"},
	)

	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fds_stream_messages_consumed_total",
			Help: "Total number of transaction messages consumed from the stream",
		},
		[]string{"status"},
	)

	IncidentsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fds_stream_incidents_published_total",
			Help: "Total number of incidents published to the incident topic",
		},
		[]string{"status"},
	)
)
