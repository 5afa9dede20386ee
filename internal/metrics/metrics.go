package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transform stage metrics
var (
	TransformsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_transforms_total",
			Help: "Total number of transform tasks by side and status",
		},
		[]string{"side", "status"},
	)

	TransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crossjoin_transform_duration_seconds",
			Help:    "Transform task duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"side"},
	)

	ReadyItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossjoin_ready_items",
			Help: "Number of items currently in the Ready state per side",
		},
		[]string{"side"},
	)
)

// Join stage metrics
var (
	JoinsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_joins_total",
			Help: "Total number of join tasks by status",
		},
		[]string{"status"},
	)

	JoinDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crossjoin_join_duration_seconds",
			Help:    "Join task duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	PairsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crossjoin_pairs_created_total",
			Help: "Total number of pair tasks created by the pairing scheduler",
		},
	)

	PairsDuplicateRace = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crossjoin_pairs_duplicate_race_total",
			Help: "Pairing attempts that lost the check-and-insert race",
		},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_dead_letters_total",
			Help: "Entities routed to the dead-letter set after retry exhaustion",
		},
		[]string{"entity"},
	)
)

// Worker pool metrics
var (
	PoolQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossjoin_pool_queue_depth",
			Help: "Current depth of the worker pool submission queue",
		},
		[]string{"pool"},
	)

	PoolTasksInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crossjoin_pool_tasks_in_flight",
			Help: "Number of tasks currently executing per pool",
		},
		[]string{"pool"},
	)

	PoolSubmitBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_pool_submit_blocked_total",
			Help: "Submissions that blocked on a full queue (backpressure)",
		},
		[]string{"pool"},
	)
)

// Recovery ledger metrics
var (
	LedgerQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_ledger_queries_total",
			Help: "Total number of ledger queries",
		},
		[]string{"operation", "status"},
	)

	LedgerQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crossjoin_ledger_query_duration_seconds",
			Help:    "Ledger query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	LedgerRecoveredEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_ledger_recovered_entities_total",
			Help: "Entities requeued from an in-progress state at startup",
		},
		[]string{"entity"},
	)
)

// Scanner metrics (distributed mode)
var (
	ScannerPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crossjoin_scanner_polls_total",
			Help: "Total number of shared-directory readiness scans",
		},
	)

	ScannerPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crossjoin_scanner_poll_duration_seconds",
			Help:    "Duration of shared-directory readiness scans",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	ScannerDiscoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_scanner_discoveries_total",
			Help: "Artifacts discovered ready via shared-directory scans",
		},
		[]string{"side"},
	)
)

// Filesystem retry metrics (shared/NFS directories)
var (
	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_filesystem_stale_errors_total",
			Help: "ESTALE errors observed on the shared filesystem",
		},
		[]string{"operation"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_filesystem_retry_success_total",
			Help: "Filesystem operations that succeeded after retrying",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crossjoin_filesystem_retry_failures_total",
			Help: "Filesystem operations that failed after exhausting retries",
		},
		[]string{"operation"},
	)
)
