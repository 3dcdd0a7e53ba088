package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NodeHealthy tracks the last-observed health of a node (1 healthy, 0 unhealthy).
var NodeHealthy = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "forge_node_healthy",
		Help: "Last-observed health of a worker node (1 healthy, 0 unhealthy)",
	},
	[]string{"node_id", "tier"},
)

// NodeQueueDepth tracks in-flight job count per node.
var NodeQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "forge_node_queue_depth",
		Help: "Current in-flight job count on a worker node",
	},
	[]string{"node_id", "tier"},
)

// NodeHealthTransitionsTotal counts healthy<->unhealthy flips per node.
var NodeHealthTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "forge_node_health_transitions_total",
		Help: "Total number of health state transitions observed for a node",
	},
	[]string{"node_id"},
)

// ProbeDuration tracks health-probe round-trip latency.
var ProbeDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "forge_probe_duration_seconds",
		Help:    "Health probe round-trip latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"node_id"},
)

// ProbesTotal counts probe attempts by outcome.
var ProbesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "forge_probes_total",
		Help: "Total health probes attempted, labeled by outcome",
	},
	[]string{"node_id", "outcome"},
)

// JobsDispatchedTotal counts jobs handed to a worker node.
var JobsDispatchedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "forge_jobs_dispatched_total",
		Help: "Total jobs dispatched to a worker node",
	},
	[]string{"node_id", "task_class"},
)

// JobsCompletedTotal counts jobs that finished successfully.
var JobsCompletedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "forge_jobs_completed_total",
		Help: "Total jobs that completed successfully",
	},
	[]string{"node_id", "task_class"},
)

// JobsFailedTotal counts jobs that finished in a failed state.
var JobsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "forge_jobs_failed_total",
		Help: "Total jobs that failed, labeled by reason",
	},
	[]string{"node_id", "reason"},
)

// JobDuration tracks wall-clock job duration from dispatch to terminal state.
var JobDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "forge_job_duration_seconds",
		Help:    "Job duration from dispatch to terminal state",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"task_class"},
)

// InflightCorrelations tracks open job-id-to-session correlations held by
// the progress aggregator.
var InflightCorrelations = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "forge_inflight_correlations",
		Help: "Current number of open job correlations in the progress aggregator",
	},
)

// SessionSubscribers tracks the number of live WebSocket subscribers per session.
var SessionSubscribers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "forge_session_subscribers",
		Help: "Current number of subscribers attached to a session's event stream",
	},
	[]string{"session_id"},
)

// EventsDroppedTotal counts progress events dropped because a subscriber's
// channel was full. Complete and error events are never dropped.
var EventsDroppedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "forge_events_dropped_total",
		Help: "Total progress events dropped due to a full subscriber channel",
	},
	[]string{"session_id"},
)

// RouterOverflowTotal counts jobs routed via tier overflow spill.
var RouterOverflowTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "forge_router_overflow_total",
		Help: "Total jobs routed via tier overflow spill",
	},
	[]string{"task_class"},
)

// PreferenceRecordsTotal counts ingested preference feedback records.
var PreferenceRecordsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "forge_preference_records_total",
		Help: "Total preference feedback records ingested",
	},
	[]string{"action"},
)
