// Package observability carries the ambient metrics and logging helpers
// shared across components. Grounded on control_plane/observability/metrics.go's
// promauto catalog, trimmed from FluxForge's fleet-coordination metrics
// (leader epoch, domain health, node saturation) down to this domain's
// actual surface: task throughput, queue depth, dispatch latency, policy
// denials.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted counts Submit calls by task type and outcome.
	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskctl_tasks_submitted_total",
		Help: "Total task submissions by type and outcome",
	}, []string{"type", "outcome"}) // outcome: accepted, policy_denied, invalid, store_error

	// TasksCompleted counts terminal transitions by type and final status.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskctl_tasks_completed_total",
		Help: "Total terminal task transitions by type and status",
	}, []string{"type", "status"}) // status: completed, failed, cancelled

	// QueueDepth tracks the scheduler's ready-to-run queue length.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskctl_queue_depth",
		Help: "Current number of tasks waiting to be dispatched",
	})

	// InFlight tracks the number of currently executing tasks.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskctl_in_flight_tasks",
		Help: "Current number of tasks with a running execution context",
	})

	// DispatchLoopDuration tracks one tick() iteration's wall time.
	DispatchLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskctl_dispatch_tick_seconds",
		Help:    "Duration of one scheduler dispatch tick",
		Buckets: prometheus.DefBuckets,
	})

	// TaskRuntime tracks execution-context wall time by task type.
	TaskRuntime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskctl_task_runtime_seconds",
		Help:    "Execution-context duration by task type",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"type"})

	// PolicyDecisions counts every Policy Engine Allow/Deny outcome.
	PolicyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskctl_policy_decisions_total",
		Help: "Total Policy Engine decisions by type and allowed/denied",
	}, []string{"type", "allowed"})

	// StaleTasksReaped counts rows MarkStale transitioned to Failed.
	StaleTasksReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskctl_stale_tasks_reaped_total",
		Help: "Total tasks force-failed by the staleness reaper, by type",
	}, []string{"type"})
)
