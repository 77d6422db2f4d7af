// Package metrics provides Prometheus metrics for the Gunner automation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished tracks events published to the bus by kind
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gunner",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Total number of events published to the event bus by kind",
		},
		[]string{"kind"},
	)

	// HandlerInvocations tracks handler invocations by handler id and outcome
	HandlerInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gunner",
			Subsystem: "dispatch",
			Name:      "handler_invocations_total",
			Help:      "Total number of handler invocations by outcome",
		},
		[]string{"handler_id", "outcome"},
	)

	// HandlerDuration tracks handler invocation duration in seconds
	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gunner",
			Subsystem: "dispatch",
			Name:      "handler_duration_seconds",
			Help:      "Duration of handler invocations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"handler_id"},
	)

	// RuleSkips tracks routed events that were skipped before invocation
	RuleSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gunner",
			Subsystem: "dispatch",
			Name:      "rule_skips_total",
			Help:      "Total number of rule dispatches skipped by reason",
		},
		[]string{"rule_id", "reason"},
	)

	// ThrottleQueueDepth tracks calls waiting in the outbound throttle queue
	ThrottleQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gunner",
			Subsystem: "throttle",
			Name:      "queue_depth",
			Help:      "Number of outbound calls waiting in the throttle queue",
		},
	)

	// ThrottleTokens tracks the current token bucket level
	ThrottleTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gunner",
			Subsystem: "throttle",
			Name:      "tokens",
			Help:      "Current token count in the outbound rate limit bucket",
		},
	)

	// ThrottleRetries tracks requeued calls after rate-limit responses
	ThrottleRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gunner",
			Subsystem: "throttle",
			Name:      "retries_total",
			Help:      "Total number of outbound calls requeued after a rate-limit response",
		},
	)

	// PollerTicks tracks poller scan cycles by outcome
	PollerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gunner",
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Total number of anomaly poller ticks by outcome",
		},
		[]string{"outcome"},
	)

	// PollerFirings tracks trigger firings recorded per rule
	PollerFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gunner",
			Subsystem: "poller",
			Name:      "firings_total",
			Help:      "Total number of trigger firings recorded per rule",
		},
		[]string{"rule_id"},
	)

	// ProjectorApplies tracks projection updates by event kind and outcome
	ProjectorApplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gunner",
			Subsystem: "projector",
			Name:      "applies_total",
			Help:      "Total number of projection applies by event kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// DLQEntries tracks outbound calls pushed to the dead letter stream
	DLQEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gunner",
			Subsystem: "dlq",
			Name:      "entries_total",
			Help:      "Total number of entries pushed to the dead letter stream",
		},
	)
)
