// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_events_processed_total",
			Help: "Total number of gateway events processed by the dispatcher",
		},
		[]string{"event_type", "outcome"},
	)

	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_handled_total",
			Help: "Total number of commands handled",
		},
		[]string{"command", "outcome"},
	)

	SweepRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_sweep_runs_total",
			Help: "Total number of expiry sweep cycles executed",
		},
	)

	SweepOverlapSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_sweep_overlap_skipped_total",
			Help: "Sweep ticks skipped because the previous run was still in progress",
		},
	)

	SubscriptionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_subscriptions_expired_total",
			Help: "Subscriptions transitioned from active to canceled by the sweeper",
		},
	)

	SweepItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_sweep_items_skipped_total",
			Help: "Sweep candidates skipped without a status transition",
		},
		[]string{"reason"},
	)

	AccessMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_access_mutations_total",
			Help: "Grant/revoke operations by outcome (applied or already satisfied)",
		},
		[]string{"op", "outcome"},
	)

	RegistryReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_registry_reloads_total",
			Help: "Tenant registry reload attempts",
		},
		[]string{"outcome"},
	)

	AnalyticsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_analytics_dropped_total",
			Help: "Analytics events dropped because the sink buffer was full",
		},
	)

	GatewayFramesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_gateway_frames_rejected_total",
			Help: "Inbound gateway frames rejected by schema validation",
		},
	)
)
