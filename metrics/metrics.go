// Package metrics holds the Prometheus collectors of the points economy.
// Collectors register with the default registry and are served by
// promhttp at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "questpoints"

// =============================================================================
// REDEMPTION
// =============================================================================

// Redemptions counts redeem attempts by result ("ok" or an error code).
var Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "redemptions_total",
	Help:      "Reward redemption attempts by result",
}, []string{"result"})

var TasksLocked = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_locked_total",
	Help:      "Tasks locked by reward redemptions",
})

var PointsLocked = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "points_locked_total",
	Help:      "Points locked by reward redemptions, overshoot included",
})

var RedemptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "redemption_duration_seconds",
	Help:      "Time spent in the redemption transaction",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
})

// =============================================================================
// TASKS
// =============================================================================

// CounterIncrements counts counter increments by result: ok, rejected, failed.
var CounterIncrements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "counter_increments_total",
	Help:      "Counter task increments by result",
}, []string{"result"})

// TaskCompletions counts completion toggles by direction: completed, reopened.
var TaskCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "task_completions_total",
	Help:      "Task completion state changes by direction",
}, []string{"direction"})

// =============================================================================
// CLIENT
// =============================================================================

// OptimisticMutations counts client mutations by outcome: committed,
// rolled_back, abandoned.
var OptimisticMutations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "optimistic_mutations_total",
	Help:      "Optimistic client mutations by outcome",
}, []string{"outcome"})

// =============================================================================
// LEDGER
// =============================================================================

// Ledger holds the last ledger snapshot taken by the reporter, by component:
// earned, penalties, spent, balance.
var Ledger = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "ledger_points",
	Help:      "Points in the ledger by component at the last report",
}, []string{"component"})
