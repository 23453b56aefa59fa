package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestd",
			Subsystem: "refresh",
			Name:      "total",
			Help:      "Refresh attempts by concern and outcome",
		},
		[]string{"concern", "outcome"},
	)

	refreshStaleDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchestd",
			Subsystem: "refresh",
			Name:      "stale_drops_total",
			Help:      "Refresh responses discarded because a newer run superseded them",
		},
	)

	refreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "orchestd",
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Duration of full refresh runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(refreshTotal, refreshStaleDrops, refreshDuration)
}
