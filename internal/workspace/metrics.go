package workspace

import "github.com/prometheus/client_golang/prometheus"

var (
	// activeWorkspaces gauges checkouts that exist on disk right now.
	activeWorkspaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "workspaces_active",
			Help: "Ephemeral workspaces currently present on disk.",
		},
	)

	// checkoutDuration records how long repository checkouts take by outcome.
	checkoutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workspace_checkout_duration_seconds",
			Help:    "Duration of repository checkouts in seconds.",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// cleanupFailures counts workspaces whose removal failed. A non-zero rate
	// means disk space is leaking.
	cleanupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "workspace_cleanup_failures_total",
			Help: "Workspace removals that failed and left files behind.",
		},
	)
)

func init() {
	prometheus.MustRegister(activeWorkspaces, checkoutDuration, cleanupFailures)
}
