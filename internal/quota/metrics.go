package quota

import "github.com/prometheus/client_golang/prometheus"

var (
	// admissions counts Admit outcomes by service and decision.
	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_admissions_total",
			Help: "Quota admission decisions by service and outcome (allowed|denied).",
		},
		[]string{"service", "outcome"},
	)

	// commits counts consumed quota units.
	commits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_commits_total",
			Help: "Quota units consumed by successful generations.",
		},
		[]string{"service"},
	)

	// reservations gauges admitted tickets that are neither committed nor released.
	reservations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quota_inflight_reservations",
			Help: "Admitted requests still holding a quota reservation.",
		},
	)
)

func init() {
	prometheus.MustRegister(admissions, commits, reservations)
}
