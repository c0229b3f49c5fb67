package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// generations counts generation requests by service and outcome
	// (success or a Kind).
	generations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_requests_total",
			Help: "Artifact generation requests by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	// generationLatency records end-to-end pipeline duration per service.
	generationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_duration_seconds",
			Help:    "Duration of artifact generation in seconds.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"service"},
	)
)

func init() {
	prometheus.MustRegister(generations, generationLatency)
}
