package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for admission decisions.
var (
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Total number of admission decisions",
		},
		[]string{"mode", "policy", "outcome", "reason"},
	)

	backendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_backend_failures_total",
			Help: "Total number of state store failures absorbed by the failure policy",
		},
		[]string{"operation"},
	)

	admitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admission_admit_duration_seconds",
			Help:    "Duration of admission checks in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
)

func outcome(allowed, degraded bool) string {
	switch {
	case allowed && degraded:
		return "allowed_degraded"
	case allowed:
		return "allowed"
	default:
		return "rejected"
	}
}
