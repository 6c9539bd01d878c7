package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for state store operations.
var (
	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_store_operations_total",
			Help: "Total number of state store operations",
		},
		[]string{"store", "operation", "status"},
	)

	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admission_store_operation_duration_seconds",
			Help:    "Duration of state store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"store", "operation"},
	)

	storeBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "admission_store_breaker_state",
			Help: "Circuit breaker state of the state store (0=closed, 1=half-open, 2=open)",
		},
		[]string{"store"},
	)
)

const (
	statusOK          = "ok"
	statusError       = "error"
	statusCanceled    = "canceled"
	statusCircuitOpen = "circuit_open"
)
