package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts index operations.
	// Labels: op (upsert, query, drop, partitions, ping), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector index operations",
		},
		[]string{"op", "result"},
	)

	// OperationDuration tracks index operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// QuarantineOperations counts corrupt collections moved aside on load.
	// Labels: result (success, error)
	QuarantineOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "quarantine_operations_total",
			Help:      "Total number of quarantine operations",
		},
		[]string{"result"},
	)

	// Up is 1 when the last ping succeeded, 0 otherwise.
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "up",
			Help:      "Whether the last vector index ping succeeded (1) or failed (0)",
		},
	)
)

// observe records the outcome of one operation. Call it deferred with the
// named error result.
func observe(op string, start time.Time, err error) {
	OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationsTotal.WithLabelValues(op, "error").Inc()
		return
	}
	OperationsTotal.WithLabelValues(op, "success").Inc()
}

// recordPing updates the Up gauge.
func recordPing(err error) {
	if err != nil {
		Up.Set(0)
		return
	}
	Up.Set(1)
}
