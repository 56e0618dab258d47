package pipeline

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AsksTotal counts questions.
	// Labels: outcome (answered, insufficient_context, request_error, retrieval_error, generation_error)
	AsksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "pipeline",
			Name:      "asks_total",
			Help:      "Total number of questions asked",
		},
		[]string{"outcome"},
	)

	// AskDuration tracks end-to-end Ask latency.
	AskDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "pipeline",
			Name:      "ask_duration_seconds",
			Help:      "Duration of Ask calls in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// BuildsTotal counts index builds.
	// Labels: result (success, error)
	BuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "pipeline",
			Name:      "builds_total",
			Help:      "Total number of index builds",
		},
		[]string{"result"},
	)

	// IndexedChunks is the chunk count of the published generation.
	IndexedChunks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ragd",
			Subsystem: "pipeline",
			Name:      "indexed_chunks",
			Help:      "Number of chunks in the published index generation",
		},
	)
)

func askOutcome(err error, insufficient bool) string {
	if err == nil {
		if insufficient {
			return "insufficient_context"
		}
		return "answered"
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Origin.String() + "_error"
	}
	return "request_error"
}

func buildResult(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
