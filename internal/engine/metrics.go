package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unknownModelLabel keeps caller-supplied ids out of metric labels.
const unknownModelLabel = "unknown"

var (
	// Labels: model, outcome (success, or a failure kind)
	llmAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "Provider attempts by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	// Labels: model
	llmAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orion",
			Subsystem: "llm",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of provider attempts",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"model"},
	)

	// Labels: request_type, result (success, exhausted, canceled, invalid)
	llmGenerations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "llm",
			Name:      "generations_total",
			Help:      "Orchestrator invocations by result",
		},
		[]string{"request_type", "result"},
	)

	// Labels: model, status. Unconfigured ids share unknownModelLabel.
	llmProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "llm",
			Name:      "health_probes_total",
			Help:      "Provider health probes by result",
		},
		[]string{"model", "status"},
	)
)
