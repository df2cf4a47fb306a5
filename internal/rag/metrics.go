package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	embeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "embedding",
			Name:      "cache_hits_total",
			Help:      "Embedding lookups served from cache",
		},
	)

	embeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "embedding",
			Name:      "cache_misses_total",
			Help:      "Texts sent to the embedding provider",
		},
	)

	// Labels: provider
	embeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orion",
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Duration of embedding provider calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Labels: provider
	embeddingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "embedding",
			Name:      "errors_total",
			Help:      "Embedding calls that failed after retries",
		},
		[]string{"provider"},
	)

	// Labels: backend, op, result (success, error)
	vectorStoreOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Vector store operations by result",
		},
		[]string{"backend", "op", "result"},
	)

	// Labels: backend, op
	vectorStoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "orion",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)
