// Package observability provides the Prometheus collectors shared by the
// cache, rate limiter, pipeline and HTTP layers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cakisi"

var (
	// RequestsTotal counts HTTP requests by method, route and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestLatency observes HTTP request latency by method and route.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"method", "endpoint"},
	)

	// ToolCalls counts tool invocations by tool and outcome.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total tool API calls",
		},
		[]string{"tool", "status"},
	)

	// ToolLatency observes tool processing time.
	ToolLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "Tool processing latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"tool"},
	)

	// UploadBytes observes accepted upload sizes.
	UploadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_upload_size_bytes",
			Help:      "Uploaded file size in bytes",
			Buckets:   []float64{1024, 10240, 102400, 1048576, 5242880, 10485760, 26214400},
		},
		[]string{"tool"},
	)

	// CacheHits counts cache hits by tool and the layer that answered.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total cache hits",
		},
		[]string{"tool", "source"},
	)

	// CacheMisses counts cache misses by tool.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total cache misses",
		},
		[]string{"tool"},
	)

	// RemoteUnavailable counts remote store operations that fell back to memory.
	RemoteUnavailable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_store_unavailable_total",
			Help:      "Remote store operations that degraded to the in-memory fallback",
		},
		[]string{"namespace", "op"},
	)

	// RateLimitRejections counts rejected requests by kind (requests, upload).
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"kind", "source"},
	)

	// PipelineFiles counts pipeline file lifecycle events
	// (created, resolved, expired, orphaned, swept).
	PipelineFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_files_total",
			Help:      "Pipeline file lifecycle events",
		},
		[]string{"event"},
	)
)
