// Package metrics holds the Prometheus collectors of the api and worker
// services: HTTP traffic, job ingestion, pipeline stages, searches and the
// circuit breakers around the transcription and embedding services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "sts"

type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	JobsCreatedTotal     prometheus.Counter
	JobsProcessedTotal   *prometheus.CounterVec
	PipelineStageLatency *prometheus.HistogramVec
	SegmentsPersisted    prometheus.Counter
	DispatchTotal        *prometheus.CounterVec

	SearchesTotal    *prometheus.CounterVec
	SearchLatency    prometheus.Histogram
	SearchCorpusSize prometheus.Histogram

	CircuitBreakerState *prometheus.GaugeVec
}

// Pipeline stages run from milliseconds (persist) to many minutes
// (transcribing a long stream).
var stageBuckets = []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900}

// New registers the collectors with reg, or with the default registerer when
// reg is nil. Tests pass prometheus.NewRegistry() so that repeated calls do
// not collide.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace, Subsystem: "http", Name: "requests_in_flight",
			Help: "HTTP requests being served.",
		}),

		JobsCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "jobs", Name: "created_total",
			Help: "Ingestion jobs created.",
		}),
		JobsProcessedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "jobs", Name: "processed_total",
			Help: "Pipeline runs by outcome: done, upstream_error, persistence_error or error.",
		}, []string{"outcome"}),
		PipelineStageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "pipeline", Name: "stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: stageBuckets,
		}, []string{"stage"}),
		SegmentsPersisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "pipeline", Name: "segments_persisted_total",
			Help: "Transcript segments written to the store.",
		}),
		DispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "dispatch", Name: "operations_total",
			Help: "Job dispatch operations by direction (enqueue, dequeue) and status.",
		}, []string{"direction", "status"}),

		SearchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Subsystem: "search", Name: "requests_total",
			Help: "Searches by outcome: ok, empty_query, no_corpus or error.",
		}, []string{"outcome"}),
		SearchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "search", Name: "latency_seconds",
			Help:    "End-to-end search latency, corpus load included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2.5, 10),
		}),
		SearchCorpusSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Subsystem: "search", Name: "corpus_segments",
			Help:    "Segments indexed for one search.",
			Buckets: []float64{0, 10, 100, 1000, 10000, 100000},
		}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "circuit_breaker_state",
			Help: "Breaker state per upstream service: 0 closed, 1 open, 2 half-open.",
		}, []string{"name"}),
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
