// Package metrics provides Prometheus metrics for saltfish.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Operation metrics
	OperationsTotal *prometheus.CounterVec
	RecordsStored   prometheus.Counter
	BatchSize       prometheus.Histogram

	// Storage metrics
	StorageOperations *prometheus.CounterVec
	StorageLatency    *prometheus.HistogramVec
	StorageErrors     *prometheus.CounterVec

	// Listener metrics
	PublicationsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saltfish_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saltfish_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saltfish_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saltfish_operations_total",
			Help: "Dataset operations by outcome status",
		},
		[]string{"operation", "status"},
	)

	m.RecordsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "saltfish_records_stored_total",
			Help: "Total number of records written to the object store",
		},
	)

	m.BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saltfish_put_records_batch_size",
			Help:    "Number of records per put-records request",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	m.StorageOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saltfish_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"backend", "operation"},
	)

	m.StorageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saltfish_storage_latency_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	m.StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saltfish_storage_errors_total",
			Help: "Total number of storage errors",
		},
		[]string{"backend", "operation"},
	)

	m.PublicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saltfish_publications_total",
			Help: "Listener bus publications by request kind",
		},
		[]string{"kind"},
	)

	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.OperationsTotal,
		m.RecordsStored,
		m.BatchSize,
		m.StorageOperations,
		m.StorageLatency,
		m.StorageErrors,
		m.PublicationsTotal,
	)

	// Also register the default collectors (go runtime, process info)
	m.registry.MustRegister(prometheus.NewGoCollector())
	m.registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		m.RequestsInFlight.Inc()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		path := normalizePath(r.URL.Path)

		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordOperation records one dataset operation outcome.
func (m *Metrics) RecordOperation(operation, status string) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordBatch records a successfully stored record batch.
func (m *Metrics) RecordBatch(size int) {
	m.BatchSize.Observe(float64(size))
	m.RecordsStored.Add(float64(size))
}

// RecordStorageOperation records a storage operation.
func (m *Metrics) RecordStorageOperation(backend, operation string, duration time.Duration, err error) {
	m.StorageOperations.WithLabelValues(backend, operation).Inc()
	m.StorageLatency.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		m.StorageErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordPublication records a listener bus publication.
func (m *Metrics) RecordPublication(kind string) {
	m.PublicationsTotal.WithLabelValues(kind).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath collapses per-dataset paths to keep label cardinality
// bounded.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/rpc/datasets/") {
		if strings.HasSuffix(path, "/summary") {
			return "/rpc/datasets/{id}/summary"
		}
		return "/rpc/datasets/{id}"
	}
	return path
}
