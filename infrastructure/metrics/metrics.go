// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Scan lifecycle metrics
	ScansTotal       *prometheus.CounterVec
	ScanDuration     *prometheus.HistogramVec
	ChunksTotal      *prometheus.CounterVec
	ChunkDuration    *prometheus.HistogramVec
	QueueDepth       prometheus.Gauge
	ActiveWorkers    *prometheus.GaugeVec
	FindingsEmitted  *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Scan lifecycle metrics
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scans_total",
				Help: "Total number of scans by terminal state",
			},
			[]string{"service", "state"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scan_duration_seconds",
				Help:    "End-to-end scan duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"service"},
		),
		ChunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chunks_total",
				Help: "Total number of chunk jobs by exit kind",
			},
			[]string{"service", "engine", "exit_kind"},
		),
		ChunkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chunk_duration_seconds",
				Help:    "Chunk job run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"service", "engine"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "job_queue_depth",
				Help: "Current number of jobs waiting in the queue",
			},
		),
		ActiveWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "active_workers",
				Help: "Current number of running worker processes",
			},
			[]string{"service", "engine"},
		),
		FindingsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "findings_emitted_total",
				Help: "Total number of findings emitted by engines before merge/dedup",
			},
			[]string{"service", "engine", "severity"},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.ScansTotal,
			m.ScanDuration,
			m.ChunksTotal,
			m.ChunkDuration,
			m.QueueDepth,
			m.ActiveWorkers,
			m.FindingsEmitted,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", Env()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordScanCompleted records a scan reaching a terminal state.
func (m *Metrics) RecordScanCompleted(service, state string, duration time.Duration) {
	m.ScansTotal.WithLabelValues(service, state).Inc()
	m.ScanDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordChunkCompleted records a chunk job finishing with a given exit kind
// (completed, failed, timed_out, killed).
func (m *Metrics) RecordChunkCompleted(service, engine, exitKind string, duration time.Duration) {
	m.ChunksTotal.WithLabelValues(service, engine, exitKind).Inc()
	m.ChunkDuration.WithLabelValues(service, engine).Observe(duration.Seconds())
}

// RecordFindingsEmitted records findings an engine produced for a chunk,
// before cross-chunk merge/dedup.
func (m *Metrics) RecordFindingsEmitted(service, engine, severity string, count int) {
	m.FindingsEmitted.WithLabelValues(service, engine, severity).Add(float64(count))
}

// SetQueueDepth sets the current job queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// SetActiveWorkers sets the current number of running worker processes for an engine.
func (m *Metrics) SetActiveWorkers(service, engine string, count int) {
	m.ActiveWorkers.WithLabelValues(service, engine).Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

// Env returns the deployment environment name from APP_ENV, defaulting to
// "development" when unset.
func Env() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// IsProduction reports whether Env() is "production".
func IsProduction() bool {
	return Env() == "production"
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
