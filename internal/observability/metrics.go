package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kumbukumbu"

// MetricsCollector holds all Prometheus metrics for kumbukumbu.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Engine metrics.
	EngineOperationsTotal   *prometheus.CounterVec
	EngineOperationDuration *prometheus.HistogramVec
	EngineRecordsReturned   *prometheus.HistogramVec

	// Audit metrics. The counter is handed to audit.Writer.
	AuditFailuresTotal *prometheus.CounterVec

	// Ops HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		EngineOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total engine operations by entity type, operation and outcome.",
		}, []string{"entity_type", "operation", "outcome"}),

		EngineOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation duration in seconds, retries included.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}, []string{"entity_type", "operation"}),

		EngineRecordsReturned: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "list_records_returned",
			Help:      "Number of records returned per list operation.",
			Buckets:   []float64{0, 1, 10, 50, 100, 500, 1000},
		}, []string{"entity_type"}),

		AuditFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "failures_total",
			Help:      "Audit entries a sink failed to write.",
		}, []string{"sink"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of engine operations in flight.",
		}),
	}

	reg.MustRegister(
		m.EngineOperationsTotal,
		m.EngineOperationDuration,
		m.EngineRecordsReturned,
		m.AuditFailuresTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// AuditFailures returns the audit failure counter, or nil when m is nil.
func (m *MetricsCollector) AuditFailures() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.AuditFailuresTotal
}
