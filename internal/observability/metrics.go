// Package observability holds the process-wide ambient metrics and tracing
// setup: HTTP API request metrics, queue depth, database pool stats, and
// generic error counters. Per-instance/per-step engine metrics (instance
// started/completed, step executed, join outcomes) live in
// internal/engine's own Metrics instead — this package covers the surface
// around the engine, not the engine's own domain vocabulary.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ambient Prometheus metrics for the process.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	QueueDepth            *prometheus.GaugeVec
	MessageProcessingRate *prometheus.CounterVec

	ErrorsTotal *prometheus.CounterVec

	DatabaseConnections *prometheus.GaugeVec
}

// NewMetrics registers and returns the ambient Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP API requests",
			},
			[]string{"method", "route", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_depth",
				Help: "Number of messages pending in a queue",
			},
			[]string{"queue_name"},
		),

		MessageProcessingRate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "message_processing_total",
				Help: "Total number of messages processed",
			},
			[]string{"queue_name", "status"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors by component and kind",
			},
			[]string{"component", "error_type"},
		),

		DatabaseConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "database_connections",
				Help: "Number of database connections by state",
			},
			[]string{"state"}, // "active", "idle", "open"
		),
	}
}

// RecordHTTPRequest records one HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, route, statusCode string) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusCode).Inc()
}

// ObserveHTTPDuration observes an HTTP API request's duration.
func (m *Metrics) ObserveHTTPDuration(method, route string, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// SetQueueDepth sets the queue depth metric.
func (m *Metrics) SetQueueDepth(queueName string, depth float64) {
	m.QueueDepth.WithLabelValues(queueName).Set(depth)
}

// RecordMessageProcessed records a processed message metric.
func (m *Metrics) RecordMessageProcessed(queueName, status string) {
	m.MessageProcessingRate.WithLabelValues(queueName, status).Inc()
}

// RecordError records an error metric.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// SetDatabaseConnections sets database connection-pool metrics.
func (m *Metrics) SetDatabaseConnections(state string, count float64) {
	m.DatabaseConnections.WithLabelValues(state).Set(count)
}
