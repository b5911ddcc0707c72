package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the denoise client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Processing service metrics
	ServiceRequests        *prometheus.CounterVec
	ServiceRequestDuration *prometheus.HistogramVec
	PayloadSize            *prometheus.HistogramVec

	// Session metrics
	SessionTransitions *prometheus.CounterVec
	StaleResults       prometheus.Counter

	// Playback handle metrics
	ActiveHandles prometheus.Gauge
	HandleBytes   prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registerer
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all metrics on reg
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Processing service metrics
		ServiceRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "denoise_service_requests_total",
			Help: "Total number of requests sent to the processing service",
		}, []string{"operation", "outcome"}),
		ServiceRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "denoise_service_request_duration_seconds",
			Help:    "Duration of processing service requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"operation"}),
		PayloadSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "denoise_payload_size_bytes",
			Help:    "Size of audio payloads exchanged with the processing service",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to ~256MB
		}, []string{"direction"}),

		// Session metrics
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "denoise_session_transitions_total",
			Help: "Total number of session state transitions by target state",
		}, []string{"state"}),
		StaleResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "denoise_stale_results_total",
			Help: "Total number of submission results discarded because the selection changed",
		}),

		// Playback handle metrics
		ActiveHandles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "denoise_playback_handles",
			Help: "Current number of live playback handles",
		}),
		HandleBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "denoise_playback_handle_bytes",
			Help: "Current number of bytes held by live playback handles",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "denoise_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "denoise_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "denoise_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordServiceRequest records one processing service call and its outcome
func (m *Metrics) RecordServiceRequest(operation, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ServiceRequests.WithLabelValues(operation, outcome).Inc()
	m.ServiceRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordPayload records the size of an uploaded or downloaded payload
func (m *Metrics) RecordPayload(direction string, sizeBytes int) {
	if m == nil {
		return
	}
	m.PayloadSize.WithLabelValues(direction).Observe(float64(sizeBytes))
}

// RecordTransition increments the transition counter for the target state
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state).Inc()
}

// RecordStaleResult increments the discarded results counter
func (m *Metrics) RecordStaleResult() {
	if m == nil {
		return
	}
	m.StaleResults.Inc()
}

// SetHandles sets the live handle gauges
func (m *Metrics) SetHandles(count int, bytes int64) {
	if m == nil {
		return
	}
	m.ActiveHandles.Set(float64(count))
	m.HandleBytes.Set(float64(bytes))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
