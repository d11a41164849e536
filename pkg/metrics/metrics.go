// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// StreamDuration tracks relay stream duration from first upstream
	// call to terminal frame.
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_stream_duration_seconds",
			Help:    "Relay stream duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"provider", "model", "status"},
	)

	// FragmentsTotal tracks content fragments relayed to clients.
	FragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_fragments_total",
			Help: "Total content fragments relayed",
		},
		[]string{"provider", "model"},
	)

	// StreamErrorsTotal tracks terminal error frames by phase.
	StreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_stream_errors_total",
			Help: "Total streams terminated by an error frame",
		},
		[]string{"provider", "phase"},
	)

	// StreamsActive tracks currently open relay streams.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_streams_active",
			Help: "Number of active relay streams",
		},
	)

	// AdmissionRejectsTotal tracks requests rejected before upstream work.
	AdmissionRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_admission_rejects_total",
			Help: "Requests rejected at admission or validation",
		},
		[]string{"reason"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStream records metrics for one relayed stream.
func RecordStream(provider, model, status string, duration float64, fragments int) {
	StreamDuration.WithLabelValues(provider, model, status).Observe(duration)
	FragmentsTotal.WithLabelValues(provider, model).Add(float64(fragments))
}

// IncrementStreams increments the active stream count.
func IncrementStreams() {
	StreamsActive.Inc()
}

// DecrementStreams decrements the active stream count.
func DecrementStreams() {
	StreamsActive.Dec()
}
