// Package metrics provides Prometheus metrics for the streamchat relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream outcome labels.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusIgnored = "ignored"
)

// Metrics holds all Prometheus metrics for the relay. Each instance owns its
// registry so several can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	// Channel metrics
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	EventsTotal       *prometheus.CounterVec

	// Stream metrics
	StreamsTotal    *prometheus.CounterVec
	StreamsActive   prometheus.Gauge
	StreamDuration  prometheus.Histogram
	FragmentsTotal  prometheus.Counter
	BootstrapsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{Registry: reg}

	m.ConnectionsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "streamchat_connections_total",
			Help: "Total number of accepted channel connections",
		},
	)

	m.ConnectionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamchat_connections_active",
			Help: "Number of currently open channel connections",
		},
	)

	m.EventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_events_total",
			Help: "Total number of channel events by name and direction",
		},
		[]string{"event", "direction"},
	)

	m.StreamsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_streams_total",
			Help: "Total number of completion streams by outcome",
		},
		[]string{"status"},
	)

	m.StreamsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamchat_streams_active",
			Help: "Number of completion streams currently in flight",
		},
	)

	m.StreamDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamchat_stream_duration_seconds",
			Help:    "Duration of completion streams in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	m.FragmentsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "streamchat_fragments_total",
			Help: "Total number of completion fragments broadcast",
		},
	)

	m.BootstrapsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamchat_bootstraps_total",
			Help: "Total number of bootstrap requests by whether they started the relay",
		},
		[]string{"started"},
	)

	return m
}

// Handler returns the HTTP exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordConnection records a connect or disconnect.
func (m *Metrics) RecordConnection(connected bool) {
	if connected {
		m.ConnectionsTotal.Inc()
		m.ConnectionsActive.Inc()
		return
	}
	m.ConnectionsActive.Dec()
}

// RecordEvent records one channel event. Direction is "in" or "out".
func (m *Metrics) RecordEvent(event, direction string) {
	m.EventsTotal.WithLabelValues(event, direction).Inc()
}

// StreamStarted marks one stream as in flight.
func (m *Metrics) StreamStarted() {
	m.StreamsActive.Inc()
}

// StreamFinished records the outcome of a stream started with StreamStarted.
func (m *Metrics) StreamFinished(status string, duration time.Duration) {
	m.StreamsActive.Dec()
	m.StreamsTotal.WithLabelValues(status).Inc()
	m.StreamDuration.Observe(duration.Seconds())
}

// StreamIgnored records a submission that never reached the upstream.
func (m *Metrics) StreamIgnored() {
	m.StreamsTotal.WithLabelValues(StatusIgnored).Inc()
}

// RecordBootstrap records a bootstrap request.
func (m *Metrics) RecordBootstrap(started bool) {
	label := "false"
	if started {
		label = "true"
	}
	m.BootstrapsTotal.WithLabelValues(label).Inc()
}
