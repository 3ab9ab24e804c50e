// Package metrics exposes the bus's prometheus instrumentation. All
// collectors live on a private registry so embedding several buses in one
// process never collides on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the bus records into.
type Metrics struct {
	registry *prometheus.Registry

	MessagesProcessed *prometheus.CounterVec
	MessageErrors     *prometheus.CounterVec
	MessageBytes      *prometheus.CounterVec
	KeyUpdates        prometheus.Counter
	RateLimited       prometheus.Counter

	HandshakesTotal   *prometheus.CounterVec
	HandshakeDuration prometheus.Histogram

	ActiveSessions prometheus.Gauge

	BreakerState      prometheus.Gauge
	AnomaliesDetected *prometheus.CounterVec
	HoneypotAttempts  prometheus.Counter
}

// New builds the collector set under the given namespace and registers it
// on a fresh private registry.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,

		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Records accepted by the record layer.",
		}, []string{"direction"}),
		MessageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_errors_total",
			Help:      "Records rejected by the record layer.",
		}, []string{"direction", "reason"}),
		MessageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_bytes_total",
			Help:      "Plaintext bytes carried by accepted records.",
		}, []string{"direction"}),
		KeyUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_updates_total",
			Help:      "Key generation rotations applied to the session.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-identity rate limiter.",
		}),

		HandshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Completed handshake attempts by outcome.",
		}, []string{"outcome"}),
		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Wall time from ClientHello to Finished verification.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently established.",
		}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
		AnomaliesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_detected_total",
			Help:      "Traffic anomalies by kind.",
		}, []string{"kind"}),
		HoneypotAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "honeypot_attempts_total",
			Help:      "Intrusion attempts recorded by the honeypot.",
		}),
	}

	registry.MustRegister(
		m.MessagesProcessed, m.MessageErrors, m.MessageBytes,
		m.KeyUpdates, m.RateLimited,
		m.HandshakesTotal, m.HandshakeDuration,
		m.ActiveSessions,
		m.BreakerState, m.AnomaliesDetected, m.HoneypotAttempts,
	)
	return m
}

// Registry exposes the private registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
