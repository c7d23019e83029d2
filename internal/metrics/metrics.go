// Package metrics holds the Prometheus metrics for the push gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Bus metrics
	EventsReceived *prometheus.CounterVec
	DecodeFailures prometheus.Counter

	// Mapping metrics
	MappingQueries prometheus.Counter
	MappingErrors  prometheus.Counter

	// Connection metrics
	ConnectionsActive prometheus.Gauge
	AuthFailures      *prometheus.CounterVec

	// Delivery metrics
	MessagesSent    prometheus.Counter
	MessagesDropped prometheus.Counter
}

// New creates and registers all gateway metrics on the default registry.
func New() *Metrics {
	return newWith(prometheus.DefaultRegisterer)
}

// NewForTesting creates an unregistered metric set for use in tests.
func NewForTesting() *Metrics {
	return newWith(prometheus.NewRegistry())
}

func newWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pushgate_events_received_total",
				Help: "Bus events received, by channel",
			},
			[]string{"channel"},
		),
		DecodeFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pushgate_event_decode_failures_total",
				Help: "Bus messages that could not be decoded",
			},
		),
		MappingQueries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pushgate_mapping_queries_total",
				Help: "Storage mapping loads executed against the database",
			},
		),
		MappingErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pushgate_mapping_errors_total",
				Help: "Storage mapping loads that failed",
			},
		),
		ConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pushgate_connections_active",
				Help: "Currently registered client connections",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pushgate_auth_failures_total",
				Help: "Failed websocket authentication attempts, by reason",
			},
			[]string{"reason"}, // reason: timeout, transport, malformed, invalid, verifier
		),
		MessagesSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pushgate_messages_sent_total",
				Help: "Notifications enqueued to client sinks",
			},
		),
		MessagesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pushgate_messages_dropped_total",
				Help: "Notifications dropped because the sink was closed or full",
			},
		),
	}
}
