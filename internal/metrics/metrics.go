// Package metrics holds the Prometheus instruments for the relationship core
// and the realtime gateway.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "socialgraph"

// Delivery results.
const (
	ResultDelivered = "delivered"
	ResultDropped   = "dropped"
	ResultEvicted   = "evicted"
	ResultPushed    = "pushed"
)

type Metrics struct {
	// EventsPublished counts events handed to the dispatcher.
	// Labels: type
	EventsPublished *prometheus.CounterVec

	// Deliveries counts per-event delivery outcomes.
	// Labels: result (delivered, dropped, evicted, pushed)
	Deliveries *prometheus.CounterVec

	// DispatchQueueDepth is the number of events waiting for delivery.
	DispatchQueueDepth prometheus.Gauge

	// LiveConnections is the number of registered realtime connections.
	LiveConnections prometheus.Gauge

	// HandshakeFailures counts rejected realtime handshakes.
	// Labels: reason (missing, invalid, expired, upgrade)
	HandshakeFailures *prometheus.CounterVec
}

// New creates and registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_published_total",
			Help:      "Notification events published by state transitions.",
		}, []string{"type"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Notification delivery outcomes.",
		}, []string{"result"}),
		DispatchQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Events waiting for delivery.",
		}),
		LiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "live_connections",
			Help:      "Currently registered realtime connections.",
		}),
		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "handshake_failures_total",
			Help:      "Rejected realtime handshakes.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Delivery(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Deliveries.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.DispatchQueueDepth.Set(float64(n))
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.LiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.LiveConnections.Dec()
}

func (m *Metrics) HandshakeFailed(reason string) {
	if m == nil {
		return
	}
	m.HandshakeFailures.WithLabelValues(reason).Inc()
}
