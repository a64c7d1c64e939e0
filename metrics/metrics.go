// Package metrics holds the Prometheus collectors exported by the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gomint"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionsOpen     prometheus.Gauge
	connectionsRejected *prometheus.CounterVec
	eventsHandled       *prometheus.CounterVec
	framesBroadcast     *prometheus.CounterVec
	recordsPersisted    *prometheus.CounterVec
	slowConsumers       prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Authenticated connections currently attached.",
		}),
		connectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections refused before authentication completed.",
		}, []string{"reason"}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_handled_total",
			Help:      "Inbound events by name and result code.",
		}, []string{"event", "code"}),
		framesBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_broadcast_total",
			Help:      "Outbound frames enqueued, by target kind.",
		}, []string{"target"}),
		recordsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Durable records written, by kind.",
		}, []string{"kind"}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_consumers_dropped_total",
			Help:      "Connections closed because their send queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.connectionsOpen,
			m.connectionsRejected,
			m.eventsHandled,
			m.framesBroadcast,
			m.recordsPersisted,
			m.slowConsumers,
		)
	}
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpen.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsOpen.Dec()
}

func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventHandled(event, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	m.eventsHandled.WithLabelValues(event, code).Inc()
}

func (m *Metrics) FramesBroadcast(target string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.framesBroadcast.WithLabelValues(target).Add(float64(n))
}

func (m *Metrics) RecordPersisted(kind string) {
	if m == nil {
		return
	}
	m.recordsPersisted.WithLabelValues(kind).Inc()
}

func (m *Metrics) SlowConsumerDropped() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}

// Handler exposes the collectors registered on reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
