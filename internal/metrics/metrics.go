// Package metrics holds the Prometheus collectors exported by the daemon.
// All methods are safe on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	connState         *prometheus.GaugeVec
	reconnects        prometheus.Counter
	frames            *prometheus.CounterVec
	droppedFrames     *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	cacheEvictions    prometheus.Counter
	outbox            *prometheus.CounterVec
	networkTransition *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "officechat",
			Name:      "connection_state",
			Help:      "1 for the current realtime connection state, 0 otherwise.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "officechat",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "officechat",
			Name:      "frames_received_total",
			Help:      "Realtime frames received by type.",
		}, []string{"type"}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "officechat",
			Name:      "frames_dropped_total",
			Help:      "Realtime frames dropped by reason.",
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "officechat",
			Name:      "notifications_total",
			Help:      "Notification scheduler decisions.",
		}, []string{"decision"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "officechat",
			Name:      "cache_lookups_total",
			Help:      "Cache reads by result.",
		}, []string{"result"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "officechat",
			Name:      "cache_evictions_total",
			Help:      "Entries evicted to stay under the size ceiling.",
		}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "officechat",
			Name:      "outbox_sends_total",
			Help:      "Outbox send outcomes.",
		}, []string{"result"}),
		networkTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "officechat",
			Name:      "network_transitions_total",
			Help:      "Online/offline transitions observed.",
		}, []string{"to"}),
	}
	m.registry.MustRegister(
		m.connState, m.reconnects, m.frames, m.droppedFrames, m.notifications,
		m.cacheLookups, m.cacheEvictions, m.outbox, m.networkTransition,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ConnectionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedFrames.WithLabelValues(reason).Inc()
}

func (m *Metrics) NotificationDecision(decision string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(decision).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) CacheEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

func (m *Metrics) OutboxResult(result string) {
	if m == nil {
		return
	}
	m.outbox.WithLabelValues(result).Inc()
}

func (m *Metrics) NetworkTransition(online bool) {
	if m == nil {
		return
	}
	if online {
		m.networkTransition.WithLabelValues("online").Inc()
	} else {
		m.networkTransition.WithLabelValues("offline").Inc()
	}
}
