package dispatch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "momcore"

// Metrics holds the dispatch collectors. A nil *Metrics records nothing.
type Metrics struct {
	enqueued  prometheus.Counter
	dropped   prometheus.Counter
	handled   *prometheus.CounterVec
	malformed *prometheus.CounterVec
	depth     prometheus.Gauge
}

// NewMetrics creates the dispatch collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests use to avoid global state.
// Collectors already registered by an earlier session are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "enqueued_total",
			Help:      "Tasks accepted onto the drain queue.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Inbound messages dropped because the drain queue was full.",
		}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "handled_total",
			Help:      "Inbound messages routed, by route.",
		}, []string{"route"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "malformed_total",
			Help:      "Inbound payloads that failed to decode, by route.",
		}, []string{"route"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Tasks waiting on the drain queue.",
		}),
	}

	if reg == nil {
		return m
	}

	m.enqueued = register(reg, m.enqueued)
	m.dropped = register(reg, m.dropped)
	m.handled = register(reg, m.handled)
	m.malformed = register(reg, m.malformed)
	m.depth = register(reg, m.depth)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) incEnqueued() {
	if m != nil {
		m.enqueued.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) incHandled(route string) {
	if m != nil {
		m.handled.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) incMalformed(route string) {
	if m != nil {
		m.malformed.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) setDepth(n int) {
	if m != nil {
		m.depth.Set(float64(n))
	}
}
