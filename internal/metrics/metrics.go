// Package metrics exposes the process counters on a private Prometheus
// registry. A nil *Metrics is valid and records nothing, so components can
// be built without it in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lobfeed"

// Snapshot outcomes recorded per subscription cycle or reset frame.
const (
	SnapshotAccepted  = "accepted"
	SnapshotDuplicate = "duplicate"
	SnapshotTimeout   = "timeout"
	SnapshotLate      = "late"
)

// Metrics holds every collector the process exports.
type Metrics struct {
	registry *prometheus.Registry

	frames         prometheus.Counter
	framesRejected prometheus.Counter
	framesIgnored  prometheus.Counter
	snapshots      *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	reconnects     prometheus.Counter
	queueDropped   *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	signals        *prometheus.CounterVec
	orders         *prometheus.CounterVec
	spread         prometheus.Gauge
	mid            prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total",
			Help: "Raw feed payloads read from the transport.",
		}),
		framesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_rejected_total",
			Help: "Frames or level entries skipped for failing schema validation.",
		}),
		framesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_ignored_total",
			Help: "Book frames for another symbol or type.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshots_total",
			Help: "Reset frames and subscription cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "subscription_cycle_seconds",
			Help:    "Time from subscribe to unsubscribe.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 1.5, 2.5},
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Feed connection attempts after a transport failure.",
		}),
		queueDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_dropped_total",
			Help: "Events evicted by the drop_oldest policy.",
		}, []string{"queue"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Events waiting in a pipeline queue.",
		}, []string{"queue"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "signals_total",
			Help: "Signals emitted by the decision stage.",
		}, []string{"action"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "orders_total",
			Help: "Execution outcomes.",
		}, []string{"result"}),
		spread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "book_spread",
			Help: "Spread of the last published snapshot.",
		}),
		mid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "book_mid_price",
			Help: "Mid price of the last published snapshot.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.frames, m.framesRejected, m.framesIgnored, m.snapshots, m.cycleDuration,
		m.reconnects, m.queueDropped, m.queueDepth, m.signals, m.orders, m.spread, m.mid,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Frame() {
	if m != nil {
		m.frames.Inc()
	}
}

func (m *Metrics) Rejected(n int) {
	if m != nil && n > 0 {
		m.framesRejected.Add(float64(n))
	}
}

func (m *Metrics) Ignored() {
	if m != nil {
		m.framesIgnored.Inc()
	}
}

func (m *Metrics) Snapshot(outcome string) {
	if m != nil {
		m.snapshots.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Cycle(seconds float64) {
	if m != nil {
		m.cycleDuration.Observe(seconds)
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) QueueDropped(queue string) {
	if m != nil {
		m.queueDropped.WithLabelValues(queue).Inc()
	}
}

func (m *Metrics) QueueDepth(queue string, n int) {
	if m != nil {
		m.queueDepth.WithLabelValues(queue).Set(float64(n))
	}
}

func (m *Metrics) Signal(action string) {
	if m != nil {
		m.signals.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) Order(result string) {
	if m != nil {
		m.orders.WithLabelValues(result).Inc()
	}
}

// Quote records the derived prices of a published snapshot.
func (m *Metrics) Quote(spread, mid float64) {
	if m != nil {
		m.spread.Set(spread)
		m.mid.Set(mid)
	}
}
