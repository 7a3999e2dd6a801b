// Package metrics exposes decoder counters to Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "raidscope"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	packetsTotal       *prometheus.CounterVec
	droppedTotal       *prometheus.CounterVec
	messagesTotal      *prometheus.CounterVec
	anomaliesTotal     prometheus.Counter
	handlerErrorsTotal *prometheus.CounterVec
	fragmentsTotal     prometheus.Counter
	sessionsTotal      prometheus.Counter
	queueDepth         prometheus.Gauge
	players            prometheus.Gauge
	visibleLoot        prometheus.Gauge
	refreshSkips       prometheus.Counter
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide instance registered on the default
// Prometheus registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New registers a fresh set of collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		packetsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Packets handed to the transport by direction",
		}, []string{"direction"}),

		droppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Packets dropped before message extraction",
		}, []string{"reason"}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Logical messages delivered by opcode",
		}, []string{"opcode"}),

		anomaliesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Framing anomalies seen by the transport",
		}),

		handlerErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Message handler failures by opcode",
		}, []string{"opcode"}),

		fragmentsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_completed_total",
			Help:      "Fragment groups reassembled",
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Game sessions started",
		}),

		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Packets waiting in the source queue",
		}),

		players: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players",
			Help:      "Players currently tracked",
		}),

		visibleLoot: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visible_loot",
			Help:      "Loot crates above the price threshold",
		}),

		refreshSkips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_skips_total",
			Help:      "Snapshot refreshes skipped under backlog or without movement",
		}),
	}
}

func direction(incoming bool) string {
	if incoming {
		return "in"
	}
	return "out"
}

func (m *Metrics) Packet(incoming bool) {
	if m == nil {
		return
	}
	m.packetsTotal.WithLabelValues(direction(incoming)).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Message(opcode string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(opcode).Inc()
}

func (m *Metrics) Anomaly() {
	if m == nil {
		return
	}
	m.anomaliesTotal.Inc()
}

func (m *Metrics) HandlerError(opcode string) {
	if m == nil {
		return
	}
	m.handlerErrorsTotal.WithLabelValues(opcode).Inc()
}

func (m *Metrics) FragmentCompleted() {
	if m == nil {
		return
	}
	m.fragmentsTotal.Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsTotal.Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// World sets the tracked player and visible loot gauges.
func (m *Metrics) World(players, visibleLoot int) {
	if m == nil {
		return
	}
	m.players.Set(float64(players))
	m.visibleLoot.Set(float64(visibleLoot))
}

func (m *Metrics) RefreshSkipped() {
	if m == nil {
		return
	}
	m.refreshSkips.Inc()
}
