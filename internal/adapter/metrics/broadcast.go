package metrics

import "github.com/prometheus/client_golang/prometheus"

// BroadcastMetrics holds Prometheus metrics for event publication and fan-out.
type BroadcastMetrics struct {
	EventsPublished   *prometheus.CounterVec
	EventsDropped     *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
	Recipients        prometheus.Histogram
	DeliveryFailures  prometheus.Counter
	QueueDepth        prometheus.Gauge
	QueueLatency      prometheus.Histogram
	Panics            prometheus.Counter
}

// NewBroadcastMetrics creates and registers broadcast metrics on the given registry.
func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total events accepted for broadcast, by message type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Total events dropped before broadcast, by reason (queue_full/stopped).",
		}, []string{"reason"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "total",
			Help:      "Total broadcasts executed, by message type.",
		}, []string{"type"}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Time to deliver one event to every subscriber of a channel.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, 1, 2.5, 5},
		}),
		Recipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "recipients",
			Help:      "Number of subscribers addressed per broadcast.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "delivery_failures_total",
			Help:      "Total per-subscriber delivery failures.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "queue_depth",
			Help:      "Events waiting across all dispatcher queues.",
		}),
		QueueLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "queue_latency_seconds",
			Help:      "Time from publish to the start of the broadcast.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, 1},
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "panics_total",
			Help:      "Total panics recovered while broadcasting.",
		}),
	}

	reg.MustRegister(
		m.EventsPublished,
		m.EventsDropped,
		m.Broadcasts,
		m.BroadcastDuration,
		m.Recipients,
		m.DeliveryFailures,
		m.QueueDepth,
		m.QueueLatency,
		m.Panics,
	)
	return m
}
