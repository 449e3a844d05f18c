package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for WebSocket connections.
type WebSocketMetrics struct {
	ActiveConnections    prometheus.Gauge
	ConnectionsTotal     *prometheus.CounterVec
	ConnectionsRejected  *prometheus.CounterVec
	ConnectionDuration   prometheus.Histogram
	MessagesSent         prometheus.Counter
	SendFailures         prometheus.Counter
	SendDuration         prometheus.Histogram
	PingFailures         prometheus.Counter
	InboundMessagesTotal prometheus.Counter
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections.",
		}),
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total accepted WebSocket connections, by endpoint.",
		}, []string{"endpoint"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total WebSocket connections rejected, by reason.",
		}, []string{"reason"}),
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of WebSocket connections in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total messages written to WebSocket clients.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "send_failures_total",
			Help:      "Total failed message writes; each one removes the connection.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "send_duration_seconds",
			Help:      "Duration of single message writes in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, 1, 2.5},
		}),
		PingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "ping_failures_total",
			Help:      "Total keepalive pings that could not be written.",
		}),
		InboundMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "inbound_messages_total",
			Help:      "Total frames received from WebSocket clients.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ConnectionsTotal,
		m.ConnectionsRejected,
		m.ConnectionDuration,
		m.MessagesSent,
		m.SendFailures,
		m.SendDuration,
		m.PingFailures,
		m.InboundMessagesTotal,
	)
	return m
}
