package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	reg := NewRegistry()

	// MustRegister panics on duplicate names, so constructing all sets proves they coexist.
	require.NotPanics(t, func() {
		NewWebSocketMetrics(reg)
		NewBroadcastMetrics(reg)
		NewHTTPMetrics(reg)
	})
}

func TestBroadcastMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBroadcastMetrics(reg)

	m.EventsPublished.WithLabelValues("entity_event").Inc()
	m.EventsPublished.WithLabelValues("entity_event").Inc()
	m.EventsDropped.WithLabelValues("queue_full").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("entity_event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("queue_full")))
}

func TestWebSocketMetrics_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebSocketMetrics(reg)
	m.ActiveConnections.Set(3)

	expected := `
# HELP sensorpulse_websocket_active_connections Number of registered WebSocket connections.
# TYPE sensorpulse_websocket_active_connections gauge
sensorpulse_websocket_active_connections 3
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "sensorpulse_websocket_active_connections")
	assert.NoError(t, err)
}
