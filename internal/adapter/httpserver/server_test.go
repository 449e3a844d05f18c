package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
	"github.com/pscheid92/sensorpulse/internal/adapter/websocket"
	"github.com/pscheid92/sensorpulse/internal/domain"
	"github.com/pscheid92/sensorpulse/internal/platform/config"
)

var serverStart = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// --- Mocks ---

type mockSessions struct {
	mu       sync.Mutex
	sessions []websocket.Session
}

func (m *mockSessions) Serve(w http.ResponseWriter, _ *http.Request, s websocket.Session) {
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (m *mockSessions) served() []websocket.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]websocket.Session(nil), m.sessions...)
}

type mockTokens struct {
	subjects map[string]string
}

var errUnknownToken = errors.New("unknown token")

func (m *mockTokens) Validate(token string) (string, error) {
	if subject, ok := m.subjects[token]; ok {
		return subject, nil
	}
	return "", errUnknownToken
}

type mockStats struct {
	global   domain.GlobalStats
	channels map[string]domain.ChannelStats
}

func (m *mockStats) GlobalStats() domain.GlobalStats { return m.global }

func (m *mockStats) ChannelStats(channel string) domain.ChannelStats {
	if stats, ok := m.channels[channel]; ok {
		return stats
	}
	return domain.ChannelStats{Users: []domain.Subscriber{}}
}

type emittedTest struct {
	channel string
	level   domain.Level
	message string
	data    domain.Payload
}

type mockEmitter struct {
	mu      sync.Mutex
	emitted []emittedTest
	err     error
}

func (m *mockEmitter) EmitSystemTo(_ context.Context, channel string, level domain.Level, message string, data domain.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.emitted = append(m.emitted, emittedTest{channel, level, message, data})
	return nil
}

// --- Test server ---

type testServer struct {
	*Server
	clock    *clockwork.FakeClock
	sessions *mockSessions
	stats    *mockStats
	emitter  *mockEmitter
	registry *prometheus.Registry
}

type testOption func(*config.Config, *Dependencies)

func withHealthChecks(checks ...HealthCheck) testOption {
	return func(_ *config.Config, d *Dependencies) { d.HealthChecks = checks }
}

func withTokens(subjects map[string]string) testOption {
	return func(_ *config.Config, d *Dependencies) { d.Tokens = &mockTokens{subjects: subjects} }
}

func withLimits(cfg LimitsConfig) testOption {
	return func(_ *config.Config, d *Dependencies) { d.Limits = NewConnectionLimits(d.Clock, cfg) }
}

func withConfig(fn func(*config.Config)) testOption {
	return func(c *config.Config, _ *Dependencies) { fn(c) }
}

func newTestServer(t *testing.T, opts ...testOption) *testServer {
	t.Helper()

	cfg := &config.Config{
		AppEnv:            "test",
		Port:              "0",
		AppURL:            "http://localhost:8000",
		TestEventsEnabled: true,
	}

	clock := clockwork.NewFakeClockAt(serverStart)
	reg := prometheus.NewRegistry()
	ts := &testServer{
		clock:    clock,
		sessions: &mockSessions{},
		stats:    &mockStats{},
		emitter:  &mockEmitter{},
		registry: reg,
	}

	deps := Dependencies{
		Sessions:         ts.sessions,
		Stats:            ts.stats,
		Emitter:          ts.emitter,
		Clock:            clock,
		MetricsRegistry:  reg,
		HTTPMetrics:      metrics.NewHTTPMetrics(reg),
		WebSocketMetrics: metrics.NewWebSocketMetrics(reg),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}

	ts.Server = NewServer(cfg, deps)
	return ts
}

func (ts *testServer) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doFrom(method, target, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}
