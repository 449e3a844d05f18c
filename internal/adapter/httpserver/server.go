package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
	"github.com/pscheid92/sensorpulse/internal/adapter/websocket"
	"github.com/pscheid92/sensorpulse/internal/domain"
	"github.com/pscheid92/sensorpulse/internal/platform/config"
)

// sessionServer runs one WebSocket connection to completion.
type sessionServer interface {
	Serve(w http.ResponseWriter, r *http.Request, s websocket.Session)
}

type tokenValidator interface {
	Validate(token string) (string, error)
}

type statsProvider interface {
	GlobalStats() domain.GlobalStats
	ChannelStats(channel string) domain.ChannelStats
}

type testEventEmitter interface {
	EmitSystemTo(ctx context.Context, channel string, level domain.Level, message string, data domain.Payload) error
}

// Dependencies are the collaborators the HTTP layer routes to.
// Tokens may be nil, which disables /ws/secure.
type Dependencies struct {
	Sessions     sessionServer
	Tokens       tokenValidator
	Stats        statsProvider
	Emitter      testEventEmitter
	Limits       *ConnectionLimits
	HealthChecks []HealthCheck
	Clock        clockwork.Clock

	MetricsRegistry  *prometheus.Registry
	HTTPMetrics      *metrics.HTTPMetrics
	WebSocketMetrics *metrics.WebSocketMetrics
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	sessions     sessionServer
	tokens       tokenValidator
	stats        statsProvider
	emitter      testEventEmitter
	limits       *ConnectionLimits
	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time

	metricsRegistry *prometheus.Registry
	httpMetrics     *metrics.HTTPMetrics
	wsMetrics       *metrics.WebSocketMetrics
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:            e,
		config:          cfg,
		sessions:        deps.Sessions,
		tokens:          deps.Tokens,
		stats:           deps.Stats,
		emitter:         deps.Emitter,
		limits:          deps.Limits,
		healthChecks:    deps.HealthChecks,
		clock:           deps.Clock,
		startTime:       deps.Clock.Now(),
		metricsRegistry: deps.MetricsRegistry,
		httpMetrics:     deps.HTTPMetrics,
		wsMetrics:       deps.WebSocketMetrics,
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests. Hijacked WebSocket connections are not
// tracked by the HTTP server and must be closed by the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
