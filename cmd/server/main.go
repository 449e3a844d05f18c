package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/sensorpulse/internal/adapter/auth"
	"github.com/pscheid92/sensorpulse/internal/adapter/httpserver"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
	"github.com/pscheid92/sensorpulse/internal/adapter/websocket"
	"github.com/pscheid92/sensorpulse/internal/app"
	"github.com/pscheid92/sensorpulse/internal/broadcast"
	"github.com/pscheid92/sensorpulse/internal/domain"
	"github.com/pscheid92/sensorpulse/internal/platform/config"
	"github.com/pscheid92/sensorpulse/internal/platform/logging"
	"github.com/pscheid92/sensorpulse/internal/platform/version"
	"github.com/pscheid92/sensorpulse/internal/registry"
)

const (
	shutdownTimeout = 10 * time.Second
	shutdownMessage = "Server shutting down"
)

type components struct {
	registry   *registry.Registry
	dispatcher *broadcast.Dispatcher
	emitter    *app.Emitter
	server     *httpserver.Server
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupMetrics() (*prometheus.Registry, *metrics.HTTPMetrics, *metrics.WebSocketMetrics, *metrics.BroadcastMetrics) {
	reg := metrics.NewRegistry()
	return reg, metrics.NewHTTPMetrics(reg), metrics.NewWebSocketMetrics(reg), metrics.NewBroadcastMetrics(reg)
}

func build(cfg *config.Config, clock clockwork.Clock) components {
	metricsRegistry, httpMetrics, wsMetrics, broadcastMetrics := setupMetrics()

	reg := registry.New(clock, cfg.MaxWebSocketConnections)
	broadcaster := broadcast.NewBroadcaster(reg, clock, broadcast.Options{
		SendTimeout:      cfg.SendTimeout,
		Concurrency:      cfg.BroadcastConcurrency,
		Metrics:          broadcastMetrics,
		WebSocketMetrics: wsMetrics,
	})
	dispatcher := broadcast.NewDispatcher(broadcaster, clock, broadcast.DispatcherOptions{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueueSize,
		Metrics:   broadcastMetrics,
	})

	events := domain.NewEventFactory(clock)
	emitter := app.NewEmitter(events, dispatcher, reg)
	stats := app.NewStatsReporter(reg)

	sessions := websocket.NewHandler(reg, broadcaster, stats, events, clock, websocket.HandlerConfig{
		AppURL:        cfg.AppURL,
		IsDevelopment: cfg.IsDevelopment(),
		Conn: websocket.ConnOptions{
			MaxMessageSize: cfg.MaxMessageSize,
			PingInterval:   cfg.PingInterval,
			PongTimeout:    cfg.PongTimeout,
		},
		Metrics: wsMetrics,
	})

	deps := httpserver.Dependencies{
		Sessions: sessions,
		Stats:    stats,
		Emitter:  emitter,
		Limits: httpserver.NewConnectionLimits(clock, httpserver.LimitsConfig{
			GlobalMax:            cfg.MaxWebSocketConnections,
			PerIPMax:             cfg.MaxConnectionsPerIP,
			ConnectionsPerSecond: cfg.ConnectionRatePerSecond,
			Burst:                cfg.ConnectionBurst,
		}),
		HealthChecks: []httpserver.HealthCheck{
			{Name: "dispatcher", Check: dispatcher.Check},
			{Name: "capacity", Check: capacityCheck(reg, cfg.MaxWebSocketConnections)},
		},
		Clock:            clock,
		MetricsRegistry:  metricsRegistry,
		HTTPMetrics:      httpMetrics,
		WebSocketMetrics: wsMetrics,
	}
	// Assign only when enabled to avoid a typed-nil interface.
	if cfg.SecureEndpointEnabled() {
		deps.Tokens = auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer, clock)
	}

	return components{
		registry:   reg,
		dispatcher: dispatcher,
		emitter:    emitter,
		server:     httpserver.NewServer(cfg, deps),
	}
}

// capacityCheck reports not ready while the connection cap is exhausted, so
// load balancers route new clients elsewhere.
func capacityCheck(reg *registry.Registry, maxConnections int) func(context.Context) error {
	return func(_ context.Context) error {
		if maxConnections > 0 && reg.Len() >= maxConnections {
			return fmt.Errorf("connection capacity reached (%d)", maxConnections)
		}
		return nil
	}
}

func runGracefulShutdown(c components) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if err := c.emitter.Announce(shutdownCtx, domain.LevelWarning, shutdownMessage); err != nil {
			slog.Error("Failed to announce shutdown", "error", err)
		}
		c.dispatcher.Stop()

		conns := c.registry.Drain()
		for _, conn := range conns {
			_ = conn.Sender.Close(shutdownMessage)
		}
		slog.Info("Closed WebSocket connections", "count", len(conns))

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", version.Get().String(),
		"secure_endpoint", cfg.SecureEndpointEnabled(),
	)

	c := build(cfg, clock)
	done := runGracefulShutdown(c)

	if err := c.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
