package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
	"github.com/pscheid92/sensorpulse/internal/platform/correlation"
)

const (
	testEventRatePerSecond = 1
	testEventBurst         = 5
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware())
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware())
	}
	s.echo.Use(ErrorHandlingMiddleware(s.httpMetrics))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            63072000, // 2 years; only sent over HTTPS
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
	}))

	s.registerHealthRoutes()
	if s.metricsRegistry != nil {
		s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler(s.metricsRegistry)))
	}
	s.registerWebSocketRoutes()
	s.registerStatsRoutes()
}

func (s *Server) registerWebSocketRoutes() {
	s.echo.GET("/ws", s.handlePublicWebSocket)
	if s.tokens != nil {
		s.echo.GET("/ws/secure", s.handleSecureWebSocket)
	}
}

func (s *Server) registerStatsRoutes() {
	s.echo.GET("/ws/stats", s.handleGlobalStats)
	s.echo.GET("/ws/stats/:channel", s.handleChannelStats)
	if s.config.TestEventsEnabled {
		s.echo.POST("/ws/test-event", s.handleTestEvent, newRateLimiter(testEventRatePerSecond, testEventBurst, s.httpMetrics))
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

// correlationMiddleware tags each request with a correlation ID, reusing a
// well-formed X-Request-ID from the caller, and echoes it in the response.
func correlationMiddleware() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		TargetHeader: correlation.Header,
		Generator:    correlation.NewID,
		RequestIDHandler: func(c echo.Context, id string) {
			id = correlation.Sanitize(id)
			c.Response().Header().Set(correlation.Header, id)
			ctx := correlation.WithID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	})
}
