package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorpulse/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second

	checkPassed = "ok"
)

// HealthCheck is a named health check function. Every check runs on each
// probe; the first failure in order is reported as failed_check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type probeResponse struct {
	Status      string            `json:"status"`
	FailedCheck string            `json:"failed_check,omitempty"`
	Error       string            `json:"error,omitempty"`
	Checks      map[string]string `json:"checks"`
	Connections int               `json:"connections"`
	Channels    int               `json:"channels"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.writeProbe(c, s.runHealthChecks(ctx))
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": s.clock.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.writeProbe(c, s.runHealthChecks(ctx))
}

// runHealthChecks evaluates every check and attaches the current connection
// load, so an operator sees why an instance left rotation.
func (s *Server) runHealthChecks(ctx context.Context) probeResponse {
	resp := probeResponse{Status: "ready", Checks: make(map[string]string, len(s.healthChecks))}

	for _, hc := range s.healthChecks {
		err := hc.Check(ctx)
		if err == nil {
			resp.Checks[hc.Name] = checkPassed
			continue
		}

		resp.Checks[hc.Name] = err.Error()
		if resp.FailedCheck == "" {
			resp.Status = "unhealthy"
			resp.FailedCheck = hc.Name
			resp.Error = err.Error()
		}
	}

	if s.stats != nil {
		global := s.stats.GlobalStats()
		resp.Connections = global.TotalConnections
		resp.Channels = global.TotalChannels
	}
	return resp
}

func (s *Server) writeProbe(c echo.Context, resp probeResponse) error {
	status := http.StatusOK
	if resp.FailedCheck != "" {
		status = http.StatusServiceUnavailable
	}
	if err := c.JSON(status, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
