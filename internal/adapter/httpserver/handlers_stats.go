package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorpulse/internal/domain"
	apperrors "github.com/pscheid92/sensorpulse/internal/platform/errors"
)

const defaultTestMessage = "Test event"

type channelStatsResponse struct {
	Channel string              `json:"channel"`
	Stats   domain.ChannelStats `json:"stats"`
}

type testEventResponse struct {
	Message string `json:"message"`
	Channel string `json:"channel"`
	Data    string `json:"data"`
}

func (s *Server) handleGlobalStats(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.stats.GlobalStats()); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}

func (s *Server) handleChannelStats(c echo.Context) error {
	channel := c.Param("channel")
	if err := domain.ValidateChannel(channel); err != nil {
		return apperrors.ValidationError("invalid channel").WithContext("channel", channel)
	}

	resp := channelStatsResponse{Channel: channel, Stats: s.stats.ChannelStats(channel)}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write channel stats response: %w", err)
	}
	return nil
}

// handleTestEvent publishes a system event flagged as a test, for checking a
// dashboard's wiring end to end.
func (s *Server) handleTestEvent(c echo.Context) error {
	channel, err := channelParam(c.QueryParam("channel"))
	if err != nil {
		return err
	}

	message := c.QueryParam("message")
	if message == "" {
		message = defaultTestMessage
	}

	level := domain.LevelInfo
	if raw := c.QueryParam("level"); raw != "" {
		level, err = domain.ParseLevel(raw)
		if err != nil {
			return apperrors.ValidationError("invalid level").WithContext("level", raw)
		}
	}

	ctx := c.Request().Context()
	if err := s.emitter.EmitSystemTo(ctx, channel, level, message, domain.Payload{"test": true}); err != nil {
		return apperrors.InternalError("failed to publish test event", err)
	}

	resp := testEventResponse{
		Message: fmt.Sprintf("Test event sent to channel '%s'", channel),
		Channel: channel,
		Data:    message,
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write test event response: %w", err)
	}
	return nil
}
