package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/sensorpulse/internal/adapter/websocket"
	"github.com/pscheid92/sensorpulse/internal/domain"
	apperrors "github.com/pscheid92/sensorpulse/internal/platform/errors"
)

const (
	endpointPublic = "public"
	endpointSecure = "secure"
)

func (s *Server) handlePublicWebSocket(c echo.Context) error {
	channel, err := channelParam(c.QueryParam("channel"))
	if err != nil {
		return err
	}

	return s.serveWebSocket(c, websocket.Session{
		Channel:  channel,
		UserID:   c.QueryParam("user_id"),
		Endpoint: endpointPublic,
	})
}

// handleSecureWebSocket requires a valid token before upgrading. The user id
// is the token subject; a user_id query parameter is ignored.
func (s *Server) handleSecureWebSocket(c echo.Context) error {
	channel, err := channelParam(c.QueryParam("channel"))
	if err != nil {
		return err
	}

	userID, err := s.tokens.Validate(c.QueryParam("token"))
	if err != nil {
		s.countRejected("unauthorized")
		return apperrors.UnauthorizedError("invalid or missing token", err)
	}

	return s.serveWebSocket(c, websocket.Session{
		Channel:       channel,
		UserID:        userID,
		Endpoint:      endpointSecure,
		Authenticated: true,
	})
}

func (s *Server) serveWebSocket(c echo.Context, session websocket.Session) error {
	if s.limits != nil {
		ip := c.RealIP()
		ok, reason := s.limits.Acquire(ip)
		if !ok {
			s.countRejected(string(reason))
			if reason == LimitReasonRate {
				return apperrors.RateLimitedError("too many connection attempts").WithContext("reason", reason)
			}
			return apperrors.UnavailableError("connection limit reached").WithContext("reason", reason)
		}
		defer s.limits.Release(ip)
	}

	s.sessions.Serve(c.Response(), c.Request(), session)
	return nil
}

func (s *Server) countRejected(reason string) {
	if s.wsMetrics != nil {
		s.wsMetrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	}
}

// channelParam defaults an empty channel to general and rejects unusable names.
func channelParam(raw string) (string, error) {
	if raw == "" {
		return domain.ChannelGeneral, nil
	}
	if err := domain.ValidateChannel(raw); err != nil {
		return "", apperrors.ValidationError("invalid channel").WithContext("channel", raw)
	}
	return raw, nil
}
