package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
	"github.com/pscheid92/sensorpulse/internal/domain"
	"github.com/pscheid92/sensorpulse/internal/platform/correlation"
	"github.com/pscheid92/sensorpulse/internal/registry"
)

const invalidJSONMessage = "Invalid JSON message"

// Registry is the write side of the connection registry.
type Registry interface {
	Register(conn *domain.Connection) error
	Remove(channel string, id uuid.UUID) bool
}

// DirectSender delivers a message to exactly one connection.
type DirectSender interface {
	SendTo(ctx context.Context, conn *domain.Connection, msg domain.Message) error
}

// StatsSource reports the membership of a single channel.
type StatsSource interface {
	ChannelStats(channel string) domain.ChannelStats
}

// Session describes one accepted WebSocket request.
type Session struct {
	Channel  string
	UserID   string
	Endpoint string
	// Authenticated marks sessions whose UserID was verified from a token.
	Authenticated bool
}

type HandlerConfig struct {
	AppURL        string
	IsDevelopment bool
	Conn          ConnOptions
	Metrics       *metrics.WebSocketMetrics
}

// Handler upgrades HTTP requests and runs each connection's lifecycle:
// register, welcome, read until the peer goes away, deregister.
type Handler struct {
	registry Registry
	sender   DirectSender
	stats    StatsSource
	events   *domain.EventFactory
	clock    clockwork.Clock
	upgrader websocket.Upgrader
	connOpts ConnOptions
	metrics  *metrics.WebSocketMetrics
}

func NewHandler(reg Registry, sender DirectSender, stats StatsSource, events *domain.EventFactory, clock clockwork.Clock, cfg HandlerConfig) *Handler {
	cfg.Conn.Metrics = cfg.Metrics
	return &Handler{
		registry: reg,
		sender:   sender,
		stats:    stats,
		events:   events,
		clock:    clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment),
		},
		connOpts: cfg.Conn,
		metrics:  cfg.Metrics,
	}
}

// Serve upgrades the request and blocks until the connection ends.
// Upgrade failures have already been answered by the upgrader.
//
// The connection is registered before the welcome messages are sent, so a
// broadcast can target it early; the held Conn makes such a broadcast wait
// until the welcome has been written.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, s Session) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "WebSocket upgrade failed", "channel", s.Channel, "error", err)
		return
	}

	conn := newHeldConn(ws, h.clock, h.connOpts)
	record := &domain.Connection{
		UserID:     s.UserID,
		Channel:    s.Channel,
		RemoteAddr: r.RemoteAddr,
		Sender:     conn,
	}

	if err := h.registry.Register(record); err != nil {
		code, reason := rejectCode(err)
		h.reject(reason)
		slog.WarnContext(r.Context(), "Connection rejected", "channel", s.Channel, "user_id", s.UserID, "error", err)
		_ = conn.CloseWithCode(code, reason)
		return
	}

	if h.metrics != nil {
		h.metrics.ConnectionsTotal.WithLabelValues(s.Endpoint).Inc()
		h.metrics.ActiveConnections.Inc()
	}
	start := h.clock.Now()
	ctx, _ := correlation.Ensure(context.WithoutCancel(r.Context()))

	defer func() {
		h.registry.Remove(record.Channel, record.ID)
		_ = conn.Close("")
		if h.metrics != nil {
			h.metrics.ActiveConnections.Dec()
			h.metrics.ConnectionDuration.Observe(h.clock.Since(start).Seconds())
		}
		slog.InfoContext(ctx, "WebSocket disconnected", "channel", record.Channel, "connection_id", record.ID.String(), "user_id", record.UserID)
	}()

	slog.InfoContext(ctx, "WebSocket connected",
		"channel", record.Channel,
		"connection_id", record.ID.String(),
		"user_id", record.UserID,
		"endpoint", s.Endpoint,
	)

	welcomed := h.welcome(WithWelcome(ctx), record, s)
	conn.Release()
	if !welcomed {
		return
	}
	h.readLoop(ctx, conn, record)
}

func (h *Handler) welcome(ctx context.Context, record *domain.Connection, s Session) bool {
	greeting := []domain.Message{
		h.events.Connected(record.Channel),
		h.events.ChannelStats(record.Channel, h.stats.ChannelStats(record.Channel)),
	}
	if s.Authenticated {
		greeting = append(greeting, h.events.Authenticated(record.UserID, record.Channel))
	}

	for _, msg := range greeting {
		if err := h.sender.SendTo(ctx, record, msg); err != nil {
			slog.DebugContext(ctx, "Welcome message failed", "connection_id", record.ID.String(), "type", msg.Type(), "error", err)
			return false
		}
	}
	return true
}

func (h *Handler) readLoop(ctx context.Context, conn *Conn, record *domain.Connection) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.DebugContext(ctx, "WebSocket read ended", "connection_id", record.ID.String(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if h.metrics != nil {
			h.metrics.InboundMessagesTotal.Inc()
		}

		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			slog.DebugContext(ctx, "Inbound frame is not a JSON object", "connection_id", record.ID.String(), "size", len(data))
			if err := h.sender.SendTo(ctx, record, h.events.Error(invalidJSONMessage)); err != nil {
				return
			}
			continue
		}

		slog.DebugContext(ctx, "Inbound message", "channel", record.Channel, "connection_id", record.ID.String(), "size", len(data))
	}
}

func (h *Handler) reject(reason string) {
	if h.metrics != nil {
		h.metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
	}
}

func rejectCode(err error) (int, string) {
	switch {
	case errors.Is(err, registry.ErrCapacityReached):
		return websocket.CloseTryAgainLater, "capacity"
	case errors.Is(err, registry.ErrAlreadyRegistered):
		return websocket.ClosePolicyViolation, "duplicate"
	case errors.Is(err, domain.ErrInvalidChannel):
		return websocket.ClosePolicyViolation, "invalid_channel"
	default:
		return websocket.CloseInternalServerErr, "internal"
	}
}
