package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// --- Enumerations ---

type EntityType string

const (
	EntitySensor     EntityType = "sensor"
	EntityReading    EntityType = "reading"
	EntityLocation   EntityType = "location"
	EntityAnomaly    EntityType = "anomaly"
	EntityPrediction EntityType = "prediction"
)

func (t EntityType) Valid() bool {
	switch t {
	case EntitySensor, EntityReading, EntityLocation, EntityAnomaly, EntityPrediction:
		return true
	default:
		return false
	}
}

type EventKind string

const (
	EventCreated             EventKind = "created"
	EventUpdated             EventKind = "updated"
	EventDeleted             EventKind = "deleted"
	EventAnomalyDetected     EventKind = "anomaly_detected"
	EventPredictionCompleted EventKind = "prediction_completed"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventUpdated, EventDeleted, EventAnomalyDetected, EventPredictionCompleted:
		return true
	default:
		return false
	}
}

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError:
		return true
	default:
		return false
	}
}

func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: entity type %q", ErrInvalidEventKind, s)
	}
	return t, nil
}

func ParseEventKind(s string) (EventKind, error) {
	k := EventKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: event type %q", ErrInvalidEventKind, s)
	}
	return k, nil
}

func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return l, nil
}

// MessageType is the "type" discriminator on the wire.
type MessageType string

const (
	TypeEntityEvent   MessageType = "entity_event"
	TypeSystemEvent   MessageType = "system_event"
	TypeConnection    MessageType = "connection"
	TypeChannelStats  MessageType = "channel_stats"
	TypeAuthenticated MessageType = "authenticated"
	TypeError         MessageType = "error"
)

const StatusConnected = "connected"

// Payload is an open, string-keyed map of JSON-compatible values.
type Payload map[string]any

// Message is anything that can be sent to a WebSocket client.
// Implementations are immutable; Encode may be called any number of times.
type Message interface {
	Type() MessageType
	Encode() ([]byte, error)
}

// --- Entity event ---

type EntityEvent struct {
	entityType EntityType
	kind       EventKind
	entityID   any
	data       Payload
	metadata   Payload
	timestamp  time.Time
}

type entityEventWire struct {
	Type       MessageType `json:"type"`
	EntityType EntityType  `json:"entity_type"`
	EventType  EventKind   `json:"event_type"`
	EntityID   any         `json:"entity_id"`
	Data       Payload     `json:"data"`
	Timestamp  string      `json:"timestamp"`
	Metadata   Payload     `json:"metadata"`
}

func (e *EntityEvent) Type() MessageType      { return TypeEntityEvent }
func (e *EntityEvent) EntityType() EntityType { return e.entityType }
func (e *EntityEvent) Kind() EventKind        { return e.kind }
func (e *EntityEvent) EntityID() any          { return e.entityID }
func (e *EntityEvent) Data() Payload          { return e.data.clone() }
func (e *EntityEvent) Metadata() Payload      { return e.metadata.clone() }
func (e *EntityEvent) Timestamp() time.Time   { return e.timestamp }

func (e *EntityEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(entityEventWire{
		Type:       TypeEntityEvent,
		EntityType: e.entityType,
		EventType:  e.kind,
		EntityID:   e.entityID,
		Data:       e.data,
		Timestamp:  formatTimestamp(e.timestamp),
		Metadata:   e.metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity event: %w", err)
	}
	return data, nil
}

// --- System event ---

type SystemEvent struct {
	level     Level
	message   string
	data      Payload
	timestamp time.Time
}

type systemEventWire struct {
	Type      MessageType `json:"type"`
	Level     Level       `json:"level"`
	Message   string      `json:"message"`
	Data      Payload     `json:"data"`
	Timestamp string      `json:"timestamp"`
}

func (e *SystemEvent) Type() MessageType    { return TypeSystemEvent }
func (e *SystemEvent) Level() Level         { return e.level }
func (e *SystemEvent) Message() string      { return e.message }
func (e *SystemEvent) Data() Payload        { return e.data.clone() }
func (e *SystemEvent) Timestamp() time.Time { return e.timestamp }

func (e *SystemEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(systemEventWire{
		Type:      TypeSystemEvent,
		Level:     e.level,
		Message:   e.message,
		Data:      e.data,
		Timestamp: formatTimestamp(e.timestamp),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode system event: %w", err)
	}
	return data, nil
}

// --- Per-connection messages ---

// ConnectionEvent is sent once to a freshly registered connection.
type ConnectionEvent struct {
	status    string
	channel   string
	timestamp time.Time
}

func (e *ConnectionEvent) Type() MessageType { return TypeConnection }
func (e *ConnectionEvent) Channel() string   { return e.channel }

func (e *ConnectionEvent) Encode() ([]byte, error) {
	return encode(struct {
		Type      MessageType `json:"type"`
		Status    string      `json:"status"`
		Channel   string      `json:"channel"`
		Timestamp string      `json:"timestamp"`
	}{TypeConnection, e.status, e.channel, formatTimestamp(e.timestamp)})
}

type ChannelStatsEvent struct {
	channel string
	stats   ChannelStats
}

func (e *ChannelStatsEvent) Type() MessageType { return TypeChannelStats }

func (e *ChannelStatsEvent) Encode() ([]byte, error) {
	return encode(struct {
		Type    MessageType  `json:"type"`
		Channel string       `json:"channel"`
		Stats   ChannelStats `json:"stats"`
	}{TypeChannelStats, e.channel, e.stats})
}

type AuthenticatedEvent struct {
	userID  string
	channel string
}

func (e *AuthenticatedEvent) Type() MessageType { return TypeAuthenticated }

func (e *AuthenticatedEvent) Encode() ([]byte, error) {
	return encode(struct {
		Type    MessageType `json:"type"`
		UserID  string      `json:"user_id"`
		Channel string      `json:"channel"`
	}{TypeAuthenticated, e.userID, e.channel})
}

type ErrorEvent struct {
	message string
}

func (e *ErrorEvent) Type() MessageType { return TypeError }

func (e *ErrorEvent) Encode() ([]byte, error) {
	return encode(struct {
		Type    MessageType `json:"type"`
		Message string      `json:"message"`
	}{TypeError, e.message})
}

// --- Construction ---

// EventFactory builds messages stamped with the factory's clock.
type EventFactory struct {
	clock clockwork.Clock
}

func NewEventFactory(clock clockwork.Clock) *EventFactory {
	return &EventFactory{clock: clock}
}

// Entity builds an entity event. data and metadata are deep-copied.
func (f *EventFactory) Entity(entityType EntityType, kind EventKind, entityID any, data, metadata Payload) (*EntityEvent, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("%w: entity type %q", ErrInvalidEventKind, entityType)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: event type %q", ErrInvalidEventKind, kind)
	}

	return &EntityEvent{
		entityType: entityType,
		kind:       kind,
		entityID:   entityID,
		data:       data.clone(),
		metadata:   metadata.clone(),
		timestamp:  f.now(),
	}, nil
}

func (f *EventFactory) System(level Level, message string, data Payload) (*SystemEvent, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}

	return &SystemEvent{
		level:     level,
		message:   message,
		data:      data.clone(),
		timestamp: f.now(),
	}, nil
}

func (f *EventFactory) Connected(channel string) *ConnectionEvent {
	return &ConnectionEvent{status: StatusConnected, channel: channel, timestamp: f.now()}
}

func (f *EventFactory) ChannelStats(channel string, stats ChannelStats) *ChannelStatsEvent {
	if stats.Users == nil {
		stats.Users = []Subscriber{}
	}
	return &ChannelStatsEvent{channel: channel, stats: stats}
}

func (f *EventFactory) Authenticated(userID, channel string) *AuthenticatedEvent {
	return &AuthenticatedEvent{userID: userID, channel: channel}
}

func (f *EventFactory) Error(message string) *ErrorEvent {
	return &ErrorEvent{message: message}
}

func (f *EventFactory) now() time.Time {
	return f.clock.Now().UTC()
}

// --- Helpers ---

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// clone returns a deep copy of p; nil becomes an empty map so the wire form is always "{}".
func (p Payload) clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Payload:
		return val.clone()
	case map[string]any:
		return map[string]any(Payload(val).clone())
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
