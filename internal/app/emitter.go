package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/sensorpulse/internal/domain"
	"github.com/pscheid92/sensorpulse/internal/registry"
)

// ChannelLister reports which channels currently have subscribers.
type ChannelLister interface {
	Channels() []registry.ChannelCount
}

// Emitter turns domain changes into published events.
type Emitter struct {
	events    *domain.EventFactory
	publisher domain.Publisher
	channels  ChannelLister
}

func NewEmitter(events *domain.EventFactory, publisher domain.Publisher, channels ChannelLister) *Emitter {
	return &Emitter{
		events:    events,
		publisher: publisher,
		channels:  channels,
	}
}

// Emit publishes an entity event to the entity's channel and to general.
// It returns once the event is queued; only construction errors are reported.
func (e *Emitter) Emit(ctx context.Context, entityType domain.EntityType, kind domain.EventKind, data domain.Payload, entityID any, metadata domain.Payload) error {
	ev, err := e.events.Entity(entityType, kind, entityID, data, metadata)
	if err != nil {
		return fmt.Errorf("failed to build entity event: %w", err)
	}

	channel, _ := domain.ChannelFor(entityType)
	e.publish(ctx, channel, ev)
	e.publish(ctx, domain.ChannelGeneral, ev)

	slog.DebugContext(ctx, "Entity event emitted",
		"entity_type", entityType,
		"event_type", kind,
		"entity_id", entityID,
		"channel", channel,
	)
	return nil
}

// EmitSystem publishes a system event to general.
func (e *Emitter) EmitSystem(ctx context.Context, level domain.Level, message string, data domain.Payload) error {
	return e.EmitSystemTo(ctx, domain.ChannelGeneral, level, message, data)
}

// EmitSystemTo publishes a system event to a single channel.
func (e *Emitter) EmitSystemTo(ctx context.Context, channel string, level domain.Level, message string, data domain.Payload) error {
	if err := domain.ValidateChannel(channel); err != nil {
		return err
	}
	ev, err := e.events.System(level, message, data)
	if err != nil {
		return fmt.Errorf("failed to build system event: %w", err)
	}

	e.publish(ctx, channel, ev)
	return nil
}

// Announce publishes one system event to every channel that has subscribers.
// Channels subscribed after the call do not receive it.
func (e *Emitter) Announce(ctx context.Context, level domain.Level, message string) error {
	ev, err := e.events.System(level, message, nil)
	if err != nil {
		return fmt.Errorf("failed to build announcement: %w", err)
	}

	channels := e.channels.Channels()
	for _, ch := range channels {
		e.publish(ctx, ch.Channel, ev)
	}

	slog.InfoContext(ctx, "Announcement published", "level", level, "channels", len(channels))
	return nil
}

func (e *Emitter) publish(ctx context.Context, channel string, msg domain.Message) {
	if !e.publisher.Publish(channel, msg) {
		slog.WarnContext(ctx, "Event not queued", "channel", channel, "type", msg.Type())
	}
}
