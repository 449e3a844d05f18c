package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
	"github.com/pscheid92/sensorpulse/internal/domain"
	"github.com/pscheid92/sensorpulse/internal/registry"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout = 2 * time.Second
	defaultConcurrency = 32
	closeReasonFailed  = "send failed"
)

// Registry is the subset of registry.Registry the broadcaster reads and prunes.
type Registry interface {
	Members(channel string) []*domain.Connection
	Remove(channel string, id uuid.UUID) bool
	Channels() []registry.ChannelCount
}

// Report summarizes one broadcast. It feeds logs and metrics only.
type Report struct {
	Channel    string
	Recipients int
	Delivered  int
	Failed     int
	Duration   time.Duration
}

type Options struct {
	// SendTimeout bounds each individual write. Zero uses 2s.
	SendTimeout time.Duration
	// Concurrency bounds parallel writes within one broadcast. Zero uses 32.
	Concurrency int
	// OnEvict is called after a failed connection has been removed from the registry.
	OnEvict          func(conn *domain.Connection, err error)
	Metrics          *metrics.BroadcastMetrics
	WebSocketMetrics *metrics.WebSocketMetrics
}

// Broadcaster delivers encoded events to registry members.
type Broadcaster struct {
	registry    Registry
	clock       clockwork.Clock
	sendTimeout time.Duration
	concurrency int
	onEvict     func(conn *domain.Connection, err error)
	metrics     *metrics.BroadcastMetrics
	wsMetrics   *metrics.WebSocketMetrics
}

func NewBroadcaster(reg Registry, clock clockwork.Clock, opts Options) *Broadcaster {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	return &Broadcaster{
		registry:    reg,
		clock:       clock,
		sendTimeout: opts.SendTimeout,
		concurrency: opts.Concurrency,
		onEvict:     opts.OnEvict,
		metrics:     opts.Metrics,
		wsMetrics:   opts.WebSocketMetrics,
	}
}

// Broadcast sends msg to every connection currently registered on channel.
// Failed recipients are removed and closed; the remaining sends still run.
func (b *Broadcaster) Broadcast(ctx context.Context, channel string, msg domain.Message) Report {
	start := b.clock.Now()
	report := Report{Channel: channel}

	data, err := msg.Encode()
	if err != nil {
		slog.Error("Failed to encode broadcast message", "channel", channel, "type", msg.Type(), "error", err)
		return report
	}

	members := b.registry.Members(channel)
	report.Recipients = len(members)

	var delivered, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)

	for _, conn := range members {
		conn := conn
		g.Go(func() error {
			if err := b.send(ctx, conn, data); err != nil {
				failed.Add(1)
				b.evict(conn, err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report.Delivered = int(delivered.Load())
	report.Failed = int(failed.Load())
	report.Duration = b.clock.Since(start)

	if b.metrics != nil {
		b.metrics.Broadcasts.WithLabelValues(string(msg.Type())).Inc()
		b.metrics.BroadcastDuration.Observe(report.Duration.Seconds())
		b.metrics.Recipients.Observe(float64(report.Recipients))
		b.metrics.DeliveryFailures.Add(float64(report.Failed))
	}

	slog.Debug("Broadcast complete",
		"channel", channel,
		"type", msg.Type(),
		"recipients", report.Recipients,
		"delivered", report.Delivered,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report
}

// BroadcastAll sends msg to every channel that has subscribers.
func (b *Broadcaster) BroadcastAll(ctx context.Context, msg domain.Message) []Report {
	channels := b.registry.Channels()
	reports := make([]Report, 0, len(channels))
	for _, ch := range channels {
		reports = append(reports, b.Broadcast(ctx, ch.Channel, msg))
	}
	return reports
}

// SendTo writes msg to a single connection, evicting it on failure.
func (b *Broadcaster) SendTo(ctx context.Context, conn *domain.Connection, msg domain.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if err := b.send(ctx, conn, data); err != nil {
		b.evict(conn, err)
		return err
	}
	return nil
}

func (b *Broadcaster) send(ctx context.Context, conn *domain.Connection, data []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	start := b.clock.Now()
	err := conn.Sender.Send(sendCtx, data)

	if b.wsMetrics != nil {
		b.wsMetrics.SendDuration.Observe(b.clock.Since(start).Seconds())
		if err != nil {
			b.wsMetrics.SendFailures.Inc()
		} else {
			b.wsMetrics.MessagesSent.Inc()
		}
	}

	if err != nil {
		return fmt.Errorf("send to %s: %w", conn.ID, err)
	}
	return nil
}

// evict removes conn from the registry before returning, then closes the
// transport in the background so a stuck close cannot stall the broadcast.
func (b *Broadcaster) evict(conn *domain.Connection, cause error) {
	removed := b.registry.Remove(conn.Channel, conn.ID)

	slog.Warn("Evicting connection after failed send",
		"channel", conn.Channel,
		"connection_id", conn.ID.String(),
		"user_id", conn.UserID,
		"error", cause,
	)

	go func() {
		if err := conn.Sender.Close(closeReasonFailed); err != nil {
			slog.Debug("Close after failed send", "connection_id", conn.ID.String(), "error", err)
		}
	}()

	if removed && b.onEvict != nil {
		b.onEvict(conn, cause)
	}
}
