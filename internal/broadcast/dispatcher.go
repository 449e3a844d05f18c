package broadcast

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
	"github.com/pscheid92/sensorpulse/internal/domain"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 256
	defaultStopTimeout = 10 * time.Second
)

// ErrStopped is reported by Check once Stop has been called.
var ErrStopped = errors.New("dispatcher stopped")

// Fanout is what the dispatcher workers drive.
type Fanout interface {
	Broadcast(ctx context.Context, channel string, msg domain.Message) Report
}

type job struct {
	channel    string
	msg        domain.Message
	enqueuedAt time.Time
}

type DispatcherOptions struct {
	// Workers is the number of worker goroutines. A channel always maps to the same worker.
	Workers int
	// QueueSize is the buffer per worker. Publishing to a full queue drops the event.
	QueueSize   int
	StopTimeout time.Duration
	Metrics     *metrics.BroadcastMetrics
}

// Dispatcher decouples publishing from delivery. Publish never blocks; events
// for one channel are broadcast sequentially in publish order.
type Dispatcher struct {
	fanout      Fanout
	clock       clockwork.Clock
	queues      []chan job
	metrics     *metrics.BroadcastMetrics
	stopTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher starts the worker goroutines.
func NewDispatcher(fanout Fanout, clock clockwork.Clock, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		fanout:      fanout,
		clock:       clock,
		queues:      make([]chan job, opts.Workers),
		metrics:     opts.Metrics,
		stopTimeout: opts.StopTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}

	for i := range d.queues {
		d.queues[i] = make(chan job, opts.QueueSize)
		d.wg.Add(1)
		go d.run(d.queues[i])
	}
	return d
}

// Publish enqueues msg for broadcast on channel and returns immediately.
// It returns false when the event was dropped (queue full or dispatcher stopped).
func (d *Dispatcher) Publish(channel string, msg domain.Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(channel, msg, "stopped")
		return false
	}

	select {
	case d.queues[d.shard(channel)] <- job{channel: channel, msg: msg, enqueuedAt: d.clock.Now()}:
		if d.metrics != nil {
			d.metrics.EventsPublished.WithLabelValues(string(msg.Type())).Inc()
			d.metrics.QueueDepth.Inc()
		}
		return true
	default:
		d.drop(channel, msg, "queue_full")
		return false
	}
}

// Pending returns the number of queued events not yet picked up by a worker.
func (d *Dispatcher) Pending() int {
	total := 0
	for _, q := range d.queues {
		total += len(q)
	}
	return total
}

// Check is a readiness probe: it fails once the dispatcher no longer accepts events.
func (d *Dispatcher) Check(_ context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	return nil
}

// Stop refuses new events, lets workers drain what is queued, and waits up to
// the stop timeout. After the timeout, in-flight sends are cancelled.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := d.clock.NewTimer(d.stopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		slog.Info("Dispatcher stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Dispatcher stop timeout exceeded, cancelling in-flight broadcasts",
			"timeout", d.stopTimeout,
			"pending", d.Pending(),
		)
		d.cancel()
		<-done
	}
	d.cancel()
}

func (d *Dispatcher) run(queue <-chan job) {
	defer d.wg.Done()
	for j := range queue {
		if d.metrics != nil {
			d.metrics.QueueDepth.Dec()
			d.metrics.QueueLatency.Observe(d.clock.Since(j.enqueuedAt).Seconds())
		}
		// Past the stop timeout, queued events are discarded so their
		// recipients are left for the shutdown close instead of being evicted.
		if d.ctx.Err() != nil {
			d.drop(j.channel, j.msg, "cancelled")
			continue
		}
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Broadcast panic recovered", "channel", j.channel, "type", j.msg.Type(), "panic", r)
			if d.metrics != nil {
				d.metrics.Panics.Inc()
			}
		}
	}()

	d.fanout.Broadcast(d.ctx, j.channel, j.msg)
}

func (d *Dispatcher) drop(channel string, msg domain.Message, reason string) {
	slog.Warn("Dropping event", "channel", channel, "type", msg.Type(), "reason", reason)
	if d.metrics != nil {
		d.metrics.EventsDropped.WithLabelValues(reason).Inc()
	}
}

func (d *Dispatcher) shard(channel string) int {
	if len(d.queues) == 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(channel))
	return int(h.Sum32() % uint32(len(d.queues)))
}
