package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorpulse/internal/adapter/metrics"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPongTimeout  = 60 * time.Second
	closeWriteTimeout   = time.Second
)

// ErrClosed is returned by Send after the connection has been closed.
var ErrClosed = errors.New("websocket connection closed")

type ConnOptions struct {
	// MaxMessageSize limits inbound frames in bytes. Zero means unbounded.
	MaxMessageSize int64
	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration
	// PongTimeout is how long to wait for a pong before the read side gives up.
	PongTimeout time.Duration
	Metrics     *metrics.WebSocketMetrics
}

// Conn adapts a gorilla connection to domain.Sender. Writes are serialized;
// pings and close frames go through WriteControl, which is safe alongside them.
type Conn struct {
	ws      *websocket.Conn
	clock   clockwork.Clock
	metrics *metrics.WebSocketMetrics

	pingInterval time.Duration
	pongTimeout  time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// ready is closed once ordinary sends may go out. Until then only sends
	// whose context is marked by WithWelcome are written.
	ready     chan struct{}
	readyOnce sync.Once
}

type welcomeKey struct{}

// WithWelcome marks ctx so its sends bypass the gate of a held Conn.
func WithWelcome(ctx context.Context) context.Context {
	return context.WithValue(ctx, welcomeKey{}, true)
}

func isWelcome(ctx context.Context) bool {
	v, _ := ctx.Value(welcomeKey{}).(bool)
	return v
}

func NewConn(ws *websocket.Conn, clock clockwork.Clock, opts ConnOptions) *Conn {
	c := newHeldConn(ws, clock, opts)
	c.Release()
	return c
}

// newHeldConn returns a Conn that only writes welcome sends until Release.
func newHeldConn(ws *websocket.Conn, clock clockwork.Clock, opts ConnOptions) *Conn {
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongTimeout
	}

	c := &Conn{
		ws:           ws,
		clock:        clock,
		metrics:      opts.Metrics,
		pingInterval: opts.PingInterval,
		pongTimeout:  opts.PongTimeout,
		done:         make(chan struct{}),
		ready:        make(chan struct{}),
	}

	if opts.MaxMessageSize > 0 {
		ws.SetReadLimit(opts.MaxMessageSize)
	}
	if c.pingInterval > 0 {
		c.configurePongHandler()
		c.wg.Add(1)
		go c.keepalive()
	}
	return c
}

// Release opens the gate for ordinary sends. It is idempotent.
func (c *Conn) Release() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// Send writes one text frame. The write deadline is the context deadline,
// or a default timeout when the context has none. On a held Conn, sends not
// marked by WithWelcome wait for Release.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if !isWelcome(ctx) {
		select {
		case <-c.ready:
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = c.clock.Now().Add(defaultWriteTimeout)
	}
	_ = c.ws.SetWriteDeadline(deadline)

	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure frame carrying reason and closes the socket.
// Only the first call has any effect.
func (c *Conn) Close(reason string) error {
	return c.CloseWithCode(websocket.CloseNormalClosure, reason)
}

// CloseWithCode sends a close frame with the given status code and closes the socket.
func (c *Conn) CloseWithCode(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, c.clock.Now().Add(closeWriteTimeout))
		err = c.ws.Close()
	})
	c.wg.Wait()
	return err
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// ReadMessage blocks for the next inbound data frame. Any inbound traffic
// counts as liveness when keepalive is enabled.
func (c *Conn) ReadMessage() (int, []byte, error) {
	messageType, data, err := c.ws.ReadMessage()
	if err == nil && c.pingInterval > 0 {
		c.updateReadDeadline()
	}
	return messageType, data, err
}

func (c *Conn) keepalive() {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.Chan():
			deadline := c.clock.Now().Add(defaultWriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if c.metrics != nil {
					c.metrics.PingFailures.Inc()
				}
				slog.Debug("Ping failed, closing connection", "remote_addr", c.ws.RemoteAddr().String(), "error", err)
				_ = c.ws.Close()
				return
			}
		}
	}
}

func (c *Conn) configurePongHandler() {
	c.updateReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		return nil
	})
}

func (c *Conn) updateReadDeadline() {
	_ = c.ws.SetReadDeadline(c.clock.Now().Add(c.pongTimeout))
}
