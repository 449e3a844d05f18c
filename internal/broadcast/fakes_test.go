package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorpulse/internal/domain"
	"github.com/pscheid92/sensorpulse/internal/registry"
	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeSender records writes. It can fail every write, or block until released.
type fakeSender struct {
	mu       sync.Mutex
	messages [][]byte
	fail     error
	gate     chan struct{}
	entered  chan struct{}
	closed   chan string
	once     sync.Once
}

func newFakeSender() *fakeSender {
	return &fakeSender{closed: make(chan string, 1)}
}

func (s *fakeSender) Send(ctx context.Context, data []byte) error {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fail != nil {
		return s.fail
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, append([]byte(nil), data...))
	return nil
}

func (s *fakeSender) Close(reason string) error {
	s.once.Do(func() { s.closed <- reason })
	return nil
}

func (s *fakeSender) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.messages...)
}

func register(t *testing.T, reg *registry.Registry, channel string, sender domain.Sender) *domain.Connection {
	t.Helper()
	conn := &domain.Connection{Channel: channel, Sender: sender}
	require.NoError(t, reg.Register(conn))
	return conn
}

var factory = domain.NewEventFactory(clockwork.NewRealClock())

func systemEvent(t *testing.T, message string) *domain.SystemEvent {
	t.Helper()
	ev, err := factory.System(domain.LevelInfo, message, nil)
	require.NoError(t, err)
	return ev
}
