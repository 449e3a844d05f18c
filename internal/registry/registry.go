package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorpulse/internal/domain"
)

var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrCapacityReached   = errors.New("connection capacity reached")
)

type member struct {
	conn *domain.Connection
	seq  uint64
}

// ChannelCount is one row of Channels().
type ChannelCount struct {
	Channel     string
	Connections int
}

// Registry maps channel names to their registered connections.
type Registry struct {
	mu             sync.RWMutex
	clock          clockwork.Clock
	channels       map[string]map[uuid.UUID]member
	byID           map[uuid.UUID]string
	nextSeq        uint64
	maxConnections int
}

// New creates an empty registry. maxConnections <= 0 means unbounded.
func New(clock clockwork.Clock, maxConnections int) *Registry {
	return &Registry{
		clock:          clock,
		channels:       make(map[string]map[uuid.UUID]member),
		byID:           make(map[uuid.UUID]string),
		maxConnections: maxConnections,
	}
}

// Register adds conn to conn.Channel. A zero ID or ConnectedAt is filled in
// before the connection becomes visible to readers. Registering an ID that is
// already present is rejected.
func (r *Registry) Register(conn *domain.Connection) error {
	if err := domain.ValidateChannel(conn.Channel); err != nil {
		return fmt.Errorf("register connection: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	if _, exists := r.byID[conn.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, conn.ID)
	}
	if r.maxConnections > 0 && len(r.byID) >= r.maxConnections {
		return fmt.Errorf("%w: max %d", ErrCapacityReached, r.maxConnections)
	}
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = r.clock.Now().UTC()
	}

	members, exists := r.channels[conn.Channel]
	if !exists {
		members = make(map[uuid.UUID]member)
		r.channels[conn.Channel] = members
	}

	r.nextSeq++
	members[conn.ID] = member{conn: conn, seq: r.nextSeq}
	r.byID[conn.ID] = conn.Channel

	slog.Debug("Connection registered", "channel", conn.Channel, "connection_id", conn.ID.String(), "channel_connections", len(members))
	return nil
}

// Remove deletes the connection from channel. Removing an absent connection
// is a no-op; the return value reports whether anything was removed.
func (r *Registry) Remove(channel string, id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.channels[channel]
	if !exists {
		return false
	}
	if _, exists := members[id]; !exists {
		return false
	}

	delete(members, id)
	delete(r.byID, id)
	if len(members) == 0 {
		delete(r.channels, channel)
	}

	slog.Debug("Connection removed", "channel", channel, "connection_id", id.String(), "channel_connections", len(members))
	return true
}

// Members returns a copy of the channel's connections in registration order.
func (r *Registry) Members(channel string) []*domain.Connection {
	r.mu.RLock()
	members := r.channels[channel]
	snapshot := make([]member, 0, len(members))
	for _, m := range members {
		snapshot = append(snapshot, m)
	}
	r.mu.RUnlock()

	return ordered(snapshot)
}

// Lookup returns the connection with the given ID.
func (r *Registry) Lookup(id uuid.UUID) (*domain.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channel, exists := r.byID[id]
	if !exists {
		return nil, false
	}
	return r.channels[channel][id].conn, true
}

// Channels returns every channel with at least one connection, sorted by name.
func (r *Registry) Channels() []ChannelCount {
	r.mu.RLock()
	counts := make([]ChannelCount, 0, len(r.channels))
	for channel, members := range r.channels {
		counts = append(counts, ChannelCount{Channel: channel, Connections: len(members)})
	}
	r.mu.RUnlock()

	sort.Slice(counts, func(i, j int) bool { return counts[i].Channel < counts[j].Channel })
	return counts
}

// Snapshot returns a consistent copy of every channel's members, taken under a single lock.
func (r *Registry) Snapshot() map[string][]*domain.Connection {
	r.mu.RLock()
	raw := make(map[string][]member, len(r.channels))
	for channel, members := range r.channels {
		list := make([]member, 0, len(members))
		for _, m := range members {
			list = append(list, m)
		}
		raw[channel] = list
	}
	r.mu.RUnlock()

	out := make(map[string][]*domain.Connection, len(raw))
	for channel, list := range raw {
		out[channel] = ordered(list)
	}
	return out
}

// Len returns the total number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Drain removes every connection and returns them. Used during shutdown.
func (r *Registry) Drain() []*domain.Connection {
	r.mu.Lock()
	all := make([]member, 0, len(r.byID))
	for _, members := range r.channels {
		for _, m := range members {
			all = append(all, m)
		}
	}
	r.channels = make(map[string]map[uuid.UUID]member)
	r.byID = make(map[uuid.UUID]string)
	r.mu.Unlock()

	return ordered(all)
}

func ordered(members []member) []*domain.Connection {
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })
	out := make([]*domain.Connection, len(members))
	for i, m := range members {
		out[i] = m.conn
	}
	return out
}
