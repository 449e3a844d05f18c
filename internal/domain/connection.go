package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sender writes serialized messages to one live client session.
// Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Connection is one registered client session. It is not mutated after registration.
type Connection struct {
	ID          uuid.UUID
	UserID      string
	Channel     string
	RemoteAddr  string
	ConnectedAt time.Time
	Sender      Sender
}

// --- Stats projections ---

// Subscriber is the public view of a connection; it never exposes the sender.
type Subscriber struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	UserID       *string   `json:"user_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

type ChannelStats struct {
	Connections int          `json:"connections"`
	Users       []Subscriber `json:"users"`
}

type GlobalStats struct {
	TotalChannels    int                     `json:"total_channels"`
	TotalConnections int                     `json:"total_connections"`
	Channels         map[string]ChannelStats `json:"channels"`
}

// SubscriberOf projects a connection into its public view.
func SubscriberOf(c *Connection) Subscriber {
	s := Subscriber{ConnectionID: c.ID, ConnectedAt: c.ConnectedAt}
	if c.UserID != "" {
		userID := c.UserID
		s.UserID = &userID
	}
	return s
}
