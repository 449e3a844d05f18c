package app

import (
	"github.com/pscheid92/sensorpulse/internal/domain"
)

// MembershipSource is the read side of the connection registry.
type MembershipSource interface {
	Members(channel string) []*domain.Connection
	Snapshot() map[string][]*domain.Connection
}

// StatsReporter summarizes registry membership for monitoring.
type StatsReporter struct {
	source MembershipSource
}

func NewStatsReporter(source MembershipSource) *StatsReporter {
	return &StatsReporter{source: source}
}

// ChannelStats describes one channel. An unknown channel reports zero
// connections and an empty user list.
func (s *StatsReporter) ChannelStats(channel string) domain.ChannelStats {
	return channelStats(s.source.Members(channel))
}

// GlobalStats describes every channel with at least one connection. All
// counts come from a single registry snapshot.
func (s *StatsReporter) GlobalStats() domain.GlobalStats {
	snapshot := s.source.Snapshot()

	stats := domain.GlobalStats{
		TotalChannels: len(snapshot),
		Channels:      make(map[string]domain.ChannelStats, len(snapshot)),
	}
	for channel, members := range snapshot {
		stats.TotalConnections += len(members)
		stats.Channels[channel] = channelStats(members)
	}
	return stats
}

func channelStats(members []*domain.Connection) domain.ChannelStats {
	users := make([]domain.Subscriber, len(members))
	for i, conn := range members {
		users[i] = domain.SubscriberOf(conn)
	}
	return domain.ChannelStats{Connections: len(members), Users: users}
}
