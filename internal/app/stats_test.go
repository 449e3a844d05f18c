package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorpulse/internal/domain"
	"github.com/pscheid92/sensorpulse/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelStats_UnknownChannel(t *testing.T) {
	s := NewStatsReporter(registry.New(clockwork.NewRealClock(), 0))

	stats := s.ChannelStats("general")
	assert.Equal(t, 0, stats.Connections)
	require.NotNil(t, stats.Users)
	assert.Empty(t, stats.Users)

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.JSONEq(t, `{"connections":0,"users":[]}`, string(raw))
}

func TestChannelStats_ListsSubscribersInOrder(t *testing.T) {
	clock := clockwork.NewFakeClockAt(fixedTime)
	reg := registry.New(clock, 0)

	first := &domain.Connection{ID: uuid.New(), Channel: "sensors", UserID: "alice", Sender: &recordingSender{}}
	require.NoError(t, reg.Register(first))
	clock.Advance(time.Second)
	second := &domain.Connection{ID: uuid.New(), Channel: "sensors", Sender: &recordingSender{}}
	require.NoError(t, reg.Register(second))

	stats := NewStatsReporter(reg).ChannelStats("sensors")
	require.Equal(t, 2, stats.Connections)
	require.Len(t, stats.Users, 2)

	assert.Equal(t, first.ID, stats.Users[0].ConnectionID)
	require.NotNil(t, stats.Users[0].UserID)
	assert.Equal(t, "alice", *stats.Users[0].UserID)
	assert.Equal(t, fixedTime, stats.Users[0].ConnectedAt)

	assert.Equal(t, second.ID, stats.Users[1].ConnectionID)
	assert.Nil(t, stats.Users[1].UserID)
	assert.Equal(t, fixedTime.Add(time.Second), stats.Users[1].ConnectedAt)
}

func TestGlobalStats(t *testing.T) {
	reg := registry.New(clockwork.NewRealClock(), 0)
	s := NewStatsReporter(reg)

	empty := s.GlobalStats()
	assert.Equal(t, 0, empty.TotalChannels)
	assert.Equal(t, 0, empty.TotalConnections)
	assert.NotNil(t, empty.Channels)

	for _, ch := range []string{"general", "general", "sensors"} {
		require.NoError(t, reg.Register(&domain.Connection{Channel: ch, Sender: &recordingSender{}}))
	}

	stats := s.GlobalStats()
	assert.Equal(t, 2, stats.TotalChannels)
	assert.Equal(t, 3, stats.TotalConnections)
	assert.Equal(t, 2, stats.Channels["general"].Connections)
	assert.Equal(t, 1, stats.Channels["sensors"].Connections)
	assert.Len(t, stats.Channels["general"].Users, 2)
}
