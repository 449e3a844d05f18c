package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConn(channel, userID string) *domain.Connection {
	return &domain.Connection{Channel: channel, UserID: userID}
}

func ids(conns []*domain.Connection) []uuid.UUID {
	out := make([]uuid.UUID, len(conns))
	for i, c := range conns {
		out[i] = c.ID
	}
	return out
}

func TestRegister_AssignsIDAndTimestamp(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New(clockwork.NewFakeClockAt(now), 0)

	conn := newConn("sensors", "")
	require.NoError(t, r.Register(conn))

	assert.NotEqual(t, uuid.Nil, conn.ID)
	assert.Equal(t, now, conn.ConnectedAt)
	assert.Equal(t, 1, r.Len())
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	conn := newConn("sensors", "")
	require.NoError(t, r.Register(conn))

	err := r.Register(conn)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	// Same identity on another channel is still a duplicate.
	other := &domain.Connection{ID: conn.ID, Channel: "readings"}
	assert.ErrorIs(t, r.Register(other), ErrAlreadyRegistered)

	assert.Len(t, r.Members("sensors"), 1)
	assert.Empty(t, r.Members("readings"))
}

func TestRegister_RejectsInvalidChannel(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	err := r.Register(newConn("", ""))
	assert.ErrorIs(t, err, domain.ErrInvalidChannel)
	assert.Equal(t, 0, r.Len())
}

func TestRegister_Capacity(t *testing.T) {
	r := New(clockwork.NewRealClock(), 2)
	require.NoError(t, r.Register(newConn("a", "")))
	first := newConn("b", "")
	require.NoError(t, r.Register(first))

	assert.ErrorIs(t, r.Register(newConn("a", "")), ErrCapacityReached)

	r.Remove("b", first.ID)
	assert.NoError(t, r.Register(newConn("a", "")))
}

func TestRemove_Idempotent(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	keep := newConn("sensors", "")
	gone := newConn("sensors", "")
	require.NoError(t, r.Register(keep))
	require.NoError(t, r.Register(gone))

	assert.True(t, r.Remove("sensors", gone.ID))
	before := r.Snapshot()

	assert.False(t, r.Remove("sensors", gone.ID))
	assert.False(t, r.Remove("sensors", gone.ID))
	assert.False(t, r.Remove("nope", gone.ID))

	assert.Equal(t, before, r.Snapshot())
	assert.Equal(t, []uuid.UUID{keep.ID}, ids(r.Members("sensors")))
}

func TestRemove_WrongChannelIsNoop(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	conn := newConn("sensors", "")
	require.NoError(t, r.Register(conn))

	assert.False(t, r.Remove("readings", conn.ID))
	assert.Len(t, r.Members("sensors"), 1)
}

func TestRemove_PrunesEmptyChannel(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	conn := newConn("locations", "")
	require.NoError(t, r.Register(conn))
	require.Len(t, r.Channels(), 1)

	r.Remove("locations", conn.ID)
	assert.Empty(t, r.Channels())
}

func TestMembers_RegistrationOrderAndCopy(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	var want []uuid.UUID
	for i := 0; i < 5; i++ {
		c := newConn("general", "")
		require.NoError(t, r.Register(c))
		want = append(want, c.ID)
	}

	snapshot := r.Members("general")
	assert.Equal(t, want, ids(snapshot))

	// Later mutation does not affect an earlier snapshot.
	r.Remove("general", want[0])
	assert.Len(t, snapshot, 5)
	assert.Len(t, r.Members("general"), 4)
}

func TestMembers_UnknownChannel(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	members := r.Members("does-not-exist")
	assert.NotNil(t, members)
	assert.Empty(t, members)
}

func TestMembers_ChannelsAreCaseSensitive(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	require.NoError(t, r.Register(newConn("Sensors", "")))
	assert.Empty(t, r.Members("sensors"))
	assert.Len(t, r.Members("Sensors"), 1)
}

func TestChannels_SortedWithCounts(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	for _, ch := range []string{"sensors", "general", "sensors", "anomalies"} {
		require.NoError(t, r.Register(newConn(ch, "")))
	}

	assert.Equal(t, []ChannelCount{
		{Channel: "anomalies", Connections: 1},
		{Channel: "general", Connections: 1},
		{Channel: "sensors", Connections: 2},
	}, r.Channels())
}

func TestLookup(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	conn := newConn("predictions", "u1")
	require.NoError(t, r.Register(conn))

	got, ok := r.Lookup(conn.ID)
	require.True(t, ok)
	assert.Same(t, conn, got)

	r.Remove("predictions", conn.ID)
	_, ok = r.Lookup(conn.ID)
	assert.False(t, ok)
}

func TestDrain(t *testing.T) {
	r := New(clockwork.NewRealClock(), 0)
	a := newConn("sensors", "")
	b := newConn("readings", "")
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	drained := r.Drain()
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, ids(drained))
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Channels())
}

// Concurrent register/remove against readers: every snapshot must look like
// some consistent registry state (unique members, all on the right channel,
// count within bounds, Channels() agreeing with a concurrent Snapshot()).
func TestRegistry_ConcurrentMutationAndSnapshots(t *testing.T) {
	const writers = 16
	const rounds = 200

	r := New(clockwork.NewRealClock(), 0)
	stable := newConn("general", "")
	require.NoError(t, r.Register(stable))

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			channel := "general"
			if w%2 == 1 {
				channel = "sensors"
			}
			for i := 0; i < rounds; i++ {
				c := newConn(channel, "")
				if err := r.Register(c); err != nil {
					t.Errorf("register: %v", err)
					return
				}
				r.Remove(channel, c.ID)
				r.Remove(channel, c.ID)
			}
		}()
	}

	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				members := r.Members("general")
				seen := make(map[uuid.UUID]bool, len(members))
				for _, m := range members {
					if seen[m.ID] {
						t.Errorf("duplicate member %s", m.ID)
					}
					seen[m.ID] = true
					if m.Channel != "general" {
						t.Errorf("member of %q listed under general", m.Channel)
					}
				}
				if !seen[stable.ID] {
					t.Errorf("stable connection missing from snapshot")
				}
				if len(members) > 1+writers/2 {
					t.Errorf("snapshot has %d members, more than could ever coexist", len(members))
				}

				total := 0
				for _, list := range r.Snapshot() {
					total += len(list)
				}
				if total < 1 || total > 1+writers {
					t.Errorf("snapshot total %d out of bounds", total)
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	readers.Wait()

	assert.Equal(t, []uuid.UUID{stable.ID}, ids(r.Members("general")))
	assert.Empty(t, r.Members("sensors"))
	assert.Equal(t, 1, r.Len())
}
