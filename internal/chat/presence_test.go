package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatcore/internal/chat"
)

func TestPresenceRefCounting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	f.direct(t, alice.ID, bob.ID)
	f.sink.reset()

	t.Run("FirstSessionFlipsOnline", func(t *testing.T) {
		require.NoError(t, f.presence.MarkOnline(ctx, alice.ID, "s1"))
		assert.True(t, f.presence.IsOnline(alice.ID))

		u, err := f.userRepo.GetByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, u.IsOnline)

		events := f.sink.ofType(chat.EventPresence)
		require.Len(t, events, 1)
		assert.Equal(t, []int64{bob.ID}, events[0].userIDs, "only conversation peers are notified")
		assert.Equal(t, true, events[0].evt["is_online"])
	})

	t.Run("SecondSessionIsSilent", func(t *testing.T) {
		f.sink.reset()
		require.NoError(t, f.presence.MarkOnline(ctx, alice.ID, "s2"))
		assert.True(t, f.presence.IsOnline(alice.ID))
		assert.Empty(t, f.sink.ofType(chat.EventPresence))
	})

	t.Run("DroppingOneSessionKeepsOnline", func(t *testing.T) {
		f.sink.reset()
		require.NoError(t, f.presence.MarkOffline(ctx, alice.ID, "s1"))
		assert.True(t, f.presence.IsOnline(alice.ID))
		assert.Empty(t, f.sink.ofType(chat.EventPresence))
	})

	t.Run("LastSessionFlipsOfflineWithLastSeen", func(t *testing.T) {
		f.sink.reset()
		require.NoError(t, f.presence.MarkOffline(ctx, alice.ID, "s2"))
		assert.False(t, f.presence.IsOnline(alice.ID))

		u, err := f.userRepo.GetByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.False(t, u.IsOnline)
		require.NotNil(t, u.LastSeen)
		assert.WithinDuration(t, time.Now().UTC(), *u.LastSeen, 5*time.Second)

		events := f.sink.ofType(chat.EventPresence)
		require.Len(t, events, 1)
		assert.Equal(t, false, events[0].evt["is_online"])
		assert.NotNil(t, events[0].evt["last_seen"])
	})

	t.Run("UnknownSessionOfflineIsNoop", func(t *testing.T) {
		f.sink.reset()
		require.NoError(t, f.presence.MarkOffline(ctx, alice.ID, "ghost"))
		assert.Empty(t, f.sink.ofType(chat.EventPresence))
	})
}

func TestPresenceHeartbeatExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	f.direct(t, alice.ID, bob.ID)

	presence := chat.NewPresenceTracker(f.userRepo, f.partRepo, f.sink, 40*time.Millisecond, zap.NewNop())
	defer presence.Shutdown()

	require.NoError(t, presence.MarkOnline(ctx, alice.ID, "s1"))
	require.True(t, presence.IsOnline(alice.ID))

	// Heartbeats keep the session alive past the bare timeout.
	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		presence.Heartbeat(alice.ID)
	}
	assert.True(t, presence.IsOnline(alice.ID))

	// Silence now forces the user offline.
	assert.Eventually(t, func() bool {
		return !presence.IsOnline(alice.ID)
	}, time.Second, 10*time.Millisecond)

	u, err := f.userRepo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
	require.NotNil(t, u.LastSeen)
}

func TestPresenceRecoversAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	f.direct(t, alice.ID, bob.ID)

	presence := chat.NewPresenceTracker(f.userRepo, f.partRepo, f.sink, 30*time.Millisecond, zap.NewNop())
	defer presence.Shutdown()

	require.NoError(t, presence.MarkOnline(ctx, alice.ID, "s1"))
	require.Eventually(t, func() bool {
		return !presence.IsOnline(alice.ID)
	}, time.Second, 5*time.Millisecond)
	f.sink.reset()

	t.Run("ResumedHeartbeatFlipsBackOnline", func(t *testing.T) {
		// The session never disconnected; its next heartbeat proves it alive.
		presence.Heartbeat(alice.ID)
		assert.True(t, presence.IsOnline(alice.ID))

		u, err := f.userRepo.GetByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.True(t, u.IsOnline)

		events := f.sink.ofType(chat.EventPresence)
		require.Len(t, events, 1)
		assert.Equal(t, true, events[0].evt["is_online"])
	})

	t.Run("ExpiresAgainAfterRenewedSilence", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			return !presence.IsOnline(alice.ID)
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("DisconnectAfterExpiryAnnouncesNothing", func(t *testing.T) {
		f.sink.reset()
		require.NoError(t, presence.MarkOffline(ctx, alice.ID, "s1"))
		assert.Empty(t, f.sink.ofType(chat.EventPresence), "offline was already announced on expiry")

		// A dead entry must not resurrect through stray heartbeats.
		presence.Heartbeat(alice.ID)
		assert.False(t, presence.IsOnline(alice.ID))
	})
}

func TestNewSessionRestoresExpiredUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	f.direct(t, alice.ID, bob.ID)

	presence := chat.NewPresenceTracker(f.userRepo, f.partRepo, f.sink, 30*time.Millisecond, zap.NewNop())
	defer presence.Shutdown()

	require.NoError(t, presence.MarkOnline(ctx, alice.ID, "s1"))
	require.Eventually(t, func() bool {
		return !presence.IsOnline(alice.ID)
	}, time.Second, 5*time.Millisecond)
	f.sink.reset()

	require.NoError(t, presence.MarkOnline(ctx, alice.ID, "s2"))
	assert.True(t, presence.IsOnline(alice.ID))

	events := f.sink.ofType(chat.EventPresence)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].evt["is_online"])
}
