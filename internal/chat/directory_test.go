package chat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
)

func TestFindOrCreateDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")

	t.Run("CreatesOnFirstContact", func(t *testing.T) {
		conv, err := f.directory.FindOrCreateDirect(ctx, alice.ID, bob.ID)
		require.NoError(t, err)
		require.NotNil(t, conv)
		assert.False(t, conv.IsGroup)

		ids, err := f.directory.ParticipantIDs(ctx, conv.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{alice.ID, bob.ID}, ids)
	})

	t.Run("IdempotentRegardlessOfArgumentOrder", func(t *testing.T) {
		first, err := f.directory.FindOrCreateDirect(ctx, alice.ID, bob.ID)
		require.NoError(t, err)
		second, err := f.directory.FindOrCreateDirect(ctx, bob.ID, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		convs, err := f.directory.ListForUser(ctx, alice.ID)
		require.NoError(t, err)
		assert.Len(t, convs, 1)
	})

	t.Run("RejectsSelfConversation", func(t *testing.T) {
		_, err := f.directory.FindOrCreateDirect(ctx, alice.ID, alice.ID)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("RejectsUnknownUser", func(t *testing.T) {
		_, err := f.directory.FindOrCreateDirect(ctx, alice.ID, 9999)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestDirectoryGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	outsider := f.user(t, "outsider")
	conv := f.direct(t, alice.ID, bob.ID)

	t.Run("ParticipantSees", func(t *testing.T) {
		got, err := f.directory.Get(ctx, conv.ID, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
	})

	t.Run("OutsiderForbidden", func(t *testing.T) {
		_, err := f.directory.Get(ctx, conv.ID, outsider.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("UnknownConversation", func(t *testing.T) {
		_, err := f.directory.Get(ctx, 9999, alice.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestUnreadCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	conv := f.direct(t, alice.ID, bob.ID)

	count, err := f.directory.UnreadCount(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	n, err := f.directory.IncrementUnread(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = f.directory.IncrementUnread(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Counters are per user: alice's stays untouched.
	count, err = f.directory.UnreadCount(ctx, conv.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, f.directory.ClearUnread(ctx, conv.ID, bob.ID))
	count, err = f.directory.UnreadCount(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTouchActivityNeverRegresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	conv := f.direct(t, alice.ID, bob.ID)

	later := time.Now().UTC().Add(time.Hour)
	require.NoError(t, f.directory.TouchActivity(ctx, conv.ID, later))

	got, err := f.directory.Get(ctx, conv.ID, alice.ID)
	require.NoError(t, err)
	require.WithinDuration(t, later, got.LastActivityAt, time.Second)

	// An out-of-order update must not move the pointer backwards.
	require.NoError(t, f.directory.TouchActivity(ctx, conv.ID, later.Add(-30*time.Minute)))
	got, err = f.directory.Get(ctx, conv.ID, alice.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, later, got.LastActivityAt, time.Second)
}
