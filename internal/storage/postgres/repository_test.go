package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorchat/parlor/internal/game"
	"github.com/parlorchat/parlor/internal/storage/postgres"
	"github.com/parlorchat/parlor/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

// registerUsers creates n fresh users and returns their usernames.
func registerUsers(t *testing.T, pool *pgxpool.Pool, n int) []string {
	t.Helper()
	repo := postgres.NewAccountRepository(pool)
	names := make([]string, n)
	for i := range names {
		names[i] = uniqueName(fmt.Sprintf("user%d", i))
		require.NoError(t, repo.Register(context.Background(), names[i], "password123"))
	}
	return names
}

func TestAccountRepository_RegisterAndVerify(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewAccountRepository(pool)
	ctx := context.Background()
	name := uniqueName("alice")

	require.NoError(t, repo.Register(ctx, name, "password123"))

	assert.NoError(t, repo.Verify(ctx, name, "password123"))
	assert.ErrorIs(t, repo.Verify(ctx, name, "wrongpass"), postgres.ErrInvalidCredentials)
	assert.ErrorIs(t, repo.Verify(ctx, uniqueName("ghost"), "password123"), postgres.ErrAccountNotFound)
}

func TestAccountRepository_DuplicateUsername(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewAccountRepository(pool)
	ctx := context.Background()
	name := uniqueName("alice")

	require.NoError(t, repo.Register(ctx, name, "password123"))
	assert.ErrorIs(t, repo.Register(ctx, name, "otherpass1"), postgres.ErrAccountExists)
}

func TestAccountRepository_SetStatus(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewAccountRepository(pool)
	ctx := context.Background()
	name := registerUsers(t, pool, 1)[0]

	u, err := repo.GetByUsername(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, postgres.StatusOffline, u.Status)

	require.NoError(t, repo.SetStatus(ctx, name, postgres.StatusAway))
	u, err = repo.GetByUsername(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, postgres.StatusAway, u.Status)

	assert.ErrorIs(t, repo.SetStatus(ctx, name, "BUSY"), postgres.ErrInvalidStatus)
	assert.ErrorIs(t, repo.SetStatus(ctx, uniqueName("ghost"), postgres.StatusOnline), postgres.ErrAccountNotFound)
}

func TestFriendRepository_RequestAndPromote(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewFriendRepository(pool)
	ctx := context.Background()
	names := registerUsers(t, pool, 2)
	alice, bob := names[0], names[1]

	accepted, err := repo.RequestFriend(ctx, alice, bob)
	require.NoError(t, err)
	assert.False(t, accepted)

	pending, err := repo.ListPendingRequests(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, pending)

	// The reverse request promotes the pending edge to a friendship.
	accepted, err = repo.RequestFriend(ctx, bob, alice)
	require.NoError(t, err)
	assert.True(t, accepted)

	pending, err = repo.ListPendingRequests(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, pending)

	friends, err := repo.ListFriends(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, friends)

	friends, err = repo.ListFriends(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{alice}, friends)
}

func TestFriendRepository_DuplicateRequest(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewFriendRepository(pool)
	ctx := context.Background()
	names := registerUsers(t, pool, 2)
	alice, bob := names[0], names[1]

	_, err := repo.RequestFriend(ctx, alice, bob)
	require.NoError(t, err)

	_, err = repo.RequestFriend(ctx, alice, bob)
	assert.ErrorIs(t, err, postgres.ErrFriendRequestPending)
}

func TestFriendRepository_AlreadyFriends(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewFriendRepository(pool)
	ctx := context.Background()
	names := registerUsers(t, pool, 2)
	alice, bob := names[0], names[1]

	_, err := repo.RequestFriend(ctx, alice, bob)
	require.NoError(t, err)
	_, err = repo.RequestFriend(ctx, bob, alice)
	require.NoError(t, err)

	_, err = repo.RequestFriend(ctx, alice, bob)
	assert.ErrorIs(t, err, postgres.ErrAlreadyFriends)
	_, err = repo.RequestFriend(ctx, bob, alice)
	assert.ErrorIs(t, err, postgres.ErrAlreadyFriends)
}

func TestFriendRepository_UnknownRecipient(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewFriendRepository(pool)
	alice := registerUsers(t, pool, 1)[0]

	_, err := repo.RequestFriend(context.Background(), alice, uniqueName("ghost"))
	assert.ErrorIs(t, err, postgres.ErrAccountNotFound)
}

func TestMessageRepository_AppendAndRecent(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewMessageRepository(pool)
	ctx := context.Background()
	names := registerUsers(t, pool, 2)
	alice, bob := names[0], names[1]

	require.NoError(t, repo.Append(ctx, alice, bob, "hello"))
	require.NoError(t, repo.Append(ctx, bob, alice, "hi yourself"))
	require.NoError(t, repo.Append(ctx, alice, bob, "fancy a game?"))

	msgs, err := repo.RecentBetween(ctx, alice, bob, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hello", msgs[0].Body)
	assert.Equal(t, alice, msgs[0].Sender)
	assert.Equal(t, bob, msgs[0].Recipient)
	assert.Equal(t, "hi yourself", msgs[1].Body)
	assert.Equal(t, bob, msgs[1].Sender)
	assert.Equal(t, "fancy a game?", msgs[2].Body)
	assert.False(t, msgs[0].SentAt.IsZero())

	// Both orderings of the pair see the same conversation.
	reversed, err := repo.RecentBetween(ctx, bob, alice, 50)
	require.NoError(t, err)
	assert.Equal(t, msgs, reversed)
}

func TestMessageRepository_RecentBetween_Limit(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewMessageRepository(pool)
	ctx := context.Background()
	names := registerUsers(t, pool, 2)
	alice, bob := names[0], names[1]

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(ctx, alice, bob, fmt.Sprintf("msg %d", i)))
	}

	msgs, err := repo.RecentBetween(ctx, alice, bob, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// The newest two, oldest first.
	assert.Equal(t, "msg 3", msgs[0].Body)
	assert.Equal(t, "msg 4", msgs[1].Body)
}

func TestMessageRepository_UnknownUser(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewMessageRepository(pool)
	alice := registerUsers(t, pool, 1)[0]

	err := repo.Append(context.Background(), alice, uniqueName("ghost"), "anyone there?")
	assert.ErrorIs(t, err, postgres.ErrAccountNotFound)
}

func TestGameRepository_InviteLifecycle(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewGameRepository(pool)
	ctx := context.Background()
	names := registerUsers(t, pool, 3)
	alice, bob, carol := names[0], names[1], names[2]

	require.NoError(t, repo.RecordInvite(ctx, alice, bob))
	require.NoError(t, repo.RecordInvite(ctx, carol, bob))

	pending, err := repo.ListPendingInvites(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{alice, carol}, pending)

	require.NoError(t, repo.RecordResponse(ctx, alice, bob, game.ResponseAccepted))

	pending, err = repo.ListPendingInvites(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []string{carol}, pending)

	require.NoError(t, repo.RecordResponse(ctx, carol, bob, game.ResponseDenied))

	pending, err = repo.ListPendingInvites(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestGameRepository_RecordResponse_NoOpenInvite(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewGameRepository(pool)
	names := registerUsers(t, pool, 2)

	err := repo.RecordResponse(context.Background(), names[0], names[1], game.ResponseAccepted)
	assert.ErrorIs(t, err, postgres.ErrAccountNotFound)
}

func TestGameRepository_UnknownRecipient(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewGameRepository(pool)
	alice := registerUsers(t, pool, 1)[0]

	err := repo.RecordInvite(context.Background(), alice, uniqueName("ghost"))
	assert.ErrorIs(t, err, postgres.ErrAccountNotFound)
}
