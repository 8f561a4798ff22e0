package studybot

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := discordgo.User{ID: "user-1", Username: "alice"}

	user, created, err := store.InitializeUser(ctx, u)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, user)
	assert.Equal(t, "user-1", user.ID)
	assert.Zero(t, user.SupportPoints)
	assert.NotZero(t, user.LastActive)

	// second call returns the existing row
	user, created, err = store.InitializeUser(ctx, u)
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, user)
}

func TestSupportPoints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// points for a user that was never seen read as zero
	points, err := store.GetSupportPoints(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, points)

	// awarding points implicitly creates the row
	require.NoError(t, store.AddSupportPoints(ctx, "user-1", 3))
	require.NoError(t, store.AddSupportPoints(ctx, "user-1", 2))

	points, err = store.GetSupportPoints(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, points)
}

func TestLeaderboard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddSupportPoints(ctx, "user-1", 10))
	require.NoError(t, store.AddSupportPoints(ctx, "user-2", 20))
	require.NoError(t, store.AddSupportPoints(ctx, "user-3", 5))

	top, err := store.TopUsers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "user-2", top[0].ID)
	assert.Equal(t, "user-1", top[1].ID)

	// a non-positive limit falls back to the default
	top, err = store.TopUsers(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, top, 3)

	pos, err := store.LeaderboardPosition(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)

	pos, err = store.LeaderboardPosition(ctx, "user-3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), pos)

	// unknown users have no position
	pos, err = store.LeaderboardPosition(ctx, "user-9")
	require.NoError(t, err)
	assert.Zero(t, pos)

	total, err := store.TotalUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestUserPronouns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pronouns, err := store.UserPronouns(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, pronouns)

	require.NoError(t, store.SetUserPronouns(ctx, "user-1", "they/them"))

	pronouns, err = store.UserPronouns(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "they/them", pronouns)

	// empty string clears the field
	require.NoError(t, store.SetUserPronouns(ctx, "user-1", ""))
	pronouns, err = store.UserPronouns(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, pronouns)
}

func TestStudyModeLock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	locked, err := store.IsStudyModeLocked(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, store.LockStudyMode(ctx, "user-1"))
	locked, err = store.IsStudyModeLocked(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, store.UnlockStudyMode(ctx, "user-1"))
	locked, err = store.IsStudyModeLocked(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestBookmark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bookmark, err := store.Bookmark(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, bookmark)

	blob, err := json.Marshal(
		map[string]string{
			"guild_id":   "guild-1",
			"channel_id": "channel-1",
			"message_id": "message-1",
			"note":       "review before exam",
		},
	)
	require.NoError(t, err)
	require.NoError(t, store.SetBookmark(ctx, "user-1", blob))

	bookmark, err = store.Bookmark(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, bookmark)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(bookmark, &decoded))
	assert.Equal(t, "message-1", decoded["message_id"])
	assert.Equal(t, "review before exam", decoded["note"])
}

func TestTouchLastActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.TouchLastActive(ctx, "user-1"))

	user, created, err := store.InitializeUser(ctx, discordgo.User{ID: "user-1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NotZero(t, user.LastActive)
}
