package studybot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addOpenDoubt(t testing.TB, store Store, author string, description string) string {
	t.Helper()
	id, err := store.AddDoubt(
		context.Background(), &Doubt{
			Author:      author,
			Description: description,
			Subject:     "math",
			Grade:       "10",
			MessageID:   "message-1",
			ChannelID:   "channel-1",
		},
	)
	require.NoError(t, err)
	return id
}

func TestAddDoubt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	image := ""
	id, err := store.AddDoubt(
		ctx, &Doubt{
			Author:      "user-1",
			Description: "how do I factor quadratics?",
			Image:       &image,
			Subject:     "math",
			Grade:       "9",
		},
	)
	require.NoError(t, err)
	assert.Regexp(t, shortIDPattern, id)

	doubt, err := store.GetDoubt(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, doubt)
	assert.Equal(t, DoubtStatusOpen, doubt.Status)

	// empty image URL is stored as NULL
	assert.Nil(t, doubt.Image)
	assert.Nil(t, doubt.SolvedBy)
	assert.NotZero(t, doubt.CreatedAt)
}

func TestGetDoubtAbsent(t *testing.T) {
	store := newTestStore(t)

	doubt, err := store.GetDoubt(context.Background(), "ZZ999")
	require.NoError(t, err)
	assert.Nil(t, doubt)
}

func TestMarkDoubtSolved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := addOpenDoubt(t, store, "user-1", "what is integration by parts?")

	ok, err := store.MarkDoubtSolved(ctx, id, "solver-1", "solved-msg", "solved-chan")
	require.NoError(t, err)
	assert.True(t, ok)

	doubt, err := store.GetDoubt(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, doubt)
	assert.Equal(t, DoubtStatusSolved, doubt.Status)
	require.NotNil(t, doubt.SolvedBy)
	assert.Equal(t, "solver-1", *doubt.SolvedBy)
	require.NotNil(t, doubt.SolvedMessageID)
	assert.Equal(t, "solved-msg", *doubt.SolvedMessageID)
	assert.NotNil(t, doubt.SolvedAt)

	// solving twice reports false
	ok, err = store.MarkDoubtSolved(ctx, id, "solver-2", "other-msg", "other-chan")
	require.NoError(t, err)
	assert.False(t, ok)

	// and leaves the first solver in place
	doubt, err = store.GetDoubt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "solver-1", *doubt.SolvedBy)
}

func TestUndoSolveDoubt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := addOpenDoubt(t, store, "user-1", "why does this converge?")

	// undoing an open doubt reports false
	ok, err := store.UndoSolveDoubt(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.MarkDoubtSolved(ctx, id, "solver-1", "msg", "chan")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.UndoSolveDoubt(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	doubt, err := store.GetDoubt(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, doubt)
	assert.Equal(t, DoubtStatusOpen, doubt.Status)
	assert.Nil(t, doubt.SolvedBy)
	assert.Nil(t, doubt.SolvedAt)
	assert.Nil(t, doubt.SolvedMessageID)
	assert.Nil(t, doubt.SolvedChannelID)
}

func TestEditAndDeleteDoubt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := addOpenDoubt(t, store, "user-1", "original question")

	ok, err := store.EditDoubtDescription(ctx, id, "clarified question")
	require.NoError(t, err)
	assert.True(t, ok)

	doubt, err := store.GetDoubt(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "clarified question", doubt.Description)

	ok, err = store.EditDoubtDescription(ctx, "ZZ999", "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.DeleteDoubt(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	doubt, err = store.GetDoubt(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, doubt)

	ok, err = store.DeleteDoubt(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckCooldown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// never asked: not on cooldown
	onCooldown, err := store.CheckCooldown(ctx, "user-1", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, onCooldown)

	addOpenDoubt(t, store, "user-1", "first question")

	onCooldown, err = store.CheckCooldown(ctx, "user-1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, onCooldown)

	// a zero window never blocks
	onCooldown, err = store.CheckCooldown(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.False(t, onCooldown)

	last, err := store.LastDoubtAsked(ctx, "user-1")
	require.NoError(t, err)
	assert.NotZero(t, last)

	last, err = store.LastDoubtAsked(ctx, "user-2")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestSearchDoubts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AddDoubt(
		ctx, &Doubt{
			Author:      "user-1",
			Description: "stuck on limits",
			Subject:     "math",
			Grade:       "11",
		},
	)
	require.NoError(t, err)
	_, err = store.AddDoubt(
		ctx, &Doubt{
			Author:      "user-2",
			Description: "balancing redox equations",
			Subject:     "chemistry",
			Grade:       "11",
		},
	)
	require.NoError(t, err)

	doubts, err := store.SearchDoubts(ctx, "", "", "")
	require.NoError(t, err)
	assert.Len(t, doubts, 2)

	doubts, err = store.SearchDoubts(ctx, "math", "", "")
	require.NoError(t, err)
	require.Len(t, doubts, 1)
	assert.Equal(t, "stuck on limits", doubts[0].Description)

	doubts, err = store.SearchDoubts(ctx, "", "11", "redox")
	require.NoError(t, err)
	require.Len(t, doubts, 1)
	assert.Equal(t, "user-2", doubts[0].Author)

	doubts, err = store.SearchDoubts(ctx, "physics", "", "")
	require.NoError(t, err)
	assert.Empty(t, doubts)
}

func TestDoubtsForArchive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	solved := addOpenDoubt(t, store, "user-1", "answered long ago")
	ok, err := store.MarkDoubtSolved(ctx, solved, "solver-1", "msg", "chan")
	require.NoError(t, err)
	require.True(t, ok)

	// still open, never archived
	addOpenDoubt(t, store, "user-2", "still waiting")

	future := time.Now().Add(time.Hour).Unix()
	doubts, err := store.DoubtsForArchive(ctx, future)
	require.NoError(t, err)
	require.Len(t, doubts, 1)
	assert.Equal(t, solved, doubts[0].ID)

	past := time.Now().Add(-time.Hour).Unix()
	doubts, err = store.DoubtsForArchive(ctx, past)
	require.NoError(t, err)
	assert.Empty(t, doubts)
}

func TestUserDoubtCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	addOpenDoubt(t, store, "user-1", "first")
	addOpenDoubt(t, store, "user-1", "second")

	count, err := store.UserDoubtCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.UserDoubtCount(ctx, "user-2")
	require.NoError(t, err)
	assert.Zero(t, count)
}
