package studybot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestAPIServer starts the bot's API engine on an httptest server.
func newTestAPIServer(t testing.TB) (*StudyBot, *httptest.Server) {
	t.Helper()
	bot := newTestBot(t)
	bot.signalStop = make(chan struct{}, 1)

	notifier, err := newDBNotifier(bot)
	require.NoError(t, err)
	bot.dbNotifier = notifier

	server := httptest.NewServer(bot.api.engine)
	t.Cleanup(server.Close)
	return bot, server
}

func TestAPIHealthCheck(t *testing.T) {
	_, server := newTestAPIServer(t)

	resp, err := server.Client().Get(server.URL + apiHealthCheck)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(xRequestIDHeader))

	var health healthCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.False(t, health.Paused)
	assert.False(t, health.Ready)
}

func TestAPIStats(t *testing.T) {
	bot, server := newTestAPIServer(t)
	ctx := context.Background()

	require.NoError(t, bot.writeDB.AddSupportPoints(ctx, "user-1", 1))
	require.NoError(t, bot.writeDB.SetPrivateVC(ctx, "vc-1", "user-1"))

	resp, err := server.Client().Get(server.URL + apiPrefix + apiPathStats)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.TotalUsers)
	assert.Equal(t, 1, stats.TrackedVoiceChan)
	assert.Equal(t, bot.registry.Len(), stats.Commands)
	assert.False(t, stats.Connected)
}

func TestAPIPauseResume(t *testing.T) {
	bot, server := newTestAPIServer(t)

	resp, err := server.Client().Post(
		server.URL+apiPrefix+apiPathPause, "application/json", nil,
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bot.Paused())

	// pausing again reports a different message but still succeeds
	resp, err = server.Client().Post(
		server.URL+apiPrefix+apiPathPause, "application/json", nil,
	)
	require.NoError(t, err)
	var reply httpReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	_ = resp.Body.Close()
	assert.Equal(t, "already paused", reply.Message)

	resp, err = server.Client().Post(
		server.URL+apiPrefix+apiPathResume, "application/json", nil,
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, bot.Paused())
}

func TestAPIQuit(t *testing.T) {
	bot, server := newTestAPIServer(t)

	resp, err := server.Client().Post(
		server.URL+apiPrefix+apiPathQuit, "application/json", nil,
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-bot.signalStop:
	//
	case <-time.After(5 * time.Second):
		t.Fatal("expected a stop signal")
	}
}

func TestAPITriggerVCSweep(t *testing.T) {
	bot, server := newTestAPIServer(t)

	resp, err := server.Client().Post(
		server.URL+apiPrefix+apiPathVCSweep, "application/json", nil,
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case <-bot.triggerVCSweepCh:
	//
	case <-time.After(5 * time.Second):
		t.Fatal("expected a sweep trigger")
	}
}

func TestAPIDoubtArchive(t *testing.T) {
	bot, server := newTestAPIServer(t)
	ctx := context.Background()

	id, err := bot.writeDB.AddDoubt(
		ctx, &Doubt{
			Author:      "user-1",
			Description: "archived question",
			Subject:     "math",
			Grade:       "10",
		},
	)
	require.NoError(t, err)
	ok, err := bot.writeDB.MarkDoubtSolved(ctx, id, "solver-1", "msg", "chan")
	require.NoError(t, err)
	require.True(t, ok)

	future := time.Now().Add(time.Hour).Unix()
	resp, err := server.Client().Get(
		fmt.Sprintf("%s%s%s?before=%d", server.URL, apiPrefix, apiPathDoubtArchive, future),
	)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Doubts []Doubt `json:"doubts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Doubts, 1)
	assert.Equal(t, id, payload.Doubts[0].ID)

	// malformed timestamps are rejected
	resp, err = server.Client().Get(
		server.URL + apiPrefix + apiPathDoubtArchive + "?before=yesterday",
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIRegisterCommands(t *testing.T) {
	_, server := newTestAPIServer(t)

	resp, err := server.Client().Post(
		server.URL+apiPrefix+apiPathRegisterCommands, "application/json", nil,
	)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Registered []string `json:"registered"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.ElementsMatch(
		t,
		[]string{"submitresource", customIDRateResource, "askdoubt"},
		payload.Registered,
	)
}

func TestAPILeaderboard(t *testing.T) {
	bot, server := newTestAPIServer(t)
	ctx := context.Background()

	require.NoError(t, bot.writeDB.AddSupportPoints(ctx, "user-1", 5))
	require.NoError(t, bot.writeDB.AddSupportPoints(ctx, "user-2", 2))
	addActiveResource(t, bot.writeDB, "Calc Notes", "math", "user-1")
	addOpenDoubt(t, bot.writeDB, "user-2", "what is a derivative?")

	resp, err := server.Client().Get(server.URL + apiPrefix + apiPathLeaderboard)
	require.NoError(t, err)
	defer func() {
		_ = resp.Body.Close()
	}()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Leaderboard []leaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Leaderboard, 2)
	assert.Equal(t, "user-1", payload.Leaderboard[0].UserID)
	assert.Equal(t, 5, payload.Leaderboard[0].SupportPoints)
	assert.Equal(t, int64(1), payload.Leaderboard[0].Resources)
	assert.Equal(t, "user-2", payload.Leaderboard[1].UserID)
	assert.Equal(t, int64(1), payload.Leaderboard[1].Doubts)

	resp, err = server.Client().Get(
		server.URL + apiPrefix + apiPathLeaderboard + "?limit=elephant",
	)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
