package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/cryptoquiz-go/internal/api/apierr"
	"github.com/mcoot/cryptoquiz-go/internal/api/response"
	"github.com/mcoot/cryptoquiz-go/internal/config"
	"github.com/mcoot/cryptoquiz-go/internal/factory"
	feedmemory "github.com/mcoot/cryptoquiz-go/internal/feed/memory"
	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// testServer creates a test server with all dependencies
type testServer struct {
	handler http.Handler
	app     *factory.App
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// API tests are integration tests - use production factory with real random/clock
	cfg := config.Default()
	app, err := factory.New(t.Context(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	return &testServer{
		handler: app.Router(nil),
		app:     app,
	}
}

func (ts *testServer) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		b, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rr.Code, rr.Body.String())
	assert.Equal(t, code, decode[apierr.APIError](t, rr).Code)
}

// Helper to create a guest player and return the auth response
func createGuestPlayer(t *testing.T, ts *testServer, name string) response.AuthResponse {
	t.Helper()
	rr := ts.request(http.MethodPost, "/api/v1/players/guest", map[string]string{"display_name": name}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[response.AuthResponse](t, rr)
}

// openGame creates a game hosted by host and joins each player to it
func openGame(t *testing.T, ts *testServer, host string, mode string, players ...string) response.Game {
	t.Helper()
	var body any
	if mode != "" {
		body = map[string]string{"scoring_mode": mode}
	}
	rr := ts.request(http.MethodPost, "/api/v1/games", body, host)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	game := decode[response.Game](t, rr)

	for _, p := range players {
		rr := ts.request(http.MethodPost, "/api/v1/games/join", map[string]string{"code": game.Code}, p)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	return game
}

func mutate(t *testing.T, ts *testServer, gameID, token, kind string, choice *int) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]any{"type": kind}
	if choice != nil {
		body["choice"] = *choice
	}
	return ts.request(http.MethodPost, "/api/v1/games/"+gameID+"/mutations", body, token)
}

func mustMutate(t *testing.T, ts *testServer, gameID, token, kind string, choice *int) response.MutationResult {
	t.Helper()
	rr := mutate(t, ts, gameID, token, kind, choice)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[response.MutationResult](t, rr)
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestCreateGuestPlayer(t *testing.T) {
	ts := newTestServer(t)

	resp := createGuestPlayer(t, ts, "Alice")
	assert.Equal(t, "Alice", resp.Player.DisplayName)
	assert.True(t, resp.Player.IsGuest)
	assert.NotEmpty(t, resp.SessionToken)
}

func TestCreateGuestPlayerKeepsExistingSession(t *testing.T) {
	ts := newTestServer(t)
	alice := createGuestPlayer(t, ts, "Alice")

	rr := ts.request(http.MethodPost, "/api/v1/players/guest", map[string]string{"display_name": "Other"}, alice.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	again := decode[response.AuthResponse](t, rr)
	assert.Equal(t, alice.Player.ID, again.Player.ID)
	assert.Equal(t, alice.SessionToken, again.SessionToken)
}

func TestCreateGuestPlayerRejectsBadName(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodPost, "/api/v1/players/guest", map[string]string{"display_name": "  "}, "")
	assertErrorCode(t, rr, http.StatusBadRequest, apierr.CodeInvalidDisplayName)
}

func TestGetMeAndSignOut(t *testing.T) {
	ts := newTestServer(t)
	bob := createGuestPlayer(t, ts, "Bob")

	rr := ts.request(http.MethodGet, "/api/v1/players/me", nil, bob.SessionToken)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Bob", decode[response.Player](t, rr).DisplayName)

	rr = ts.request(http.MethodPost, "/api/v1/players/signout", nil, bob.SessionToken)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/players/me", nil, bob.SessionToken)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUnauthorizedWithoutToken(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request(http.MethodGet, "/api/v1/players/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request(http.MethodPost, "/api/v1/games", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.request(http.MethodGet, "/api/v1/players/me", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateJoinAndCurrentGame(t *testing.T) {
	ts := newTestServer(t)
	host := createGuestPlayer(t, ts, "Host")
	alice := createGuestPlayer(t, ts, "Alice")

	game := openGame(t, ts, host.SessionToken, "", alice.SessionToken)
	assert.Equal(t, "lobby", game.Phase)
	assert.Equal(t, "flat", game.Config.ScoringMode)
	assert.Equal(t, 10, game.Config.TargetScore)
	assert.Len(t, game.Code, 6)
	assert.Equal(t, host.Player.ID, game.HostID)

	rr := ts.request(http.MethodGet, "/api/v1/games/current", nil, alice.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, game.ID, decode[response.Game](t, rr).ID)

	rr = ts.request(http.MethodGet, "/api/v1/games/"+game.ID, nil, alice.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	snap := decode[response.Snapshot](t, rr)
	assert.Len(t, snap.Members, 2)
	assert.Nil(t, snap.Question)

	// Already a member somewhere
	rr = ts.request(http.MethodPost, "/api/v1/games", nil, alice.SessionToken)
	assertErrorCode(t, rr, http.StatusConflict, apierr.CodeAlreadyInGame)
}

func TestJoinErrors(t *testing.T) {
	ts := newTestServer(t)
	alice := createGuestPlayer(t, ts, "Alice")

	rr := ts.request(http.MethodPost, "/api/v1/games/join", map[string]string{}, alice.SessionToken)
	assertErrorCode(t, rr, http.StatusBadRequest, apierr.CodeInvalidRequest)

	rr = ts.request(http.MethodPost, "/api/v1/games/join", map[string]string{"code": "999999"}, alice.SessionToken)
	assertErrorCode(t, rr, http.StatusNotFound, apierr.CodeGameUnavailable)

	rr = ts.request(http.MethodGet, "/api/v1/games/current", nil, alice.SessionToken)
	assertErrorCode(t, rr, http.StatusForbidden, apierr.CodeNotInGame)

	rr = ts.request(http.MethodGet, "/api/v1/games/missing", nil, alice.SessionToken)
	assertErrorCode(t, rr, http.StatusNotFound, apierr.CodeGameNotFound)
}

func TestInvalidScoringMode(t *testing.T) {
	ts := newTestServer(t)
	host := createGuestPlayer(t, ts, "Host")

	rr := ts.request(http.MethodPost, "/api/v1/games", map[string]string{"scoring_mode": "bogus"}, host.SessionToken)
	assertErrorCode(t, rr, http.StatusBadRequest, apierr.CodeInvalidScoringMode)
}

func TestRoleChecks(t *testing.T) {
	ts := newTestServer(t)
	host := createGuestPlayer(t, ts, "Host")
	alice := createGuestPlayer(t, ts, "Alice")
	stranger := createGuestPlayer(t, ts, "Stranger")
	game := openGame(t, ts, host.SessionToken, "", alice.SessionToken)

	// Players cannot drive the session
	rr := mutate(t, ts, game.ID, alice.SessionToken, "start", nil)
	assertErrorCode(t, rr, http.StatusForbidden, apierr.CodeRoleMismatch)

	// Hosts cannot answer
	zero := 0
	rr = mutate(t, ts, game.ID, host.SessionToken, "answer", &zero)
	assertErrorCode(t, rr, http.StatusForbidden, apierr.CodeRoleMismatch)

	// Outsiders see nothing
	rr = ts.request(http.MethodGet, "/api/v1/games/"+game.ID, nil, stranger.SessionToken)
	assertErrorCode(t, rr, http.StatusForbidden, apierr.CodeNotInGame)

	rr = mutate(t, ts, game.ID, host.SessionToken, "explode", nil)
	assertErrorCode(t, rr, http.StatusBadRequest, apierr.CodeUnknownMutation)

	rr = ts.request(http.MethodPost, "/api/v1/games/"+game.ID+"/mutations", map[string]string{}, host.SessionToken)
	assertErrorCode(t, rr, http.StatusBadRequest, apierr.CodeInvalidRequest)
}

func TestQuizFlow(t *testing.T) {
	ts := newTestServer(t)
	host := createGuestPlayer(t, ts, "Host")
	alice := createGuestPlayer(t, ts, "Alice")
	game := openGame(t, ts, host.SessionToken, "", alice.SessionToken)

	q, err := ts.app.Questions.Question(0)
	require.NoError(t, err)
	answer := q.AnswerIndex

	res := mustMutate(t, ts, game.ID, host.SessionToken, "start", nil)
	assert.True(t, res.Accepted)
	assert.Equal(t, 0, res.QuestionIndex)

	// Choices stay hidden until the delay passes or the host shows them
	rr := ts.request(http.MethodGet, "/api/v1/games/"+game.ID, nil, alice.SessionToken)
	snap := decode[response.Snapshot](t, rr)
	require.NotNil(t, snap.Question)
	assert.Equal(t, q.Prompt, snap.Question.Prompt)
	assert.Empty(t, snap.Question.Choices)
	assert.Nil(t, snap.Question.AnswerIndex)

	mustMutate(t, ts, game.ID, host.SessionToken, "show_choices", nil)
	res = mustMutate(t, ts, game.ID, alice.SessionToken, "answer", &answer)
	assert.True(t, res.Accepted)

	// A second answer to the same question is ignored
	res = mustMutate(t, ts, game.ID, alice.SessionToken, "answer", &answer)
	assert.False(t, res.Accepted)

	// Selection stays private until the reveal
	rr = ts.request(http.MethodGet, "/api/v1/games/"+game.ID+"/me", nil, alice.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	state := decode[response.PlayerState](t, rr)
	assert.True(t, state.HasAnswered)
	assert.Nil(t, state.Selected)
	assert.Equal(t, 1, state.Score)

	mustMutate(t, ts, game.ID, host.SessionToken, "reveal", nil)

	rr = ts.request(http.MethodGet, "/api/v1/games/"+game.ID+"/me", nil, alice.SessionToken)
	state = decode[response.PlayerState](t, rr)
	require.NotNil(t, state.Selected)
	require.NotNil(t, state.Correct)
	assert.Equal(t, answer, *state.Selected)
	assert.True(t, *state.Correct)

	rr = ts.request(http.MethodGet, "/api/v1/games/"+game.ID, nil, alice.SessionToken)
	snap = decode[response.Snapshot](t, rr)
	require.NotNil(t, snap.Question.AnswerIndex)
	assert.Equal(t, answer, *snap.Question.AnswerIndex)
	require.Len(t, snap.Leaderboard, 1)
	assert.Equal(t, 1, snap.Leaderboard[0].Score)

	res = mustMutate(t, ts, game.ID, host.SessionToken, "next", nil)
	assert.Equal(t, 1, res.QuestionIndex)

	// Host cannot skip ahead while the answer is hidden
	rr = mutate(t, ts, game.ID, host.SessionToken, "next", nil)
	assertErrorCode(t, rr, http.StatusConflict, apierr.CodeAnswerNotRevealed)

	// No game finished yet
	rr = ts.request(http.MethodGet, "/api/v1/players/me/last-score", nil, alice.SessionToken)
	assertErrorCode(t, rr, http.StatusNotFound, apierr.CodeKeyNotFound)
}

func TestLeaveGame(t *testing.T) {
	ts := newTestServer(t)
	host := createGuestPlayer(t, ts, "Host")
	alice := createGuestPlayer(t, ts, "Alice")
	game := openGame(t, ts, host.SessionToken, "timed", alice.SessionToken)
	assert.Equal(t, "timed", game.Config.ScoringMode)

	rr := ts.request(http.MethodPost, "/api/v1/games/leave", nil, alice.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	left := decode[response.LeaveResult](t, rr)
	assert.Equal(t, game.ID, left.GameID)
	assert.False(t, left.Retired)

	rr = ts.request(http.MethodPost, "/api/v1/games/leave", nil, host.SessionToken)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[response.LeaveResult](t, rr).Retired)

	rr = ts.request(http.MethodPost, "/api/v1/games/leave", nil, host.SessionToken)
	assertErrorCode(t, rr, http.StatusForbidden, apierr.CodeNotInGame)
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)
	host := createGuestPlayer(t, ts, "Host")
	alice := createGuestPlayer(t, ts, "Alice")
	game := openGame(t, ts, host.SessionToken, "", alice.SessionToken)

	broker, ok := ts.app.Feed.(*feedmemory.Broker)
	require.True(t, ok)
	gameID := model.GameID(game.ID)
	before := broker.SubscriberCount(gameID)

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/games/"+game.ID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+alice.SessionToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Start the game once the hub follows the feed and the client is attached
	require.Eventually(t, func() bool {
		hub := ts.app.HubManager.GetHub(gameID)
		return hub != nil && hub.ClientCount() == 1 && broker.SubscriberCount(gameID) > before
	}, time.Second, 10*time.Millisecond)
	mustMutate(t, ts, game.ID, host.SessionToken, "start", nil)

	var kinds []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(kinds) < 2 {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev response.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		if ev.Type == response.EventTransition {
			kinds = append(kinds, ev.Transition.Kind)
		}
	}
	assert.Equal(t, []string{"phase_changed", "question_started"}, kinds)
}
