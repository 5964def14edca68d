package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/cryptoquiz-go/internal/api/apierr"
	"github.com/mcoot/cryptoquiz-go/internal/api/response"
	"github.com/mcoot/cryptoquiz-go/internal/feed/memory"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/session"
	"github.com/mcoot/cryptoquiz-go/internal/testutil"
)

type applyCall struct {
	gameID  model.GameID
	actorID model.PlayerID
	mut     model.Mutation
}

type fakeApplier struct {
	mu    sync.Mutex
	calls []applyCall
	err   error
}

func (f *fakeApplier) Apply(_ context.Context, gameID model.GameID, actorID model.PlayerID, mut model.Mutation) (session.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, applyCall{gameID, actorID, mut})
	if f.err != nil {
		return session.Result{}, f.err
	}
	return session.Result{Accepted: true, QuestionIndex: 3}, nil
}

func (f *fakeApplier) Calls() []applyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]applyCall(nil), f.calls...)
}

type ManagerSuite struct {
	suite.Suite
	broker  *memory.Broker
	applier *fakeApplier
	manager *Manager
	server  *httptest.Server
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.broker = memory.NewBroker(testutil.NopLogger())
	s.applier = &fakeApplier{}
	s.manager = NewManager(DefaultConfig(), s.broker, s.applier, testutil.NopLogger())
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.manager.Serve(w, r, "game-1", model.PlayerID(r.URL.Query().Get("player"))); errors.Is(err, ErrClosed) {
			http.Error(w, "closed", http.StatusServiceUnavailable)
		}
	}))
}

func (s *ManagerSuite) TearDownTest() {
	s.server.Close()
	s.manager.Close()
	_ = s.broker.Close()
}

func (s *ManagerSuite) dial(playerID string) *websocket.Conn {
	before := s.manager.Stats().TotalConnections
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/?player=" + playerID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	_ = resp.Body.Close()
	s.T().Cleanup(func() { _ = conn.Close() })

	// Registration follows the feed subscription
	s.Require().Eventually(func() bool {
		return s.manager.Stats().TotalConnections == before+1
	}, time.Second, 5*time.Millisecond)
	return conn
}

func (s *ManagerSuite) readEvent(conn *websocket.Conn) response.StreamEvent {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	var ev response.StreamEvent
	s.Require().NoError(conn.ReadJSON(&ev))
	return ev
}

func (s *ManagerSuite) readReply(conn *websocket.Conn) Reply {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	var r Reply
	s.Require().NoError(conn.ReadJSON(&r))
	return r
}

func (s *ManagerSuite) publish(g *model.GameSession) {
	s.Require().NoError(s.broker.Publish(context.Background(), model.GameChange(model.OpUpdate, g, time.Now())))
}

func (s *ManagerSuite) TestStreamsChangesAndTransitions() {
	conn := s.dial("player-1")

	s.publish(&model.GameSession{ID: "game-1", Phase: model.PhaseQuiz, ChoicesVisible: true, Version: 2})

	ev := s.readEvent(conn)
	s.Equal(response.EventChange, ev.Type)
	s.Require().NotNil(ev.Change)
	s.Equal("quiz", ev.Change.Game.Phase)

	var kinds []string
	for range 3 {
		ev = s.readEvent(conn)
		s.Require().Equal(response.EventTransition, ev.Type)
		kinds = append(kinds, ev.Transition.Kind)
	}
	s.Equal([]string{"phase_changed", "question_started", "choices_visible"}, kinds)
}

func (s *ManagerSuite) TestProgressChangesAreRelayed() {
	conn := s.dial("player-1")

	p := &model.PlayerProgress{GameID: "game-1", PlayerID: "player-2", Score: 4}
	s.Require().NoError(s.broker.Publish(context.Background(), model.ProgressChange(model.OpUpdate, p, time.Now())))

	ev := s.readEvent(conn)
	s.Require().NotNil(ev.Change)
	s.Require().NotNil(ev.Change.Progress)
	s.Equal(4, ev.Change.Progress.Score)
}

func (s *ManagerSuite) TestAnswerIsApplied() {
	conn := s.dial("player-1")

	choice := 2
	s.Require().NoError(conn.WriteJSON(ClientMessage{ID: "m1", Type: "answer", Choice: &choice}))

	r := s.readReply(conn)
	s.Equal(MessageResult, r.Type)
	s.Equal("m1", r.ID)
	s.Require().NotNil(r.Result)
	s.True(r.Result.Accepted)
	s.Equal(3, r.Result.QuestionIndex)

	calls := s.applier.Calls()
	s.Require().Len(calls, 1)
	s.Equal(model.GameID("game-1"), calls[0].gameID)
	s.Equal(model.PlayerID("player-1"), calls[0].actorID)
	s.Equal(model.SubmitAnswer{Choice: 2}, calls[0].mut)
}

func (s *ManagerSuite) TestRejectedMutationRepliesWithError() {
	s.applier.err = model.ErrRoleMismatch
	conn := s.dial("player-1")

	s.Require().NoError(conn.WriteJSON(ClientMessage{ID: "m2", Type: "reveal"}))

	r := s.readReply(conn)
	s.Equal(MessageError, r.Type)
	s.Equal("m2", r.ID)
	s.Require().NotNil(r.Error)
	s.Equal(apierr.CodeRoleMismatch, r.Error.Code)
}

func (s *ManagerSuite) TestUnknownMutationIsNotApplied() {
	conn := s.dial("player-1")

	s.Require().NoError(conn.WriteJSON(ClientMessage{ID: "m3", Type: "skip"}))

	r := s.readReply(conn)
	s.Equal(MessageError, r.Type)
	s.Equal(apierr.CodeUnknownMutation, r.Error.Code)
	s.Empty(s.applier.Calls())
}

func (s *ManagerSuite) TestInvalidJSONRepliesWithError() {
	conn := s.dial("player-1")

	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	r := s.readReply(conn)
	s.Equal(MessageError, r.Type)
	s.Equal(apierr.CodeInvalidRequest, r.Error.Code)
}

func (s *ManagerSuite) TestStats() {
	s.dial("player-1")
	s.dial("player-2")

	s.Eventually(func() bool {
		stats := s.manager.Stats()
		return stats.TotalConnections == 2 && stats.ActiveGames == 1 && stats.GameConnections["game-1"] == 2
	}, time.Second, 5*time.Millisecond)
}

func (s *ManagerSuite) TestClientCloseUnregisters() {
	conn := s.dial("player-1")
	s.Require().NoError(conn.Close())

	s.Eventually(func() bool {
		return s.manager.Stats().TotalConnections == 0 && s.broker.SubscriberCount("game-1") == 0
	}, time.Second, 5*time.Millisecond)
}

func (s *ManagerSuite) TestCloseDisconnectsClients() {
	conn := s.dial("player-1")
	s.manager.Close()

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	s.Error(err)

	// New connections are refused once closed
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/?player=player-2"
	_, _, err = websocket.DefaultDialer.Dial(url, nil)
	s.Error(err)
}
