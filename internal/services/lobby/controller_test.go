package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/cryptoquiz-go/internal/dependencies/mocks"
	"github.com/mcoot/cryptoquiz-go/internal/feed"
	feedmemory "github.com/mcoot/cryptoquiz-go/internal/feed/memory"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/storage/memory"
	"github.com/mcoot/cryptoquiz-go/internal/testutil"
)

type ControllerSuite struct {
	suite.Suite
	storage    *memory.Storage
	broker     *feedmemory.Broker
	clock      *mocks.MockClock
	random     *mocks.MockRandom
	controller *Controller
	ctx        context.Context
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.storage = memory.New()
	logger := testutil.NopLogger()
	s.broker = feedmemory.NewBroker(logger)
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.controller = NewController(s.storage, s.broker, s.clock, s.random, logger)
	s.ctx = context.Background()
}

func (s *ControllerSuite) TearDownTest() {
	_ = s.broker.Close()
}

func (s *ControllerSuite) createPlayer(id string, name string) model.Player {
	return model.Player{
		ID:          model.PlayerID(id),
		DisplayName: name,
		IsGuest:     true,
		CreatedAt:   s.clock.Now(),
	}
}

func (s *ControllerSuite) createGame(code string) *model.GameSession {
	s.random.QueueString(code)
	game, err := s.controller.CreateGame(s.ctx, s.createPlayer("host-1", "Host"), model.DefaultGameConfig())
	s.Require().NoError(err)
	return game
}

func (s *ControllerSuite) setPhase(id model.GameID, phase model.Phase) {
	game, err := s.storage.GetGame(s.ctx, id)
	s.Require().NoError(err)
	game.Phase = phase
	s.Require().NoError(s.storage.UpdateGame(s.ctx, game))
}

func (s *ControllerSuite) receive(sub *feed.Subscription) model.Change {
	select {
	case c := <-sub.C:
		return c
	case <-time.After(time.Second):
		s.FailNow("timed out waiting for change")
	}
	return model.Change{}
}

// CreateGame tests

func (s *ControllerSuite) TestCreateGameSucceeds() {
	game := s.createGame("123456")

	s.Equal(model.GameCode("123456"), game.Code)
	s.Equal(model.PhaseLobby, game.Phase)
	s.Equal(model.PlayerID("host-1"), game.HostID)
	s.NotEmpty(game.ID)
	s.Equal(int64(1), game.Version)

	members, err := s.storage.GetMembers(s.ctx, game.ID)
	s.Require().NoError(err)
	s.Require().Len(members, 1)
	s.True(members[0].IsHost)
}

func (s *ControllerSuite) TestCreateGameRetriesTakenCode() {
	s.createGame("111111")

	s.random.QueueString("111111", "222222")
	game, err := s.controller.CreateGame(s.ctx, s.createPlayer("host-2", "Other"), model.DefaultGameConfig())
	s.Require().NoError(err)
	s.Equal(model.GameCode("222222"), game.Code)
}

func (s *ControllerSuite) TestCreateGameGivesUpAfterFiveCollisions() {
	s.createGame("111111")

	s.random.QueueString("111111", "111111", "111111", "111111", "111111", "222222")
	_, err := s.controller.CreateGame(s.ctx, s.createPlayer("host-2", "Other"), model.DefaultGameConfig())
	s.ErrorIs(err, model.ErrCodeGenerationFailed)
}

func (s *ControllerSuite) TestCreateGameRejectsPlayerInActiveGame() {
	s.createGame("123456")

	s.random.QueueString("654321")
	_, err := s.controller.CreateGame(s.ctx, s.createPlayer("host-1", "Host"), model.DefaultGameConfig())
	s.ErrorIs(err, model.ErrAlreadyInGame)
}

func (s *ControllerSuite) TestCreateGameAfterFinishedGameReleasesMembership() {
	game := s.createGame("123456")
	s.setPhase(game.ID, model.PhaseResult)

	s.random.QueueString("654321")
	next, err := s.controller.CreateGame(s.ctx, s.createPlayer("host-1", "Host"), model.DefaultGameConfig())
	s.Require().NoError(err)

	current, err := s.controller.CurrentGame(s.ctx, "host-1")
	s.Require().NoError(err)
	s.Equal(next.ID, current.ID)
}

// JoinGame tests

func (s *ControllerSuite) TestJoinGameSucceeds() {
	game := s.createGame("123456")

	joined, err := s.controller.JoinGame(s.ctx, "123456", s.createPlayer("p-1", "Alice"))
	s.Require().NoError(err)
	s.Equal(game.ID, joined.ID)

	members, _ := s.controller.Members(s.ctx, game.ID)
	s.Len(members, 2)

	progress, err := s.storage.GetProgress(s.ctx, game.ID, "p-1")
	s.Require().NoError(err)
	s.Equal(0, progress.CurrentQuestionAnswered)
	s.Equal(0, progress.Score)
}

func (s *ControllerSuite) TestJoinGamePublishesMembership() {
	game := s.createGame("123456")
	sub, err := s.broker.Subscribe(s.ctx, game.ID)
	s.Require().NoError(err)
	defer sub.Close()

	_, err = s.controller.JoinGame(s.ctx, "123456", s.createPlayer("p-1", "Alice"))
	s.Require().NoError(err)

	c := s.receive(sub)
	s.Equal(model.CollectionPlayers, c.Collection)
	s.Equal(model.OpInsert, c.Op)
	s.Equal(model.PlayerID("p-1"), c.Member.PlayerID)

	c = s.receive(sub)
	s.Equal(model.CollectionProgress, c.Collection)
}

func (s *ControllerSuite) TestJoinGameUnknownCode() {
	_, err := s.controller.JoinGame(s.ctx, "999999", s.createPlayer("p-1", "Alice"))
	s.ErrorIs(err, model.ErrGameUnavailable)
}

func (s *ControllerSuite) TestJoinGameAlreadyStarted() {
	game := s.createGame("123456")
	s.setPhase(game.ID, model.PhaseQuiz)

	_, err := s.controller.JoinGame(s.ctx, "123456", s.createPlayer("p-1", "Alice"))
	s.ErrorIs(err, model.ErrGameUnavailable)
}

func (s *ControllerSuite) TestJoinGameWhileInAnotherGame() {
	s.createGame("123456")
	s.random.QueueString("654321")
	_, err := s.controller.CreateGame(s.ctx, s.createPlayer("host-2", "Other"), model.DefaultGameConfig())
	s.Require().NoError(err)

	_, err = s.controller.JoinGame(s.ctx, "123456", s.createPlayer("p-1", "Alice"))
	s.Require().NoError(err)

	_, err = s.controller.JoinGame(s.ctx, "654321", s.createPlayer("p-1", "Alice"))
	s.ErrorIs(err, model.ErrAlreadyInGame)
}

// LeaveGame tests

func (s *ControllerSuite) TestLeaveLobbyKeepsGame() {
	game := s.createGame("123456")
	_, _ = s.controller.JoinGame(s.ctx, "123456", s.createPlayer("p-1", "Alice"))

	result, err := s.controller.LeaveGame(s.ctx, "p-1")
	s.Require().NoError(err)
	s.False(result.Retired)

	current, _ := s.storage.GetGame(s.ctx, game.ID)
	s.Equal(model.PhaseLobby, current.Phase)
	_, err = s.storage.GetMembership(s.ctx, "p-1")
	s.ErrorIs(err, model.ErrNotInGame)
}

func (s *ControllerSuite) TestHostLeavingRetiresGame() {
	game := s.createGame("123456")
	_, _ = s.controller.JoinGame(s.ctx, "123456", s.createPlayer("p-1", "Alice"))

	result, err := s.controller.LeaveGame(s.ctx, "host-1")
	s.Require().NoError(err)
	s.True(result.Retired)

	current, _ := s.storage.GetGame(s.ctx, game.ID)
	s.Equal(model.PhaseResult, current.Phase)
	s.True(current.Ended)

	members, _ := s.storage.GetMembers(s.ctx, game.ID)
	s.Empty(members)

	// Progress survives for the final scoreboard
	_, err = s.storage.GetProgress(s.ctx, game.ID, "p-1")
	s.NoError(err)
}

func (s *ControllerSuite) TestLastPlayerLeavingStartedGameRetiresIt() {
	game := s.createGame("123456")
	_, _ = s.controller.JoinGame(s.ctx, "123456", s.createPlayer("p-1", "Alice"))
	_, _ = s.controller.JoinGame(s.ctx, "123456", s.createPlayer("p-2", "Bob"))
	s.setPhase(game.ID, model.PhaseQuiz)

	result, err := s.controller.LeaveGame(s.ctx, "p-1")
	s.Require().NoError(err)
	s.False(result.Retired)

	result, err = s.controller.LeaveGame(s.ctx, "p-2")
	s.Require().NoError(err)
	s.True(result.Retired)

	current, _ := s.storage.GetGame(s.ctx, game.ID)
	s.Equal(model.PhaseResult, current.Phase)
	_, err = s.storage.GetMembership(s.ctx, "host-1")
	s.ErrorIs(err, model.ErrNotInGame)
}

func (s *ControllerSuite) TestLeaveFinishedGameDoesNotRetireAgain() {
	game := s.createGame("123456")
	_, _ = s.controller.JoinGame(s.ctx, "123456", s.createPlayer("p-1", "Alice"))
	s.setPhase(game.ID, model.PhaseResult)
	before, _ := s.storage.GetGame(s.ctx, game.ID)

	result, err := s.controller.LeaveGame(s.ctx, "host-1")
	s.Require().NoError(err)
	s.False(result.Retired)
	s.False(result.Closed, "a player is still in the game")

	after, _ := s.storage.GetGame(s.ctx, game.ID)
	s.Equal(before.Version, after.Version)

	result, err = s.controller.LeaveGame(s.ctx, "p-1")
	s.Require().NoError(err)
	s.False(result.Retired)
	s.True(result.Closed)
}

func (s *ControllerSuite) TestLeaveWhenNotInGame() {
	_, err := s.controller.LeaveGame(s.ctx, "nobody")
	s.ErrorIs(err, model.ErrNotInGame)
}

func (s *ControllerSuite) TestRetirePublishesResultSnapshot() {
	game := s.createGame("123456")
	sub, err := s.broker.Subscribe(s.ctx, game.ID)
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().NoError(s.controller.Retire(s.ctx, game.ID))

	c := s.receive(sub)
	s.Equal(model.CollectionGames, c.Collection)
	s.Equal(model.PhaseResult, c.Game.Phase)
}

// CurrentGame tests

func (s *ControllerSuite) TestCurrentGame() {
	game := s.createGame("123456")

	current, err := s.controller.CurrentGame(s.ctx, "host-1")
	s.Require().NoError(err)
	s.Equal(game.ID, current.ID)

	_, err = s.controller.CurrentGame(s.ctx, "nobody")
	s.ErrorIs(err, model.ErrNotInGame)
}
