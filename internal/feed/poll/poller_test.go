package poll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/cryptoquiz-go/internal/dependencies/mocks"
	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/storage/memory"
	"github.com/mcoot/cryptoquiz-go/internal/testutil"
)

type PollerSuite struct {
	suite.Suite
	ctx     context.Context
	storage *memory.Storage
	clock   *mocks.MockClock
	poller  *Poller
}

func TestPollerSuite(t *testing.T) {
	suite.Run(t, new(PollerSuite))
}

func (s *PollerSuite) SetupTest() {
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.poller = New(s.storage, s.clock, time.Second, testutil.NopLogger())
	s.ctx = context.Background()

	s.Require().NoError(s.storage.CreateGame(s.ctx, &model.GameSession{
		ID:     "game-1",
		Code:   "123456",
		HostID: "host-1",
		Phase:  model.PhaseLobby,
		Config: model.DefaultGameConfig(),
	}))
}

func (s *PollerSuite) receive(sub *feed.Subscription) model.Change {
	select {
	case c, ok := <-sub.C:
		s.Require().True(ok, "subscription closed")
		return c
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for change")
	}
	return model.Change{}
}

func (s *PollerSuite) assertClosed(sub *feed.Subscription) {
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-deadline:
			s.FailNow("subscription not closed")
		}
	}
}

func (s *PollerSuite) TestPublishIsNoop() {
	s.NoError(s.poller.Publish(s.ctx, model.Change{GameID: "game-1"}))
}

func (s *PollerSuite) TestInitialSnapshot() {
	s.Require().NoError(s.storage.AddMember(s.ctx, &model.GameMember{GameID: "game-1", PlayerID: "host-1", IsHost: true}))

	sub, err := s.poller.Subscribe(s.ctx, "game-1")
	s.Require().NoError(err)
	defer sub.Close()

	c := s.receive(sub)
	s.Equal(model.CollectionGames, c.Collection)
	s.Equal(int64(1), c.Game.Version)

	c = s.receive(sub)
	s.Equal(model.CollectionPlayers, c.Collection)
	s.Equal(model.OpInsert, c.Op)
	s.Equal(model.PlayerID("host-1"), c.Member.PlayerID)
}

func (s *PollerSuite) TestTickEmitsOnlyChangedRows() {
	s.Require().NoError(s.storage.SaveProgress(s.ctx, &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a"}))
	s.Require().NoError(s.storage.SaveProgress(s.ctx, &model.PlayerProgress{GameID: "game-1", PlayerID: "p-b"}))

	sub, err := s.poller.Subscribe(s.ctx, "game-1")
	s.Require().NoError(err)
	defer sub.Close()

	s.Equal(model.CollectionGames, s.receive(sub).Collection)
	s.Equal(model.CollectionProgress, s.receive(sub).Collection)
	s.Equal(model.CollectionProgress, s.receive(sub).Collection)

	s.Require().NoError(s.storage.SaveProgress(s.ctx, &model.PlayerProgress{GameID: "game-1", PlayerID: "p-b", CurrentQuestionAnswered: 1, Score: 1}))
	s.clock.Advance(time.Second)

	c := s.receive(sub)
	s.Equal(model.CollectionProgress, c.Collection)
	s.Equal(model.PlayerID("p-b"), c.Progress.PlayerID)
	s.Equal(1, c.Progress.Score)
}

func (s *PollerSuite) TestGameUpdateAndMemberRemoval() {
	s.Require().NoError(s.storage.AddMember(s.ctx, &model.GameMember{GameID: "game-1", PlayerID: "p-a"}))

	sub, err := s.poller.Subscribe(s.ctx, "game-1")
	s.Require().NoError(err)
	defer sub.Close()
	s.receive(sub)
	s.receive(sub)

	game, err := s.storage.GetGame(s.ctx, "game-1")
	s.Require().NoError(err)
	game.Phase = model.PhaseQuiz
	s.Require().NoError(s.storage.UpdateGame(s.ctx, game))
	s.Require().NoError(s.storage.RemoveMember(s.ctx, "game-1", "p-a"))
	s.clock.Advance(time.Second)

	c := s.receive(sub)
	s.Equal(model.PhaseQuiz, c.Game.Phase)
	s.Equal(int64(2), c.Game.Version)

	c = s.receive(sub)
	s.Equal(model.OpDelete, c.Op)
	s.Equal(model.PlayerID("p-a"), c.Member.PlayerID)
}

func (s *PollerSuite) TestCloseEndsSubscription() {
	sub, err := s.poller.Subscribe(s.ctx, "game-1")
	s.Require().NoError(err)
	sub.Close()
	s.assertClosed(sub)
}

func (s *PollerSuite) TestContextCancelEndsSubscription() {
	ctx, cancel := context.WithCancel(s.ctx)
	sub, err := s.poller.Subscribe(ctx, "game-1")
	s.Require().NoError(err)
	cancel()
	s.assertClosed(sub)
}
