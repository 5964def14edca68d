// Package feedtest holds the behaviour every change feed backend must share.
package feedtest

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// Suite runs the feed contract against Feed.
// Backend test suites embed it and set Feed and Ctx in SetupTest.
type Suite struct {
	suite.Suite
	Feed feed.Feed
	Ctx  context.Context
}

const waitFor = 2 * time.Second

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Receive waits for the next change on sub
func (s *Suite) Receive(sub *feed.Subscription) model.Change {
	select {
	case c, ok := <-sub.C:
		s.Require().True(ok, "subscription closed")
		return c
	case <-time.After(waitFor):
		s.FailNow("timed out waiting for change")
	}
	return model.Change{}
}

// AssertClosed waits for sub.C to be closed, discarding anything still buffered
func (s *Suite) AssertClosed(sub *feed.Subscription) {
	deadline := time.After(waitFor)
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

func gameChange(id model.GameID, version int64) model.Change {
	return model.GameChange(model.OpUpdate, &model.GameSession{
		ID:      id,
		Phase:   model.PhaseQuiz,
		Version: version,
	}, baseTime)
}

func (s *Suite) TestPublishReachesSubscriber() {
	sub, err := s.Feed.Subscribe(s.Ctx, "game-1")
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().NoError(s.Feed.Publish(s.Ctx, gameChange("game-1", 3)))

	c := s.Receive(sub)
	s.Equal(model.CollectionGames, c.Collection)
	s.Equal(model.GameID("game-1"), c.GameID)
	s.Require().NotNil(c.Game)
	s.Equal(int64(3), c.Game.Version)
	s.Equal(model.PhaseQuiz, c.Game.Phase)
}

func (s *Suite) TestProgressSnapshotRoundTrips() {
	sub, err := s.Feed.Subscribe(s.Ctx, "game-1")
	s.Require().NoError(err)
	defer sub.Close()

	p := &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", CurrentQuestionAnswered: 2, Score: 175, Streak: 1}
	s.Require().NoError(s.Feed.Publish(s.Ctx, model.ProgressChange(model.OpUpdate, p, baseTime)))

	c := s.Receive(sub)
	s.Equal(model.CollectionProgress, c.Collection)
	s.Require().NotNil(c.Progress)
	s.Equal(175, c.Progress.Score)
	s.Nil(c.Game)
}

func (s *Suite) TestOtherGamesAreNotDelivered() {
	sub, err := s.Feed.Subscribe(s.Ctx, "game-1")
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().NoError(s.Feed.Publish(s.Ctx, gameChange("game-2", 1)))
	s.Require().NoError(s.Feed.Publish(s.Ctx, gameChange("game-1", 2)))

	c := s.Receive(sub)
	s.Equal(model.GameID("game-1"), c.GameID)
}

func (s *Suite) TestFanOutToEverySubscriber() {
	a, err := s.Feed.Subscribe(s.Ctx, "game-1")
	s.Require().NoError(err)
	defer a.Close()
	b, err := s.Feed.Subscribe(s.Ctx, "game-1")
	s.Require().NoError(err)
	defer b.Close()

	s.Require().NoError(s.Feed.Publish(s.Ctx, gameChange("game-1", 2)))

	s.Equal(int64(2), s.Receive(a).Game.Version)
	s.Equal(int64(2), s.Receive(b).Game.Version)
}

func (s *Suite) TestCloseEndsSubscription() {
	sub, err := s.Feed.Subscribe(s.Ctx, "game-1")
	s.Require().NoError(err)

	sub.Close()
	sub.Close()
	s.AssertClosed(sub)
}

func (s *Suite) TestContextCancelEndsSubscription() {
	ctx, cancel := context.WithCancel(s.Ctx)
	sub, err := s.Feed.Subscribe(ctx, "game-1")
	s.Require().NoError(err)

	cancel()
	s.AssertClosed(sub)
	sub.Close()
}
