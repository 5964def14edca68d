package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/cryptoquiz-go/internal/feed/feedtest"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/testutil"
)

type BrokerSuite struct {
	feedtest.Suite
	broker *Broker
}

func TestBrokerSuite(t *testing.T) {
	suite.Run(t, new(BrokerSuite))
}

func (s *BrokerSuite) SetupTest() {
	s.broker = NewBroker(testutil.NopLogger())
	s.Feed = s.broker
	s.Ctx = context.Background()
}

func (s *BrokerSuite) TearDownTest() {
	_ = s.broker.Close()
}

func (s *BrokerSuite) TestFullSubscriberDoesNotBlockPublish() {
	s.broker.buffer = 1
	sub, err := s.broker.Subscribe(s.Ctx, "game-1")
	s.Require().NoError(err)
	defer sub.Close()

	game := &model.GameSession{ID: "game-1"}
	for i := 0; i < 5; i++ {
		game.Version = int64(i + 1)
		s.Require().NoError(s.broker.Publish(s.Ctx, model.GameChange(model.OpUpdate, game, game.UpdatedAt)))
	}

	c := s.Receive(sub)
	s.Equal(int64(1), c.Game.Version)
}

func (s *BrokerSuite) TestCloseReleasesSubscribers() {
	sub, err := s.broker.Subscribe(s.Ctx, "game-1")
	s.Require().NoError(err)
	s.Equal(1, s.broker.SubscriberCount("game-1"))

	s.Require().NoError(s.broker.Close())
	s.AssertClosed(sub)
	s.Equal(0, s.broker.SubscriberCount("game-1"))

	// Releasing after the broker closed is harmless
	sub.Close()
}

func (s *BrokerSuite) TestSubscriberCountDropsOnClose() {
	sub, err := s.broker.Subscribe(s.Ctx, "game-1")
	s.Require().NoError(err)
	sub.Close()
	s.Equal(0, s.broker.SubscriberCount("game-1"))
}
