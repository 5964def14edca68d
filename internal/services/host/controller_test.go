package host

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/cryptoquiz-go/internal/dependencies/mocks"
	feedmemory "github.com/mcoot/cryptoquiz-go/internal/feed/memory"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
	"github.com/mcoot/cryptoquiz-go/internal/storage/memory"
	"github.com/mcoot/cryptoquiz-go/internal/testutil"
)

var errWriteFailed = errors.New("write failed")

// flakyStorage fails game writes while failing is set
type flakyStorage struct {
	storage.Storage
	failing atomic.Bool
}

func (f *flakyStorage) UpdateGame(ctx context.Context, g *model.GameSession) error {
	if f.failing.Load() {
		return errWriteFailed
	}
	return f.Storage.UpdateGame(ctx, g)
}

type endCall struct {
	winner    model.PlayerID
	standings []*model.PlayerProgress
}

type ControllerSuite struct {
	suite.Suite
	storage    *flakyStorage
	broker     *feedmemory.Broker
	clock      *mocks.MockClock
	controller *Controller
	ctx        context.Context

	mu    sync.Mutex
	ended []endCall
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.storage = &flakyStorage{Storage: memory.New()}
	s.broker = feedmemory.NewBroker(testutil.NopLogger())
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.ctx = context.Background()
	s.ended = nil
	s.controller = s.newController(model.DefaultGameConfig())
}

func (s *ControllerSuite) TearDownTest() {
	s.controller.Close()
	_ = s.broker.Close()
}

func (s *ControllerSuite) newController(cfg model.GameConfig) *Controller {
	game := &model.GameSession{
		ID:        "game-1",
		Code:      "123456",
		HostID:    "host-1",
		Phase:     model.PhaseLobby,
		Config:    cfg,
		CreatedAt: s.clock.Now(),
	}
	_ = s.storage.DeleteGame(s.ctx, game.ID)
	s.Require().NoError(s.storage.CreateGame(s.ctx, game))
	return s.controllerFor(game)
}

func (s *ControllerSuite) controllerFor(game *model.GameSession) *Controller {
	return NewController(game, s.storage, s.broker, s.clock, testutil.NopLogger(),
		func(_ context.Context, _ *model.GameSession, winner model.PlayerID, standings []*model.PlayerProgress) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.ended = append(s.ended, endCall{winner: winner, standings: standings})
		})
}

func (s *ControllerSuite) endCalls() []endCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]endCall(nil), s.ended...)
}

func (s *ControllerSuite) stored() *model.GameSession {
	g, err := s.storage.GetGame(s.ctx, "game-1")
	s.Require().NoError(err)
	return g
}

func (s *ControllerSuite) game() *model.GameSession {
	g, _ := s.controller.Snapshot()
	return g
}

// waitForTimer blocks until a host timer is pending on the mock clock
func (s *ControllerSuite) waitForTimer() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()
	s.Require().NoError(s.clock.BlockUntilContext(ctx, 1))
}

func (s *ControllerSuite) advanceToChoices() {
	s.waitForTimer()
	s.clock.Advance(2 * time.Second)
	s.Eventually(func() bool { return s.game().ChoicesVisible }, time.Second, 5*time.Millisecond)
}

func (s *ControllerSuite) advanceToReveal() {
	s.waitForTimer()
	s.clock.Advance(20 * time.Second)
	s.Eventually(func() bool { return s.game().AnswerRevealed }, time.Second, 5*time.Millisecond)
}

func (s *ControllerSuite) saveProgress(id model.PlayerID, answered, score int) {
	s.Require().NoError(s.storage.SaveProgress(s.ctx, &model.PlayerProgress{
		GameID:                  "game-1",
		PlayerID:                id,
		CurrentQuestionAnswered: answered,
		Score:                   score,
		UpdatedAt:               s.clock.Now(),
	}))
}

// Start tests

func (s *ControllerSuite) TestStartEntersFirstQuestion() {
	s.Require().NoError(s.controller.Start(s.ctx))

	g := s.stored()
	s.Equal(model.PhaseQuiz, g.Phase)
	s.Equal(0, g.CurrentQuestionIndex)
	s.False(g.ChoicesVisible)
	s.False(g.AnswerRevealed)
	s.Equal(s.clock.Now(), g.QuestionStartTime)
}

func (s *ControllerSuite) TestChoicesVisibleAfterDelay() {
	s.Require().NoError(s.controller.Start(s.ctx))

	s.waitForTimer()
	s.clock.Advance(1999 * time.Millisecond)
	s.False(s.stored().ChoicesVisible)

	s.clock.Advance(time.Millisecond)
	s.Eventually(func() bool { return s.stored().ChoicesVisible }, time.Second, 5*time.Millisecond)
	s.Equal(s.clock.Now(), s.stored().ChoicesVisibleAt)
}

func (s *ControllerSuite) TestRevealAfterQuestionDuration() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.advanceToChoices()

	s.clock.Advance(19 * time.Second)
	s.False(s.stored().AnswerRevealed)

	s.advanceToReveal()
	s.True(s.stored().AnswerRevealed)
}

func (s *ControllerSuite) TestStartTwiceIsRejected() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.ErrorIs(s.controller.Start(s.ctx), model.ErrInvalidPhase)
}

func (s *ControllerSuite) TestConcurrentHostsOnlyOneStarts() {
	stale, err := s.storage.GetGame(s.ctx, "game-1")
	s.Require().NoError(err)
	other := s.controllerFor(stale)
	defer other.Close()

	s.Require().NoError(s.controller.Start(s.ctx))
	s.ErrorIs(other.Start(s.ctx), model.ErrInvalidPhase)
	s.Equal(int64(2), s.stored().Version)
}

// Override tests

func (s *ControllerSuite) TestShowChoicesOverride() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.Require().NoError(s.controller.ShowChoices(s.ctx))
	s.True(s.stored().ChoicesVisible)

	// The superseded choices timer does not write again
	version := s.stored().Version
	s.clock.Advance(2 * time.Second)
	s.Never(func() bool { return s.stored().Version != version }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *ControllerSuite) TestRevealOverrideCancelsTimers() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.Require().NoError(s.controller.Reveal(s.ctx))

	g := s.stored()
	s.True(g.AnswerRevealed)
	s.True(g.ChoicesVisible)

	version := g.Version
	s.clock.Advance(30 * time.Second)
	s.Never(func() bool { return s.stored().Version != version }, 50*time.Millisecond, 5*time.Millisecond)
}

func (s *ControllerSuite) TestRevealTwiceIsNoop() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.Require().NoError(s.controller.Reveal(s.ctx))
	version := s.stored().Version

	s.Require().NoError(s.controller.Reveal(s.ctx))
	s.Equal(version, s.stored().Version)
}

func (s *ControllerSuite) TestRevealInLobbyIsRejected() {
	s.ErrorIs(s.controller.Reveal(s.ctx), model.ErrInvalidPhase)
	s.ErrorIs(s.controller.ShowChoices(s.ctx), model.ErrInvalidPhase)
}

func (s *ControllerSuite) TestStaleCallbackIsDropped() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.controller.mu.Lock()
	staleGen := s.controller.gen - 1
	s.controller.mu.Unlock()
	version := s.stored().Version

	s.controller.onChoicesDue(staleGen)
	s.controller.onRevealDue(staleGen)
	s.Equal(version, s.stored().Version)
}

// Next tests

func (s *ControllerSuite) TestNextRequiresReveal() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.ErrorIs(s.controller.Next(s.ctx), model.ErrAnswerNotRevealed)
}

func (s *ControllerSuite) TestNextInLobbyIsRejected() {
	s.ErrorIs(s.controller.Next(s.ctx), model.ErrInvalidPhase)
}

func (s *ControllerSuite) TestNextResetsQuestion() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.advanceToChoices()
	s.advanceToReveal()

	s.Require().NoError(s.controller.Next(s.ctx))
	g := s.stored()
	s.Equal(model.PhaseQuiz, g.Phase)
	s.Equal(1, g.CurrentQuestionIndex)
	s.False(g.ChoicesVisible)
	s.False(g.AnswerRevealed)
	s.Equal(s.clock.Now(), g.QuestionStartTime)

	s.advanceToChoices()
	s.Equal(1, s.stored().CurrentQuestionIndex)
}

func (s *ControllerSuite) TestLastNextReachesResult() {
	cfg := model.DefaultGameConfig()
	cfg.QuestionCount = 2
	s.controller.Close()
	s.controller = s.newController(cfg)

	s.Require().NoError(s.controller.Start(s.ctx))
	s.Require().NoError(s.controller.Reveal(s.ctx))
	s.Require().NoError(s.controller.Next(s.ctx))
	s.Require().NoError(s.controller.Reveal(s.ctx))
	s.Require().NoError(s.controller.Next(s.ctx))

	g := s.stored()
	s.Equal(model.PhaseResult, g.Phase)
	s.Equal(1, g.CurrentQuestionIndex)

	s.ErrorIs(s.controller.Next(s.ctx), model.ErrInvalidPhase)
	s.ErrorIs(s.controller.Start(s.ctx), model.ErrInvalidPhase)
}

// Failure handling

func (s *ControllerSuite) TestTimerWriteFailureIsLoggedAndHostContinues() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.waitForTimer()

	s.storage.failing.Store(true)
	s.clock.Advance(2 * time.Second)
	s.Never(func() bool { return s.stored().ChoicesVisible }, 50*time.Millisecond, 5*time.Millisecond)

	// The host can retry by hand once storage recovers
	s.storage.failing.Store(false)
	s.Require().NoError(s.controller.ShowChoices(s.ctx))
	s.True(s.stored().ChoicesVisible)
}

func (s *ControllerSuite) TestActionWriteFailureIsReturned() {
	s.storage.failing.Store(true)
	s.ErrorIs(s.controller.Start(s.ctx), errWriteFailed)
	s.Equal(model.PhaseLobby, s.game().Phase)
}

// Winner tests

func (s *ControllerSuite) TestFlatThresholdDeclaresWinnerOnce() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.saveProgress("p-a", 9, 9)
	s.saveProgress("p-b", 10, 10)

	s.Require().NoError(s.controller.Sync(s.ctx))
	s.Require().NoError(s.controller.Sync(s.ctx))

	calls := s.endCalls()
	s.Require().Len(calls, 1)
	s.Equal(model.PlayerID("p-b"), calls[0].winner)
	s.Require().Len(calls[0].standings, 2)
	s.Equal(model.PlayerID("p-b"), calls[0].standings[0].PlayerID)

	g := s.stored()
	s.True(g.Ended)
	s.Equal(model.PlayerID("p-b"), g.WinnerID)
	s.Equal(model.PhaseQuiz, g.Phase, "winning does not end the quiz phase")
}

func (s *ControllerSuite) TestFlatWinnerFromFeedSnapshot() {
	s.Require().NoError(s.controller.Start(s.ctx))

	p := &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", CurrentQuestionAnswered: 10, Score: 10}
	s.controller.Observe(s.ctx, model.ProgressChange(model.OpUpdate, p, s.clock.Now()))
	s.controller.Observe(s.ctx, model.ProgressChange(model.OpUpdate, p, s.clock.Now()))

	s.Len(s.endCalls(), 1)
}

func (s *ControllerSuite) TestFlatWithoutThresholdDeclaresLeaderAtResult() {
	cfg := model.DefaultGameConfig()
	cfg.QuestionCount = 1
	s.controller.Close()
	s.controller = s.newController(cfg)

	s.Require().NoError(s.controller.Start(s.ctx))
	s.saveProgress("p-a", 1, 1)
	s.saveProgress("p-b", 1, 0)
	s.Require().NoError(s.controller.Reveal(s.ctx))
	s.Require().NoError(s.controller.Next(s.ctx))

	calls := s.endCalls()
	s.Require().Len(calls, 1)
	s.Equal(model.PlayerID("p-a"), calls[0].winner)
}

func (s *ControllerSuite) TestTimedDeclaresLeaderAtResult() {
	cfg := model.TimedGameConfig()
	cfg.QuestionCount = 1
	s.controller.Close()
	s.controller = s.newController(cfg)

	s.Require().NoError(s.controller.Start(s.ctx))
	s.saveProgress("p-a", 1, 175)
	s.saveProgress("p-b", 1, 5000)
	s.Require().NoError(s.controller.Sync(s.ctx))
	s.Empty(s.endCalls(), "timed mode waits for the result phase")

	s.Require().NoError(s.controller.Reveal(s.ctx))
	s.Require().NoError(s.controller.Next(s.ctx))

	calls := s.endCalls()
	s.Require().Len(calls, 1)
	s.Equal(model.PlayerID("p-b"), calls[0].winner)
	s.Equal(model.PlayerID("p-b"), s.stored().WinnerID)
}

func (s *ControllerSuite) TestTimedTieDeclaresNoWinner() {
	cfg := model.TimedGameConfig()
	cfg.QuestionCount = 1
	s.controller.Close()
	s.controller = s.newController(cfg)

	s.Require().NoError(s.controller.Start(s.ctx))
	s.saveProgress("p-a", 1, 175)
	s.saveProgress("p-b", 1, 175)
	s.Require().NoError(s.controller.Reveal(s.ctx))
	s.Require().NoError(s.controller.Next(s.ctx))

	calls := s.endCalls()
	s.Require().Len(calls, 1)
	s.Equal(model.PlayerID(""), calls[0].winner)
	s.True(s.stored().Ended)
}

func (s *ControllerSuite) TestRetiredSessionDoesNotDeclare() {
	s.Require().NoError(s.controller.Start(s.ctx))

	g := s.stored()
	g.Phase = model.PhaseResult
	g.Ended = true
	s.Require().NoError(s.storage.UpdateGame(s.ctx, g))
	s.saveProgress("p-a", 10, 10)

	s.Require().NoError(s.controller.Sync(s.ctx))
	s.Empty(s.endCalls())
}

// Run / resume / close

func (s *ControllerSuite) TestRunConsumesFeed() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = s.controller.Run(ctx, s.broker)
		close(done)
	}()
	s.Eventually(func() bool { return s.broker.SubscriberCount("game-1") == 1 }, time.Second, 5*time.Millisecond)

	p := &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", CurrentQuestionAnswered: 3, Score: 3}
	s.Require().NoError(s.broker.Publish(s.ctx, model.ProgressChange(model.OpUpdate, p, s.clock.Now())))

	s.Eventually(func() bool {
		_, board := s.controller.Snapshot()
		return len(board) == 1 && board[0].Score == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	s.Eventually(func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func (s *ControllerSuite) TestResumeRearmsRevealTimer() {
	s.Require().NoError(s.controller.Start(s.ctx))
	s.Require().NoError(s.controller.ShowChoices(s.ctx))
	s.controller.Close()

	s.clock.Advance(15 * time.Second)
	s.controller = s.controllerFor(s.stored())
	s.controller.Resume()

	s.waitForTimer()
	s.clock.Advance(5 * time.Second)
	s.Eventually(func() bool { return s.stored().AnswerRevealed }, time.Second, 5*time.Millisecond)
}

func (s *ControllerSuite) TestCloseCancelsTimers() {
	s.Require().NoError(s.controller.Start(s.ctx))
	version := s.stored().Version
	s.controller.Close()
	s.controller.Close()

	s.clock.Advance(time.Minute)
	s.Never(func() bool { return s.stored().Version != version }, 50*time.Millisecond, 5*time.Millisecond)
	s.ErrorIs(s.controller.Reveal(s.ctx), model.ErrSessionNotRunning)
}

func (s *ControllerSuite) TestWritesArePublished() {
	sub, err := s.broker.Subscribe(s.ctx, "game-1")
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().NoError(s.controller.Start(s.ctx))

	select {
	case c := <-sub.C:
		s.Equal(model.CollectionGames, c.Collection)
		s.Equal(model.PhaseQuiz, c.Game.Phase)
	case <-time.After(time.Second):
		s.Fail("no change published")
	}
}
