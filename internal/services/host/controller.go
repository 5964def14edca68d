// Package host drives a session's shared game record: phase changes,
// question pacing timers and the end-of-game decision.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/cryptoquiz-go/internal/dependencies/clock"
	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/reconcile"
	"github.com/mcoot/cryptoquiz-go/internal/services/scoring"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
)

// EndFunc is invoked exactly once when a session's winner is decided.
// winner is empty on a tie. It runs with the controller locked and must
// not call back into the controller.
type EndFunc func(ctx context.Context, game *model.GameSession, winner model.PlayerID, standings []*model.PlayerProgress)

var errAlreadyEnded = errors.New("game already ended")

// Controller is the host-side state machine for one session
type Controller struct {
	gameID    model.GameID
	storage   storage.Storage
	publisher feed.Publisher
	clock     clock.Clock
	logger    *slog.Logger
	onGameEnd EndFunc

	// ctx bounds writes made from timer callbacks
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	game         *model.GameSession
	board        reconcile.Leaderboard
	gen          uint64
	choicesTimer clock.Timer
	revealTimer  clock.Timer
	ended        bool
	closed       bool
}

// NewController creates a host controller for game
func NewController(
	game *model.GameSession,
	storage storage.Storage,
	publisher feed.Publisher,
	clock clock.Clock,
	logger *slog.Logger,
	onGameEnd EndFunc,
) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		gameID:    game.ID,
		storage:   storage,
		publisher: publisher,
		clock:     clock,
		logger:    logger.With(slog.String("component", "host"), slog.String("game_id", string(game.ID))),
		onGameEnd: onGameEnd,
		ctx:       ctx,
		cancel:    cancel,
		game:      game.Clone(),
		board:     reconcile.Leaderboard{},
		ended:     game.Ended,
	}
}

// Start moves the session from lobby into the first question
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.update(ctx, func(g *model.GameSession, now time.Time) error {
		if g.Phase != model.PhaseLobby {
			return model.ErrInvalidPhase
		}
		g.Phase = model.PhaseQuiz
		g.CurrentQuestionIndex = 0
		g.AnswerRevealed = false
		g.ChoicesVisible = false
		g.QuestionStartTime = now
		g.ChoicesVisibleAt = time.Time{}
		return nil
	})
	if err != nil {
		return c.actionFailed("start", err)
	}

	c.armChoices(c.game.Config.ChoicesDelay)
	c.logger.Info("game started", slog.Int("question_count", c.game.Config.QuestionCount))
	return nil
}

// ShowChoices makes the current question's choices visible ahead of the delay
func (c *Controller) ShowChoices(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed, err := c.showChoices(ctx)
	if err != nil {
		return c.actionFailed("show_choices", err)
	}
	if changed {
		c.armReveal(c.game.Config.QuestionDuration)
	}
	return nil
}

// Reveal shows the answer for the current question. Revealing twice is a no-op.
func (c *Controller) Reveal(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.reveal(ctx); err != nil {
		return c.actionFailed("reveal", err)
	}
	return nil
}

// Next advances to the next question, or to the result phase after the last one
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.update(ctx, func(g *model.GameSession, now time.Time) error {
		if g.Phase != model.PhaseQuiz {
			return model.ErrInvalidPhase
		}
		if !g.AnswerRevealed {
			return model.ErrAnswerNotRevealed
		}
		if g.CurrentQuestionIndex+1 >= g.Config.QuestionCount {
			g.Phase = model.PhaseResult
			return nil
		}
		g.CurrentQuestionIndex++
		g.AnswerRevealed = false
		g.ChoicesVisible = false
		g.QuestionStartTime = now
		g.ChoicesVisibleAt = time.Time{}
		return nil
	})
	if err != nil {
		return c.actionFailed("next", err)
	}

	if c.game.Phase == model.PhaseResult {
		c.cancelTimers()
		c.logger.Info("game reached result")
		c.refreshBoard(ctx)
		c.maybeDeclare(ctx)
		return nil
	}

	c.armChoices(c.game.Config.ChoicesDelay)
	c.logger.Debug("question started", slog.Int("question_index", c.game.CurrentQuestionIndex))
	return nil
}

// Resume re-arms whichever timer the stored session still needs, after a restart
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := c.game
	if g.Phase != model.PhaseQuiz || g.AnswerRevealed {
		return
	}
	now := c.clock.Now()
	if !g.ChoicesVisible {
		c.armChoices(g.Config.ChoicesDelay - now.Sub(g.QuestionStartTime))
		return
	}
	c.armReveal(g.TimeLeft(now))
}

// Run folds change snapshots for the session until ctx is done or the feed closes
func (c *Controller) Run(ctx context.Context, sub feed.Subscriber) error {
	s, err := sub.Subscribe(ctx, c.gameID)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := c.Sync(ctx); err != nil {
		c.logger.Warn("initial sync failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-s.C:
			if !ok {
				return nil
			}
			c.Observe(ctx, change)
		}
	}
}

// Observe applies one change snapshot
func (c *Controller) Observe(ctx context.Context, change model.Change) {
	if change.GameID != c.gameID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	switch change.Collection {
	case model.CollectionProgress:
		if change.Progress == nil {
			return
		}
		var applied bool
		c.board, applied = c.board.Apply(change.Progress)
		if applied {
			c.maybeDeclare(ctx)
		}
	case model.CollectionGames:
		if change.Game != nil {
			c.adopt(change.Game)
		}
	}
}

// Sync re-reads the session and every progress row from storage
func (c *Controller) Sync(ctx context.Context) error {
	game, err := c.storage.GetGame(ctx, c.gameID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.ErrSessionNotRunning
	}
	c.adopt(game)
	c.refreshBoard(ctx)
	c.maybeDeclare(ctx)
	return nil
}

// Snapshot returns the host's view of the session and its ranked leaderboard
func (c *Controller) Snapshot() (*model.GameSession, []*model.PlayerProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game.Clone(), c.board.Ranked()
}

// Close cancels every pending timer. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancelTimers()
	c.cancel()
}

// update applies fn to a copy of the session and writes it with
// compare-and-swap. On a version conflict the session is re-read and fn is
// applied once more, so fn must re-check its own preconditions.
// Caller must hold c.mu.
func (c *Controller) update(ctx context.Context, fn func(g *model.GameSession, now time.Time) error) error {
	if c.closed {
		return model.ErrSessionNotRunning
	}

	for attempt := 0; ; attempt++ {
		next := c.game.Clone()
		now := c.clock.Now()
		if err := fn(next, now); err != nil {
			return err
		}
		next.UpdatedAt = now

		err := c.storage.UpdateGame(ctx, next)
		if err == nil {
			c.game = next
			c.publish(ctx, model.GameChange(model.OpUpdate, next, now))
			return nil
		}
		if !errors.Is(err, model.ErrVersionConflict) || attempt > 0 {
			return err
		}

		fresh, getErr := c.storage.GetGame(ctx, c.gameID)
		if getErr != nil {
			return getErr
		}
		c.adopt(fresh)
	}
}

// adopt replaces the cached session with a newer snapshot.
// Caller must hold c.mu.
func (c *Controller) adopt(g *model.GameSession) {
	if g.Version <= c.game.Version {
		return
	}
	prev := c.game
	c.game = g.Clone()
	if g.Ended {
		c.ended = true
	}

	// Someone else moved the question on; our timers belong to the old one
	if g.Phase != prev.Phase || g.CurrentQuestionIndex != prev.CurrentQuestionIndex ||
		g.AnswerRevealed != prev.AnswerRevealed {
		c.cancelTimers()
	}
}

func (c *Controller) showChoices(ctx context.Context) (bool, error) {
	changed := false
	err := c.update(ctx, func(g *model.GameSession, now time.Time) error {
		if g.Phase != model.PhaseQuiz || g.AnswerRevealed {
			return model.ErrInvalidPhase
		}
		changed = !g.ChoicesVisible
		if !changed {
			return nil
		}
		g.ChoicesVisible = true
		g.ChoicesVisibleAt = now
		return nil
	})
	return changed, err
}

func (c *Controller) reveal(ctx context.Context) error {
	if c.game.Phase == model.PhaseQuiz && c.game.AnswerRevealed {
		return nil
	}
	err := c.update(ctx, func(g *model.GameSession, now time.Time) error {
		if g.Phase != model.PhaseQuiz {
			return model.ErrInvalidPhase
		}
		if !g.ChoicesVisible {
			g.ChoicesVisible = true
			g.ChoicesVisibleAt = now
		}
		g.AnswerRevealed = true
		return nil
	})
	if err != nil {
		return err
	}
	c.cancelTimers()
	c.logger.Debug("answer revealed", slog.Int("question_index", c.game.CurrentQuestionIndex))
	return nil
}

// armChoices schedules the choices-visible write. Caller must hold c.mu.
func (c *Controller) armChoices(d time.Duration) {
	c.cancelTimers()
	gen := c.gen
	c.choicesTimer = c.clock.AfterFunc(max(d, 0), func() { c.onChoicesDue(gen) })
}

// armReveal schedules the reveal write. Caller must hold c.mu.
func (c *Controller) armReveal(d time.Duration) {
	c.cancelTimers()
	gen := c.gen
	c.revealTimer = c.clock.AfterFunc(max(d, 0), func() { c.onRevealDue(gen) })
}

// cancelTimers stops both timers and invalidates any callback already in
// flight. Caller must hold c.mu.
func (c *Controller) cancelTimers() {
	c.gen++
	clock.StopTimer(c.choicesTimer)
	clock.StopTimer(c.revealTimer)
	c.choicesTimer = nil
	c.revealTimer = nil
}

func (c *Controller) onChoicesDue(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		return
	}
	changed, err := c.showChoices(c.ctx)
	if err != nil {
		c.logger.Error("choices timer write failed",
			slog.Int("question_index", c.game.CurrentQuestionIndex),
			slog.Any("error", err))
		return
	}
	if changed {
		c.armReveal(c.game.Config.QuestionDuration)
	}
}

func (c *Controller) onRevealDue(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen {
		return
	}
	if err := c.reveal(c.ctx); err != nil {
		c.logger.Error("reveal timer write failed",
			slog.Int("question_index", c.game.CurrentQuestionIndex),
			slog.Any("error", err))
	}
}

// refreshBoard folds every stored progress row. Caller must hold c.mu.
func (c *Controller) refreshBoard(ctx context.Context) {
	rows, err := c.storage.ListProgress(ctx, c.gameID)
	if err != nil {
		c.logger.Warn("list progress failed", slog.Any("error", err))
		return
	}
	for _, p := range rows {
		c.board, _ = c.board.Apply(p)
	}
}

// maybeDeclare decides the winner once the session allows it.
// Caller must hold c.mu.
func (c *Controller) maybeDeclare(ctx context.Context) {
	if c.ended || c.game.Ended {
		return
	}
	standings := c.board.Ranked()

	if winner := scoring.FirstToTarget(c.game.Config, standings); winner != "" {
		c.declare(ctx, winner, standings)
		return
	}
	if c.game.Phase == model.PhaseResult {
		c.declare(ctx, scoring.Leader(standings), standings)
	}
}

func (c *Controller) declare(ctx context.Context, winner model.PlayerID, standings []*model.PlayerProgress) {
	err := c.update(ctx, func(g *model.GameSession, _ time.Time) error {
		if g.Ended {
			return errAlreadyEnded
		}
		g.Ended = true
		g.WinnerID = winner
		return nil
	})
	if errors.Is(err, errAlreadyEnded) {
		c.ended = true
		return
	}
	if err != nil {
		c.logger.Error("declare winner failed", slog.String("winner_id", string(winner)), slog.Any("error", err))
		return
	}

	c.ended = true
	c.logger.Info("winner declared",
		slog.String("winner_id", string(winner)),
		slog.String("phase", string(c.game.Phase)))
	if c.onGameEnd != nil {
		c.onGameEnd(ctx, c.game.Clone(), winner, standings)
	}
}

func (c *Controller) publish(ctx context.Context, change model.Change) {
	if err := c.publisher.Publish(ctx, change); err != nil {
		c.logger.Warn("publish change failed", slog.Any("error", err))
	}
}

func (c *Controller) actionFailed(action string, err error) error {
	c.logger.Warn("host action rejected",
		slog.String("action", action),
		slog.String("phase", string(c.game.Phase)),
		slog.Int("question_index", c.game.CurrentQuestionIndex),
		slog.Any("error", err))
	return err
}
