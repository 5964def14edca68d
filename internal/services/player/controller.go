// Package player mirrors a session for one participant, gates answer
// submissions and keeps the participant's progress row in step with the
// question index.
package player

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

// QuestionSource provides the answer key
type QuestionSource interface {
	Question(index int) (model.Question, error)
}

// Outcome reports whether a submission was recorded.
// A rejected submission is not an error; the player simply could not answer.
type Outcome struct {
	Accepted      bool
	QuestionIndex int
}

// State is the player's view of the session.
// Selected and Correct are only filled in once the answer is revealed.
type State struct {
	GameID         model.GameID
	PlayerID       model.PlayerID
	Phase          model.Phase
	QuestionIndex  int
	ChoicesVisible bool
	AnswerRevealed bool
	TimeLeft       time.Duration
	HasAnswered    bool
	Selected       int
	Correct        bool
	Score          int
	Streak         int
	Answered       int
	Ended          bool
	WinnerID       model.PlayerID
}

// Controller is the player-side state machine for one participant in one session
type Controller struct {
	gameID    model.GameID
	playerID  model.PlayerID
	storage   storage.Storage
	publisher feed.Publisher
	questions QuestionSource
	clock     clock.Clock
	logger    *slog.Logger

	// ctx bounds writes made from the countdown
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	view        reconcile.View
	game        *model.GameSession
	progress    *model.PlayerProgress
	hasAnswered bool
	selected    int
	correct     bool
	gen         uint64
	countdown   clock.Timer
	closed      bool
}

// NewController creates a player controller. Call Sync or Run to load the session.
func NewController(
	gameID model.GameID,
	playerID model.PlayerID,
	storage storage.Storage,
	publisher feed.Publisher,
	questions QuestionSource,
	clock clock.Clock,
	logger *slog.Logger,
) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		gameID:    gameID,
		playerID:  playerID,
		storage:   storage,
		publisher: publisher,
		questions: questions,
		clock:     clock,
		logger: logger.With(
			slog.String("component", "player"),
			slog.String("game_id", string(gameID)),
			slog.String("player_id", string(playerID))),
		ctx:      ctx,
		cancel:   cancel,
		selected: model.NoAnswer,
	}
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
	case model.CollectionGames:
		if change.Game != nil {
			c.apply(ctx, change.Game)
		}
	case model.CollectionProgress:
		// Our own row written elsewhere, e.g. by an earlier process
		p := change.Progress
		if p == nil || p.PlayerID != c.playerID || c.progress == nil {
			return
		}
		if p.Ahead(c.progress) {
			c.adopt(p.Clone())
		}
	}
}

// Sync re-reads the session from storage and applies it
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
	c.apply(ctx, game)
	return nil
}

// Submit records choice for the current question.
// Submissions outside the answer window, or for a question already
// answered, are rejected without error.
func (c *Controller) Submit(ctx context.Context, choice int) (Outcome, error) {
	if err := c.Sync(ctx); err != nil {
		if errors.Is(err, model.ErrSessionNotRunning) {
			return Outcome{}, err
		}
		c.logger.Warn("sync before submit failed", slog.Any("error", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Outcome{}, model.ErrSessionNotRunning
	}
	if c.game == nil {
		return Outcome{}, nil
	}

	index := c.game.CurrentQuestionIndex
	rejected := Outcome{QuestionIndex: index}
	if !c.game.AcceptingAnswers() || c.hasAnswered {
		return rejected, nil
	}

	q, err := c.questions.Question(index)
	if err != nil {
		return rejected, err
	}
	if !q.ValidChoice(choice) {
		return rejected, model.ErrInvalidChoice
	}

	if err := c.refreshProgress(ctx); err != nil {
		return rejected, err
	}
	if c.progress.HasAnswered(index) {
		c.hasAnswered = true
		return rejected, nil
	}

	now := c.clock.Now()
	correct := q.IsCorrect(choice)
	res := scoring.ForMode(c.game.Config.ScoringMode).Score(scoring.Input{
		Correct:  correct,
		TimeLeft: c.game.TimeLeft(now),
		Window:   c.game.Config.QuestionDuration,
		Streak:   c.progress.Streak,
	})

	next := c.progress.Clone()
	next.CurrentQuestionAnswered = index + 1
	next.Score += res.Delta
	next.Streak = res.Streak
	next.Completed = scoring.ReachedTarget(c.game.Config, next)
	next.UpdatedAt = now
	if err := c.save(ctx, next); err != nil {
		if errors.Is(err, model.ErrStaleProgress) {
			return rejected, nil
		}
		c.logger.Error("save answer failed", slog.Int("question_index", index), slog.Any("error", err))
		return rejected, err
	}

	c.hasAnswered = true
	c.selected = choice
	c.correct = correct
	c.cancelCountdown()
	c.logger.Debug("answer recorded",
		slog.Int("question_index", index),
		slog.Int("delta", res.Delta),
		slog.Int("score", next.Score))
	return Outcome{Accepted: true, QuestionIndex: index}, nil
}

// State returns the player's current view
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		GameID:         c.gameID,
		PlayerID:       c.playerID,
		Phase:          c.view.Phase,
		QuestionIndex:  c.view.QuestionIndex,
		ChoicesVisible: c.view.ChoicesVisible,
		AnswerRevealed: c.view.AnswerRevealed,
		HasAnswered:    c.hasAnswered,
		Selected:       model.NoAnswer,
		Ended:          c.view.Ended,
		WinnerID:       c.view.WinnerID,
	}
	if st.Phase == "" {
		st.Phase = model.PhaseLobby
	}
	if c.game != nil && c.game.Phase == model.PhaseQuiz && !c.game.AnswerRevealed {
		st.TimeLeft = c.game.TimeLeft(c.clock.Now())
	}
	if c.view.AnswerRevealed {
		st.Selected = c.selected
		st.Correct = c.correct
	}
	if c.progress != nil {
		st.Score = c.progress.Score
		st.Streak = c.progress.Streak
		st.Answered = c.progress.CurrentQuestionAnswered
	}
	return st
}

// Close stops the countdown. Safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancelCountdown()
	c.cancel()
}

// apply reduces snap into the cached view and reacts to each transition.
// Caller must hold c.mu.
func (c *Controller) apply(ctx context.Context, snap *model.GameSession) {
	if c.view.Stale(snap) {
		return
	}
	next, transitions := reconcile.Reduce(c.view, snap)
	c.view = next
	c.game = snap.Clone()

	for _, t := range transitions {
		c.handle(ctx, t)
	}
}

// Caller must hold c.mu.
func (c *Controller) handle(ctx context.Context, t model.Transition) {
	switch t.Kind {
	case model.TransitionQuestionStarted:
		c.cancelCountdown()
		c.hasAnswered = false
		c.selected = model.NoAnswer
		c.correct = false
		if err := c.refreshProgress(ctx); err != nil {
			c.logger.Warn("load progress failed", slog.Any("error", err))
			return
		}
		c.backfill(ctx, t.QuestionIndex)
		c.hasAnswered = c.progress.HasAnswered(t.QuestionIndex)

	case model.TransitionChoicesVisible:
		if !c.hasAnswered && !c.game.AnswerRevealed {
			c.armCountdown(c.game.TimeLeft(c.clock.Now()))
		}

	case model.TransitionAnswerRevealed:
		c.cancelCountdown()
		if !c.hasAnswered {
			c.recordNoAnswer(ctx, t.QuestionIndex)
		}

	case model.TransitionPhaseChanged:
		if t.ToPhase == model.PhaseResult {
			c.cancelCountdown()
		}
		c.logger.Debug("phase changed",
			slog.String("from", string(t.FromPhase)),
			slog.String("phase", string(t.ToPhase)))

	case model.TransitionWinnerDeclared:
		c.logger.Info("winner declared", slog.String("winner_id", string(t.WinnerID)))
	}
}

// refreshProgress re-reads our row from storage, which may have been
// written by another process, starting from zero if there is none.
// Caller must hold c.mu.
func (c *Controller) refreshProgress(ctx context.Context) error {
	p, err := c.storage.GetProgress(ctx, c.gameID, c.playerID)
	if errors.Is(err, model.ErrProgressNotFound) {
		if c.progress == nil {
			c.progress = &model.PlayerProgress{GameID: c.gameID, PlayerID: c.playerID}
		}
		return nil
	}
	if err != nil {
		return err
	}
	if c.progress == nil || !c.progress.Ahead(p) {
		c.adopt(p)
	}
	return nil
}

// adopt makes p our row and marks the current question finished if p
// already covers it. Caller must hold c.mu.
func (c *Controller) adopt(p *model.PlayerProgress) {
	c.progress = p
	if c.game != nil && p.HasAnswered(c.game.CurrentQuestionIndex) && !c.hasAnswered {
		c.hasAnswered = true
		c.cancelCountdown()
	}
}

// backfill records no-answers for every question before index we never
// finished, so the answered count keeps pace with the session.
// Caller must hold c.mu.
func (c *Controller) backfill(ctx context.Context, index int) {
	if c.progress.CurrentQuestionAnswered >= index {
		return
	}
	next := c.progress.Clone()
	next.CurrentQuestionAnswered = index
	next.Streak = 0
	next.UpdatedAt = c.clock.Now()
	if err := c.save(ctx, next); err != nil {
		if !errors.Is(err, model.ErrStaleProgress) {
			c.logger.Error("backfill failed", slog.Int("question_index", index), slog.Any("error", err))
		}
		return
	}
	c.logger.Debug("backfilled missed questions", slog.Int("answered", index))
}

// recordNoAnswer closes the question at index as unanswered unless our
// stored row already covers it. Caller must hold c.mu.
func (c *Controller) recordNoAnswer(ctx context.Context, index int) {
	if err := c.refreshProgress(ctx); err != nil {
		c.logger.Warn("load progress failed", slog.Any("error", err))
		return
	}
	if c.progress.HasAnswered(index) {
		c.hasAnswered = true
		return
	}

	next := c.progress.Clone()
	next.CurrentQuestionAnswered = index + 1
	next.Streak = 0
	next.UpdatedAt = c.clock.Now()
	if err := c.save(ctx, next); err != nil {
		if !errors.Is(err, model.ErrStaleProgress) {
			c.logger.Error("record no-answer failed", slog.Int("question_index", index), slog.Any("error", err))
		}
		return
	}
	c.hasAnswered = true
	c.selected = model.NoAnswer
	c.correct = false
}

// save writes p and adopts it as our row. When the stored row is already
// ahead, that row is adopted instead and model.ErrStaleProgress returned.
// Caller must hold c.mu.
func (c *Controller) save(ctx context.Context, p *model.PlayerProgress) error {
	if err := c.storage.SaveProgress(ctx, p); err != nil {
		if errors.Is(err, model.ErrStaleProgress) {
			c.logger.Debug("progress written elsewhere; keeping stored row")
			if rerr := c.refreshProgress(ctx); rerr != nil {
				c.logger.Warn("load progress failed", slog.Any("error", rerr))
			}
		}
		return err
	}
	c.progress = p
	if err := c.publisher.Publish(ctx, model.ProgressChange(model.OpUpdate, p, p.UpdatedAt)); err != nil {
		c.logger.Warn("publish progress failed", slog.Any("error", err))
	}
	return nil
}

// armCountdown mirrors the host's answer window. Caller must hold c.mu.
func (c *Controller) armCountdown(d time.Duration) {
	c.cancelCountdown()
	gen := c.gen
	index := c.view.QuestionIndex
	c.countdown = c.clock.AfterFunc(max(d, 0), func() { c.onCountdown(gen, index) })
}

// Caller must hold c.mu.
func (c *Controller) cancelCountdown() {
	c.gen++
	clock.StopTimer(c.countdown)
	c.countdown = nil
}

func (c *Controller) onCountdown(gen uint64, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen || c.hasAnswered || c.view.QuestionIndex != index {
		return
	}
	c.recordNoAnswer(c.ctx, index)
}
