// Package session runs the host and player controllers of every live game
// and checks each mutation against the caller's role before dispatching it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mcoot/cryptoquiz-go/internal/dependencies/clock"
	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/host"
	"github.com/mcoot/cryptoquiz-go/internal/services/lobby"
	"github.com/mcoot/cryptoquiz-go/internal/services/player"
	"github.com/mcoot/cryptoquiz-go/internal/services/questions"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
)

// EndHook is called after a session's winner has been recorded.
// winner is empty on a tie.
type EndHook func(ctx context.Context, game *model.GameSession, winner model.PlayerID)

// Result reports the effect of an applied mutation
type Result struct {
	Accepted      bool
	QuestionIndex int
}

// QuestionView is the current question as players may see it.
// Choices appear once visible and AnswerIndex once revealed.
type QuestionView struct {
	Index       int
	Prompt      string
	Choices     []string
	AnswerIndex *int
}

// Snapshot is the shared state of a session
type Snapshot struct {
	Game        *model.GameSession
	Members     []*model.GameMember
	Leaderboard []*model.PlayerProgress
	Question    *QuestionView
}

// Manager owns the controllers of every session this process serves
type Manager struct {
	storage   storage.Storage
	feed      feed.Feed
	lobby     *lobby.Controller
	questions *questions.Service
	clock     clock.Clock
	logger    *slog.Logger
	base      model.GameConfig
	onEnd     EndHook

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	runtimes map[model.GameID]*runtime
	closed   bool
}

// runtime is one live session: a host controller plus one controller per player
type runtime struct {
	game    model.GameID
	host    *host.Controller
	ctx     context.Context
	cancel  context.CancelFunc
	players map[model.PlayerID]*playerRuntime
}

type playerRuntime struct {
	controller *player.Controller
	cancel     context.CancelFunc
}

// NewManager creates a Manager. base supplies pacing for new games and the
// scoring mode used when a request names none.
func NewManager(
	storage storage.Storage,
	feed feed.Feed,
	lobby *lobby.Controller,
	questions *questions.Service,
	clock clock.Clock,
	logger *slog.Logger,
	base model.GameConfig,
	onEnd EndHook,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		storage:   storage,
		feed:      feed,
		lobby:     lobby,
		questions: questions,
		clock:     clock,
		logger:    logger.With(slog.String("component", "session")),
		base:      base,
		onEnd:     onEnd,
		ctx:       ctx,
		cancel:    cancel,
		runtimes:  make(map[model.GameID]*runtime),
	}
}

// ConfigFor returns the game configuration for a scoring mode
func (m *Manager) ConfigFor(mode model.ScoringMode) model.GameConfig {
	var cfg model.GameConfig
	if mode == model.ScoringTimed {
		cfg = model.TimedGameConfig()
	} else {
		cfg = model.DefaultGameConfig()
	}
	if m.base.ChoicesDelay > 0 {
		cfg.ChoicesDelay = m.base.ChoicesDelay
	}
	if m.base.QuestionDuration > 0 {
		cfg.QuestionDuration = m.base.QuestionDuration
	}
	cfg.QuestionCount = m.questions.Len()
	if m.base.QuestionCount > 0 && m.base.QuestionCount < cfg.QuestionCount {
		cfg.QuestionCount = m.base.QuestionCount
	}
	if mode != model.ScoringTimed && m.base.TargetScore > 0 {
		cfg.TargetScore = m.base.TargetScore
	}
	return cfg
}

// Create opens a new session hosted by hostPlayer
func (m *Manager) Create(ctx context.Context, hostPlayer model.Player, mode model.ScoringMode) (*model.GameSession, error) {
	if mode == "" {
		mode = m.base.ScoringMode
	}
	if mode == "" {
		mode = model.ScoringFlat
	}
	if !mode.Valid() {
		return nil, model.ErrInvalidScoringMode
	}

	game, err := m.lobby.CreateGame(ctx, hostPlayer, m.ConfigFor(mode))
	if err != nil {
		return nil, err
	}
	if _, err := m.ensure(ctx, game.ID); err != nil {
		return nil, err
	}
	return game, nil
}

// Join adds p to the lobby with the given code
func (m *Manager) Join(ctx context.Context, code model.GameCode, p model.Player) (*model.GameSession, error) {
	game, err := m.lobby.JoinGame(ctx, code, p)
	if err != nil {
		return nil, err
	}
	rt, err := m.ensure(ctx, game.ID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.startPlayer(rt, p.ID)
	return game, nil
}

// Leave removes the player from their session and stops what no longer runs
func (m *Manager) Leave(ctx context.Context, playerID model.PlayerID) (*lobby.LeaveResult, error) {
	result, err := m.lobby.LeaveGame(ctx, playerID)
	if err != nil {
		return nil, err
	}

	if result.Retired || result.Closed {
		m.stop(result.GameID)
		return result, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.runtimes[result.GameID]; ok {
		if pr, ok := rt.players[playerID]; ok {
			pr.cancel()
			pr.controller.Close()
			delete(rt.players, playerID)
		}
	}
	return result, nil
}

// CurrentGame returns the session the player belongs to
func (m *Manager) CurrentGame(ctx context.Context, playerID model.PlayerID) (*model.GameSession, error) {
	return m.lobby.CurrentGame(ctx, playerID)
}

// Role resolves what actorID may do in the session
func (m *Manager) Role(ctx context.Context, game *model.GameSession, actorID model.PlayerID) (model.Role, error) {
	if game.HostID == actorID {
		return model.RoleHost, nil
	}
	member, err := m.storage.GetMembership(ctx, actorID)
	if errors.Is(err, model.ErrNotInGame) {
		return "", model.ErrNotInGame
	}
	if err != nil {
		return "", err
	}
	if member.GameID != game.ID {
		return "", model.ErrNotInGame
	}
	return model.RolePlayer, nil
}

// RoleIn resolves actorID's role in the stored session gameID
func (m *Manager) RoleIn(ctx context.Context, gameID model.GameID, actorID model.PlayerID) (model.Role, error) {
	game, err := m.storage.GetGame(ctx, gameID)
	if err != nil {
		return "", err
	}
	return m.Role(ctx, game, actorID)
}

// Apply performs mut on behalf of actorID after checking the actor's role
func (m *Manager) Apply(ctx context.Context, gameID model.GameID, actorID model.PlayerID, mut model.Mutation) (Result, error) {
	game, err := m.storage.GetGame(ctx, gameID)
	if err != nil {
		return Result{}, err
	}
	role, err := m.Role(ctx, game, actorID)
	if err != nil {
		return Result{}, err
	}
	if err := model.Authorize(role, mut); err != nil {
		m.logger.Warn("mutation rejected",
			slog.String("game_id", string(gameID)),
			slog.String("player_id", string(actorID)),
			slog.String("role", string(role)),
			slog.String("mutation", string(kindOf(mut))),
			slog.Any("error", err))
		return Result{}, err
	}

	rt, err := m.ensure(ctx, gameID)
	if err != nil {
		return Result{}, err
	}

	switch mt := mut.(type) {
	case model.StartGame:
		err = rt.host.Start(ctx)
	case model.ShowChoices:
		err = rt.host.ShowChoices(ctx)
	case model.RevealAnswer:
		err = rt.host.Reveal(ctx)
	case model.NextQuestion:
		err = rt.host.Next(ctx)
	case model.SubmitAnswer:
		pc := m.playerController(rt, actorID)
		out, err := pc.Submit(ctx, mt.Choice)
		return Result{Accepted: out.Accepted, QuestionIndex: out.QuestionIndex}, err
	default:
		return Result{}, model.ErrUnknownMutation
	}
	if err != nil {
		return Result{}, err
	}

	g, standings := rt.host.Snapshot()
	if _, ok := mut.(model.NextQuestion); ok && g.Phase == model.PhaseResult {
		// A flat winner may have been declared mid-quiz; later answers count too
		m.recordScores(ctx, standings)
	}
	return Result{Accepted: true, QuestionIndex: g.CurrentQuestionIndex}, nil
}

// Snapshot returns the stored session, its members, its ranked leaderboard
// and the current question as players may see it
func (m *Manager) Snapshot(ctx context.Context, gameID model.GameID) (*Snapshot, error) {
	game, err := m.storage.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	members, err := m.storage.GetMembers(ctx, gameID)
	if err != nil {
		return nil, err
	}
	board, err := m.storage.ListProgress(ctx, gameID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Game: game, Members: members, Leaderboard: board}
	if game.Phase == model.PhaseQuiz {
		if q, err := m.questions.Question(game.CurrentQuestionIndex); err == nil {
			snap.Question = ViewQuestion(game, q)
		}
	}
	return snap, nil
}

// ViewQuestion hides whatever the session has not shown yet
func ViewQuestion(game *model.GameSession, q model.Question) *QuestionView {
	v := &QuestionView{Index: game.CurrentQuestionIndex, Prompt: q.Prompt}
	if game.ChoicesVisible {
		v.Choices = q.Choices
	}
	if game.AnswerRevealed {
		answer := q.AnswerIndex
		v.AnswerIndex = &answer
	}
	return v
}

// PlayerState returns the player's view of the session
func (m *Manager) PlayerState(ctx context.Context, gameID model.GameID, playerID model.PlayerID) (player.State, error) {
	game, err := m.storage.GetGame(ctx, gameID)
	if err != nil {
		return player.State{}, err
	}
	role, err := m.Role(ctx, game, playerID)
	if err != nil {
		return player.State{}, err
	}
	if role != model.RolePlayer {
		return player.State{}, model.ErrRoleMismatch
	}

	rt, err := m.ensure(ctx, gameID)
	if err != nil {
		return player.State{}, err
	}
	pc := m.playerController(rt, playerID)
	if err := pc.Sync(ctx); err != nil {
		return player.State{}, err
	}
	return pc.State(), nil
}

// LastScore returns the player's final score from their most recent finished game
func (m *Manager) LastScore(ctx context.Context, playerID model.PlayerID) (int, error) {
	v, err := m.storage.GetValue(ctx, storage.LastScoreKey(playerID))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// Running reports whether the session has live controllers in this process
func (m *Manager) Running(gameID model.GameID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runtimes[gameID]
	return ok
}

// CleanupFinished stops the runtimes of sessions that are over and have
// no members left, and returns how many it stopped
func (m *Manager) CleanupFinished(ctx context.Context) int {
	m.mu.Lock()
	ids := make([]model.GameID, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	stopped := 0
	for _, id := range ids {
		game, err := m.storage.GetGame(ctx, id)
		if err != nil && !errors.Is(err, model.ErrGameNotFound) {
			m.logger.Warn("cleanup read failed", slog.String("game_id", string(id)), slog.Any("error", err))
			continue
		}
		if game != nil {
			if game.IsActive() {
				continue
			}
			members, err := m.storage.GetMembers(ctx, id)
			if err != nil {
				m.logger.Warn("cleanup read failed", slog.String("game_id", string(id)), slog.Any("error", err))
				continue
			}
			if len(members) > 0 {
				continue
			}
		}
		m.stop(id)
		stopped++
	}
	if stopped > 0 {
		m.logger.Info("finished sessions released", slog.Int("stopped", stopped))
	}
	return stopped
}

// RunCleanup releases finished sessions every interval until ctx is done
func (m *Manager) RunCleanup(ctx context.Context, clk clock.Clock, interval time.Duration) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.CleanupFinished(ctx)
		}
	}
}

// Shutdown stops every controller and waits for their feed loops to exit
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, rt := range m.runtimes {
		m.closeRuntime(rt)
		delete(m.runtimes, id)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info("session manager stopped")
}

// ensure returns the live runtime for gameID, building it from storage
// when this process has none yet
func (m *Manager) ensure(ctx context.Context, gameID model.GameID) (*runtime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, model.ErrSessionNotRunning
	}
	if rt, ok := m.runtimes[gameID]; ok {
		return rt, nil
	}

	game, err := m.storage.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	members, err := m.storage.GetMembers(ctx, gameID)
	if err != nil {
		return nil, err
	}

	rtCtx, cancel := context.WithCancel(m.ctx)
	rt := &runtime{
		game:    gameID,
		ctx:     rtCtx,
		cancel:  cancel,
		players: make(map[model.PlayerID]*playerRuntime),
	}
	rt.host = host.NewController(game, m.storage, m.feed, m.clock, m.logger, m.handleGameEnd)
	m.runtimes[gameID] = rt

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := rt.host.Run(rtCtx, m.feed); err != nil {
			m.logger.Error("host feed loop failed", slog.String("game_id", string(gameID)), slog.Any("error", err))
		}
	}()
	rt.host.Resume()

	for _, member := range members {
		if !member.IsHost {
			m.startPlayer(rt, member.PlayerID)
		}
	}

	m.logger.Info("session runtime started",
		slog.String("game_id", string(gameID)),
		slog.String("phase", string(game.Phase)),
		slog.Int("players", len(rt.players)))
	return rt, nil
}

// playerController returns the player's controller, starting it if needed
func (m *Manager) playerController(rt *runtime, playerID model.PlayerID) *player.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startPlayer(rt, playerID)
}

// startPlayer runs a controller for playerID. Caller must hold m.mu.
func (m *Manager) startPlayer(rt *runtime, playerID model.PlayerID) *player.Controller {
	if pr, ok := rt.players[playerID]; ok {
		return pr.controller
	}

	pc := player.NewController(rt.game, playerID, m.storage, m.feed, m.questions, m.clock, m.logger)
	ctx, cancel := context.WithCancel(rt.ctx)
	rt.players[playerID] = &playerRuntime{controller: pc, cancel: cancel}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := pc.Run(ctx, m.feed); err != nil {
			m.logger.Error("player feed loop failed",
				slog.String("game_id", string(rt.game)),
				slog.String("player_id", string(playerID)),
				slog.Any("error", err))
		}
	}()
	return pc
}

func (m *Manager) stop(gameID model.GameID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.runtimes[gameID]; ok {
		m.closeRuntime(rt)
		delete(m.runtimes, gameID)
		m.logger.Info("session runtime stopped", slog.String("game_id", string(gameID)))
	}
}

// closeRuntime stops all of a session's controllers. Caller must hold m.mu.
func (m *Manager) closeRuntime(rt *runtime) {
	rt.cancel()
	rt.host.Close()
	for _, pr := range rt.players {
		pr.controller.Close()
	}
}

// handleGameEnd records the final standings. It runs under the host
// controller's lock, so it must not call back into the controller.
func (m *Manager) handleGameEnd(ctx context.Context, game *model.GameSession, winner model.PlayerID, standings []*model.PlayerProgress) {
	m.logger.Info("game ended",
		slog.String("game_id", string(game.ID)),
		slog.String("winner_id", string(winner)),
		slog.Int("players", len(standings)))

	m.recordScores(ctx, standings)
	if err := m.storage.SetValue(ctx, storage.LastWinnerKey(game.ID), string(winner)); err != nil {
		m.logger.Warn("store winner failed", slog.String("game_id", string(game.ID)), slog.Any("error", err))
	}

	if m.onEnd != nil {
		m.onEnd(ctx, game, winner)
	}
}

// recordScores stores each player's score as their last score
func (m *Manager) recordScores(ctx context.Context, standings []*model.PlayerProgress) {
	for _, p := range standings {
		if err := m.storage.SetValue(ctx, storage.LastScoreKey(p.PlayerID), strconv.Itoa(p.Score)); err != nil {
			m.logger.Warn("store last score failed", slog.String("player_id", string(p.PlayerID)), slog.Any("error", err))
		}
	}
}

func kindOf(mut model.Mutation) model.MutationKind {
	if mut == nil {
		return ""
	}
	return mut.Kind()
}
