package lobby

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mcoot/cryptoquiz-go/internal/dependencies/clock"
	"github.com/mcoot/cryptoquiz-go/internal/dependencies/random"
	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
)

const (
	// GameCodeLength is the length of generated game codes
	GameCodeLength = 6
	// maxCodeAttempts bounds retries when a generated code is taken
	maxCodeAttempts = 5
	// maxRetireAttempts bounds compare-and-swap retries when retiring a session
	maxRetireAttempts = 3
)

// Controller manages session creation and membership
type Controller struct {
	storage   storage.Storage
	publisher feed.Publisher
	clock     clock.Clock
	random    random.Random
	logger    *slog.Logger
}

// NewController creates a new lobby Controller
func NewController(
	storage storage.Storage,
	publisher feed.Publisher,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		storage:   storage,
		publisher: publisher,
		clock:     clock,
		random:    random,
		logger:    logger.With(slog.String("component", "lobby")),
	}
}

// CreateGame opens a new session in the lobby phase with host as its host
func (c *Controller) CreateGame(ctx context.Context, host model.Player, cfg model.GameConfig) (*model.GameSession, error) {
	if err := c.ensureNotInGame(ctx, host.ID); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	game := &model.GameSession{
		ID:        model.GameID(uuid.NewString()),
		HostID:    host.ID,
		Phase:     model.PhaseLobby,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created := false
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		game.Code = model.GameCode(c.random.String(GameCodeLength, random.Digits))
		exists, err := c.storage.GameCodeExists(ctx, game.Code)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		err = c.storage.CreateGame(ctx, game)
		if errors.Is(err, model.ErrGameCodeTaken) {
			continue
		}
		if err != nil {
			return nil, err
		}
		created = true
		break
	}
	if !created {
		c.logger.Warn("game code generation exhausted", slog.String("player_id", string(host.ID)))
		return nil, model.ErrCodeGenerationFailed
	}

	member := &model.GameMember{GameID: game.ID, PlayerID: host.ID, IsHost: true, JoinedAt: now}
	if err := c.storage.AddMember(ctx, member); err != nil {
		// Lost a race with another create or join for the same host
		_ = c.storage.DeleteGame(ctx, game.ID)
		return nil, err
	}

	c.publish(ctx, model.GameChange(model.OpInsert, game, now))
	c.publish(ctx, model.MemberChange(model.OpInsert, member, now))

	c.logger.Info("game created",
		slog.String("game_id", string(game.ID)),
		slog.String("code", string(game.Code)),
		slog.String("player_id", string(host.ID)),
		slog.String("scoring_mode", string(cfg.ScoringMode)))
	return game, nil
}

// JoinGame adds player to the lobby-phase game with the given code
func (c *Controller) JoinGame(ctx context.Context, code model.GameCode, player model.Player) (*model.GameSession, error) {
	game, err := c.storage.GetGameByCode(ctx, code)
	if err != nil {
		if errors.Is(err, model.ErrGameNotFound) {
			return nil, model.ErrGameUnavailable
		}
		return nil, err
	}
	if game.Phase != model.PhaseLobby {
		return nil, model.ErrGameUnavailable
	}

	if err := c.ensureNotInGame(ctx, player.ID); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	member := &model.GameMember{GameID: game.ID, PlayerID: player.ID, JoinedAt: now}
	if err := c.storage.AddMember(ctx, member); err != nil {
		return nil, err
	}

	progress := &model.PlayerProgress{GameID: game.ID, PlayerID: player.ID, UpdatedAt: now}
	if err := c.storage.SaveProgress(ctx, progress); err != nil {
		return nil, err
	}

	c.publish(ctx, model.MemberChange(model.OpInsert, member, now))
	c.publish(ctx, model.ProgressChange(model.OpInsert, progress, now))

	c.logger.Info("player joined game",
		slog.String("game_id", string(game.ID)),
		slog.String("player_id", string(player.ID)))
	return game, nil
}

// LeaveResult describes what a leave did to the session
type LeaveResult struct {
	GameID  model.GameID
	Retired bool
	// Closed is set once the session is over and nobody is left in it
	Closed bool
}

// LeaveGame removes the player's membership. The session is retired when
// the host leaves, or when the last player leaves a started game.
func (c *Controller) LeaveGame(ctx context.Context, playerID model.PlayerID) (*LeaveResult, error) {
	member, err := c.storage.GetMembership(ctx, playerID)
	if err != nil {
		return nil, err
	}

	if err := c.storage.RemoveMember(ctx, member.GameID, playerID); err != nil {
		return nil, err
	}
	now := c.clock.Now()
	c.publish(ctx, model.MemberChange(model.OpDelete, member, now))

	result := &LeaveResult{GameID: member.GameID}

	game, err := c.storage.GetGame(ctx, member.GameID)
	if errors.Is(err, model.ErrGameNotFound) {
		result.Closed = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	c.logger.Info("player left game",
		slog.String("game_id", string(game.ID)),
		slog.String("player_id", string(playerID)),
		slog.Bool("was_host", member.IsHost))

	if !game.IsActive() {
		remaining, err := c.storage.GetMembers(ctx, game.ID)
		if err != nil {
			return nil, err
		}
		result.Closed = len(remaining) == 0
		return result, nil
	}

	retire := member.IsHost
	if !retire && game.Phase != model.PhaseLobby {
		remaining, err := c.storage.GetMembers(ctx, game.ID)
		if err != nil {
			return nil, err
		}
		retire = !hasPlayers(remaining)
	}

	if retire {
		if err := c.Retire(ctx, game.ID); err != nil {
			return nil, err
		}
		result.Retired = true
		result.Closed = true
	}
	return result, nil
}

// Retire ends an active session without a winner: the phase is forced to
// result and every remaining membership is released. Progress is kept for
// the final scoreboard.
func (c *Controller) Retire(ctx context.Context, gameID model.GameID) error {
	var game *model.GameSession
	for attempt := 0; ; attempt++ {
		var err error
		game, err = c.storage.GetGame(ctx, gameID)
		if err != nil {
			return err
		}
		if !game.IsActive() {
			break
		}

		game.Phase = model.PhaseResult
		game.Ended = true
		game.UpdatedAt = c.clock.Now()
		err = c.storage.UpdateGame(ctx, game)
		if err == nil {
			c.publish(ctx, model.GameChange(model.OpUpdate, game, game.UpdatedAt))
			break
		}
		if !errors.Is(err, model.ErrVersionConflict) || attempt+1 >= maxRetireAttempts {
			return err
		}
	}

	members, err := c.storage.GetMembers(ctx, gameID)
	if err != nil {
		return err
	}
	now := c.clock.Now()
	for _, m := range members {
		if err := c.storage.RemoveMember(ctx, gameID, m.PlayerID); err != nil {
			return err
		}
		c.publish(ctx, model.MemberChange(model.OpDelete, m, now))
	}

	c.logger.Info("game retired",
		slog.String("game_id", string(gameID)),
		slog.Int("released_members", len(members)))
	return nil
}

// CurrentGame returns the session the player currently belongs to
func (c *Controller) CurrentGame(ctx context.Context, playerID model.PlayerID) (*model.GameSession, error) {
	member, err := c.storage.GetMembership(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return c.storage.GetGame(ctx, member.GameID)
}

// GetGame retrieves a session by id
func (c *Controller) GetGame(ctx context.Context, gameID model.GameID) (*model.GameSession, error) {
	return c.storage.GetGame(ctx, gameID)
}

// Members lists the session's members in join order
func (c *Controller) Members(ctx context.Context, gameID model.GameID) ([]*model.GameMember, error) {
	return c.storage.GetMembers(ctx, gameID)
}

// ensureNotInGame rejects players who still belong to an active session.
// A membership left over from a finished session is released.
func (c *Controller) ensureNotInGame(ctx context.Context, playerID model.PlayerID) error {
	member, err := c.storage.GetMembership(ctx, playerID)
	if errors.Is(err, model.ErrNotInGame) {
		return nil
	}
	if err != nil {
		return err
	}

	game, err := c.storage.GetGame(ctx, member.GameID)
	if err != nil && !errors.Is(err, model.ErrGameNotFound) {
		return err
	}
	if game != nil && game.IsActive() {
		return model.ErrAlreadyInGame
	}
	return c.storage.RemoveMember(ctx, member.GameID, playerID)
}

func (c *Controller) publish(ctx context.Context, change model.Change) {
	if err := c.publisher.Publish(ctx, change); err != nil {
		c.logger.Warn("publish change failed",
			slog.String("game_id", string(change.GameID)),
			slog.String("collection", string(change.Collection)),
			slog.Any("error", err))
	}
}

func hasPlayers(members []*model.GameMember) bool {
	for _, m := range members {
		if !m.IsHost {
			return true
		}
	}
	return false
}
