package storage

import (
	"context"
	"sort"

	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// Storage defines the interface for data persistence.
// Implementations return copies; callers own the values they receive.
type Storage interface {
	// Player operations (user_profiles)
	SavePlayer(ctx context.Context, player *model.Player) error
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)
	DeletePlayer(ctx context.Context, id model.PlayerID) error

	// Game operations (games)
	CreateGame(ctx context.Context, game *model.GameSession) error
	GetGame(ctx context.Context, id model.GameID) (*model.GameSession, error)
	GetGameByCode(ctx context.Context, code model.GameCode) (*model.GameSession, error)
	GameCodeExists(ctx context.Context, code model.GameCode) (bool, error)
	// UpdateGame writes game if the stored version still equals game.Version,
	// then increments game.Version. Returns model.ErrVersionConflict otherwise.
	UpdateGame(ctx context.Context, game *model.GameSession) error
	DeleteGame(ctx context.Context, id model.GameID) error

	// Membership operations (game_players)
	AddMember(ctx context.Context, member *model.GameMember) error
	RemoveMember(ctx context.Context, gameID model.GameID, playerID model.PlayerID) error
	GetMembers(ctx context.Context, gameID model.GameID) ([]*model.GameMember, error)
	// GetMembership returns the player's current membership or model.ErrNotInGame
	GetMembership(ctx context.Context, playerID model.PlayerID) (*model.GameMember, error)

	// Progress operations (game_progress)
	// SaveProgress upserts a row. It refuses with model.ErrStaleProgress
	// when the stored row is already ahead of progress.
	SaveProgress(ctx context.Context, progress *model.PlayerProgress) error
	GetProgress(ctx context.Context, gameID model.GameID, playerID model.PlayerID) (*model.PlayerProgress, error)
	// ListProgress returns all progress rows for a game, highest score first
	ListProgress(ctx context.Context, gameID model.GameID) ([]*model.PlayerProgress, error)

	// Key-value operations (small cached values such as a player's last score)
	SetValue(ctx context.Context, key, value string) error
	GetValue(ctx context.Context, key string) (string, error)
}

// LastScoreKey is the key-value entry holding a player's most recent final score
func LastScoreKey(playerID model.PlayerID) string {
	return "last_score:" + string(playerID)
}

// LastWinnerKey is the key-value entry holding a game's declared winner
func LastWinnerKey(gameID model.GameID) string {
	return "last_winner:" + string(gameID)
}

// SortProgress orders rows by score, then answered count, then player ID
func SortProgress(rows []*model.PlayerProgress) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CurrentQuestionAnswered != b.CurrentQuestionAnswered {
			return a.CurrentQuestionAnswered > b.CurrentQuestionAnswered
		}
		return a.PlayerID < b.PlayerID
	})
}
