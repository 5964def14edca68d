package redis

import (
	"fmt"

	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// Key prefix for all quiz data
const keyPrefix = "cqz"

// playerKey returns the Redis key for a Player
func playerKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:player:%s", keyPrefix, id)
}

// gameKey returns the Redis key for a GameSession
func gameKey(id model.GameID) string {
	return fmt.Sprintf("%s:game:%s", keyPrefix, id)
}

// gameCodeIndexKey returns the Redis key for the code -> game_id index
func gameCodeIndexKey(code model.GameCode) string {
	return fmt.Sprintf("%s:idx:game_code:%s", keyPrefix, code)
}

// memberKey returns the Redis key for a player's membership
func memberKey(playerID model.PlayerID) string {
	return fmt.Sprintf("%s:member:%s", keyPrefix, playerID)
}

// membersForGameIndexKey returns the Redis key for the SET of member player IDs of a game
func membersForGameIndexKey(gameID model.GameID) string {
	return fmt.Sprintf("%s:idx:members_for_game:%s", keyPrefix, gameID)
}

// progressKey returns the Redis key for a PlayerProgress
func progressKey(gameID model.GameID, playerID model.PlayerID) string {
	return fmt.Sprintf("%s:progress:%s:%s", keyPrefix, gameID, playerID)
}

// progressForGameIndexKey returns the Redis key for the SET of progress keys of a game
func progressForGameIndexKey(gameID model.GameID) string {
	return fmt.Sprintf("%s:idx:progress_for_game:%s", keyPrefix, gameID)
}

// valueKey returns the Redis key for a key-value entry
func valueKey(key string) string {
	return fmt.Sprintf("%s:kv:%s", keyPrefix, key)
}
