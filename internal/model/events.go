package model

import "time"

// Collection names a set of shared records that can be observed
type Collection string

const (
	CollectionGames    Collection = "games"
	CollectionPlayers  Collection = "game_players"
	CollectionProgress Collection = "game_progress"
)

// ChangeOp identifies the kind of write behind a change
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change is a full-row snapshot delivered on the change feed.
// Exactly one of Game, Progress or Member is set, matching Collection.
type Change struct {
	Collection Collection
	Op         ChangeOp
	GameID     GameID
	Game       *GameSession    `json:",omitempty"`
	Progress   *PlayerProgress `json:",omitempty"`
	Member     *GameMember     `json:",omitempty"`
	At         time.Time
}

// GameChange wraps a session snapshot
func GameChange(op ChangeOp, g *GameSession, at time.Time) Change {
	return Change{Collection: CollectionGames, Op: op, GameID: g.ID, Game: g.Clone(), At: at}
}

// ProgressChange wraps a progress snapshot
func ProgressChange(op ChangeOp, p *PlayerProgress, at time.Time) Change {
	return Change{Collection: CollectionProgress, Op: op, GameID: p.GameID, Progress: p.Clone(), At: at}
}

// MemberChange wraps a membership snapshot
func MemberChange(op ChangeOp, m *GameMember, at time.Time) Change {
	member := *m
	return Change{Collection: CollectionPlayers, Op: op, GameID: m.GameID, Member: &member, At: at}
}
