package model

import "time"

// PlayerProgress tracks one player's answers in one session (the game_progress collection)
type PlayerProgress struct {
	GameID   GameID
	PlayerID PlayerID

	// CurrentQuestionAnswered counts questions this player has finished,
	// including ones that timed out without an answer
	CurrentQuestionAnswered int
	Score                   int
	Streak                  int // Consecutive correct answers
	Completed               bool

	UpdatedAt time.Time
}

// HasAnswered reports whether the question at index has been finished
func (p *PlayerProgress) HasAnswered(index int) bool {
	return p.CurrentQuestionAnswered > index
}

// Ahead reports whether p is further along than other: more questions
// finished, or the same number with a higher score
func (p *PlayerProgress) Ahead(other *PlayerProgress) bool {
	return p.CurrentQuestionAnswered > other.CurrentQuestionAnswered ||
		(p.CurrentQuestionAnswered == other.CurrentQuestionAnswered && p.Score > other.Score)
}

// Clone returns a copy safe to mutate
func (p *PlayerProgress) Clone() *PlayerProgress {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// GameMember records a player's membership in a session (the game_players collection)
type GameMember struct {
	GameID   GameID
	PlayerID PlayerID
	IsHost   bool
	JoinedAt time.Time
}
