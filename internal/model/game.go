package model

import "time"

// GameID uniquely identifies a game session
type GameID string

// GameCode is the short numeric code players use to join a game
type GameCode string

// Phase is the coarse stage of a game session
type Phase string

const (
	PhaseLobby  Phase = "lobby"  // Waiting for the host to start
	PhaseQuiz   Phase = "quiz"   // Questions are being played
	PhaseResult Phase = "result" // Final scoreboard
)

// Rank orders phases so they can only move forward
func (p Phase) Rank() int {
	switch p {
	case PhaseLobby:
		return 0
	case PhaseQuiz:
		return 1
	case PhaseResult:
		return 2
	default:
		return -1
	}
}

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	return p.Rank() >= 0
}

// CanAdvanceTo reports whether moving from p to next is a forward transition
func (p Phase) CanAdvanceTo(next Phase) bool {
	return next.Valid() && next.Rank() > p.Rank()
}

// ScoringMode selects how answers are scored and how the winner is decided
type ScoringMode string

const (
	// ScoringFlat awards one point per correct answer; first to TargetScore wins
	ScoringFlat ScoringMode = "flat"
	// ScoringTimed awards time-weighted points with a streak multiplier; top score at result wins
	ScoringTimed ScoringMode = "timed"
)

// Valid reports whether m is a known scoring mode
func (m ScoringMode) Valid() bool {
	return m == ScoringFlat || m == ScoringTimed
}

// GameConfig holds the pacing and scoring rules of a session
type GameConfig struct {
	QuestionCount    int
	ChoicesDelay     time.Duration // Pause before choices become visible
	QuestionDuration time.Duration // Answer window once choices are visible
	ScoringMode      ScoringMode
	TargetScore      int // 0 disables the threshold win
}

// DefaultGameConfig returns the flat-scoring configuration
func DefaultGameConfig() GameConfig {
	return GameConfig{
		QuestionCount:    10,
		ChoicesDelay:     2 * time.Second,
		QuestionDuration: 20 * time.Second,
		ScoringMode:      ScoringFlat,
		TargetScore:      10,
	}
}

// TimedGameConfig returns the time-weighted configuration
func TimedGameConfig() GameConfig {
	cfg := DefaultGameConfig()
	cfg.ScoringMode = ScoringTimed
	cfg.TargetScore = 0
	return cfg
}

// GameSession is the shared record every client observes (the games collection)
type GameSession struct {
	ID     GameID
	Code   GameCode
	HostID PlayerID
	Phase  Phase

	// Question flow
	CurrentQuestionIndex int
	AnswerRevealed       bool
	ChoicesVisible       bool
	QuestionStartTime    time.Time
	ChoicesVisibleAt     time.Time

	// End of game
	WinnerID PlayerID // Empty until declared, or on a tie
	Ended    bool     // True once the end-of-game callback has fired

	// Version increments on every write
	Version int64

	Config    GameConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive returns true until the session reaches the result phase
func (g *GameSession) IsActive() bool {
	return g.Phase != PhaseResult
}

// AcceptingAnswers returns true while the current question can be answered
func (g *GameSession) AcceptingAnswers() bool {
	return g.Phase == PhaseQuiz && g.ChoicesVisible && !g.AnswerRevealed
}

// TimeLeft returns the remaining answer window at now
func (g *GameSession) TimeLeft(now time.Time) time.Duration {
	if !g.ChoicesVisible {
		return g.Config.QuestionDuration
	}
	left := g.Config.QuestionDuration - now.Sub(g.ChoicesVisibleAt)
	if left < 0 {
		return 0
	}
	return left
}

// Clone returns a copy safe to mutate
func (g *GameSession) Clone() *GameSession {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}
