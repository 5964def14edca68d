package response

import (
	"time"

	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/auth"
	"github.com/mcoot/cryptoquiz-go/internal/services/lobby"
	"github.com/mcoot/cryptoquiz-go/internal/services/player"
	"github.com/mcoot/cryptoquiz-go/internal/services/session"
)

// Player represents a player in API responses
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsGuest     bool   `json:"is_guest"`
}

// PlayerFromModel converts a model.Player to a response Player
func PlayerFromModel(p *model.Player) Player {
	return Player{
		ID:          string(p.ID),
		DisplayName: p.DisplayName,
		IsGuest:     p.IsGuest,
	}
}

// AuthResponse is the response for authentication endpoints
type AuthResponse struct {
	Player       Player    `json:"player"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *auth.Session) AuthResponse {
	return AuthResponse{
		Player:       PlayerFromModel(&s.Player),
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	}
}

// LastScore is a player's final score from their most recent game
type LastScore struct {
	Score int `json:"score"`
}

// GameConfig represents session pacing and scoring rules
type GameConfig struct {
	QuestionCount      int    `json:"question_count"`
	ChoicesDelayMS     int64  `json:"choices_delay_ms"`
	QuestionDurationMS int64  `json:"question_duration_ms"`
	ScoringMode        string `json:"scoring_mode"`
	TargetScore        int    `json:"target_score"`
}

// GameConfigFromModel converts model.GameConfig
func GameConfigFromModel(c model.GameConfig) GameConfig {
	return GameConfig{
		QuestionCount:      c.QuestionCount,
		ChoicesDelayMS:     c.ChoicesDelay.Milliseconds(),
		QuestionDurationMS: c.QuestionDuration.Milliseconds(),
		ScoringMode:        string(c.ScoringMode),
		TargetScore:        c.TargetScore,
	}
}

// Game represents the shared session record
type Game struct {
	ID                   string     `json:"id"`
	Code                 string     `json:"code"`
	HostID               string     `json:"host_id"`
	Phase                string     `json:"phase"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	AnswerRevealed       bool       `json:"answer_revealed"`
	ChoicesVisible       bool       `json:"choices_visible"`
	QuestionStartTime    *time.Time `json:"question_start_time,omitempty"`
	ChoicesVisibleAt     *time.Time `json:"choices_visible_at,omitempty"`
	WinnerID             string     `json:"winner_id,omitempty"`
	Ended                bool       `json:"ended"`
	Version              int64      `json:"version"`
	Config               GameConfig `json:"config"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// GameFromModel converts model.GameSession
func GameFromModel(g *model.GameSession) Game {
	return Game{
		ID:                   string(g.ID),
		Code:                 string(g.Code),
		HostID:               string(g.HostID),
		Phase:                string(g.Phase),
		CurrentQuestionIndex: g.CurrentQuestionIndex,
		AnswerRevealed:       g.AnswerRevealed,
		ChoicesVisible:       g.ChoicesVisible,
		QuestionStartTime:    optionalTime(g.QuestionStartTime),
		ChoicesVisibleAt:     optionalTime(g.ChoicesVisibleAt),
		WinnerID:             string(g.WinnerID),
		Ended:                g.Ended,
		Version:              g.Version,
		Config:               GameConfigFromModel(g.Config),
		CreatedAt:            g.CreatedAt,
		UpdatedAt:            g.UpdatedAt,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Member represents a session membership
type Member struct {
	PlayerID string    `json:"player_id"`
	IsHost   bool      `json:"is_host"`
	JoinedAt time.Time `json:"joined_at"`
}

// MemberFromModel converts model.GameMember
func MemberFromModel(m *model.GameMember) Member {
	return Member{
		PlayerID: string(m.PlayerID),
		IsHost:   m.IsHost,
		JoinedAt: m.JoinedAt,
	}
}

// Progress represents one player's standing
type Progress struct {
	PlayerID  string    `json:"player_id"`
	Answered  int       `json:"answered"`
	Score     int       `json:"score"`
	Streak    int       `json:"streak"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressFromModel converts model.PlayerProgress
func ProgressFromModel(p *model.PlayerProgress) Progress {
	return Progress{
		PlayerID:  string(p.PlayerID),
		Answered:  p.CurrentQuestionAnswered,
		Score:     p.Score,
		Streak:    p.Streak,
		Completed: p.Completed,
		UpdatedAt: p.UpdatedAt,
	}
}

// Question is the current question as players may see it
type Question struct {
	Index       int      `json:"index"`
	Prompt      string   `json:"prompt"`
	Choices     []string `json:"choices,omitempty"`
	AnswerIndex *int     `json:"answer_index,omitempty"`
}

// Snapshot is the full shared state of a session
type Snapshot struct {
	Game        Game       `json:"game"`
	Members     []Member   `json:"members"`
	Leaderboard []Progress `json:"leaderboard"`
	Question    *Question  `json:"question,omitempty"`
}

// SnapshotFromSession converts session.Snapshot
func SnapshotFromSession(s *session.Snapshot) Snapshot {
	members := make([]Member, len(s.Members))
	for i, m := range s.Members {
		members[i] = MemberFromModel(m)
	}
	board := make([]Progress, len(s.Leaderboard))
	for i, p := range s.Leaderboard {
		board[i] = ProgressFromModel(p)
	}

	var q *Question
	if s.Question != nil {
		q = &Question{
			Index:       s.Question.Index,
			Prompt:      s.Question.Prompt,
			Choices:     s.Question.Choices,
			AnswerIndex: s.Question.AnswerIndex,
		}
	}

	return Snapshot{
		Game:        GameFromModel(s.Game),
		Members:     members,
		Leaderboard: board,
		Question:    q,
	}
}

// PlayerState is a player's private view of the session
type PlayerState struct {
	GameID         string `json:"game_id"`
	PlayerID       string `json:"player_id"`
	Phase          string `json:"phase"`
	QuestionIndex  int    `json:"question_index"`
	ChoicesVisible bool   `json:"choices_visible"`
	AnswerRevealed bool   `json:"answer_revealed"`
	TimeLeftMS     int64  `json:"time_left_ms"`
	HasAnswered    bool   `json:"has_answered"`
	Selected       *int   `json:"selected,omitempty"`
	Correct        *bool  `json:"correct,omitempty"`
	Score          int    `json:"score"`
	Streak         int    `json:"streak"`
	Answered       int    `json:"answered"`
	Ended          bool   `json:"ended"`
	WinnerID       string `json:"winner_id,omitempty"`
}

// PlayerStateFromModel converts player.State
func PlayerStateFromModel(s player.State) PlayerState {
	out := PlayerState{
		GameID:         string(s.GameID),
		PlayerID:       string(s.PlayerID),
		Phase:          string(s.Phase),
		QuestionIndex:  s.QuestionIndex,
		ChoicesVisible: s.ChoicesVisible,
		AnswerRevealed: s.AnswerRevealed,
		TimeLeftMS:     s.TimeLeft.Milliseconds(),
		HasAnswered:    s.HasAnswered,
		Score:          s.Score,
		Streak:         s.Streak,
		Answered:       s.Answered,
		Ended:          s.Ended,
		WinnerID:       string(s.WinnerID),
	}
	if s.AnswerRevealed && s.HasAnswered {
		selected, correct := s.Selected, s.Correct
		out.Selected = &selected
		out.Correct = &correct
	}
	return out
}

// MutationResult is the response after applying a mutation
type MutationResult struct {
	Accepted      bool `json:"accepted"`
	QuestionIndex int  `json:"question_index"`
}

// MutationResultFromSession converts session.Result
func MutationResultFromSession(r session.Result) MutationResult {
	return MutationResult{Accepted: r.Accepted, QuestionIndex: r.QuestionIndex}
}

// LeaveResult is the response after leaving a session
type LeaveResult struct {
	GameID  string `json:"game_id"`
	Retired bool   `json:"retired"`
}

// LeaveResultFromLobby converts lobby.LeaveResult
func LeaveResultFromLobby(r *lobby.LeaveResult) LeaveResult {
	return LeaveResult{GameID: string(r.GameID), Retired: r.Retired}
}
