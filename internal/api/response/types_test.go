package response

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/player"
	"github.com/mcoot/cryptoquiz-go/internal/services/session"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPlayerStateHidesSelectionUntilReveal(t *testing.T) {
	st := player.State{
		GameID:         "game-1",
		PlayerID:       "p-a",
		Phase:          model.PhaseQuiz,
		ChoicesVisible: true,
		TimeLeft:       1500 * time.Millisecond,
		HasAnswered:    true,
		Selected:       2,
		Correct:        true,
	}

	out := PlayerStateFromModel(st)
	assert.Nil(t, out.Selected)
	assert.Nil(t, out.Correct)
	assert.Equal(t, int64(1500), out.TimeLeftMS)
	assert.True(t, out.HasAnswered)

	st.AnswerRevealed = true
	out = PlayerStateFromModel(st)
	require.NotNil(t, out.Selected)
	require.NotNil(t, out.Correct)
	assert.Equal(t, 2, *out.Selected)
	assert.True(t, *out.Correct)
}

func TestPlayerStateNoAnswerAfterReveal(t *testing.T) {
	out := PlayerStateFromModel(player.State{Phase: model.PhaseQuiz, AnswerRevealed: true})
	assert.Nil(t, out.Selected)
	assert.Nil(t, out.Correct)
}

func TestGameFromModelOmitsZeroTimes(t *testing.T) {
	g := &model.GameSession{
		ID:        "game-1",
		Code:      "424242",
		HostID:    "p-host",
		Phase:     model.PhaseLobby,
		Version:   3,
		Config:    model.GameConfig{QuestionCount: 5, ChoicesDelay: 2 * time.Second, QuestionDuration: 10 * time.Second, ScoringMode: model.ScoringTimed},
		CreatedAt: t0,
		UpdatedAt: t0,
	}

	out := GameFromModel(g)
	assert.Nil(t, out.QuestionStartTime)
	assert.Nil(t, out.ChoicesVisibleAt)
	assert.Equal(t, "lobby", out.Phase)
	assert.Equal(t, int64(2000), out.Config.ChoicesDelayMS)
	assert.Equal(t, int64(10000), out.Config.QuestionDurationMS)
	assert.Equal(t, "timed", out.Config.ScoringMode)

	g.QuestionStartTime = t0.Add(time.Second)
	out = GameFromModel(g)
	require.NotNil(t, out.QuestionStartTime)
	assert.Equal(t, t0.Add(time.Second), *out.QuestionStartTime)
}

func TestSnapshotFromSession(t *testing.T) {
	answer := 1
	snap := &session.Snapshot{
		Game: &model.GameSession{ID: "game-1", Phase: model.PhaseQuiz, AnswerRevealed: true},
		Members: []*model.GameMember{
			{GameID: "game-1", PlayerID: "p-host", IsHost: true, JoinedAt: t0},
			{GameID: "game-1", PlayerID: "p-a", JoinedAt: t0},
		},
		Leaderboard: []*model.PlayerProgress{
			{GameID: "game-1", PlayerID: "p-a", CurrentQuestionAnswered: 1, Score: 1},
		},
		Question: &session.QuestionView{Index: 0, Prompt: "What is a nonce?", Choices: []string{"a", "b"}, AnswerIndex: &answer},
	}

	out := SnapshotFromSession(snap)
	assert.Equal(t, "game-1", out.Game.ID)
	require.Len(t, out.Members, 2)
	assert.True(t, out.Members[0].IsHost)
	require.Len(t, out.Leaderboard, 1)
	assert.Equal(t, 1, out.Leaderboard[0].Answered)
	require.NotNil(t, out.Question)
	assert.Equal(t, []string{"a", "b"}, out.Question.Choices)
	assert.Equal(t, &answer, out.Question.AnswerIndex)
}

func TestEventTrackerGameTransitions(t *testing.T) {
	var tracker EventTracker

	lobby := &model.GameSession{ID: "game-1", Phase: model.PhaseLobby, Version: 1}
	events := tracker.Events(model.GameChange(model.OpInsert, lobby, t0))
	require.Len(t, events, 1)
	assert.Equal(t, EventChange, events[0].Type)
	require.NotNil(t, events[0].Change.Game)

	quiz := &model.GameSession{ID: "game-1", Phase: model.PhaseQuiz, Version: 2, QuestionStartTime: t0}
	events = tracker.Events(model.GameChange(model.OpUpdate, quiz, t0))
	require.Len(t, events, 3)
	assert.Equal(t, EventChange, events[0].Type)
	assert.Equal(t, EventTransition, events[1].Type)
	assert.Equal(t, "phase_changed", events[1].Transition.Kind)
	assert.Equal(t, "lobby", events[1].Transition.FromPhase)
	assert.Equal(t, "quiz", events[1].Transition.ToPhase)
	assert.Equal(t, "question_started", events[2].Transition.Kind)

	// Replaying the same snapshot only relays the row
	events = tracker.Events(model.GameChange(model.OpUpdate, quiz, t0))
	require.Len(t, events, 1)
	assert.Equal(t, EventChange, events[0].Type)
}

func TestEventTrackerNonGameChanges(t *testing.T) {
	var tracker EventTracker

	p := &model.PlayerProgress{GameID: "game-1", PlayerID: "p-a", CurrentQuestionAnswered: 1, Score: 1}
	events := tracker.Events(model.ProgressChange(model.OpUpdate, p, t0))
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Change.Progress)
	assert.Equal(t, "game_progress", events[0].Change.Collection)
	assert.Equal(t, 1, events[0].Change.Progress.Score)

	m := &model.GameMember{GameID: "game-1", PlayerID: "p-a", JoinedAt: t0}
	events = tracker.Events(model.MemberChange(model.OpDelete, m, t0))
	require.Len(t, events, 1)
	assert.Equal(t, "delete", events[0].Change.Op)
	require.NotNil(t, events[0].Change.Member)
}
