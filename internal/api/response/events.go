package response

import (
	"time"

	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/reconcile"
)

// Stream event types
const (
	EventChange     = "change"
	EventTransition = "transition"
)

// Change is a full-row snapshot on a live stream
type Change struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	GameID     string    `json:"game_id"`
	Game       *Game     `json:"game,omitempty"`
	Progress   *Progress `json:"progress,omitempty"`
	Member     *Member   `json:"member,omitempty"`
	At         time.Time `json:"at"`
}

// ChangeFromModel converts model.Change
func ChangeFromModel(c model.Change) Change {
	out := Change{
		Collection: string(c.Collection),
		Op:         string(c.Op),
		GameID:     string(c.GameID),
		At:         c.At,
	}
	if c.Game != nil {
		g := GameFromModel(c.Game)
		out.Game = &g
	}
	if c.Progress != nil {
		p := ProgressFromModel(c.Progress)
		out.Progress = &p
	}
	if c.Member != nil {
		m := MemberFromModel(c.Member)
		out.Member = &m
	}
	return out
}

// Transition is a logical step detected in the session
type Transition struct {
	Kind          string `json:"kind"`
	GameID        string `json:"game_id"`
	FromPhase     string `json:"from_phase,omitempty"`
	ToPhase       string `json:"to_phase,omitempty"`
	QuestionIndex int    `json:"question_index"`
	WinnerID      string `json:"winner_id,omitempty"`
}

// TransitionFromModel converts model.Transition
func TransitionFromModel(t model.Transition) Transition {
	return Transition{
		Kind:          string(t.Kind),
		GameID:        string(t.GameID),
		FromPhase:     string(t.FromPhase),
		ToPhase:       string(t.ToPhase),
		QuestionIndex: t.QuestionIndex,
		WinnerID:      string(t.WinnerID),
	}
}

// StreamEvent is one message on an SSE or WebSocket stream
type StreamEvent struct {
	Type       string      `json:"type"`
	Change     *Change     `json:"change,omitempty"`
	Transition *Transition `json:"transition,omitempty"`
}

// EventTracker turns a session's changes into stream events. Game
// snapshots also yield the transitions they imply; stale ones yield only
// the raw change. Not safe for concurrent use.
type EventTracker struct {
	view reconcile.View
}

// Events returns the stream events for one change
func (t *EventTracker) Events(c model.Change) []StreamEvent {
	change := ChangeFromModel(c)
	events := []StreamEvent{{Type: EventChange, Change: &change}}

	if c.Collection != model.CollectionGames || c.Game == nil {
		return events
	}
	var transitions []model.Transition
	t.view, transitions = reconcile.Reduce(t.view, c.Game)
	for _, tr := range transitions {
		out := TransitionFromModel(tr)
		events = append(events, StreamEvent{Type: EventTransition, Transition: &out})
	}
	return events
}
