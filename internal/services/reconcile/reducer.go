// Package reconcile turns full session snapshots into the logical
// transitions they imply. Everything here is pure; no I/O.
package reconcile

import (
	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// View is the locally cached part of a session a client reacts to.
// The zero View is a lobby at question 0 with nothing revealed.
type View struct {
	GameID         model.GameID
	Phase          model.Phase
	QuestionIndex  int
	ChoicesVisible bool
	AnswerRevealed bool
	Ended          bool
	WinnerID       model.PlayerID
	Version        int64
}

// ViewOf builds the View a snapshot describes
func ViewOf(g *model.GameSession) View {
	return View{
		GameID:         g.ID,
		Phase:          g.Phase,
		QuestionIndex:  g.CurrentQuestionIndex,
		ChoicesVisible: g.ChoicesVisible,
		AnswerRevealed: g.AnswerRevealed,
		Ended:          g.Ended,
		WinnerID:       g.WinnerID,
		Version:        g.Version,
	}
}

func (v View) phase() model.Phase {
	if v.Phase == "" {
		return model.PhaseLobby
	}
	return v.Phase
}

// Stale reports whether snap is older than, or the same as, what v already holds
func (v View) Stale(snap *model.GameSession) bool {
	if snap == nil {
		return true
	}
	if v.GameID != "" && snap.ID != v.GameID {
		return true
	}
	if v.Version > 0 && snap.Version <= v.Version {
		return true
	}
	from := v.phase()
	if snap.Phase != from && !from.CanAdvanceTo(snap.Phase) {
		return true
	}
	return snap.Phase == from && snap.CurrentQuestionIndex < v.QuestionIndex
}

// Reduce applies snap to prev. Stale or duplicate snapshots return prev
// unchanged and no transitions. Several writes collapsed into one snapshot
// yield every transition they imply, in causal order.
func Reduce(prev View, snap *model.GameSession) (View, []model.Transition) {
	if prev.Stale(snap) {
		return prev, nil
	}

	next := ViewOf(snap)
	from := prev.phase()
	var out []model.Transition

	emit := func(t model.Transition) {
		t.GameID = snap.ID
		out = append(out, t)
	}

	if from == model.PhaseLobby && next.Phase == model.PhaseQuiz {
		emit(model.Transition{
			Kind:          model.TransitionPhaseChanged,
			FromPhase:     model.PhaseLobby,
			ToPhase:       model.PhaseQuiz,
			QuestionIndex: next.QuestionIndex,
		})
	}

	if next.Phase == model.PhaseQuiz {
		started := from != model.PhaseQuiz || next.QuestionIndex != prev.QuestionIndex
		if started {
			emit(model.Transition{Kind: model.TransitionQuestionStarted, QuestionIndex: next.QuestionIndex})
		}
		if next.ChoicesVisible && (started || !prev.ChoicesVisible) {
			emit(model.Transition{Kind: model.TransitionChoicesVisible, QuestionIndex: next.QuestionIndex})
		}
		if next.AnswerRevealed && (started || !prev.AnswerRevealed) {
			emit(model.Transition{Kind: model.TransitionAnswerRevealed, QuestionIndex: next.QuestionIndex})
		}
	}

	if next.Phase == model.PhaseResult && from != model.PhaseResult {
		emit(model.Transition{
			Kind:          model.TransitionPhaseChanged,
			FromPhase:     from,
			ToPhase:       model.PhaseResult,
			QuestionIndex: next.QuestionIndex,
		})
	}

	if next.Ended && !prev.Ended {
		emit(model.Transition{
			Kind:          model.TransitionWinnerDeclared,
			QuestionIndex: next.QuestionIndex,
			WinnerID:      next.WinnerID,
		})
	}

	return next, out
}
