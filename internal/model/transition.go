package model

// TransitionKind identifies a logical change detected between two snapshots
type TransitionKind string

const (
	TransitionPhaseChanged    TransitionKind = "phase_changed"
	TransitionQuestionStarted TransitionKind = "question_started"
	TransitionChoicesVisible  TransitionKind = "choices_visible"
	TransitionAnswerRevealed  TransitionKind = "answer_revealed"
	TransitionWinnerDeclared  TransitionKind = "winner_declared"
)

// Transition is emitted by the reconciler when a snapshot moves the session forward
type Transition struct {
	Kind          TransitionKind
	GameID        GameID
	FromPhase     Phase // phase_changed only
	ToPhase       Phase // phase_changed only
	QuestionIndex int
	WinnerID      PlayerID // winner_declared only
}
