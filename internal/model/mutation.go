package model

// Role identifies who is allowed to perform a mutation
type Role string

const (
	RoleHost   Role = "host"
	RolePlayer Role = "player"
)

// MutationKind names a mutation on the wire
type MutationKind string

const (
	MutationStartGame    MutationKind = "start"
	MutationShowChoices  MutationKind = "show_choices"
	MutationRevealAnswer MutationKind = "reveal"
	MutationNextQuestion MutationKind = "next"
	MutationSubmitAnswer MutationKind = "answer"
)

// Mutation is one of the allowed writes to a session.
// Host mutations change the shared game record; player mutations change
// only the caller's own progress record.
type Mutation interface {
	Kind() MutationKind
	Role() Role
}

// StartGame moves the session from lobby to quiz
type StartGame struct{}

// ShowChoices makes the current question's choices visible before the delay elapses
type ShowChoices struct{}

// RevealAnswer ends the answer window for the current question
type RevealAnswer struct{}

// NextQuestion advances to the next question, or to the result phase after the last one
type NextQuestion struct{}

// SubmitAnswer records the caller's answer for the current question
type SubmitAnswer struct {
	Choice int
}

func (StartGame) Kind() MutationKind    { return MutationStartGame }
func (ShowChoices) Kind() MutationKind  { return MutationShowChoices }
func (RevealAnswer) Kind() MutationKind { return MutationRevealAnswer }
func (NextQuestion) Kind() MutationKind { return MutationNextQuestion }
func (SubmitAnswer) Kind() MutationKind { return MutationSubmitAnswer }

func (StartGame) Role() Role    { return RoleHost }
func (ShowChoices) Role() Role  { return RoleHost }
func (RevealAnswer) Role() Role { return RoleHost }
func (NextQuestion) Role() Role { return RoleHost }
func (SubmitAnswer) Role() Role { return RolePlayer }

// ParseMutation builds a mutation from its wire kind.
// choice is only used by answer submissions.
func ParseMutation(kind MutationKind, choice int) (Mutation, error) {
	switch kind {
	case MutationStartGame:
		return StartGame{}, nil
	case MutationShowChoices:
		return ShowChoices{}, nil
	case MutationRevealAnswer:
		return RevealAnswer{}, nil
	case MutationNextQuestion:
		return NextQuestion{}, nil
	case MutationSubmitAnswer:
		return SubmitAnswer{Choice: choice}, nil
	default:
		return nil, ErrUnknownMutation
	}
}

// Authorize checks that a caller holding role may perform m
func Authorize(role Role, m Mutation) error {
	if m == nil {
		return ErrUnknownMutation
	}
	if m.Role() != role {
		return ErrRoleMismatch
	}
	return nil
}
