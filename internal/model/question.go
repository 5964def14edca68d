package model

// NoAnswer is the choice recorded when the answer window closes unanswered
const NoAnswer = -1

// Question is a single multiple-choice question
type Question struct {
	Prompt      string
	Choices     []string
	AnswerIndex int
}

// IsCorrect reports whether choice is the right answer
func (q Question) IsCorrect(choice int) bool {
	return choice != NoAnswer && choice == q.AnswerIndex
}

// ValidChoice reports whether choice indexes one of the options
func (q Question) ValidChoice(choice int) bool {
	return choice >= 0 && choice < len(q.Choices)
}
