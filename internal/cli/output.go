package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcoot/cryptoquiz-go/internal/api/response"
	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter writing to stdout
func NewOutput(format string) *Output {
	return &Output{format: format, w: os.Stdout}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(os.Stderr, string(data))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

// PrintEvent outputs one stream event. JSON output is one line per event.
func (o *Output) PrintEvent(at time.Time, ev response.StreamEvent) {
	if o.format == "json" {
		data, _ := json.Marshal(ev)
		fmt.Fprintln(o.w, string(data))
		return
	}
	fmt.Fprintf(o.w, "[%s] %s\n", at.Format("15:04:05"), describeEvent(ev))
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.Player:
		o.printPlayer(v)
	case response.AuthResponse:
		o.printAuthResult(v)
	case response.Game:
		o.printGame(v)
	case response.Snapshot:
		o.printSnapshot(v)
	case response.PlayerState:
		o.printPlayerState(v)
	case response.MutationResult:
		o.printMutationResult(v)
	case response.LeaveResult:
		o.printLeaveResult(v)
	case response.LastScore:
		fmt.Fprintf(o.w, "Last score: %d\n", v.Score)
	case HealthResult:
		fmt.Fprintf(o.w, "Status: %s\n", v.Status)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// HealthResult response type
type HealthResult struct {
	Status string `json:"status"`
}

func (o *Output) printPlayer(p response.Player) {
	guestStr := "no"
	if p.IsGuest {
		guestStr = "yes"
	}
	fmt.Fprintf(o.w, "Player: %s (%s)\n", p.DisplayName, p.ID)
	fmt.Fprintf(o.w, "Guest: %s\n", guestStr)
}

func (o *Output) printAuthResult(a response.AuthResponse) {
	o.printPlayer(a.Player)
	fmt.Fprintf(o.w, "Token: %s\n", a.SessionToken)
}

func (o *Output) printGame(g response.Game) {
	fmt.Fprintf(o.w, "Game: %s (code %s)\n", g.ID, g.Code)
	fmt.Fprintf(o.w, "Phase: %s\n", g.Phase)
	fmt.Fprintf(o.w, "Scoring: %s", g.Config.ScoringMode)
	if g.Config.TargetScore > 0 {
		fmt.Fprintf(o.w, " (first to %d)", g.Config.TargetScore)
	}
	fmt.Fprintln(o.w)
	if g.Phase == string(model.PhaseQuiz) {
		fmt.Fprintf(o.w, "Question: %d of %d\n", g.CurrentQuestionIndex+1, g.Config.QuestionCount)
	}
	if g.WinnerID != "" {
		fmt.Fprintf(o.w, "Winner: %s\n", g.WinnerID)
	}
}

func (o *Output) printSnapshot(s response.Snapshot) {
	o.printGame(s.Game)

	if q := s.Question; q != nil {
		fmt.Fprintf(o.w, "\n%s\n", q.Prompt)
		if len(q.Choices) == 0 {
			fmt.Fprintln(o.w, "  (choices hidden)")
		}
		for i, c := range q.Choices {
			marker := " "
			if q.AnswerIndex != nil && *q.AnswerIndex == i {
				marker = "*"
			}
			fmt.Fprintf(o.w, " %s %d) %s\n", marker, i, c)
		}
	}

	fmt.Fprintf(o.w, "\nMembers (%d):\n", len(s.Members))
	for _, m := range s.Members {
		hostStr := ""
		if m.IsHost {
			hostStr = " [host]"
		}
		fmt.Fprintf(o.w, "  - %s%s\n", m.PlayerID, hostStr)
	}

	if len(s.Leaderboard) > 0 {
		fmt.Fprintln(o.w, "\nLeaderboard:")
		for i, p := range s.Leaderboard {
			fmt.Fprintf(o.w, "  %d. %s: %d points (%d answered)\n", i+1, p.PlayerID, p.Score, p.Answered)
		}
	}
}

func (o *Output) printPlayerState(s response.PlayerState) {
	fmt.Fprintf(o.w, "Phase: %s\n", s.Phase)
	if s.Phase == string(model.PhaseQuiz) {
		fmt.Fprintf(o.w, "Question: %d\n", s.QuestionIndex+1)
		switch {
		case s.AnswerRevealed:
			fmt.Fprintln(o.w, "Answer revealed")
		case s.ChoicesVisible:
			fmt.Fprintf(o.w, "Time left: %s\n", (time.Duration(s.TimeLeftMS) * time.Millisecond).Round(time.Second))
		default:
			fmt.Fprintln(o.w, "Waiting for choices")
		}
		answered := "no"
		if s.HasAnswered {
			answered = "yes"
		}
		fmt.Fprintf(o.w, "Answered: %s\n", answered)
		if s.Correct != nil {
			result := "wrong"
			if *s.Correct {
				result = "correct"
			}
			fmt.Fprintf(o.w, "Your answer: %d (%s)\n", *s.Selected, result)
		}
	}
	fmt.Fprintf(o.w, "Score: %d (streak %d)\n", s.Score, s.Streak)
	if s.WinnerID != "" {
		fmt.Fprintf(o.w, "Winner: %s\n", s.WinnerID)
	}
}

func (o *Output) printMutationResult(r response.MutationResult) {
	if r.Accepted {
		fmt.Fprintf(o.w, "Accepted (question %d)\n", r.QuestionIndex+1)
	} else {
		fmt.Fprintf(o.w, "Ignored (question %d)\n", r.QuestionIndex+1)
	}
}

func (o *Output) printLeaveResult(r response.LeaveResult) {
	fmt.Fprintf(o.w, "Left game %s\n", r.GameID)
	if r.Retired {
		fmt.Fprintln(o.w, "Game retired")
	}
}

func describeEvent(ev response.StreamEvent) string {
	if t := ev.Transition; t != nil {
		switch model.TransitionKind(t.Kind) {
		case model.TransitionPhaseChanged:
			return fmt.Sprintf("phase %s -> %s", t.FromPhase, t.ToPhase)
		case model.TransitionQuestionStarted:
			return fmt.Sprintf("question %d started", t.QuestionIndex+1)
		case model.TransitionChoicesVisible:
			return fmt.Sprintf("question %d choices visible", t.QuestionIndex+1)
		case model.TransitionAnswerRevealed:
			return fmt.Sprintf("question %d answer revealed", t.QuestionIndex+1)
		case model.TransitionWinnerDeclared:
			if t.WinnerID == "" {
				return "game ended in a tie"
			}
			return "winner: " + t.WinnerID
		}
		return t.Kind
	}
	if c := ev.Change; c != nil {
		parts := []string{c.Collection, c.Op}
		switch {
		case c.Progress != nil:
			parts = append(parts, fmt.Sprintf("%s score=%d answered=%d", c.Progress.PlayerID, c.Progress.Score, c.Progress.Answered))
		case c.Member != nil:
			parts = append(parts, c.Member.PlayerID)
		case c.Game != nil:
			parts = append(parts, fmt.Sprintf("v%d", c.Game.Version))
		}
		return strings.Join(parts, " ")
	}
	return ev.Type
}
