package scoring

import (
	"math"
	"time"

	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// Input describes one finished question from a player's point of view
type Input struct {
	Correct  bool
	TimeLeft time.Duration // Remaining answer window when the answer landed
	Window   time.Duration // Full answer window
	Streak   int           // Consecutive correct answers before this one
}

// Result is the score change and the player's new streak
type Result struct {
	Delta  int
	Streak int
}

// Scorer turns an answer into points
type Scorer interface {
	Score(in Input) Result
}

// Flat awards one point per correct answer
type Flat struct{}

func (Flat) Score(in Input) Result {
	if !in.Correct {
		return Result{}
	}
	return Result{Delta: 1, Streak: in.Streak + 1}
}

// TimeWeighted rewards fast answers and streaks of correct answers
type TimeWeighted struct {
	Base          int
	TimeBonus     float64
	StreakStep    float64
	MaxMultiplier float64
}

// DefaultTimeWeighted returns the standard timed scorer
func DefaultTimeWeighted() TimeWeighted {
	return TimeWeighted{
		Base:          100,
		TimeBonus:     100,
		StreakStep:    0.1,
		MaxMultiplier: 2.0,
	}
}

// Multiplier returns the streak multiplier applied to the time bonus
func (t TimeWeighted) Multiplier(streak int) float64 {
	return math.Min(1+t.StreakStep*float64(streak), t.MaxMultiplier)
}

func (t TimeWeighted) Score(in Input) Result {
	if !in.Correct {
		return Result{}
	}

	fraction := 0.0
	if in.Window > 0 {
		fraction = float64(in.TimeLeft) / float64(in.Window)
	}
	fraction = math.Max(0, math.Min(fraction, 1))

	bonus := math.Round(fraction * t.TimeBonus * t.Multiplier(in.Streak))
	return Result{
		Delta:  int(bonus) + t.Base,
		Streak: in.Streak + 1,
	}
}

// ForMode returns the scorer for a game's scoring mode
func ForMode(mode model.ScoringMode) Scorer {
	if mode == model.ScoringTimed {
		return DefaultTimeWeighted()
	}
	return Flat{}
}

// ReachedTarget reports whether progress meets the game's win threshold
func ReachedTarget(cfg model.GameConfig, progress *model.PlayerProgress) bool {
	return cfg.TargetScore > 0 && progress.Score >= cfg.TargetScore
}

// Leader returns the unique top scorer, or "" when there is none or the top is tied
func Leader(rows []*model.PlayerProgress) model.PlayerID {
	var leader model.PlayerID
	best := math.MinInt
	tied := false
	for _, p := range rows {
		switch {
		case p.Score > best:
			best = p.Score
			leader = p.PlayerID
			tied = false
		case p.Score == best:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return leader
}

// FirstToTarget returns the player who reached the target, preferring the
// highest score. Returns "" if nobody has.
func FirstToTarget(cfg model.GameConfig, rows []*model.PlayerProgress) model.PlayerID {
	var winner *model.PlayerProgress
	for _, p := range rows {
		if !ReachedTarget(cfg, p) {
			continue
		}
		if winner == nil || p.Score > winner.Score ||
			(p.Score == winner.Score && p.UpdatedAt.Before(winner.UpdatedAt)) {
			winner = p
		}
	}
	if winner == nil {
		return ""
	}
	return winner.PlayerID
}
