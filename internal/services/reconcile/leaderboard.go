package reconcile

import (
	"sort"

	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// Leaderboard caches the newest progress snapshot seen per player
type Leaderboard map[model.PlayerID]model.PlayerProgress

// Apply returns a board including p if p is newer than the cached row.
// A snapshot is newer when it has answered more questions, or the same
// number with a higher score. The receiver is never modified.
func (l Leaderboard) Apply(p *model.PlayerProgress) (Leaderboard, bool) {
	if p == nil {
		return l, false
	}
	if cur, ok := l[p.PlayerID]; ok && !p.Ahead(&cur) {
		return l, false
	}

	next := make(Leaderboard, len(l)+1)
	for id, row := range l {
		next[id] = row
	}
	next[p.PlayerID] = *p
	return next, true
}

// Ranked returns copies ordered by score, then answered count, then player ID
func (l Leaderboard) Ranked() []*model.PlayerProgress {
	rows := make([]*model.PlayerProgress, 0, len(l))
	for _, p := range l {
		row := p
		rows = append(rows, &row)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CurrentQuestionAnswered != b.CurrentQuestionAnswered {
			return a.CurrentQuestionAnswered > b.CurrentQuestionAnswered
		}
		return a.PlayerID < b.PlayerID
	})
	return rows
}
