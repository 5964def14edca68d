// Package poll emulates a change feed by re-reading storage on an interval
package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mcoot/cryptoquiz-go/internal/dependencies/clock"
	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
)

// DefaultInterval is how often a subscription re-reads storage
const DefaultInterval = time.Second

// Poller turns storage reads into change snapshots
type Poller struct {
	storage  storage.Storage
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Poller
func New(store storage.Storage, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		storage:  store,
		clock:    clk,
		interval: interval,
		logger:   logger.With(slog.String("component", "feed-poll")),
	}
}

var _ feed.Feed = (*Poller)(nil)

// Publish is a no-op; storage is the source of truth
func (p *Poller) Publish(context.Context, model.Change) error {
	return nil
}

// Subscribe emits the current rows immediately, then every changed row on each tick
func (p *Poller) Subscribe(ctx context.Context, gameID model.GameID) (*feed.Subscription, error) {
	out := make(chan model.Change, feed.DefaultBuffer)
	done := make(chan struct{})
	ticker := p.clock.NewTicker(p.interval)

	go func() {
		defer close(out)
		defer ticker.Stop()

		state := newPollState()
		for {
			for _, change := range p.poll(ctx, gameID, state) {
				select {
				case out <- change:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.Chan():
			}
		}
	}()

	return feed.NewSubscription(out, func() { close(done) }), nil
}

// Close is a no-op; subscriptions end with their context or Close
func (p *Poller) Close() error {
	return nil
}

type progressMark struct {
	answered int
	score    int
}

// pollState remembers what a subscription has already emitted
type pollState struct {
	gameVersion int64
	progress    map[model.PlayerID]progressMark
	members     map[model.PlayerID]*model.GameMember
}

func newPollState() *pollState {
	return &pollState{
		progress: make(map[model.PlayerID]progressMark),
		members:  make(map[model.PlayerID]*model.GameMember),
	}
}

// poll reads the game's rows and returns the ones that differ from state
func (p *Poller) poll(ctx context.Context, gameID model.GameID, state *pollState) []model.Change {
	var changes []model.Change
	now := p.clock.Now()

	game, err := p.storage.GetGame(ctx, gameID)
	switch {
	case errors.Is(err, model.ErrGameNotFound):
		return nil
	case err != nil:
		p.logger.Warn("poll game failed", slog.String("game_id", string(gameID)), slog.Any("error", err))
		return nil
	case game.Version != state.gameVersion:
		state.gameVersion = game.Version
		changes = append(changes, model.GameChange(model.OpUpdate, game, now))
	}

	members, err := p.storage.GetMembers(ctx, gameID)
	if err != nil {
		p.logger.Warn("poll members failed", slog.String("game_id", string(gameID)), slog.Any("error", err))
	} else {
		seen := make(map[model.PlayerID]bool, len(members))
		for _, m := range members {
			seen[m.PlayerID] = true
			if _, ok := state.members[m.PlayerID]; !ok {
				state.members[m.PlayerID] = m
				changes = append(changes, model.MemberChange(model.OpInsert, m, now))
			}
		}
		for id, m := range state.members {
			if !seen[id] {
				delete(state.members, id)
				changes = append(changes, model.MemberChange(model.OpDelete, m, now))
			}
		}
	}

	rows, err := p.storage.ListProgress(ctx, gameID)
	if err != nil {
		p.logger.Warn("poll progress failed", slog.String("game_id", string(gameID)), slog.Any("error", err))
		return changes
	}
	for _, row := range rows {
		mark := progressMark{answered: row.CurrentQuestionAnswered, score: row.Score}
		if prev, ok := state.progress[row.PlayerID]; ok && prev == mark {
			continue
		}
		state.progress[row.PlayerID] = mark
		changes = append(changes, model.ProgressChange(model.OpUpdate, row, now))
	}
	return changes
}
