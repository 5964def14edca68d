// Package memory is an in-process change feed
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/cryptoquiz-go/internal/feed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
)

type subscriber struct {
	ch chan model.Change
}

// Broker fans changes out to subscribers of the same game
type Broker struct {
	mu     sync.RWMutex
	subs   map[model.GameID]map[*subscriber]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

// NewBroker creates an in-process broker
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subs:   make(map[model.GameID]map[*subscriber]struct{}),
		buffer: feed.DefaultBuffer,
		logger: logger.With(slog.String("component", "feed-memory")),
	}
}

var _ feed.Feed = (*Broker)(nil)

// Publish delivers change without blocking; a full subscriber misses it
func (b *Broker) Publish(_ context.Context, change model.Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for sub := range b.subs[change.GameID] {
		select {
		case sub.ch <- change:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Warn("feed change dropped - subscriber buffer full",
			slog.String("game_id", string(change.GameID)),
			slog.String("collection", string(change.Collection)),
			slog.Int("dropped", dropped))
	}
	return nil
}

// Subscribe registers a subscriber for gameID
func (b *Broker) Subscribe(ctx context.Context, gameID model.GameID) (*feed.Subscription, error) {
	sub := &subscriber{ch: make(chan model.Change, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return feed.NewSubscription(sub.ch, nil), nil
	}
	if b.subs[gameID] == nil {
		b.subs[gameID] = make(map[*subscriber]struct{})
	}
	b.subs[gameID][sub] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	s := feed.NewSubscription(sub.ch, func() {
		close(done)
		b.remove(gameID, sub)
	})

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()

	return s, nil
}

func (b *Broker) remove(gameID model.GameID, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[gameID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subs, gameID)
	}
}

// SubscriberCount returns the number of open subscriptions for gameID
func (b *Broker) SubscriberCount(gameID model.GameID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[gameID])
}

// Close ends every open subscription
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for gameID, subs := range b.subs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(b.subs, gameID)
	}
	return nil
}
