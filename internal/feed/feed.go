// Package feed delivers full-row change snapshots of a game to observers.
// Delivery is at-least-once and unordered; consumers reduce snapshots
// through the reconciler, which ignores anything stale.
package feed

import (
	"context"
	"sync"

	"github.com/mcoot/cryptoquiz-go/internal/model"
)

// Publisher announces a write to every subscriber of the change's game
type Publisher interface {
	Publish(ctx context.Context, change model.Change) error
}

// Subscriber opens a stream of changes for one game
type Subscriber interface {
	Subscribe(ctx context.Context, gameID model.GameID) (*Subscription, error)
}

// Feed is a full change feed backend
type Feed interface {
	Publisher
	Subscriber
	Close() error
}

// Subscription is an open stream of changes. C is closed once the
// subscription is released, either by Close or by the subscribe context.
type Subscription struct {
	C <-chan model.Change

	once    sync.Once
	release func()
}

// NewSubscription wraps c; release is called at most once
func NewSubscription(c <-chan model.Change, release func()) *Subscription {
	return &Subscription{C: c, release: release}
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 64
