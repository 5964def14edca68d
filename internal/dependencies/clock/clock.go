package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a cancellable one-shot timer
type Timer = clockwork.Timer

// Ticker delivers periodic ticks
type Ticker = clockwork.Ticker

// Clock provides time operations that can be mocked for testing
type Clock interface {
	Now() time.Time
	// AfterFunc runs f in its own goroutine once d has elapsed
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// RealClock implements Clock using the system clock
type RealClock struct {
	clockwork.Clock
}

// New creates a new RealClock
func New() *RealClock {
	return &RealClock{Clock: clockwork.NewRealClock()}
}

// StopTimer stops t if set. It is safe to call on a nil timer.
func StopTimer(t Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		// Already fired or stopped; drain so no stale tick lingers
		select {
		case <-t.Chan():
		default:
		}
	}
}
