package mocks

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcoot/cryptoquiz-go/internal/dependencies/clock"
)

// MockClock is a controllable clock for testing.
// Timers registered through AfterFunc fire when Advance passes their deadline.
type MockClock struct {
	*clockwork.FakeClock
}

// Ensure MockClock implements Clock
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a MockClock set to the given time
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{FakeClock: clockwork.NewFakeClockAt(t)}
}

// Set moves the clock forward to t. Times in the past are ignored.
func (c *MockClock) Set(t time.Time) {
	if d := t.Sub(c.Now()); d > 0 {
		c.Advance(d)
	}
}
