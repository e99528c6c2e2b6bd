// Package clock provides a timezone-aware time abstraction for testable
// time-dependent code. Use NewRealClock for production and NewMockClock for testing.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is an interface for time operations, allowing time to be mocked in tests.
// All times it returns are expressed in the clock's operating timezone.
type Clock interface {
	// Now returns the current time in the operating timezone
	Now() time.Time

	// AfterFunc waits for the duration to elapse and then calls f in its own goroutine.
	// It returns a Timer that can be used to cancel the call using its Stop method.
	AfterFunc(d time.Duration, f func()) Timer

	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration

	// Location returns the operating timezone
	Location() *time.Location
}

// Timer represents a single event that can be stopped
type Timer = clockwork.Timer

// ZonedClock binds a clockwork.Clock to a fixed location.
type ZonedClock struct {
	base clockwork.Clock
	loc  *time.Location
}

// New wraps base so that every reading is converted into loc.
// A nil loc means UTC.
func New(base clockwork.Clock, loc *time.Location) *ZonedClock {
	if loc == nil {
		loc = time.UTC
	}
	return &ZonedClock{base: base, loc: loc}
}

// NewRealClock creates a wall clock operating in loc
func NewRealClock(loc *time.Location) *ZonedClock {
	return New(clockwork.NewRealClock(), loc)
}

// Now returns the current time in the operating timezone
func (c *ZonedClock) Now() time.Time {
	return c.base.Now().In(c.loc)
}

// AfterFunc schedules f to run after d without blocking the caller
func (c *ZonedClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.base.AfterFunc(d, f)
}

// Since returns the time elapsed since t
func (c *ZonedClock) Since(t time.Time) time.Duration {
	return c.base.Since(t)
}

// Location returns the operating timezone
func (c *ZonedClock) Location() *time.Location {
	return c.loc
}

// MockClock is a Clock implementation for testing that allows manual time control
type MockClock struct {
	*ZonedClock
	fake clockwork.FakeClock
}

// NewMockClock creates a new MockClock starting at the given time.
// The operating timezone is taken from start.
func NewMockClock(start time.Time) *MockClock {
	fake := clockwork.NewFakeClockAt(start)
	return &MockClock{
		ZonedClock: New(fake, start.Location()),
		fake:       fake,
	}
}

// Advance moves the mock clock forward by duration d and fires any timers that have expired
func (c *MockClock) Advance(d time.Duration) {
	c.fake.Advance(d)
}

// Set moves the mock clock to t. Moving backwards is not supported by the
// underlying fake, so earlier times are ignored.
func (c *MockClock) Set(t time.Time) {
	if d := t.Sub(c.fake.Now()); d > 0 {
		c.fake.Advance(d)
	}
}

// BlockUntil blocks until n timers are waiting on the clock
func (c *MockClock) BlockUntil(n int) {
	c.fake.BlockUntil(n)
}
