package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/nhle/email-gateway/internal/scheduler"
)

// FakeClock implements scheduler.Clock with a manually advanced time,
// so debounce behavior can be tested without wall-clock waits.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFakeClock creates a clock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the clock's current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc arms a timer that fires when the clock is advanced past
// its deadline.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) scheduler.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{
		clock:    c,
		deadline: c.now.Add(d),
		f:        f,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires, in deadline order, every
// timer whose deadline has passed. Callbacks run synchronously on the
// caller's goroutine, outside the clock lock.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now

	var due []*fakeTimer
	var remaining []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.deadline.After(now) {
			t.stopped = true
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.f()
	}
}

// fakeTimer's stopped flag is guarded by the owning clock's mutex.
type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	f        func()
	stopped  bool
}

// Stop prevents the timer from firing. It reports whether the call was
// stopped before it ran.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}
