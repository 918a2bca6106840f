package scheduler

import "time"

// Clock abstracts time for the scheduler so tests can drive timers
// without wall-clock waits.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc arms a timer that calls f after d elapses.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending call.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the
	// call was stopped before it ran.
	Stop() bool
}

// realClock implements Clock on the system clock.
type realClock struct{}

// RealClock returns a Clock backed by the system clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
