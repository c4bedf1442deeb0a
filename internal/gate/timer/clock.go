// Package timer provides the per-challenge countdown used by the confirmation gate.
//
// The countdown is written against Clock, a cancellable scheduled-callback abstraction, so the same
// code runs on the wall clock in production and on ManualClock in tests.
package timer

import "time"

// Cancel stops a scheduled callback. It reports whether the callback was still pending.
type Cancel func() bool

// Clock schedules callbacks and reports the current time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Cancel
}

// RealClock is the wall clock. Callbacks run on their own goroutine (time.AfterFunc).
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// AfterFunc schedules f after d.
func (RealClock) AfterFunc(d time.Duration, f func()) Cancel {
	t := time.AfterFunc(d, f)
	return t.Stop
}
