// Package domain holds the confirmation gate's data model: challenges, pending actions and states.
package domain

import "time"

// AttemptState is the state of one challenge.
type AttemptState string

const (
	AttemptActive    AttemptState = "active"
	AttemptExpired   AttemptState = "expired"
	AttemptVerified  AttemptState = "verified"
	AttemptCancelled AttemptState = "cancelled"
)

// Challenge is one outstanding OTP verification cycle. The plain code is never held; only its hash.
type Challenge struct {
	ID        string
	CodeHash  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	State     AttemptState
}

// RemainingSeconds returns whole seconds left at now, never negative.
func (c *Challenge) RemainingSeconds(now time.Time) int {
	if c == nil || c.State != AttemptActive {
		return 0
	}
	d := c.ExpiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// ExpiredAt reports whether the challenge window has closed at now.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return c.State == AttemptExpired || !now.Before(c.ExpiresAt)
}

// State is the gate's lifecycle state.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingVerification State = "awaiting_verification"
	StateVerified             State = "verified"
	StateCancelled            State = "cancelled"
	StateExpiredUnresolved    State = "expired_unresolved"
)

// Terminal reports whether no further transitions happen without a new request.
func (s State) Terminal() bool {
	return s == StateVerified || s == StateCancelled
}
