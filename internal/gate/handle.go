package gate

import (
	"context"
	"time"
)

// Handle identifies one issued challenge. It never carries the code.
type Handle struct {
	ChallengeID string    `json:"challengeId"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`

	gate *Gate
}

// Remaining returns the countdown's remaining seconds while this challenge is the active one, else 0.
func (h *Handle) Remaining() int {
	if h == nil || h.gate == nil {
		return 0
	}
	h.gate.mu.Lock()
	defer h.gate.mu.Unlock()
	return h.gate.remainingLocked(h.ChallengeID)
}

// Active reports whether this challenge is still the one awaiting verification.
func (h *Handle) Active() bool {
	if h == nil || h.gate == nil {
		return false
	}
	h.gate.mu.Lock()
	defer h.gate.mu.Unlock()
	return h.gate.currentLocked(h.ChallengeID)
}

// Submit forwards to the owning gate. A superseded handle still submits against the current
// challenge; callers wanting strict binding check Active first.
func (h *Handle) Submit(ctx context.Context, code string) error {
	if h == nil || h.gate == nil {
		return ErrNoActiveChallenge
	}
	return h.gate.SubmitAttempt(ctx, code)
}
