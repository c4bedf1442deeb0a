package domain

import "time"

// EventType names a gate lifecycle event.
type EventType string

const (
	EventChallengeIssued EventType = "challenge_issued"
	EventChallengeResent EventType = "challenge_resent"
	EventTick            EventType = "challenge_tick"
	EventMismatch        EventType = "attempt_mismatch"
	EventExpired         EventType = "challenge_expired"
	EventVerified        EventType = "challenge_verified"
	EventCancelled       EventType = "challenge_cancelled"
	EventExecuted        EventType = "action_executed"
	EventExecutionFailed EventType = "action_failed"
)

// Event describes one gate transition. It never carries the code.
type Event struct {
	Type             EventType  `json:"type"`
	Owner            string     `json:"owner"`
	ChallengeID      string     `json:"challengeId,omitempty"`
	Kind             ActionKind `json:"kind,omitempty"`
	TargetID         string     `json:"targetId,omitempty"`
	RemainingSeconds int        `json:"remainingSeconds"`
	ExpiresAt        time.Time  `json:"expiresAt,omitempty"`
	Error            string     `json:"error,omitempty"`
	At               time.Time  `json:"at"`
}
