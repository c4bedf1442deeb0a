package gate

import "errors"

// Expected outcomes are returned as these sentinels; callers match them with errors.Is.
var (
	// ErrMismatch means the submitted code is not the active one. The challenge stays open.
	ErrMismatch = errors.New("gate: code does not match")
	// ErrExpired means the challenge window closed before a correct submission; resend first.
	ErrExpired = errors.New("gate: challenge expired")
	// ErrNoActiveChallenge means there is nothing to verify or resend.
	ErrNoActiveChallenge = errors.New("gate: no active challenge")
	// ErrAlreadyVerified is returned by Cancel once the gate has verified; the action already ran.
	ErrAlreadyVerified = errors.New("gate: already verified")
	// ErrUnknownAction means no executor is registered for the requested kind.
	ErrUnknownAction = errors.New("gate: no executor registered for action kind")
	// ErrExecutionFailed wraps an executor error after a successful verification.
	ErrExecutionFailed = errors.New("gate: action execution failed")
	// ErrForbidden means policy does not let the operator request the action.
	ErrForbidden = errors.New("gate: action not permitted for operator")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("gate: closed")
)
