package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAction is wrapped by every Validate failure.
var ErrInvalidAction = errors.New("invalid pending action")

// ActionKind identifies a gated administrative operation.
type ActionKind string

const (
	ActionCreateUser  ActionKind = "create-user"
	ActionEditUser    ActionKind = "edit-user"
	ActionDisableUser ActionKind = "disable-user"
	ActionEnableUser  ActionKind = "enable-user"
	ActionChangeRole  ActionKind = "change-role"
)

// KnownKinds lists the kinds shipped with the back-office, in display order.
var KnownKinds = []ActionKind{
	ActionCreateUser,
	ActionEditUser,
	ActionDisableUser,
	ActionEnableUser,
	ActionChangeRole,
}

// RequiresTarget reports whether the kind acts on an existing entity.
func (k ActionKind) RequiresTarget() bool {
	return k != ActionCreateUser
}

// PendingAction is the envelope captured when a challenge is issued: what runs if verification succeeds.
// Payload is opaque to the gate and decoded only by the executor registered for Kind.
type PendingAction struct {
	Kind     ActionKind      `json:"kind"`
	TargetID string          `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	// RequestedBy is the operator that opened the challenge.
	RequestedBy string `json:"requestedBy,omitempty"`
}

// Validate checks the envelope shape. It does not look at Payload.
func (a *PendingAction) Validate() error {
	a.Kind = ActionKind(strings.TrimSpace(string(a.Kind)))
	a.TargetID = strings.TrimSpace(a.TargetID)
	if a.Kind == "" {
		return fmt.Errorf("%w: kind is required", ErrInvalidAction)
	}
	if a.Kind.RequiresTarget() && a.TargetID == "" {
		return fmt.Errorf("%w: target id is required for %s", ErrInvalidAction, a.Kind)
	}
	if len(a.Payload) > 0 && !json.Valid(a.Payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrInvalidAction)
	}
	return nil
}

// Clone returns a deep copy so executors cannot alias gate state.
func (a PendingAction) Clone() PendingAction {
	if a.Payload != nil {
		p := make(json.RawMessage, len(a.Payload))
		copy(p, a.Payload)
		a.Payload = p
	}
	return a
}
