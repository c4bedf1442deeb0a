package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gatedomain "kallied-admin/backend/internal/gate/domain"
)

const recordTimeout = 5 * time.Second

// gateActions maps gate lifecycle events to activity actions. Ticks are not recorded;
// EventExecuted is recorded under the executed kind's own action.
var gateActions = map[gatedomain.EventType]string{
	gatedomain.EventChallengeIssued: "otp_requested",
	gatedomain.EventChallengeResent: "otp_resent",
	gatedomain.EventMismatch:        "otp_mismatch",
	gatedomain.EventExpired:         "otp_expired",
	gatedomain.EventVerified:        "otp_verified",
	gatedomain.EventCancelled:       "action_cancelled",
	gatedomain.EventExecutionFailed: "action_failed",
}

type gateMetadata struct {
	ChallengeID string `json:"challengeId,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Error       string `json:"error,omitempty"`
}

// GateRecorder writes gate lifecycle events to the activity log. It satisfies the gate's publisher
// contract; writes happen on their own goroutine so the gate is never held up by storage.
type GateRecorder struct {
	logger AuditLogger
	wg     sync.WaitGroup
}

// NewGateRecorder returns a recorder writing through logger.
func NewGateRecorder(logger AuditLogger) *GateRecorder {
	return &GateRecorder{logger: logger}
}

// Publish records e unless it is a tick.
func (r *GateRecorder) Publish(ctx context.Context, e gatedomain.Event) {
	if r == nil || r.logger == nil {
		return
	}
	ev, ok := GateEvent(e)
	if !ok {
		return
	}
	// keep request values such as the client IP, drop the request's cancellation
	detached := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		writeCtx, cancel := context.WithTimeout(detached, recordTimeout)
		defer cancel()
		r.logger.LogEvent(writeCtx, ev)
	}()
}

// Wait blocks until in-flight writes finish.
func (r *GateRecorder) Wait() {
	r.wg.Wait()
}

// GateEvent converts a gate lifecycle event to an activity event. It reports false for events
// that are not recorded.
func GateEvent(e gatedomain.Event) (Event, bool) {
	kindAR := ForKind(e.Kind)
	action, ok := gateActions[e.Type]
	switch {
	case e.Type == gatedomain.EventExecuted:
		action = kindAR.Action
	case !ok:
		return Event{}, false
	}
	meta, _ := json.Marshal(gateMetadata{ChallengeID: e.ChallengeID, Kind: string(e.Kind), Error: e.Error})
	return Event{
		UserID:     e.Owner,
		Action:     action,
		Resource:   kindAR.Resource,
		ResourceID: e.TargetID,
		Metadata:   string(meta),
	}, true
}
