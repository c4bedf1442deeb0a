package audit

import (
	"context"
	"encoding/json"
	"testing"

	"kallied-admin/backend/internal/audit/domain"
	auditrepo "kallied-admin/backend/internal/audit/repository"
	gatedomain "kallied-admin/backend/internal/gate/domain"
)

func TestGateEvent(t *testing.T) {
	base := gatedomain.Event{Owner: "op-1", ChallengeID: "c1", Kind: gatedomain.ActionDisableUser, TargetID: "U123"}
	tests := []struct {
		typ        gatedomain.EventType
		wantAction string
		record     bool
	}{
		{gatedomain.EventChallengeIssued, "otp_requested", true},
		{gatedomain.EventTick, "", false},
		{gatedomain.EventMismatch, "otp_mismatch", true},
		{gatedomain.EventExpired, "otp_expired", true},
		{gatedomain.EventExecuted, "user_disabled", true},
		{gatedomain.EventExecutionFailed, "action_failed", true},
		{gatedomain.EventCancelled, "action_cancelled", true},
	}
	for _, tc := range tests {
		e := base
		e.Type = tc.typ
		got, ok := GateEvent(e)
		if ok != tc.record {
			t.Errorf("GateEvent(%s) recorded = %v, want %v", tc.typ, ok, tc.record)
			continue
		}
		if !ok {
			continue
		}
		if got.Action != tc.wantAction || got.Resource != "user" || got.ResourceID != "U123" || got.UserID != "op-1" {
			t.Errorf("GateEvent(%s) = %+v", tc.typ, got)
		}
		var meta gateMetadata
		if err := json.Unmarshal([]byte(got.Metadata), &meta); err != nil || meta.ChallengeID != "c1" {
			t.Errorf("GateEvent(%s) metadata = %q (%v)", tc.typ, got.Metadata, err)
		}
	}
}

func TestGateRecorder_Publish(t *testing.T) {
	repo := auditrepo.NewMemoryRepository()
	rec := NewGateRecorder(NewLogger(repo, nil, nil))
	ctx, cancel := context.WithCancel(context.Background())
	rec.Publish(ctx, gatedomain.Event{Type: gatedomain.EventExecuted, Owner: "op-1", Kind: gatedomain.ActionCreateUser})
	rec.Publish(ctx, gatedomain.Event{Type: gatedomain.EventTick, Owner: "op-1"})
	cancel()
	rec.Wait()

	entries, _ := repo.List(context.Background(), domain.Filter{})
	if len(entries) != 1 || entries[0].Action != "user_created" {
		t.Fatalf("entries = %+v", entries)
	}
}
