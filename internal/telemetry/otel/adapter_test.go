package otel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	gatedomain "kallied-admin/backend/internal/gate/domain"
)

type recordingProcessor struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (p *recordingProcessor) OnEmit(_ context.Context, r *sdklog.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, r.Clone())
	return nil
}

func (p *recordingProcessor) Enabled(context.Context, sdklog.EnabledParameters) bool { return true }
func (p *recordingProcessor) Shutdown(context.Context) error                         { return nil }
func (p *recordingProcessor) ForceFlush(context.Context) error                       { return nil }

func TestNewEventEmitter_Nil(t *testing.T) {
	em := NewEventEmitter(nil)
	if err := em.Emit(context.Background(), gatedomain.Event{Type: gatedomain.EventVerified}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestLogEmitter_Emit(t *testing.T) {
	proc := &recordingProcessor{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(proc))
	em := NewEventEmitter(lp)

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := em.Emit(context.Background(), gatedomain.Event{
		Type:        gatedomain.EventExecutionFailed,
		Owner:       "op-1",
		ChallengeID: "ch-1",
		Kind:        gatedomain.ActionDisableUser,
		TargetID:    "U123",
		Error:       "user not found",
		At:          at,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(proc.records) != 1 {
		t.Fatalf("records = %d, want 1", len(proc.records))
	}
	rec := proc.records[0]
	if !rec.Timestamp().Equal(at) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), at)
	}
	if rec.Severity() != otellog.SeverityError {
		t.Errorf("severity = %v, want error", rec.Severity())
	}
	if rec.EventName() != string(gatedomain.EventExecutionFailed) {
		t.Errorf("event name = %q", rec.EventName())
	}
	attrs := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	want := map[string]string{
		"gate.event":        "action_failed",
		"gate.owner":        "op-1",
		"gate.challenge_id": "ch-1",
		"gate.action":       string(gatedomain.ActionDisableUser),
		"gate.target_id":    "U123",
		"error.message":     "user not found",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %s = %q, want %q", k, attrs[k], v)
		}
	}
	if body := rec.Body().AsString(); !strings.Contains(body, `"challengeId":"ch-1"`) {
		t.Errorf("body = %s", body)
	}
}

func TestMetricsEmitter_Counts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	em, err := NewMetricsEmitter(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetricsEmitter: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = em.Emit(ctx, gatedomain.Event{Type: gatedomain.EventMismatch, Kind: gatedomain.ActionEditUser})
	}
	_ = em.Emit(ctx, gatedomain.Event{Type: gatedomain.EventVerified, Kind: gatedomain.ActionEditUser})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rm.ScopeMetrics) != 1 || len(rm.ScopeMetrics[0].Metrics) != 1 {
		t.Fatalf("unexpected metrics: %+v", rm.ScopeMetrics)
	}
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T", rm.ScopeMetrics[0].Metrics[0].Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 4 || len(sum.DataPoints) != 2 {
		t.Errorf("total = %d over %d points, want 4 over 2", total, len(sum.DataPoints))
	}
}
