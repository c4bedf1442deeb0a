package otel

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"

	gatedomain "kallied-admin/backend/internal/gate/domain"
	"kallied-admin/backend/internal/telemetry"
)

const instrumentationName = "kallied-admin/backend/gate"

// LoggerProvider is the part of sdklog.LoggerProvider the emitter needs.
type LoggerProvider interface {
	Logger(name string, opts ...otellog.LoggerOption) otellog.Logger
}

// NewEventEmitter returns an EventEmitter that sends gate events as OTel log records via provider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &logEmitter{logger: provider.Logger(instrumentationName)}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, gatedomain.Event) error { return nil }

type logEmitter struct {
	logger otellog.Logger
}

// Emit converts the event to a log record. The body is the event JSON.
func (e *logEmitter) Emit(ctx context.Context, event gatedomain.Event) error {
	rec := otellog.Record{}
	ts := event.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetEventName(string(event.Type))
	rec.SetSeverity(severityFor(event.Type))
	rec.SetSeverityText(rec.Severity().String())
	if body, err := json.Marshal(event); err == nil {
		rec.SetBody(otellog.StringValue(string(body)))
	}
	rec.AddAttributes(
		otellog.String("gate.event", string(event.Type)),
		otellog.String("gate.owner", event.Owner),
	)
	if event.ChallengeID != "" {
		rec.AddAttributes(otellog.String("gate.challenge_id", event.ChallengeID))
	}
	if event.Kind != "" {
		rec.AddAttributes(otellog.String("gate.action", string(event.Kind)))
	}
	if event.TargetID != "" {
		rec.AddAttributes(otellog.String("gate.target_id", event.TargetID))
	}
	if event.Error != "" {
		rec.AddAttributes(otellog.String("error.message", event.Error))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severityFor(t gatedomain.EventType) otellog.Severity {
	switch t {
	case gatedomain.EventExecutionFailed:
		return otellog.SeverityError
	case gatedomain.EventMismatch, gatedomain.EventExpired:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityInfo
	}
}

// MetricsEmitter counts gate events on an OTel meter.
type MetricsEmitter struct {
	events metric.Int64Counter
}

// NewMetricsEmitter registers the gate event counter on meter.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	c, err := meter.Int64Counter("kallied.gate.events",
		metric.WithDescription("Gate lifecycle events by type and action kind."),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, err
	}
	return &MetricsEmitter{events: c}, nil
}

// Emit increments the counter for the event.
func (m *MetricsEmitter) Emit(ctx context.Context, event gatedomain.Event) error {
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("gate.event", string(event.Type)),
		attribute.String("gate.action", string(event.Kind)),
	))
	return nil
}
