// Package telemetry forwards gate lifecycle events to observability sinks: OTel logs and metrics,
// the Kafka event stream, and Prometheus.
package telemetry

import (
	"context"

	gatedomain "kallied-admin/backend/internal/gate/domain"
)

// EventEmitter emits gate events to one sink. Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event gatedomain.Event) error
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event gatedomain.Event) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, event gatedomain.Event) error { return f(ctx, event) }
