// Package producer publishes gate events to the Kafka event stream consumed by the log worker.
package producer

import (
	"context"

	gatedomain "kallied-admin/backend/internal/gate/domain"
)

// Producer emits gate events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event gatedomain.Event) error
	// Close releases resources. Safe to call if already closed.
	Close() error
}
