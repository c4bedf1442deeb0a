package gate

import (
	"context"
	"time"

	"kallied-admin/backend/internal/gate/domain"
)

// Delivery is what the approver channel receives when a challenge is issued.
type Delivery struct {
	ChallengeID string
	Owner       string
	Code        string
	ExpiresAt   time.Time
	Action      domain.PendingAction
}

// Dispatcher delivers a code out of band (SMS, dev store). The gate does not wait for it and does
// not treat its failure as a gate failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Delivery) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, d Delivery) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, d Delivery) error { return f(ctx, d) }

// Publisher observes gate events (live channel, activity log, metrics, event stream).
// Publish must not block for long; it runs on the caller's goroutine after the gate lock is released.
type Publisher interface {
	Publish(ctx context.Context, e domain.Event)
}

// Publishers fans an event out to each non-nil publisher in order.
type Publishers []Publisher

// Publish implements Publisher.
func (ps Publishers) Publish(ctx context.Context, e domain.Event) {
	for _, p := range ps {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.Event) {}
