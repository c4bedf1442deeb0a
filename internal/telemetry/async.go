package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	gatedomain "kallied-admin/backend/internal/gate/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight emits before closing sinks.
// Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// AsyncPublisher hands gate events to emitters on background goroutines so the gate and its
// countdown are never held up by a sink. Countdown ticks are not forwarded.
type AsyncPublisher struct {
	emitters []EventEmitter
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewAsyncPublisher returns a publisher over the non-nil emitters.
func NewAsyncPublisher(logger *zap.Logger, emitters ...EventEmitter) *AsyncPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &AsyncPublisher{logger: logger}
	for _, e := range emitters {
		if e != nil {
			p.emitters = append(p.emitters, e)
		}
	}
	return p
}

// Publish implements the gate publisher contract.
func (p *AsyncPublisher) Publish(ctx context.Context, e gatedomain.Event) {
	if p == nil || e.Type == gatedomain.EventTick {
		return
	}
	for _, em := range p.emitters {
		p.EmitAsync(em, e)
	}
}

// EmitAsync runs Emit in a goroutine with emitTimeout. The goroutine uses context.Background so
// request cancellation does not abort an in-flight emit.
func (p *AsyncPublisher) EmitAsync(emitter EventEmitter, e gatedomain.Event) {
	if emitter == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, e); err != nil {
			p.logger.Warn("telemetry: async emit failed", zap.String("event", string(e.Type)), zap.Error(err))
		}
	}()
}

// Drain waits for in-flight emits or until ctx is done.
func (p *AsyncPublisher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
