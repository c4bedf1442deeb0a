package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gatedomain "kallied-admin/backend/internal/gate/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []gatedomain.Event
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event gatedomain.Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []gatedomain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]gatedomain.Event(nil), m.events...)
}

func TestAsyncPublisher_FansOut(t *testing.T) {
	a, b := &mockEventEmitter{}, &mockEventEmitter{emitErr: errors.New("sink down")}
	p := NewAsyncPublisher(nil, a, nil, b)
	p.Publish(context.Background(), gatedomain.Event{Type: gatedomain.EventChallengeIssued, Owner: "op-1"})
	if err := p.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Errorf("events = %d, %d; want 1, 1", len(a.getEvents()), len(b.getEvents()))
	}
}

func TestAsyncPublisher_SkipsTicks(t *testing.T) {
	em := &mockEventEmitter{}
	p := NewAsyncPublisher(nil, em)
	p.Publish(context.Background(), gatedomain.Event{Type: gatedomain.EventTick})
	_ = p.Drain(context.Background())
	if n := len(em.getEvents()); n != 0 {
		t.Errorf("ticks forwarded: %d", n)
	}
}

func TestAsyncPublisher_DoesNotBlockCaller(t *testing.T) {
	em := &mockEventEmitter{delay: 200 * time.Millisecond}
	p := NewAsyncPublisher(nil, em)
	start := time.Now()
	p.Publish(context.Background(), gatedomain.Event{Type: gatedomain.EventVerified})
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Publish blocked for %v", elapsed)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain err = %v, want deadline exceeded", err)
	}
	if err := p.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(em.getEvents()) != 1 {
		t.Error("slow emit did not complete")
	}
}

func TestAsyncPublisher_RequestCancellationDoesNotAbortEmit(t *testing.T) {
	em := &mockEventEmitter{delay: 20 * time.Millisecond}
	p := NewAsyncPublisher(nil, em)
	ctx, cancel := context.WithCancel(context.Background())
	p.Publish(ctx, gatedomain.Event{Type: gatedomain.EventExecuted})
	cancel()
	_ = p.Drain(context.Background())
	if len(em.getEvents()) != 1 {
		t.Error("emit aborted by request cancellation")
	}
}

func TestAsyncPublisher_Nil(t *testing.T) {
	var p *AsyncPublisher
	p.Publish(context.Background(), gatedomain.Event{Type: gatedomain.EventVerified})
}
