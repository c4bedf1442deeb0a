package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kallied-admin/backend/internal/gate/domain"
	"kallied-admin/backend/internal/gate/timer"
	"kallied-admin/backend/internal/otp"
)

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// sequenceGenerator hands out 111111, 222222, ... so tests know every issued code.
func sequenceGenerator() otp.Generator {
	var mu sync.Mutex
	n := 0
	return otp.GeneratorFunc(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		d := n % 10
		if d == 0 {
			d = 1
		}
		return fmt.Sprintf("%d%d%d%d%d%d", d, d, d, d, d, d), nil
	})
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) Publish(_ context.Context, e domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(t domain.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (l *eventLog) ticks() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []int
	for _, e := range l.events {
		if e.Type == domain.EventTick {
			out = append(out, e.RemainingSeconds)
		}
	}
	return out
}

func (l *eventLog) all() []domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Event(nil), l.events...)
}

type callLog struct {
	mu    sync.Mutex
	calls []domain.PendingAction
	err   error
}

func (c *callLog) Execute(_ context.Context, a domain.PendingAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, a)
	return c.err
}

func (c *callLog) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fixture struct {
	gate   *Gate
	clock  *timer.ManualClock
	events *eventLog
	execs  map[domain.ActionKind]*callLog
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		clock:  timer.NewManualClock(epoch),
		events: &eventLog{},
		execs:  make(map[domain.ActionKind]*callLog),
	}
	reg := NewRegistry()
	for _, k := range domain.KnownKinds {
		c := &callLog{}
		f.execs[k] = c
		reg.Register(k, c)
	}
	deps := Deps{
		Executors: reg,
		Clock:     f.clock,
		Generator: sequenceGenerator(),
		Publisher: f.events,
	}
	for _, o := range opts {
		o(&deps)
	}
	g, err := New("op-1", deps)
	require.NoError(t, err)
	t.Cleanup(g.Close)
	f.gate = g
	return f
}

func disableUser(id string) domain.PendingAction {
	return domain.PendingAction{Kind: domain.ActionDisableUser, TargetID: id}
}

func TestNew_Validation(t *testing.T) {
	_, err := New("op", Deps{})
	assert.Error(t, err)

	_, err = New("op", Deps{Executors: NewRegistry(), TTL: 1500 * time.Millisecond})
	assert.Error(t, err)

	g, err := New("op", Deps{Executors: NewRegistry()})
	require.NoError(t, err)
	defer g.Close()
	assert.Equal(t, domain.StateIdle, g.State())
	assert.Equal(t, "op", g.Owner())
}

func TestRequestAction_OpensChallenge(t *testing.T) {
	f := newFixture(t)
	h, err := f.gate.RequestAction(context.Background(), disableUser("U123"))
	require.NoError(t, err)

	assert.NotEmpty(t, h.ChallengeID)
	assert.Equal(t, epoch, h.IssuedAt)
	assert.Equal(t, epoch.Add(300*time.Second), h.ExpiresAt)
	assert.Equal(t, 300, h.Remaining())
	assert.True(t, h.Active())
	assert.Equal(t, domain.StateAwaitingVerification, f.gate.State())
	assert.Equal(t, 1, f.events.count(domain.EventChallengeIssued))

	snap := f.gate.Snapshot()
	assert.Equal(t, h.ChallengeID, snap.ChallengeID)
	require.NotNil(t, snap.Action)
	assert.Equal(t, "U123", snap.Action.TargetID)
	assert.Equal(t, 300, snap.RemainingSeconds)
}

func TestRequestAction_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gate.RequestAction(ctx, domain.PendingAction{Kind: domain.ActionDisableUser})
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	_, err = f.gate.RequestAction(ctx, domain.PendingAction{Kind: "archive-project", TargetID: "P1"})
	assert.ErrorIs(t, err, ErrUnknownAction)

	assert.Equal(t, domain.StateIdle, f.gate.State())
}

// vettedExec rejects actions at request time when reject is set.
type vettedExec struct {
	callLog
	reject error
}

func (v *vettedExec) Validate(domain.PendingAction) error { return v.reject }

func TestRequestAction_ExecutorValidation(t *testing.T) {
	exec := &vettedExec{reject: errors.New("unknown role")}
	reg := NewRegistry()
	reg.Register(domain.ActionChangeRole, exec)
	events := &eventLog{}
	g, err := New("op-1", Deps{
		Executors: reg,
		Clock:     timer.NewManualClock(epoch),
		Generator: sequenceGenerator(),
		Publisher: events,
	})
	require.NoError(t, err)
	defer g.Close()
	ctx := context.Background()
	action := domain.PendingAction{Kind: domain.ActionChangeRole, TargetID: "U1", Payload: json.RawMessage(`{"role":"ROOT"}`)}

	_, err = g.RequestAction(ctx, action)
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
	assert.Contains(t, err.Error(), "unknown role")
	assert.Equal(t, domain.StateIdle, g.State())
	assert.Zero(t, events.count(domain.EventChallengeIssued), "a rejected action must not issue a code")

	exec.reject = nil
	_, err = g.RequestAction(ctx, action)
	require.NoError(t, err)
	require.NoError(t, g.SubmitAttempt(ctx, "111111"))
	assert.Equal(t, 1, exec.n())
}

func TestSubmitAttempt_CorrectCodeExecutesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)

	f.clock.Advance(42 * time.Second)
	require.NoError(t, f.gate.SubmitAttempt(ctx, "111111"))

	exec := f.execs[domain.ActionDisableUser]
	require.Equal(t, 1, exec.n())
	assert.Equal(t, "U123", exec.calls[0].TargetID)
	assert.Equal(t, "op-1", f.gate.Owner())
	assert.Equal(t, domain.StateVerified, f.gate.State())
	assert.Zero(t, f.clock.Pending(), "countdown must stop on success")

	assert.ErrorIs(t, f.gate.SubmitAttempt(ctx, "111111"), ErrNoActiveChallenge)
	assert.Equal(t, 1, exec.n())
	assert.Equal(t, 1, f.events.count(domain.EventVerified))
	assert.Equal(t, 1, f.events.count(domain.EventExecuted))
}

func TestSubmitAttempt_CreateUserPayloadReachesExecutor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"name":"Jane Doe","email":"jane@kallied.com","role":"STAFF"}`)
	_, err := f.gate.RequestAction(ctx, domain.PendingAction{Kind: domain.ActionCreateUser, Payload: payload})
	require.NoError(t, err)

	require.NoError(t, f.gate.SubmitAttempt(ctx, "111111"))

	exec := f.execs[domain.ActionCreateUser]
	require.Equal(t, 1, exec.n())
	assert.JSONEq(t, string(payload), string(exec.calls[0].Payload))
	assert.Empty(t, exec.calls[0].TargetID)
}

func TestSubmitAttempt_MismatchKeepsChallengeOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		assert.ErrorIs(t, f.gate.SubmitAttempt(ctx, "000000"), ErrMismatch)
	}
	assert.Equal(t, domain.StateAwaitingVerification, f.gate.State())
	assert.True(t, h.Active())
	assert.Zero(t, f.execs[domain.ActionDisableUser].n())
	assert.Equal(t, 20, f.events.count(domain.EventMismatch))

	require.NoError(t, f.gate.SubmitAttempt(ctx, "111111"))
	assert.Equal(t, 1, f.execs[domain.ActionDisableUser].n())
}

func TestSubmitAttempt_CorrectCodeAfterTTLIsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)

	f.clock.Advance(301 * time.Second)

	assert.ErrorIs(t, f.gate.SubmitAttempt(ctx, "111111"), ErrExpired)
	assert.Zero(t, f.execs[domain.ActionDisableUser].n())
	assert.Equal(t, domain.StateExpiredUnresolved, f.gate.State())
	assert.Equal(t, 1, f.events.count(domain.EventExpired))
	assert.Zero(t, f.clock.Pending())

	// a wrong code is also reported as expired
	assert.ErrorIs(t, f.gate.SubmitAttempt(ctx, "999999"), ErrExpired)
	assert.Equal(t, 1, f.events.count(domain.EventExpired))
}

func TestCountdown_TicksAndExpiresOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.RequestAction(context.Background(), disableUser("U123"))
	require.NoError(t, err)

	f.clock.Advance(3 * time.Second)
	assert.Equal(t, []int{299, 298, 297}, f.events.ticks())

	f.clock.Advance(10 * time.Minute)
	ticks := f.events.ticks()
	assert.Len(t, ticks, 300)
	assert.Equal(t, 0, ticks[len(ticks)-1])
	assert.Equal(t, 1, f.events.count(domain.EventExpired))
	assert.Equal(t, domain.StateExpiredUnresolved, f.gate.State())
}

// sluggishClock reports the time but never fires callbacks, modelling a submission that
// lands after the deadline but before the final tick is delivered.
type sluggishClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *sluggishClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *sluggishClock) AfterFunc(time.Duration, func()) timer.Cancel {
	return func() bool { return true }
}

func (c *sluggishClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestSubmitAttempt_RacingFinalTickIsExpired(t *testing.T) {
	clock := &sluggishClock{now: epoch}
	events := &eventLog{}
	exec := &callLog{}
	reg := NewRegistry()
	reg.Register(domain.ActionDisableUser, exec)
	g, err := New("op-1", Deps{Executors: reg, Clock: clock, Generator: sequenceGenerator(), Publisher: events})
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	_, err = g.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)

	clock.set(epoch.Add(300 * time.Second))
	assert.ErrorIs(t, g.SubmitAttempt(ctx, "111111"), ErrExpired)
	assert.Zero(t, exec.n())
	assert.Equal(t, domain.StateExpiredUnresolved, g.State())
	assert.Equal(t, 1, events.count(domain.EventExpired))
}

func TestResend_InvalidatesPreviousCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)

	f.clock.Advance(100 * time.Second)
	second, err := f.gate.Resend(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.ChallengeID, second.ChallengeID)
	assert.False(t, first.Active())
	assert.Equal(t, 300, second.Remaining())
	assert.Equal(t, 1, f.events.count(domain.EventChallengeResent))

	// the old countdown must not keep running
	f.clock.Advance(250 * time.Second)
	assert.Equal(t, domain.StateAwaitingVerification, f.gate.State())
	assert.Equal(t, 50, second.Remaining())
	assert.Equal(t, 1, f.clock.Pending())

	assert.ErrorIs(t, f.gate.SubmitAttempt(ctx, "111111"), ErrMismatch)
	require.NoError(t, f.gate.SubmitAttempt(ctx, "222222"))
	assert.Equal(t, 1, f.execs[domain.ActionDisableUser].n())
}

func TestResend_RecoversFromExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)
	f.clock.Advance(301 * time.Second)
	require.ErrorIs(t, f.gate.SubmitAttempt(ctx, "111111"), ErrExpired)

	h, err := f.gate.Resend(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingVerification, f.gate.State())
	assert.Equal(t, f.clock.Now().Add(300*time.Second), h.ExpiresAt)

	require.NoError(t, f.gate.SubmitAttempt(ctx, "222222"))
	calls := f.execs[domain.ActionDisableUser]
	require.Equal(t, 1, calls.n())
	assert.Equal(t, "U123", calls.calls[0].TargetID)
}

func TestResend_WithoutActionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.Resend(ctx)
	assert.ErrorIs(t, err, ErrNoActiveChallenge)

	_, err = f.gate.RequestAction(ctx, disableUser("U1"))
	require.NoError(t, err)
	require.NoError(t, f.gate.Cancel(ctx))
	_, err = f.gate.Resend(ctx)
	assert.ErrorIs(t, err, ErrNoActiveChallenge)
}

func TestRequestAction_SupersedesOutstandingChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.gate.RequestAction(ctx, disableUser("U1"))
	require.NoError(t, err)
	_, err = f.gate.RequestAction(ctx, domain.PendingAction{
		Kind:     domain.ActionChangeRole,
		TargetID: "U2",
		Payload:  json.RawMessage(`{"role":"MANAGER"}`),
	})
	require.NoError(t, err)
	assert.False(t, first.Active())

	assert.ErrorIs(t, f.gate.SubmitAttempt(ctx, "111111"), ErrMismatch)
	require.NoError(t, f.gate.SubmitAttempt(ctx, "222222"))

	assert.Zero(t, f.execs[domain.ActionDisableUser].n())
	require.Equal(t, 1, f.execs[domain.ActionChangeRole].n())
	assert.Equal(t, "U2", f.execs[domain.ActionChangeRole].calls[0].TargetID)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)

	require.NoError(t, f.gate.Cancel(ctx))
	assert.Equal(t, domain.StateCancelled, f.gate.State())
	assert.Zero(t, f.clock.Pending())
	assert.Equal(t, 1, f.events.count(domain.EventCancelled))

	f.clock.Advance(time.Hour)
	assert.Empty(t, f.events.ticks())
	assert.ErrorIs(t, f.gate.SubmitAttempt(ctx, "111111"), ErrNoActiveChallenge)
	assert.Zero(t, f.execs[domain.ActionDisableUser].n())
}

func TestCancel_Idle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.gate.Cancel(context.Background()))
	assert.Equal(t, domain.StateCancelled, f.gate.State())
	assert.Zero(t, f.events.count(domain.EventCancelled))
}

func TestCancel_AfterVerifiedFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)
	require.NoError(t, f.gate.SubmitAttempt(ctx, "111111"))

	assert.ErrorIs(t, f.gate.Cancel(ctx), ErrAlreadyVerified)
	assert.Equal(t, domain.StateVerified, f.gate.State())

	// a new request starts over from Verified
	_, err = f.gate.RequestAction(ctx, disableUser("U124"))
	require.NoError(t, err)
	require.NoError(t, f.gate.Cancel(ctx))
}

func TestSubmitAttempt_ExecutorFailure(t *testing.T) {
	boom := errors.New("user store unavailable")
	f := newFixture(t)
	f.execs[domain.ActionDisableUser].err = boom
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)

	err = f.gate.SubmitAttempt(ctx, "111111")
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, domain.StateVerified, f.gate.State())
	assert.Equal(t, 1, f.events.count(domain.EventExecutionFailed))

	assert.ErrorIs(t, f.gate.SubmitAttempt(ctx, "111111"), ErrNoActiveChallenge)
	assert.Equal(t, 1, f.execs[domain.ActionDisableUser].n())
}

func TestSubmitAttempt_ConcurrentCorrectCodesExecuteOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.gate.SubmitAttempt(ctx, "111111")
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrNoActiveChallenge)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, f.execs[domain.ActionDisableUser].n())
}

func TestDispatch_DeliversCodeAsynchronously(t *testing.T) {
	deliveries := make(chan Delivery, 2)
	f := newFixture(t, func(d *Deps) {
		d.Dispatcher = DispatcherFunc(func(_ context.Context, del Delivery) error {
			deliveries <- del
			return nil
		})
	})
	h, err := f.gate.RequestAction(context.Background(), disableUser("U123"))
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		assert.Equal(t, h.ChallengeID, d.ChallengeID)
		assert.Equal(t, "111111", d.Code)
		assert.Equal(t, "op-1", d.Owner)
		assert.Equal(t, "U123", d.Action.TargetID)
		assert.Equal(t, h.ExpiresAt, d.ExpiresAt)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery not dispatched")
	}
}

func TestDispatch_FailureDoesNotAffectGate(t *testing.T) {
	done := make(chan struct{})
	f := newFixture(t, func(d *Deps) {
		d.Dispatcher = DispatcherFunc(func(context.Context, Delivery) error {
			defer close(done)
			return errors.New("sms provider down")
		})
	})
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)
	<-done

	assert.Equal(t, domain.StateAwaitingVerification, f.gate.State())
	require.NoError(t, f.gate.SubmitAttempt(ctx, "111111"))
}

func TestDispatch_DoesNotBlockRequest(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(d *Deps) {
		d.Dispatcher = DispatcherFunc(func(ctx context.Context, _ Delivery) error {
			<-release
			return nil
		})
	})
	defer close(release)

	returned := make(chan struct{})
	go func() {
		_, _ = f.gate.RequestAction(context.Background(), disableUser("U123"))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("RequestAction blocked on dispatch")
	}
}

func TestEvents_NeverCarryCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)
	_ = f.gate.SubmitAttempt(ctx, "000000")
	f.clock.Advance(2 * time.Second)
	require.NoError(t, f.gate.SubmitAttempt(ctx, "111111"))

	for _, e := range f.events.all() {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		assert.NotContains(t, string(b), "111111", "event %s leaks the code", e.Type)
		assert.Equal(t, "op-1", e.Owner)
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.gate.RequestAction(ctx, disableUser("U123"))
	require.NoError(t, err)

	f.gate.Close()
	f.gate.Close()
	assert.Zero(t, f.clock.Pending())

	_, err = f.gate.RequestAction(ctx, disableUser("U123"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.gate.SubmitAttempt(ctx, "111111"), ErrClosed)
	assert.ErrorIs(t, f.gate.Cancel(ctx), ErrClosed)
	_, err = f.gate.Resend(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGate_RealClockExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("uses the wall clock")
	}
	reg := NewRegistry()
	exec := &callLog{}
	reg.Register(domain.ActionDisableUser, exec)
	events := &eventLog{}
	g, err := New("op-1", Deps{Executors: reg, Generator: sequenceGenerator(), Publisher: events, TTL: time.Second})
	require.NoError(t, err)
	defer g.Close()

	_, err = g.RequestAction(context.Background(), disableUser("U123"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return g.State() == domain.StateExpiredUnresolved
	}, 3*time.Second, 20*time.Millisecond)
	assert.ErrorIs(t, g.SubmitAttempt(context.Background(), "111111"), ErrExpired)
	assert.Zero(t, exec.n())
}
