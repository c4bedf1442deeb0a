// Package gate defers sensitive administrative actions behind a one-time passcode challenge.
//
// A Gate holds at most one challenge together with the pending action it protects. Requesting
// or resending replaces the challenge atomically, so exactly one code verifies at any time.
// A correct code within the TTL runs the action's registered executor exactly once.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kallied-admin/backend/internal/gate/domain"
	"kallied-admin/backend/internal/gate/timer"
	"kallied-admin/backend/internal/otp"
)

// DefaultTTL is the validity window of every challenge.
const DefaultTTL = 300 * time.Second

// dispatchTimeout bounds a single out-of-band delivery.
const dispatchTimeout = 15 * time.Second

// Deps holds the collaborators of a Gate. Executors is required; everything else has a default.
type Deps struct {
	// Executors maps action kinds to the code that runs them after verification.
	Executors *Registry
	// Clock drives the countdown and expiry checks. Defaults to the wall clock.
	Clock timer.Clock
	// Generator produces codes. Defaults to otp.CryptoGenerator.
	Generator otp.Generator
	// Dispatcher delivers codes to the approver. If nil, codes are not delivered anywhere.
	Dispatcher Dispatcher
	// Publisher observes lifecycle events. If nil, events are dropped.
	Publisher Publisher
	// Logger records best-effort failures. Defaults to a no-op logger.
	Logger *zap.Logger
	// TTL is the challenge window. Defaults to DefaultTTL; must be whole seconds.
	TTL time.Duration
}

// Gate is the confirmation gate owned by one operator.
type Gate struct {
	owner      string
	ttl        time.Duration
	clock      timer.Clock
	generator  otp.Generator
	dispatcher Dispatcher
	executors  *Registry
	publisher  Publisher
	logger     *zap.Logger
	countdown  *timer.Countdown

	mu        sync.Mutex
	state     domain.State
	challenge *domain.Challenge
	action    *domain.PendingAction
	closed    bool
}

// New returns an idle gate for owner.
func New(owner string, deps Deps) (*Gate, error) {
	if deps.Executors == nil {
		return nil, errors.New("gate: executor registry is required")
	}
	ttl := deps.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < time.Second || ttl%time.Second != 0 {
		return nil, fmt.Errorf("gate: ttl must be a positive whole number of seconds, got %s", ttl)
	}
	clock := deps.Clock
	if clock == nil {
		clock = timer.RealClock{}
	}
	gen := deps.Generator
	if gen == nil {
		gen = otp.CryptoGenerator{}
	}
	pub := deps.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		owner:      owner,
		ttl:        ttl,
		clock:      clock,
		generator:  gen,
		dispatcher: deps.Dispatcher,
		executors:  deps.Executors,
		publisher:  pub,
		logger:     logger.With(zap.String("gate_owner", owner)),
		countdown:  timer.NewCountdown(clock),
		state:      domain.StateIdle,
	}, nil
}

// Owner returns the operator the gate belongs to.
func (g *Gate) Owner() string { return g.owner }

// RequestAction opens a challenge for action, superseding any outstanding one. An executor that
// implements Validator vets the action first. The new code is dispatched to the approver without
// waiting for delivery.
func (g *Gate) RequestAction(ctx context.Context, action domain.PendingAction) (*Handle, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}
	exec, ok := g.executors.Lookup(action.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action.Kind)
	}
	if v, ok := exec.(Validator); ok {
		if err := v.Validate(action); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidAction, err)
		}
	}
	action = action.Clone()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	h, d, ev, err := g.issueLocked(action, domain.EventChallengeIssued)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g.publisher.Publish(ctx, ev)
	g.dispatchAsync(d)
	return h, nil
}

// Resend issues a fresh code for the held action and restarts the window.
// The previous code stops verifying immediately.
func (g *Gate) Resend(ctx context.Context) (*Handle, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	if g.action == nil {
		g.mu.Unlock()
		return nil, ErrNoActiveChallenge
	}
	h, d, ev, err := g.issueLocked(*g.action, domain.EventChallengeResent)
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g.publisher.Publish(ctx, ev)
	g.dispatchAsync(d)
	return h, nil
}

// SubmitAttempt checks code against the active challenge. Expiry is checked before the code, so a
// correct code after the window closes is still ErrExpired. On success the action's executor runs
// once; an executor failure is reported as ErrExecutionFailed but the challenge stays consumed.
func (g *Gate) SubmitAttempt(ctx context.Context, code string) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	ch, pending := g.challenge, g.action
	if ch == nil || pending == nil {
		g.mu.Unlock()
		return ErrNoActiveChallenge
	}
	base := g.eventLocked(domain.EventMismatch)

	if g.state == domain.StateExpiredUnresolved || ch.ExpiredAt(g.clock.Now()) {
		var expiredEv *domain.Event
		if g.state != domain.StateExpiredUnresolved {
			ev := g.expireLocked()
			expiredEv = &ev
		}
		g.mu.Unlock()
		if expiredEv != nil {
			g.publisher.Publish(ctx, *expiredEv)
		}
		return ErrExpired
	}

	if !otp.Equal(code, ch.CodeHash) {
		g.mu.Unlock()
		g.publisher.Publish(ctx, base)
		return ErrMismatch
	}

	g.countdown.Stop()
	ch.State = domain.AttemptVerified
	action := pending.Clone()
	g.challenge, g.action = nil, nil
	g.state = domain.StateVerified
	exec, _ := g.executors.Lookup(action.Kind)
	g.mu.Unlock()

	verified := base
	verified.Type = domain.EventVerified
	verified.RemainingSeconds = 0
	g.publisher.Publish(ctx, verified)

	if err := exec.Execute(ctx, action); err != nil {
		g.logger.Warn("gate: executor failed",
			zap.String("kind", string(action.Kind)),
			zap.String("target_id", action.TargetID),
			zap.Error(err))
		failed := verified
		failed.Type = domain.EventExecutionFailed
		failed.Error = err.Error()
		g.publisher.Publish(ctx, failed)
		return fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	executed := verified
	executed.Type = domain.EventExecuted
	g.publisher.Publish(ctx, executed)
	return nil
}

// Cancel stops the countdown and discards the challenge and action without running anything.
// It is valid in every state except Verified.
func (g *Gate) Cancel(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.state == domain.StateVerified {
		g.mu.Unlock()
		return ErrAlreadyVerified
	}
	had := g.challenge != nil
	ev := g.eventLocked(domain.EventCancelled)
	ev.RemainingSeconds = 0
	g.countdown.Stop()
	if g.challenge != nil {
		g.challenge.State = domain.AttemptCancelled
	}
	g.challenge, g.action = nil, nil
	g.state = domain.StateCancelled
	g.mu.Unlock()
	if had {
		g.publisher.Publish(ctx, ev)
	}
	return nil
}

// Close disposes of the gate: the countdown stops and any outstanding challenge is dropped.
// Close is idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.countdown.Stop()
	g.challenge, g.action = nil, nil
	g.state = domain.StateIdle
}

// State returns the gate's lifecycle state.
func (g *Gate) State() domain.State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Snapshot is a read-only view of the gate for status endpoints.
type Snapshot struct {
	State            domain.State          `json:"state"`
	ChallengeID      string                `json:"challengeId,omitempty"`
	Action           *domain.PendingAction `json:"action,omitempty"`
	ExpiresAt        *time.Time            `json:"expiresAt,omitempty"`
	RemainingSeconds int                   `json:"remainingSeconds"`
}

// Snapshot returns the current state without the code.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{State: g.state}
	if g.challenge != nil {
		s.ChallengeID = g.challenge.ID
		exp := g.challenge.ExpiresAt
		s.ExpiresAt = &exp
		s.RemainingSeconds = g.remainingLocked(g.challenge.ID)
	}
	if g.action != nil {
		a := g.action.Clone()
		s.Action = &a
	}
	return s
}

// issueLocked replaces the challenge and action and restarts the countdown.
func (g *Gate) issueLocked(action domain.PendingAction, evType domain.EventType) (*Handle, Delivery, domain.Event, error) {
	code, err := g.generator.Generate()
	if err != nil {
		return nil, Delivery{}, domain.Event{}, fmt.Errorf("gate: generate code: %w", err)
	}
	if g.challenge != nil {
		g.challenge.State = domain.AttemptCancelled
	}
	now := g.clock.Now()
	ch := &domain.Challenge{
		ID:        uuid.New().String(),
		CodeHash:  otp.Hash(code),
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttl),
		State:     domain.AttemptActive,
	}
	g.challenge = ch
	g.action = &action
	g.state = domain.StateAwaitingVerification

	id := ch.ID
	if err := g.countdown.Start(int(g.ttl/time.Second),
		func(remaining int) { g.onTick(id, remaining) },
		func() { g.onExpire(id) },
	); err != nil {
		return nil, Delivery{}, domain.Event{}, err
	}

	h := &Handle{ChallengeID: id, IssuedAt: ch.IssuedAt, ExpiresAt: ch.ExpiresAt, gate: g}
	d := Delivery{ChallengeID: id, Owner: g.owner, Code: code, ExpiresAt: ch.ExpiresAt, Action: action.Clone()}
	return h, d, g.eventLocked(evType), nil
}

// expireLocked moves an active challenge to ExpiredUnresolved; the action is kept for Resend.
func (g *Gate) expireLocked() domain.Event {
	g.countdown.Stop()
	g.challenge.State = domain.AttemptExpired
	g.state = domain.StateExpiredUnresolved
	ev := g.eventLocked(domain.EventExpired)
	ev.RemainingSeconds = 0
	return ev
}

func (g *Gate) onTick(challengeID string, remaining int) {
	g.mu.Lock()
	if !g.currentLocked(challengeID) {
		g.mu.Unlock()
		return
	}
	ev := g.eventLocked(domain.EventTick)
	ev.RemainingSeconds = remaining
	g.mu.Unlock()
	g.publisher.Publish(context.Background(), ev)
}

func (g *Gate) onExpire(challengeID string) {
	g.mu.Lock()
	if !g.currentLocked(challengeID) {
		g.mu.Unlock()
		return
	}
	ev := g.expireLocked()
	g.mu.Unlock()
	g.logger.Debug("gate: challenge expired", zap.String("challenge_id", challengeID))
	g.publisher.Publish(context.Background(), ev)
}

func (g *Gate) currentLocked(challengeID string) bool {
	return !g.closed &&
		g.challenge != nil &&
		g.challenge.ID == challengeID &&
		g.state == domain.StateAwaitingVerification
}

func (g *Gate) remainingLocked(challengeID string) int {
	if !g.currentLocked(challengeID) {
		return 0
	}
	return g.countdown.Remaining()
}

func (g *Gate) eventLocked(t domain.EventType) domain.Event {
	ev := domain.Event{Type: t, Owner: g.owner, At: g.clock.Now()}
	if g.challenge != nil {
		ev.ChallengeID = g.challenge.ID
		ev.ExpiresAt = g.challenge.ExpiresAt
		ev.RemainingSeconds = g.remainingLocked(g.challenge.ID)
	}
	if g.action != nil {
		ev.Kind = g.action.Kind
		ev.TargetID = g.action.TargetID
	}
	return ev
}

// dispatchAsync delivers the code on its own goroutine with a bounded timeout, detached from the
// request context. Failures are logged only.
func (g *Gate) dispatchAsync(d Delivery) {
	if g.dispatcher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if err := g.dispatcher.Dispatch(ctx, d); err != nil {
			g.logger.Warn("gate: code dispatch failed",
				zap.String("challenge_id", d.ChallengeID),
				zap.String("kind", string(d.Action.Kind)),
				zap.Error(err))
		}
	}()
}
