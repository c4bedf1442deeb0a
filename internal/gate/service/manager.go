package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"kallied-admin/backend/internal/gate"
	"kallied-admin/backend/internal/gate/domain"
)

// Actor is the authenticated operator driving a gate.
type Actor struct {
	UserID string
	Role   string
}

// Authorizer decides whether a role may request a gated action kind.
type Authorizer interface {
	AllowAction(ctx context.Context, role string, kind domain.ActionKind) (bool, error)
}

// Manager owns one gate per operator. Gates are created on first use and closed on Dispose or CloseAll.
type Manager struct {
	deps       gate.Deps
	authorizer Authorizer
	logger     *zap.Logger

	mu     sync.Mutex
	gates  map[string]*gate.Gate
	closed bool
}

// NewManager returns a Manager building gates from deps. authorizer may be nil, which permits every kind.
func NewManager(deps gate.Deps, authorizer Authorizer) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		deps:       deps,
		authorizer: authorizer,
		logger:     logger,
		gates:      make(map[string]*gate.Gate),
	}
}

// Gate returns the operator's gate, creating it if needed.
func (m *Manager) Gate(ownerID string) (*gate.Gate, error) {
	if ownerID == "" {
		return nil, errors.New("gate owner is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, gate.ErrClosed
	}
	if g, ok := m.gates[ownerID]; ok {
		return g, nil
	}
	g, err := gate.New(ownerID, m.deps)
	if err != nil {
		return nil, err
	}
	m.gates[ownerID] = g
	return g, nil
}

// lookup returns an existing gate without creating one.
func (m *Manager) lookup(ownerID string) (*gate.Gate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gates[ownerID]
	return g, ok
}

// Request checks policy and opens a challenge for action on the actor's gate.
func (m *Manager) Request(ctx context.Context, actor Actor, action domain.PendingAction) (*gate.Handle, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}
	if m.authorizer != nil {
		ok, err := m.authorizer.AllowAction(ctx, actor.Role, action.Kind)
		if err != nil {
			// an undecidable policy denies
			m.logger.Warn("gate: policy evaluation failed",
				zap.String("owner", actor.UserID),
				zap.String("kind", string(action.Kind)),
				zap.Error(err))
			return nil, fmt.Errorf("%w: policy evaluation failed", gate.ErrForbidden)
		}
		if !ok {
			return nil, gate.ErrForbidden
		}
	}
	g, err := m.Gate(actor.UserID)
	if err != nil {
		return nil, err
	}
	action.RequestedBy = actor.UserID
	h, err := g.RequestAction(ctx, action)
	if err != nil {
		return nil, err
	}
	m.logger.Info("gate: challenge issued",
		zap.String("owner", actor.UserID),
		zap.String("kind", string(action.Kind)),
		zap.String("target_id", action.TargetID),
		zap.String("challenge_id", h.ChallengeID))
	return h, nil
}

// Verify submits code against the actor's active challenge.
func (m *Manager) Verify(ctx context.Context, actor Actor, code string) error {
	g, ok := m.lookup(actor.UserID)
	if !ok {
		return gate.ErrNoActiveChallenge
	}
	return g.SubmitAttempt(ctx, code)
}

// Resend reissues the code for the actor's held action.
func (m *Manager) Resend(ctx context.Context, actor Actor) (*gate.Handle, error) {
	g, ok := m.lookup(actor.UserID)
	if !ok {
		return nil, gate.ErrNoActiveChallenge
	}
	return g.Resend(ctx)
}

// Cancel discards the actor's outstanding challenge, if any.
func (m *Manager) Cancel(ctx context.Context, actor Actor) error {
	g, ok := m.lookup(actor.UserID)
	if !ok {
		return nil
	}
	return g.Cancel(ctx)
}

// Status returns the actor's gate snapshot; an operator without a gate is idle.
func (m *Manager) Status(actor Actor) gate.Snapshot {
	g, ok := m.lookup(actor.UserID)
	if !ok {
		return gate.Snapshot{State: domain.StateIdle}
	}
	return g.Snapshot()
}

// Dispose closes and forgets the operator's gate (for example on sign-out).
func (m *Manager) Dispose(ownerID string) {
	m.mu.Lock()
	g, ok := m.gates[ownerID]
	delete(m.gates, ownerID)
	m.mu.Unlock()
	if ok {
		g.Close()
	}
}

// Len returns the number of live gates.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.gates)
}

// CloseAll closes every gate; later calls to Gate fail with gate.ErrClosed.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	gates := m.gates
	m.gates = make(map[string]*gate.Gate)
	m.closed = true
	m.mu.Unlock()
	for _, g := range gates {
		g.Close()
	}
}
