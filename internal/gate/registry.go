package gate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"kallied-admin/backend/internal/gate/domain"
)

// Executor performs a verified action. It is called at most once per challenge, only after
// verification succeeds, and never while the gate's lock is held.
type Executor interface {
	Execute(ctx context.Context, action domain.PendingAction) error
}

// Validator is implemented by executors that can reject a malformed action before a code is
// issued. The payload stays opaque to the gate.
type Validator interface {
	Validate(action domain.PendingAction) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action domain.PendingAction) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, action domain.PendingAction) error {
	return f(ctx, action)
}

// Registry maps action kinds to executors. Adding a gated action means registering it here.
type Registry struct {
	mu        sync.RWMutex
	executors map[domain.ActionKind]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[domain.ActionKind]Executor)}
}

// Register binds kind to exec. Registering a kind twice is a programming error and panics.
func (r *Registry) Register(kind domain.ActionKind, exec Executor) {
	if exec == nil {
		panic(fmt.Sprintf("gate: nil executor for %q", kind))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.executors[kind]; dup {
		panic(fmt.Sprintf("gate: executor for %q registered twice", kind))
	}
	r.executors[kind] = exec
}

// Lookup returns the executor for kind.
func (r *Registry) Lookup(kind domain.ActionKind) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[kind]
	return e, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []domain.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ActionKind, 0, len(r.executors))
	for k := range r.executors {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
