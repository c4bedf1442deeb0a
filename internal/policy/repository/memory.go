package repository

import (
	"context"
	"sort"
	"sync"

	"kallied-admin/backend/internal/policy/domain"
)

// MemoryRepository keeps policies in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	policies map[string]domain.Policy
}

// NewMemoryRepository returns an empty in-memory policy repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{policies: make(map[string]domain.Policy)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// List returns every policy, oldest first.
func (r *MemoryRepository) List(ctx context.Context) ([]*domain.Policy, error) {
	return r.list(false), nil
}

// ListEnabled returns enabled policies, oldest first.
func (r *MemoryRepository) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	return r.list(true), nil
}

func (r *MemoryRepository) list(enabledOnly bool) []*domain.Policy {
	r.mu.RLock()
	out := make([]*domain.Policy, 0, len(r.policies))
	for _, p := range r.policies {
		if enabledOnly && !p.Enabled {
			continue
		}
		p := p
		out = append(out, &p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryRepository) Create(ctx context.Context, p *domain.Policy) error {
	r.mu.Lock()
	r.policies[p.ID] = *p
	r.mu.Unlock()
	return nil
}

// Update replaces an existing policy; a missing id is a no-op.
func (r *MemoryRepository) Update(ctx context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[p.ID]; ok {
		r.policies[p.ID] = *p
	}
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.policies, id)
	r.mu.Unlock()
	return nil
}
