package repository

import (
	"context"
	"sync"

	"kallied-admin/backend/internal/audit/domain"
)

// MemoryRepository keeps audit logs in process, newest last. Used without a database and in tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditLog
}

// NewMemoryRepository returns an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	c := *a
	r.mu.Lock()
	r.entries = append(r.entries, &c)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, f domain.Filter) ([]*domain.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*domain.AuditLog{}
	skipped := 0
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if !f.Matches(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		c := *e
		out = append(out, &c)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
