package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"kallied-admin/backend/internal/user/domain"
)

// MemoryRepository keeps users in process. Used when DATABASE_URL is unset and in tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User
}

// NewMemoryRepository returns an empty in-memory user repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*domain.User)}
}

// GetByID returns a copy of the user for id, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

// GetByEmail returns a copy of the user with email (case-insensitive), or nil if not found.
func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u := r.byEmailLocked(email); u != nil {
		c := *u
		return &c, nil
	}
	return nil, nil
}

// List returns users matching f ordered by creation time, newest first.
func (r *MemoryRepository) List(ctx context.Context, f domain.Filter) ([]*domain.User, error) {
	r.mu.RLock()
	out := make([]*domain.User, 0, len(r.users))
	for _, u := range r.users {
		if f.Matches(u) {
			c := *u
			out = append(out, &c)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*domain.User{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// Stats counts users by status and role.
func (r *MemoryRepository) Stats(ctx context.Context) (domain.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := domain.Stats{ByStatus: map[domain.UserStatus]int{}, ByRole: map[domain.Role]int{}}
	for _, u := range r.users {
		s.Total++
		s.ByStatus[u.Status]++
		s.ByRole[u.Role]++
	}
	return s, nil
}

// Create stores a copy of u. The user must have ID set.
func (r *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byEmailLocked(u.Email) != nil {
		return ErrEmailTaken
	}
	c := *u
	r.users[u.ID] = &c
	return nil
}

// Update replaces the stored user with the same ID. Missing users are ignored.
func (r *MemoryRepository) Update(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return nil
	}
	if other := r.byEmailLocked(u.Email); other != nil && other.ID != u.ID {
		return ErrEmailTaken
	}
	c := *u
	r.users[u.ID] = &c
	return nil
}

func (r *MemoryRepository) byEmailLocked(email string) *domain.User {
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}
