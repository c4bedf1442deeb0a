package repository

import (
	"context"

	"kallied-admin/backend/internal/policy/domain"
)

// Repository defines persistence for gate policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	List(ctx context.Context) ([]*domain.Policy, error)
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	Update(ctx context.Context, p *domain.Policy) error
	Delete(ctx context.Context, id string) error
}
