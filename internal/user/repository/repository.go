package repository

import (
	"context"
	"errors"

	"kallied-admin/backend/internal/user/domain"
)

// ErrEmailTaken is returned by Create and Update when another user already has the email.
var ErrEmailTaken = errors.New("email already in use")

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, f domain.Filter) ([]*domain.User, error)
	Stats(ctx context.Context) (domain.Stats, error)
	Create(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
}
