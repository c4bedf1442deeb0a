package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kallied-admin/backend/internal/user/domain"
	userrepo "kallied-admin/backend/internal/user/repository"
)

// EnsureAdmin creates the first administrator unless a user with email already exists.
// Returns the existing or created user and whether it was created.
func EnsureAdmin(ctx context.Context, repo userrepo.Repository, hasher PasswordHasher, email, name, password string) (*domain.User, bool, error) {
	if email == "" || password == "" {
		return nil, false, errors.New("admin email and password are required")
	}
	existing, err := repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	hash, err := hasher.Hash([]byte(password))
	if err != nil {
		return nil, false, fmt.Errorf("hash admin password: %w", err)
	}
	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Role:         domain.RoleAdmin,
		Status:       domain.UserStatusActive,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.Validate(); err != nil {
		return nil, false, err
	}
	if err := repo.Create(ctx, u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}
