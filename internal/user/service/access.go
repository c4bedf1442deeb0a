package service

import (
	"context"

	"kallied-admin/backend/internal/user/domain"
	userrepo "kallied-admin/backend/internal/user/repository"
)

// Access reads an account's live status and role for request authorization, so a disabled or
// re-roled user loses access before their token expires.
type Access struct {
	repo userrepo.Repository
}

// NewAccess returns an Access backed by repo.
func NewAccess(repo userrepo.Repository) *Access {
	return &Access{repo: repo}
}

// CurrentAccess returns the stored role of userID and whether the account may still act.
// A missing account is inactive, not an error.
func (a *Access) CurrentAccess(ctx context.Context, userID string) (string, bool, error) {
	u, err := a.repo.GetByID(ctx, userID)
	if err != nil {
		return "", false, err
	}
	if u == nil || u.Status != domain.UserStatusActive {
		return "", false, nil
	}
	return string(u.Role), true, nil
}
