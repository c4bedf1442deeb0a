package repository

import (
	"context"

	"kallied-admin/backend/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// List returns entries matching f, newest first.
	List(ctx context.Context, f domain.Filter) ([]*domain.AuditLog, error)
}
