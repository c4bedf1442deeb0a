package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"kallied-admin/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log to the database. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_logs (id, user_id, action, resource, resource_id, ip, status, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, nullString(a.UserID), a.Action, a.Resource, nullString(a.ResourceID), a.IP,
		sql.NullInt32{Int32: int32(a.Status), Valid: a.Status != 0}, nullString(a.Metadata), a.CreatedAt)
	return err
}

// List returns audit logs matching f, newest first. Returns (nil, error) only on database errors.
func (r *PostgresRepository) List(ctx context.Context, f domain.Filter) ([]*domain.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("user_id", f.UserID)
	add("action", f.Action)
	add("resource", f.Resource)

	q := `SELECT id, user_id, action, resource, resource_id, ip, status, metadata, created_at FROM activity_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.AuditLog{}
	for rows.Next() {
		var (
			a                        domain.AuditLog
			userID, resourceID, meta sql.NullString
			status                   sql.NullInt32
		)
		if err := rows.Scan(&a.ID, &userID, &a.Action, &a.Resource, &resourceID, &a.IP, &status, &meta, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = userID.String
		a.ResourceID = resourceID.String
		a.Metadata = meta.String
		a.Status = int(status.Int32)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
