package repository

import (
	"context"
	"database/sql"
	"errors"

	"kallied-admin/backend/internal/policy/domain"
)

const policyColumns = `id, name, rules, enabled, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a policy repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the policy for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	var p domain.Policy
	err := r.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Rules, &p.Enabled, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// List returns every policy, oldest first.
func (r *PostgresRepository) List(ctx context.Context) ([]*domain.Policy, error) {
	return r.query(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY created_at, id`)
}

// ListEnabled returns enabled policies, oldest first.
func (r *PostgresRepository) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	return r.query(ctx, `SELECT `+policyColumns+` FROM policies WHERE enabled ORDER BY created_at, id`)
}

func (r *PostgresRepository) query(ctx context.Context, q string) ([]*domain.Policy, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.Policy{}
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.ID, &p.Name, &p.Rules, &p.Enabled, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Create persists the policy. The policy must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Policy) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO policies (`+policyColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.Name, p.Rules, p.Enabled, p.CreatedAt, p.UpdatedAt)
	return err
}

// Update updates the existing policy record. A missing row is not an error.
func (r *PostgresRepository) Update(ctx context.Context, p *domain.Policy) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE policies SET name = $2, rules = $3, enabled = $4, updated_at = $5 WHERE id = $1`,
		p.ID, p.Name, p.Rules, p.Enabled, p.UpdatedAt)
	return err
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, id)
	return err
}
