package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"kallied-admin/backend/internal/user/domain"
)

const uniqueViolation = "23505"

const userColumns = `id, email, name, phone, role, status, password_hash, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
	return scanUser(row)
}

// List returns users matching f, newest first.
func (r *PostgresRepository) List(ctx context.Context, f domain.Filter) ([]*domain.User, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Role != "" {
		where = append(where, "role = "+arg(string(f.Role)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := arg("%" + strings.ToLower(q) + "%")
		where = append(where, "(lower(name) LIKE "+p+" OR lower(email) LIKE "+p+")")
	}
	query := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Stats counts users by status and role.
func (r *PostgresRepository) Stats(ctx context.Context) (domain.Stats, error) {
	s := domain.Stats{ByStatus: map[domain.UserStatus]int{}, ByRole: map[domain.Role]int{}}
	rows, err := r.db.QueryContext(ctx, `SELECT status, role, count(*) FROM users GROUP BY status, role`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status, role string
			n            int
		)
		if err := rows.Scan(&status, &role, &n); err != nil {
			return s, err
		}
		s.Total += n
		s.ByStatus[domain.UserStatus(status)] += n
		s.ByRole[domain.Role(role)] += n
	}
	return s, rows.Err()
}

// Create persists the user to the database. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.Name, nullString(u.Phone), string(u.Role), string(u.Status),
		nullString(u.PasswordHash), u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

// Update updates the existing user record. A missing row is not an error.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $2, name = $3, phone = $4, role = $5, status = $6,
			password_hash = $7, updated_at = $8 WHERE id = $1`,
		u.ID, u.Email, u.Name, nullString(u.Phone), string(u.Role), string(u.Status),
		nullString(u.PasswordHash), u.UpdatedAt)
	return mapWriteErr(err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*domain.User, error) {
	var (
		u            domain.User
		phone, hash  sql.NullString
		role, status string
	)
	err := s.Scan(&u.ID, &u.Email, &u.Name, &phone, &role, &status, &hash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Phone = phone.String
	u.PasswordHash = hash.String
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}
