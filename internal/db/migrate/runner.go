// Package migrate runs database migrations from embedded SQL files using golang-migrate.
package migrate

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"kallied-admin/backend/internal/db"
)

// Directions accepted by Run.
const (
	Up   = "up"
	Down = "down"
)

// ErrNoChange is returned when Up/Down has nothing to do (already at target version).
var ErrNoChange = migrate.ErrNoChange

// ErrDirtyVersion means a previous migration failed halfway and needs manual repair.
var ErrDirtyVersion = errors.New("migrate: database version is dirty")

func open(dsn string) (*migrate.Migrate, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

// Run applies every pending migration (up) or rolls back every applied one (down).
// Being already at the target is not an error.
func Run(dsn, direction string) error {
	if direction != Up && direction != Down {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	m, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	if direction == Up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Version reports the applied schema version; 0 means no migration has run.
func Version(dsn string) (uint, error) {
	m, err := open(dsn)
	if err != nil {
		return 0, err
	}
	defer func() { _, _ = m.Close() }()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, fmt.Errorf("%w at %d", ErrDirtyVersion, v)
	}
	return v, nil
}
