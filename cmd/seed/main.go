// seed creates the first administrator from SEED_ADMIN_EMAIL, SEED_ADMIN_NAME and SEED_ADMIN_PASSWORD.
// Idempotent: an existing account with that email is left untouched.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"kallied-admin/backend/internal/config"
	"kallied-admin/backend/internal/db"
	"kallied-admin/backend/internal/logging"
	"kallied-admin/backend/internal/security"
	userrepo "kallied-admin/backend/internal/user/repository"
	userservice "kallied-admin/backend/internal/user/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, closeLog, err := logging.New(cfg.LogOptions("kallied-admin-seed"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("seed failed", zap.Error(err))
		_ = closeLog()
		os.Exit(1)
	}
	_ = closeLog()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.SeedAdminEmail == "" || cfg.SeedAdminPassword == "" {
		return errors.New("SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD are required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	u, created, err := userservice.EnsureAdmin(ctx, userrepo.NewPostgresRepository(conn),
		security.NewHasher(cfg.BcryptCost), cfg.SeedAdminEmail, cfg.SeedAdminName, cfg.SeedAdminPassword)
	if err != nil {
		return err
	}
	if !created {
		logger.Info("administrator already exists, skipping", zap.String("email", u.Email))
		return nil
	}
	logger.Info("administrator created", zap.String("email", u.Email), zap.String("user_id", u.ID))
	return nil
}
