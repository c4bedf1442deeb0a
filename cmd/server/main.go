// Command server runs the K-Allied admin API: REST and WebSocket over HTTP plus gRPC health.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kallied-admin/backend/internal/app"
	"kallied-admin/backend/internal/config"
	"kallied-admin/backend/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, closeLog, err := logging.New(cfg.LogOptions("kallied-admin-backend"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		_ = closeLog()
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		_ = closeLog()
		os.Exit(1)
	}
	logger.Info("server stopped")
}
