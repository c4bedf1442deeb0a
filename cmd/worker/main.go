// Worker consumes gate events from Kafka and pushes them to Loki.
// Set KAFKA_BROKERS, GATE_EVENTS_TOPIC, KAFKA_GROUP_ID and LOKI_URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"kallied-admin/backend/internal/config"
	"kallied-admin/backend/internal/logging"
	"kallied-admin/backend/internal/telemetry/loki"
)

const pushTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, closeLog, err := logging.New(cfg.LogOptions("kallied-admin-worker"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("worker failed", zap.Error(err))
		_ = closeLog()
		os.Exit(1)
	}
	_ = closeLog()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	client, err := loki.NewClient(cfg.LokiURL, pushTimeout)
	if err != nil {
		return err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.GateEventsTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	logger.Info("consuming gate events",
		zap.String("topic", cfg.GateEventsTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.String("loki", cfg.LokiURL))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker stopped")
				return nil
			}
			logger.Warn("kafka read failed", zap.Error(err))
			continue
		}
		if err := client.PushEventJSON(ctx, msg.Value); err != nil {
			logger.Warn("loki push failed",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset))
		}
	}
}
