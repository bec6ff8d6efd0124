package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/config"
	"github.com/mahaj/livechat/pkg/db"
	"github.com/mahaj/livechat/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "messaging terminated with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config.Messaging
	if err := config.Load(&cfg); err != nil {
		return err
	}

	logger, err := logging.New("messaging", cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.Keyspace, logger); err != nil {
		return err
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	repo := db.NewMessageRepository(session, cfg.Collection)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.GroupID, map[string]MessageWriter{
		cfg.Collection: repo,
	}, logger)
	defer consumer.Close()

	logger.Info("starting kafka consumer", zap.String("topic", cfg.KafkaTopic), zap.String("group", cfg.GroupID))
	consumer.Consume(ctx)
	logger.Info("kafka consumer stopped")
	return nil
}
