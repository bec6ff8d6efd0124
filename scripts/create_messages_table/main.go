package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/config"
	"github.com/mahaj/livechat/pkg/db"
	"github.com/mahaj/livechat/pkg/logging"
)

func main() {
	var cfg config.Messaging
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New("create-messages-table", cfg.LogLevel, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.Keyspace, logger); err != nil {
		logger.Fatal("failed to create keyspace", zap.Error(err))
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		logger.Fatal("failed to connect to ScyllaDB", zap.Error(err))
	}
	defer session.Close()

	if err := db.NewMessageRepository(session, cfg.Collection).EnsureSchema(context.Background()); err != nil {
		logger.Fatal("failed to create table", zap.Error(err))
	}
	logger.Info("table messages is ready", zap.String("keyspace", cfg.Keyspace))
}
