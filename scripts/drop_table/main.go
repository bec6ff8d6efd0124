package main

import (
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

	logger, err := logging.New("drop-table", cfg.LogLevel, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		logger.Fatal("failed to connect to ScyllaDB", zap.Error(err))
	}
	defer session.Close()

	logger.Info("dropping table messages")
	if err := session.Query("DROP TABLE IF EXISTS messages").Exec(); err != nil {
		logger.Fatal("failed to drop table", zap.Error(err))
	}
	logger.Info("table dropped")
}
