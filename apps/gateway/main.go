package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/auth"
	"github.com/mahaj/livechat/pkg/config"
	"github.com/mahaj/livechat/pkg/db"
	"github.com/mahaj/livechat/pkg/docstore"
	"github.com/mahaj/livechat/pkg/logging"
	"github.com/mahaj/livechat/pkg/session"
	"github.com/mahaj/livechat/pkg/snowflake"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway terminated with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config.Gateway
	if err := config.Load(&cfg); err != nil {
		return err
	}

	logger, err := logging.New("gateway", cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scylla, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		return err
	}
	defer scylla.Close()

	seed, err := db.NewMessageRepository(scylla, cfg.Collection).List(ctx)
	if err != nil {
		return err
	}
	collection := docstore.NewCollection(cfg.Collection, seed)
	logger.Info("collection loaded", zap.String("collection", cfg.Collection), zap.Int("documents", len(seed)))

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()

	verifier := auth.NewVerifier(auth.NewIssuer(cfg.JWTSecret, 0), session.New(rdb))

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return err
	}

	producer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer producer.Close()

	// Unique group per instance so every gateway sees every message. Reading
	// from the first offset covers whatever landed between the Scylla load
	// and now; the collection drops the duplicates.
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     "gateway-fanout-" + uuid.NewString(),
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
	})
	defer consumer.Close()

	go func() {
		if err := consumeFanout(ctx, consumer, collection, logger); err != nil {
			logger.Error("fan-out consumer stopped", zap.Error(err))
		}
	}()

	hub := NewHub(collection, &kafkaPublisher{writer: producer, collection: cfg.Collection}, verifier, node, cfg.PublishTimeout, logger)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("gateway service starting", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
