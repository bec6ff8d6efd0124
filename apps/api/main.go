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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/auth"
	"github.com/mahaj/livechat/pkg/config"
	"github.com/mahaj/livechat/pkg/db"
	"github.com/mahaj/livechat/pkg/logging"
	"github.com/mahaj/livechat/pkg/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api terminated with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config.API
	if err := config.Load(&cfg); err != nil {
		return err
	}

	logger, err := logging.New("api", cfg.LogLevel, cfg.LogFile)
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

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	sessions := session.New(rdb)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)

	router := NewRouter(
		NewIdentityHandler(sessions, sessions, issuer, logger),
		NewHistoryHandler(db.NewMessageRepository(scylla, cfg.Collection), logger),
		auth.NewVerifier(issuer, sessions),
		logger,
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("api service starting", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func NewRouter(identity *IdentityHandler, history *HistoryHandler, tokens TokenVerifier, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLog(logger), CORSMiddleware)

	// Public endpoints
	r.Post("/login", identity.Login)
	r.Method(http.MethodGet, "/messages", history)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(tokens, logger))
		r.Post("/logout", identity.Logout)
		r.Get("/me", identity.Me)
	})

	return r
}
