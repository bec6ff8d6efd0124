package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mahaj/livechat/pkg/chat"
	"github.com/mahaj/livechat/pkg/config"
	"github.com/mahaj/livechat/pkg/identity"
	"github.com/mahaj/livechat/pkg/logging"
	"github.com/mahaj/livechat/pkg/messages"
	"github.com/mahaj/livechat/pkg/model"
	"github.com/mahaj/livechat/pkg/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config.Client
	if err := config.Load(&cfg); err != nil {
		return err
	}

	gatewayURL := flag.String("gateway", cfg.GatewayURL, "gateway websocket url")
	apiURL := flag.String("api", cfg.APIURL, "identity service url")
	logFile := flag.String("log", cfg.LogFile, "log file")
	restoreDraft := flag.Bool("restore-draft", cfg.RestoreDraft, "put the draft back when sending fails")
	flag.Parse()

	// The terminal belongs to the UI, so logs always go to a file.
	if *logFile == "" {
		*logFile = "client.log"
	}
	logger, err := logging.New("client", cfg.LogLevel, *logFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := tui.New(logger)

	provider := identity.NewProvider(identity.NewClient(*apiURL), app,
		identity.WithLogger(logger),
		identity.WithSignInErrorHandler(func(err error) {
			logger.Info("sign-in did not complete", zap.Error(err))
		}),
	)

	store, err := messages.Dial(ctx, *gatewayURL, provider,
		messages.WithCollection(model.DefaultCollection),
		messages.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithAppendTimeout(cfg.AppendTimeout),
	}
	if *restoreDraft {
		opts = append(opts, chat.WithDraftRestoreOnFailure())
	}
	controller := chat.New(provider, store, app, opts...)
	app.Bind(controller)

	controller.Activate(ctx)
	defer controller.Deactivate()

	go func() {
		<-ctx.Done()
		app.Stop()
	}()

	logger.Info("client started", zap.String("gateway", *gatewayURL), zap.String("api", *apiURL))
	return app.Run()
}
