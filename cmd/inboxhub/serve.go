package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"inbox-hub/internal/api"
	"inbox-hub/internal/autoreply"
	"inbox-hub/internal/config"
	"inbox-hub/internal/conversation"
	"inbox-hub/internal/inbox"
	"inbox-hub/internal/ingest"
	"inbox-hub/internal/llm"
	"inbox-hub/internal/manager"
	"inbox-hub/internal/messaging"
	"inbox-hub/internal/metrics"
	"inbox-hub/internal/normalize"
	"inbox-hub/internal/outbound"
	"inbox-hub/internal/realtime"
	"inbox-hub/internal/storage"
)

const (
	queueDepthInterval = 10 * time.Second
	shutdownTimeout    = 10 * time.Second
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, realtime hub and auto-reply workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "apply database migrations before starting")
}

func runServe(cmd *cobra.Command, args []string) error {
	metrics.Init()

	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	log.Info("configuration loaded", slog.String("queue_driver", cfg.Queue.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if autoMigrate {
		if err := storage.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		log.Info("migrations applied")
	}

	db, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("postgres connected")

	hub := realtime.NewHub(log)
	defer hub.Close()
	if cfg.Redis.URL != "" {
		relay, err := realtime.NewRedisRelay(cfg.Redis.URL, hub, log)
		if err != nil {
			return err
		}
		defer relay.Close()
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis relay stopped", slog.Any("error", err))
			}
		}()
		log.Info("redis relay enabled")
	}

	ingestSvc := ingest.NewService(normalize.New(db), db, hub, log)
	machine := conversation.NewMachine(db, hub, log)
	sink := outbound.NewHTTPSink(cfg.Gateways.WhatsAppURL, cfg.Gateways.MetaURL, cfg.Gateways.Timeout)

	generator := llm.New(llm.Options{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
	}, log)
	policy := autoreply.NewPolicy(db, machine, generator, sink, ingestSvc, autoreply.Options{
		Enabled:           cfg.Bot.Enabled,
		MaxRepliesPerHour: cfg.Bot.MaxRepliesPerHour,
		Timeout:           cfg.Bot.Timeout,
		SystemPrompt:      cfg.Bot.SystemPrompt,
	}, log)

	var rabbit *messaging.RabbitClient
	if cfg.Queue.Driver == config.QueueDriverRabbit {
		rabbit, err = messaging.NewRabbitClient(cfg.RabbitMQ.URL, log)
		if err != nil {
			return err
		}
		defer rabbit.Close()
		log.Info("rabbitmq connected")
	}

	tm := manager.NewTenantManager(rabbit, db, policy.Handle, cfg.Workers, log)
	ingestSvc.SetDispatcher(tm)
	if err := tm.StartAll(ctx); err != nil {
		return err
	}
	defer tm.ShutdownAll()
	go tm.MonitorQueueDepth(ctx, queueDepthInterval)

	inboxSvc := inbox.NewService(db, machine, sink, ingestSvc, log)
	handler := api.NewAPI(tm, db, ingestSvc, inboxSvc, hub, cfg, log)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting API server", slog.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown initiated")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", slog.Any("error", err))
	}
	log.Info("graceful shutdown complete")
	return nil
}
