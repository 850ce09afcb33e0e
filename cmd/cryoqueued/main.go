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

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"cryoqueue-backend/config"
	"cryoqueue-backend/internal/api"
	"cryoqueue-backend/internal/clock"
	"cryoqueue-backend/internal/db"
	"cryoqueue-backend/internal/events"
	"cryoqueue-backend/internal/lifecycle"
	"cryoqueue-backend/internal/monitor"
	"cryoqueue-backend/internal/notification"
	"cryoqueue-backend/internal/reminder"
	"cryoqueue-backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	logger := log.With().Str("service", "cryoqueued").Logger()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)
	logger.Info().Msg("database initialized")

	var (
		webpushOptions *webpush.Options
		delivery       notification.Deliverer = notification.Discard{}
	)
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appStore, webpushOptions,
			logger.With().Str("component", "push").Logger())
		pool.Start(ctx)
		delivery = pool
	} else {
		logger.Warn().Msg("VAPID keys are not configured; browser push is disabled")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		bus, err := events.NewBus(cfg.Events.NATSURL, cfg.Events.Subject,
			nats.Name("cryoqueued"), nats.MaxReconnects(-1))
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.Events.NATSURL).Msg("failed to connect to NATS")
		}
		defer bus.Close()
		publisher = bus
		logger.Info().Str("subject", cfg.Events.Subject).Msg("publishing queue updates")
	}

	c := clock.Real{}
	svc := lifecycle.New(appStore, lifecycle.Options{
		Clock:          c,
		Delivery:       delivery,
		Events:         publisher,
		CheckoutSnooze: time.Duration(cfg.Reminders.CheckoutSnoozeHours) * time.Hour,
		CheckinSnooze:  time.Duration(cfg.Reminders.CheckinSnoozeHours) * time.Hour,
		AdminUserIDs:   cfg.Notifications.AdminUserIDs,
	}, logger)

	scanner, err := reminder.New(cfg.Reminders, appStore, svc.Policy(), delivery, c, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure reminder scanner")
	}
	go scanner.Run(ctx)

	go monitor.NewService(cfg.Monitor, appStore, c, logger).Run(ctx)

	staleAfter := time.Duration(cfg.Monitor.StaleAfterSeconds) * time.Second
	handler := api.NewHandler(appStore, svc, webpushOptions, c, staleAfter)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, stopping services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	logger.Info().Msg("server gracefully stopped")
}
