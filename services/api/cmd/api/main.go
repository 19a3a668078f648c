package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"docvault/internal/events"
	"docvault/internal/notify"
	"docvault/internal/usertoken"
	"docvault/internal/util"
	"docvault/pkg/logs"
	"docvault/pkg/queue"
	"docvault/pkg/storage"
	"docvault/pkg/store"
	"docvault/services/api/internal/app"
	"docvault/services/api/internal/config"
	"docvault/services/api/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}
	blobs, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	documents, err := queue.New(queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Name:     cfg.DocumentQueue,
	})
	if err != nil {
		log.Fatalf("failed to init document queue: %v", err)
	}
	logQueue, err := queue.New(queue.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Name:     cfg.LogQueue,
	})
	if err != nil {
		log.Fatalf("failed to init log queue: %v", err)
	}

	bus, err := events.DialAMQP(cfg.AMQPURL, cfg.RealtimeExchange)
	if err != nil {
		log.Fatalf("failed to connect event bus: %v", err)
	}
	defer bus.Close()

	tokens, err := usertoken.New(usertoken.Config{Secret: cfg.JWTSecret})
	if err != nil {
		log.Fatalf("failed to init token service: %v", err)
	}

	producer := logs.NewProducer(logQueue, bus)
	appCore, err := app.New(app.Config{
		Store:     dataStore,
		Blobs:     blobs,
		Documents: documents,
		Logs:      producer,
		LogReader: logs.NewReader(logQueue),
		Tokens:    tokens,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	hub := notify.NewHub()
	httpServer := server.New(server.Config{
		App:            appCore,
		Tokens:         tokens,
		Hub:            hub,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Worker-published events fan in here and out to sockets.
	if err := bus.Subscribe(ctx, notify.Relay(hub)); err != nil {
		log.Fatalf("failed to subscribe event bus: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api exited", "err", err)
	}
}
