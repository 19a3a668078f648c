package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"docvault/internal/events"
	"docvault/internal/util"
	"docvault/pkg/domain"
	"docvault/pkg/logs"
	"docvault/pkg/queue"
	"docvault/pkg/storage"
	"docvault/pkg/store"
	"docvault/services/worker/internal/config"
	"docvault/services/worker/internal/processor"
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

	retention := queue.Retention{
		Age:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		Count: cfg.RetentionCount,
	}
	documents, err := queue.New(queue.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		Name:      cfg.DocumentQueue,
		Retention: retention,
	})
	if err != nil {
		log.Fatalf("failed to init document queue: %v", err)
	}
	logQueue, err := queue.New(queue.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		Name:      cfg.LogQueue,
		Retention: retention,
	})
	if err != nil {
		log.Fatalf("failed to init log queue: %v", err)
	}

	bus, err := events.DialAMQP(cfg.AMQPURL, cfg.RealtimeExchange)
	if err != nil {
		log.Fatalf("failed to connect event bus: %v", err)
	}
	defer bus.Close()

	producer := logs.NewProducer(logQueue, bus)
	proc := processor.New(processor.Config{
		Store: dataStore,
		Blobs: blobs,
		Bus:   bus,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Terminal job states feed the audit log so the history shows every
	// finished and exhausted job, not just the gateway-side submissions.
	documents.OnCompleted(func(job queue.Job) {
		_ = producer.Add(ctx, domain.LogDocument, fmt.Sprintf("job %s (%s) completed", job.ID, job.Name))
	})
	documents.OnFailed(func(job queue.Job) {
		slog.Error("job exhausted retries", "job", job.Name, "jobId", job.ID, "attempts", job.Attempts, "err", job.Error)
		_ = producer.Add(ctx, domain.LogError, fmt.Sprintf("job %s (%s) failed after %d attempts: %s", job.ID, job.Name, job.Attempts, job.Error))
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("worker consuming", "queue", cfg.DocumentQueue, "concurrency", cfg.QueueConcurrency)
		documents.Run(ctx, cfg.QueueConcurrency, proc.Process)
		<-ctx.Done()
		return nil
	})

	var srv *http.Server
	if cfg.HealthPort != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		srv = &http.Server{Addr: ":" + cfg.HealthPort, Handler: mux}
		g.Go(func() error {
			slog.Info("worker health endpoint listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker exited", "err", err)
	}
}
