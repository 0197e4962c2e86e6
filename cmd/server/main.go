// Package main is the entry point for the Publora binary. It dispatches four
// subcommands (serve, worker, migrate, version) via a simple switch on
// os.Args, so the full CLI surface is readable in one place without a cobra
// dependency. serve runs auto-migration on startup so freshly deployed
// containers never need a separate migration step; worker assumes the schema
// already exists.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/publora/publora/internal/api"
	"github.com/publora/publora/internal/autopost"
	"github.com/publora/publora/internal/config"
	"github.com/publora/publora/internal/crypto"
	"github.com/publora/publora/internal/db"
	"github.com/publora/publora/internal/db/repositories"
	"github.com/publora/publora/internal/jobs"
	"github.com/publora/publora/internal/queue"
	"github.com/publora/publora/internal/safego"
	"github.com/publora/publora/internal/services"
	"github.com/publora/publora/internal/telemetry"
	"github.com/publora/publora/internal/webhooks"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "worker":
		return work(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("Publora v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, worker, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Connect(cfg.Database.DSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	slog.Info("running database migrations")
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	stopStats := make(chan struct{})
	defer close(stopStats)
	safego.Go(func() { telemetry.PollDBStats(database, 15*time.Second, stopStats) })

	rdb := newRedisClient(cfg)
	defer rdb.Close()

	startMetricsServer(cfg)

	router, server, err := api.NewRouter(cfg, database, rdb)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", httpServer.Addr, "base_url", cfg.Server.BaseURL,
			"storage_backend", cfg.Storage.DefaultBackend, "billing_configured", cfg.Billing.Configured())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	waitForSignal()
	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := server.Shutdown(); err != nil {
		slog.Warn("background services did not stop cleanly", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func work(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.DSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	stopStats := make(chan struct{})
	defer close(stopStats)
	safego.Go(func() { telemetry.PollDBStats(database, 15*time.Second, stopStats) })

	rdb := newRedisClient(cfg)
	defer rdb.Close()

	startMetricsServer(cfg)

	cipher, err := crypto.CipherFromKey(cfg.Auth.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token cipher: %w", err)
	}

	posts := repositories.NewPostRepository(database)
	integrations := repositories.NewIntegrationRepository(database)
	autoposts := repositories.NewAutoPostRepository(database)
	hooks := repositories.NewWebhookRepository(database)

	dispatcher := webhooks.NewDispatcher(hooks, 10*time.Second)
	registry := api.BuildProviderRegistry(cfg, rdb)
	publisher := services.NewPublisher(posts, integrations, registry, cipher, dispatcher)
	workflow := autopost.NewWorkflow(autoposts, posts, queue.NewClient(rdb),
		autopost.NewFeedFetcher(nil), nil)

	worker := queue.NewWorker(rdb, cfg.Queue.Concurrency)
	worker.Handle(jobs.QueuePosts, publisher.HandleJob)
	worker.Handle(jobs.QueueAutopost, func(ctx context.Context, job *queue.Job) (any, error) {
		var payload jobs.AutopostPayload
		if err := job.Bind(&payload); err != nil {
			return nil, fmt.Errorf("decode autopost payload: %w", err)
		}
		return nil, workflow.Run(ctx, payload.AutoPostID)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		waitForSignal()
		slog.Info("shutting down worker")
		cancel()
	}()

	slog.Info("starting worker",
		"concurrency", cfg.Queue.Concurrency, "providers", registry.Identifiers())
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("worker stopped: %w", err)
	}
	if err := dispatcher.Close(); err != nil {
		slog.Warn("webhook dispatcher did not stop cleanly", "error", err)
	}
	slog.Info("worker stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.DSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return err
	}
	slog.Info("migrations completed", "direction", direction)
	return nil
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// startMetricsServer exposes Prometheus metrics on a dedicated port so the
// scrape path is never reachable through the public API ingress
func startMetricsServer(cfg *config.Config) {
	if !cfg.Telemetry.MetricsEnabled {
		return
	}
	addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("starting metrics server", "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
}

func waitForSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
