// Package main is the entry point for the AI-Guard gateway binary. It
// dispatches three subcommands — serve, ensure-indexes, and version — via a
// simple switch on os.Args so the binary's full CLI surface is readable in
// one place without a CLI framework. The serve command ensures store
// indexes on startup so freshly deployed containers never need a separate
// bootstrap step.
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

	"github.com/ai-guard/ai-guard/internal/api"
	"github.com/ai-guard/ai-guard/internal/auth/identity"
	"github.com/ai-guard/ai-guard/internal/config"
	"github.com/ai-guard/ai-guard/internal/crypto"
	"github.com/ai-guard/ai-guard/internal/db"
	"github.com/ai-guard/ai-guard/internal/telemetry"
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

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "ensure-indexes":
		return ensureIndexes(cfg)
	case "version":
		fmt.Printf("AI-Guard v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, ensure-indexes, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise the structured logger first so all subsequent output uses
	// the configured format and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	client, err := db.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.MaxPoolSize)
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()
	slog.Info("connected to document store", "database", cfg.Mongo.Database)

	database := client.Database(cfg.Mongo.Database)
	if err := db.EnsureIndexes(ctx, database); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	slog.Info("store indexes ensured")

	telemetry.StartMongoStatsCollector(client)

	vault, err := crypto.NewVault(cfg.Encryption.Key)
	if err != nil {
		return fmt.Errorf("failed to initialise credential vault: %w", err)
	}

	// The identity verifier is optional infrastructure: a failed init means
	// PAT-only operation, not a dead gateway.
	var verifier identity.Verifier
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	verifier, err = identity.NewVerifier(initCtx, &cfg.Identity)
	cancel()
	if err != nil {
		slog.Warn("identity verifier unavailable, serving PAT-only traffic", "error", err)
		verifier = nil
	} else {
		slog.Info("identity verifier initialised")
	}

	// Prometheus metrics live on a dedicated port, off the public ingress.
	if cfg.Telemetry.MetricsEnabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.PrometheusPort)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	router, bgServices := api.NewRouter(cfg, database, vault, verifier)

	server := &http.Server{
		Addr:        cfg.Server.GetAddress(),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout must accommodate long-lived streaming responses.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Server.GetAddress(), "version", version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs after in-flight requests have drained.
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func ensureIndexes(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := db.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.MaxPoolSize)
	if err != nil {
		return fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	if err := db.EnsureIndexes(ctx, client.Database(cfg.Mongo.Database)); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	slog.Info("store indexes ensured", "database", cfg.Mongo.Database)
	return nil
}
