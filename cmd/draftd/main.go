// Package main is the entry point for the MSDS draft service.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/internal/backend"
	"github.com/pitabwire/msdsdraft/internal/config"
	"github.com/pitabwire/msdsdraft/internal/draft"
	"github.com/pitabwire/msdsdraft/internal/observability"
	"github.com/pitabwire/msdsdraft/internal/questionnaire"
	"github.com/pitabwire/msdsdraft/internal/schema"
	draftsync "github.com/pitabwire/msdsdraft/internal/sync"
	"github.com/pitabwire/msdsdraft/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "msds-draftd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load the questionnaire schema.
	sch, err := loadSchema(cfg.Schema)
	if err != nil {
		logger.Error("schema loading failed", zap.Error(err))
		return 1
	}

	// Step 5: Open the draft store and drop expired drafts.
	draftBackend, err := buildDraftBackend(ctx, cfg.Drafts, logger)
	if err != nil {
		logger.Error("draft store initialization failed", zap.Error(err))
		return 1
	}
	store := draft.NewStore(draftBackend,
		draft.WithKeyPrefix(cfg.Drafts.KeyPrefix),
		draft.WithRetention(cfg.Drafts.Retention),
		draft.WithLogger(logger),
		draft.WithMetrics(metrics),
	)
	defer store.Close()

	if n, err := store.EvictExpired(ctx, ""); err != nil {
		logger.Warn("draft eviction failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("evicted expired drafts", zap.Int("count", n))
	}

	// Step 6: Build the backend client and connectivity monitor.
	client, err := backend.NewClient(cfg.Backend,
		backend.WithLogger(logger),
		backend.WithMetrics(metrics),
	)
	if err != nil {
		logger.Error("backend client initialization failed", zap.Error(err))
		return 1
	}

	conn := draftsync.NewConnectivity(true, logger, metrics)
	prober := draftsync.NewProber(client, conn, cfg.Sync.ProbeInterval, logger)

	// Step 7: Build the auto-save scheduler and the questionnaire manager.
	opts := []questionnaire.Option{
		questionnaire.WithPushTimeout(cfg.Sync.PushTimeout),
		questionnaire.WithConfirmBelow(cfg.Submission.ConfirmBelowPercent),
		questionnaire.WithQuerySLA(cfg.Queries.SLA),
	}
	var scheduler *draftsync.Scheduler
	if cfg.Sync.AutoSave {
		scheduler, err = draftsync.NewScheduler(cfg.Sync.AutoSaveInterval, logger)
		if err != nil {
			logger.Error("auto-save scheduler initialization failed", zap.Error(err))
			return 1
		}
		opts = append(opts, questionnaire.WithScheduler(scheduler))
	}
	manager := questionnaire.NewManager(sch, store, client, conn, logger, metrics, opts...)

	// Step 8: Build HTTP router.
	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Manager:      manager,
		Schema:       sch,
		Connectivity: conn,
		Readiness: observability.ReadinessChecks{
			SchemaLoaded: func() bool { return sch.StepCount() > 0 },
			DraftStore:   store,
			Backend:      client,
		},
		Logger:   logger,
		Metrics:  metrics,
		Gatherer: prometheus.DefaultGatherer,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go prober.Run(bgCtx)
	if scheduler != nil {
		scheduler.Start()
	}

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("schema_version", sch.Version()),
		zap.String("drafts_driver", cfg.Drafts.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Flush unsaved edits and wait for pushes before the store closes.
	if err := manager.CloseAll(shutdownCtx); err != nil {
		logger.Warn("closing questionnaires", zap.Error(err))
	}
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	bgCancel()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return exitCode
}

// loadSchema reads the configured schema file, or the built-in one when no
// file is set.
func loadSchema(cfg config.SchemaConfig) (*schema.Schema, error) {
	if cfg.File == "" {
		return schema.Default()
	}
	return schema.Load(cfg.File)
}

// buildDraftBackend creates the draft store backend based on config.
func buildDraftBackend(ctx context.Context, cfg config.DraftsConfig, logger *zap.Logger) (draft.Backend, error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory draft store, drafts are lost on restart")
		return draft.NewMemoryBackend(cfg.MaxBytes), nil

	case "sqlite", "":
		b, err := draft.NewSQLiteBackend(cfg.Path, cfg.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("draft store: %w", err)
		}
		return b, nil

	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, fmt.Errorf("draft store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("draft store: redis ping: %w", err)
		}
		return draft.NewRedisBackend(client, cfg.Retention), nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("draft store: %s environment variable not set", cfg.DSNEnv)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("draft store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("draft store: ping: %w", err)
		}
		b := draft.NewPgBackend(pool)
		if err := b.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("draft store: %w", err)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unsupported draft store driver: %q", cfg.Driver)
	}
}
