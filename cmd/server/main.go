package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/catalogsync/internal/config"
	"github.com/JonMunkholm/catalogsync/internal/core"
	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/relay"
	"github.com/JonMunkholm/catalogsync/internal/web"
	"github.com/JonMunkholm/catalogsync/sql/schema"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"ingest_max_concurrent", cfg.Ingest.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"relay_enabled", cfg.Relay.Enabled(),
	)

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, pool, schema.FS); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		slog.Info("schema applied")
	}

	store := database.NewStore(pool)
	fetcher := feed.NewFetcher(feed.Options{
		Timeout:          cfg.Feed.DownloadTimeout,
		MaxBytes:         cfg.Feed.MaxBytes,
		UserAgent:        cfg.Feed.UserAgent,
		RatePerSecond:    cfg.Feed.RatePerSecond,
		RateBurst:        cfg.Feed.RateBurst,
		DeleteAfterFetch: cfg.Feed.FTPDeleteAfterFetch,
	})

	service := core.NewService(store, fetcher, core.Options{
		PreviewTimeout:     cfg.Feed.PreviewTimeout,
		AllowEmptyFeed:     cfg.Ingest.AllowEmptyFeed,
		StaleRunAfter:      cfg.Ingest.StaleRunAfter,
		ReaperInterval:     cfg.Ingest.ReaperInterval,
		StreamDefaultLimit: cfg.Stream.DefaultLimit,
		StreamMaxLimit:     cfg.Stream.MaxLimit,
		MaxConcurrentRuns:  cfg.Ingest.MaxConcurrent,
		RunMaxWait:         cfg.Ingest.MaxWait,
		RunTimeout:         cfg.Ingest.RunTimeout,
	})

	opts := web.Options{
		TrustedProxies:    cfg.Security.TrustedProxies,
		RequestTimeout:    cfg.Server.RequestTimeout,
		RateLimit:         cfg.Rate.Enabled,
		RequestsPerMinute: cfg.Rate.RequestsPerMinute,
		IngestPerMinute:   cfg.Rate.IngestLimit,
		Ping:              store.Ping,
		Runs:              service.Limiter(),
	}
	if cfg.Metrics.Enabled {
		opts.MetricsPath = cfg.Metrics.Path
	}
	server := web.NewServer(service, opts)

	jobCtx, cancelJobs := context.WithCancel(context.Background())

	go service.StartRunReaper(jobCtx)

	relayDone := make(chan struct{})
	if cfg.Relay.Enabled() {
		r := relay.New(service, relay.NewWriter(cfg.Relay.Brokers, cfg.Relay.Topic), relay.Options{
			Interval:    cfg.Relay.Interval,
			BatchSize:   cfg.Relay.BatchSize,
			MinPriority: cfg.Relay.MinPriority,
		})
		go func() {
			defer close(relayDone)
			r.Run(jobCtx)
		}()
	} else {
		close(relayDone)
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests before waiting on runs so no new ones start.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		runs := service.Limiter().Status()
		if runs.Active > 0 {
			slog.Info("waiting for ingestion runs to complete", "active", runs.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("ingestion runs did not complete in time", "error", err)
			} else {
				slog.Info("all ingestion runs completed")
			}
		}

		cancelJobs()
		select {
		case <-relayDone:
		case <-shutdownCtx.Done():
			slog.Warn("relay did not stop in time")
		}
	}()

	err = server.Start(cfg.Server.Addr(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)
	if !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
