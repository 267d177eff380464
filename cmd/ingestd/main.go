// Command ingestd runs the live ingest core: it authorizes publish attempts
// from the media server's hooks, supervises per-rendition encoders, publishes
// the master manifest and preview images, and tears sessions down on
// disconnect.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulsecast/internal/config"
	"pulsecast/internal/hooks"
	"pulsecast/internal/media"
	"pulsecast/internal/observability/logging"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/pipeline"
	"pulsecast/internal/serverutil"
	"pulsecast/internal/state"
	"pulsecast/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{}).Error("load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.WithComponent(logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}), "ingestd")
	registry := metrics.New()

	repo, err := storage.NewPostgresRepository(storage.PostgresConfig{DSN: cfg.PostgresDSN})
	if err != nil {
		logger.Error("open publisher store", "error", err)
		os.Exit(1)
	}

	var stateStore state.Store
	if cfg.RedisAddr != "" {
		stateStore, err = state.NewRedisStore(state.RedisConfig{
			Addr:      cfg.RedisAddr,
			Username:  cfg.RedisUsername,
			Password:  cfg.RedisPassword,
			KeyPrefix: cfg.RedisPrefix,
		})
		if err != nil {
			logger.Error("open shared state store", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no redis configured, using process-local shared state")
		stateStore = state.NewMemoryStore()
	}

	if err := os.MkdirAll(cfg.MediaRoot, 0o755); err != nil {
		logger.Error("prepare media root", "dir", cfg.MediaRoot, "error", err)
		os.Exit(1)
	}

	tool := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, logging.WithComponent(logger, "toolchain"))

	gate, err := pipeline.NewGate(pipeline.GateConfig{
		Repo:            repo,
		Flags:           stateStore,
		RejectedKeys:    stateStore,
		Channels:        stateStore,
		Tool:            tool,
		Presets:         cfg.Presets,
		MediaRoot:       cfg.MediaRoot,
		IngestBaseURL:   cfg.IngestBaseURL,
		ProbeTimeout:    cfg.ProbeTimeout,
		InvalidKeyTTL:   cfg.InvalidKeyTTL,
		ConnectionTTL:   cfg.ConnectionTTL,
		PreviewDelay:    cfg.PreviewDelay,
		PreviewInterval: cfg.PreviewInterval,
		Logger:          logging.WithComponent(logger, "gate"),
		Metrics:         registry,
	})
	if err != nil {
		logger.Error("build admission gate", "error", err)
		os.Exit(1)
	}

	hookHandler := &hooks.Handler{
		Gate:   gate,
		Token:  cfg.HookToken,
		Logger: logging.WithComponent(logger, "hooks"),
	}

	mux := http.NewServeMux()
	mux.Handle("/", hookHandler.Routes())
	mux.Handle("/metrics", registry.Handler())

	handler := logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(mux)
	server := &http.Server{
		Addr:              cfg.Bind,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("ingest daemon listening", "bind", cfg.Bind, "media_root", cfg.MediaRoot)
	if err := serverutil.Run(ctx, serverutil.Config{
		Server:          server,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}); err != nil {
		logger.Error("hook server failed", "error", err)
	}

	// Stop remaining sessions and release their shared state before exit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	gate.Shutdown(shutdownCtx)
	if err := repo.Close(shutdownCtx); err != nil {
		logger.Warn("close publisher store", "error", err)
	}
	if err := stateStore.Close(); err != nil {
		logger.Warn("close shared state store", "error", err)
	}
	logger.Info("ingest daemon stopped")
}
