package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	v1 "github.com/vidfetch/vidfetch/api/v1"
	"github.com/vidfetch/vidfetch/internal/config"
	"github.com/vidfetch/vidfetch/internal/fetch"
	"github.com/vidfetch/vidfetch/internal/fetch/progressive"
	"github.com/vidfetch/vidfetch/internal/fetch/ytdlp"
	"github.com/vidfetch/vidfetch/internal/format"
	"github.com/vidfetch/vidfetch/internal/metrics"
	"github.com/vidfetch/vidfetch/internal/postproc"
	"github.com/vidfetch/vidfetch/internal/retention"
	"github.com/vidfetch/vidfetch/internal/router"
	"github.com/vidfetch/vidfetch/internal/service"
	"github.com/vidfetch/vidfetch/internal/storage"
	"github.com/vidfetch/vidfetch/internal/storage/local"
	"github.com/vidfetch/vidfetch/internal/storage/s3"
	"github.com/vidfetch/vidfetch/internal/storage/supabase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "vidfetch:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("VIDFETCH_CONFIG"))
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	metrics.Register()

	artifactDir, err := filepath.Abs(cfg.Paths.ArtifactDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	events := make(chan fetch.Event, 256)
	reporter := fetch.NewChanReporter(events)
	hub := v1.NewEventHub(events)
	go hub.Run()

	backends := make([]fetch.Backend, 0, len(cfg.Backends))
	for _, name := range cfg.Backends {
		switch name {
		case "ytdlp":
			backends = append(backends, ytdlp.New(cfg.Paths.YtdlpPath, reporter, logger))
		case "progressive":
			backends = append(backends, progressive.New(nil, reporter, logger))
		}
	}
	registry := fetch.NewRegistry(backends...)

	stores := storage.NewRegistry(
		local.New(),
		supabase.New(cfg.Storage.Supabase, logger),
		s3.New(cfg.Storage.S3, logger),
	)

	svc := service.NewDownload(
		format.NewResolver(cfg.Backends),
		registry,
		stores,
		postproc.New(cfg.Paths.FfmpegPath, logger),
		reporter,
		logger,
		artifactDir,
	)

	sweeper := retention.New(logger, artifactDir, retention.Policy{
		Enabled:      cfg.Retention.Enabled,
		Interval:     cfg.Retention.Interval,
		MaxAge:       cfg.Retention.MaxAge,
		MaxBytes:     cfg.Retention.MaxBytes,
		SafetyMargin: cfg.Retention.SafetyMargin,
	})
	sweeper.Run()
	defer sweeper.Stop()

	handler := router.New(logger, svc, hub, cfg.Auth.APIKey, router.Limits{
		DownloadPerMinute: cfg.RateLimit.DownloadPerMinute,
		FormatsPerMinute:  cfg.RateLimit.FormatsPerMinute,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     handler,
		IdleTimeout: 120 * time.Second,
		ReadTimeout: 30 * time.Second,
		// Writes stream whole media files; no write deadline.
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting vidfetch", "addr", server.Addr, "backends", cfg.Backends)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "grace", cfg.Server.ShutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	close(events)
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.EnableFileLogging {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}
	return slog.New(slog.NewTextHandler(w, nil))
}
