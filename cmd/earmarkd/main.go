// Earmark daemon - captures ambient audio, transcribes it, and serves the
// rolling transcript over HTTP and WebSocket
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fenwick-labs/earmark/internal/appwatch"
	"github.com/fenwick-labs/earmark/internal/config"
	"github.com/fenwick-labs/earmark/internal/metrics"
	"github.com/fenwick-labs/earmark/internal/pipeline"
	"github.com/fenwick-labs/earmark/internal/server"
	"github.com/fenwick-labs/earmark/internal/transcribe"
	"github.com/fenwick-labs/earmark/internal/transcript"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (empty uses defaults)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()}))
	slog.SetDefault(logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	transcriber := transcribe.New(transcribe.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Language:      cfg.Transcription.Language,
		Timeout:       cfg.Transcription.Timeout(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
		Temperature:   cfg.Transcription.Temperature,
	})

	store := transcript.NewStore(cfg.Transcript.MaxFragments, cfg.Transcript.EventBuffer)
	if len(cfg.Transcript.Dictionary) > 0 {
		store.WithCorrector(transcript.NewDictionary(cfg.Transcript.Dictionary))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var watcher *appwatch.Watcher
	var foreground pipeline.ForegroundSource
	if cfg.AppWatch.Enabled {
		watcher = appwatch.New(cfg.AppWatch.PollInterval())
		go watcher.Run(ctx)
		foreground = watcher
	}

	pipe, err := pipeline.New(cfg, pipeline.Deps{
		Transcriber: transcriber,
		Store:       store,
		Foreground:  foreground,
		Metrics:     m,
	})
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	srv := server.New(pipe, m)

	if cfg.Capture.Autostart {
		if err := pipe.Start(ctx); err != nil {
			slog.Error("autostart failed; waiting for API start", "error", err)
		}
	}

	// WebSocket connections are long-lived, so only header reads and idle
	// keep-alives are bounded.
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("earmark daemon starting", "http", cfg.HTTP.Addr, "inference", cfg.Transcription.Endpoint)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	if err := pipe.Close(); err != nil {
		slog.Error("pipeline shutdown error", "error", err)
	}
	if watcher != nil {
		watcher.Stop()
	}
	slog.Info("shutdown complete")
}
