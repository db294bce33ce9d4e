// Binary sidechat runs the streaming chat server: per-tab request
// registry, loading-state store, provider adapters, and the HTTP/SSE
// front end.
//
// Usage:
//
//	sidechat [flags]
//
// Flags:
//
//	-config     path to YAML config file (default: sidechat.yaml)
//	-listen     override the listen address from the config
//	-log-level  override the log level from the config
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bitop-dev/sidechat/pkg/chat"
	"github.com/bitop-dev/sidechat/pkg/config"
	"github.com/bitop-dev/sidechat/pkg/server"
	"github.com/bitop-dev/sidechat/pkg/transcript"
)

func main() {
	configPath := flag.String("config", "sidechat.yaml", "path to config file")
	listenFlag := flag.String("listen", "", "override listen address")
	logLevelFlag := flag.String("log-level", "", "override log level (debug|info|warn|error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if *listenFlag != "" {
		cfg.Listen = *listenFlag
	}
	if *logLevelFlag != "" {
		cfg.LogLevel = *logLevelFlag
	}

	logger := newLogger(cfg.LogLevel)

	var transcripts *transcript.Store
	if cfg.TranscriptDir != "" {
		transcripts, err = transcript.NewStore(cfg.TranscriptDir)
		if err != nil {
			fatalf("transcripts: %v", err)
		}
		logger.Info("transcripts enabled", "dir", cfg.TranscriptDir)
	}

	svc := chat.NewService(chat.Options{
		Logger:        logger,
		Transcripts:   transcripts,
		MaxAge:        cfg.RequestMaxAge,
		SweepInterval: cfg.SweepInterval,
	})
	defer svc.Shutdown()

	handler, err := server.NewHandler(svc, cfg.Profile, cfg.AuthToken, logger)
	if err != nil {
		fatalf("server: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		svc.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			fatalf("serve: %v", err)
		}
	}
}

// newLogger builds a text logger on stderr at the configured level.
// Valid levels: debug, info, warn, error (case-insensitive).
func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "sidechat: "+format+"\n", args...)
	os.Exit(1)
}
