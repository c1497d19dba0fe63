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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raihanakbr/live-transcription-server/internal/config"
	"github.com/raihanakbr/live-transcription-server/internal/metrics"
	"github.com/raihanakbr/live-transcription-server/internal/protocol"
	"github.com/raihanakbr/live-transcription-server/internal/session"
	"github.com/raihanakbr/live-transcription-server/internal/transcriber"
	"github.com/raihanakbr/live-transcription-server/internal/websocket"
)

const (
	serviceName     = "live-transcription-server"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file (optional)")
	envFile := flag.String("env", ".env", "Path to .env file loaded before environment overrides")
	flag.Parse()

	// Load configuration; a missing .env file is not an error
	cfg, err := config.Loader{EnvFiles: []string{*envFile}}.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("config_path", *configPath),
		slog.String("address", cfg.Server.Address),
		slog.Int("max_clients", cfg.Server.MaxClients),
		slog.Int("max_connection_time", cfg.Server.MaxConnectionTime),
		slog.String("backend", cfg.Transcriber.Backend),
		slog.String("endpoint", cfg.Transcriber.Endpoint),
		slog.String("model_path", cfg.Transcriber.ModelPath),
		slog.Bool("single_model", cfg.Transcriber.SingleModel),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	factory, err := transcriber.NewFactory(cfg.Transcriber, protocol.SampleRate, logger)
	if err != nil {
		logger.Error("Failed to create transcriber", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := session.NewRegistry(session.RegistryConfig{
		MaxClients:  cfg.Server.MaxClients,
		MaxLifetime: cfg.Server.GetMaxConnectionTime(),
		Logger:      logger,
		Metrics:     appMetrics,
	})
	reaperDone := registry.StartReaper(ctx, cfg.Server.GetSweepInterval())

	handler := websocket.NewHandler(websocket.HandlerConfig{
		Context:          ctx,
		Registry:         registry,
		Factory:          factory,
		Metrics:          appMetrics,
		Logger:           logger,
		Session:          session.ConfigFrom(cfg.Session, protocol.SampleRate),
		MaxClients:       cfg.Server.MaxClients,
		HandshakeTimeout: cfg.Server.GetHandshakeTimeout(),
		WriteTimeout:     cfg.Server.GetWriteTimeout(),
	})

	// Register HTTP and WebSocket handlers on a dedicated mux
	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle(websocket.MetricsPath, promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("WebSocket endpoint ready",
			slog.String("url", fmt.Sprintf("ws://localhost%s%s", cfg.Server.Address, websocket.WebSocketPath)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err, ok := <-serverErr:
		if ok {
			logger.Error("Server failed", slog.String("error", err.Error()))
		}
	}

	logger.Info("Starting graceful shutdown...")

	// Stop accepting new connections first
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Disconnect live sessions, then release shared resources
	registry.Shutdown()
	cancel()
	<-reaperDone

	if err := factory.Close(); err != nil {
		logger.Error("Error closing transcriber", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
}

// initLogger creates the structured logger described by cfg
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler).With(slog.String("service", serviceName))
}
