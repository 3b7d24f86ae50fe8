package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/live-interpreter/internal/capture"
	"github.com/lexiqai/live-interpreter/internal/config"
	"github.com/lexiqai/live-interpreter/internal/interpreter"
	"github.com/lexiqai/live-interpreter/internal/observability"
	"github.com/lexiqai/live-interpreter/internal/playback"
	"github.com/lexiqai/live-interpreter/internal/transcription"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	languages, err := config.LoadLanguages(cfg.LanguagesFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load language catalogue")
	}

	logger.Info().
		Str("port", cfg.Port).
		Str("backend", cfg.Backend).
		Str("lang_a", cfg.DefaultLangA).
		Str("lang_b", cfg.DefaultLangB).
		Int("languages", len(languages.Languages)).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Live Interpreter Service starting")

	// Each session gets its own microphone handle and speaker
	newSession := func(sessLogger zerolog.Logger, metrics *observability.Metrics) (transcription.Session, error) {
		return transcription.New(cfg, transcription.Resources{
			Microphone: capture.NewMalgoDevice(sessLogger),
			NewOutput: func(sampleRate int) (playback.Output, error) {
				out, err := playback.NewSpeakerOutput(sampleRate, cfg.PlaybackLatencyDuration(), sessLogger)
				if err != nil {
					return nil, err
				}
				return out, nil
			},
			Logger:  sessLogger,
			Metrics: metrics,
		})
	}

	hub := interpreter.NewHub(logger)
	ctrl := interpreter.NewController(interpreter.Options{
		Backend:      cfg.Backend,
		NewSession:   newSession,
		Languages:    languages,
		DefaultLangA: cfg.DefaultLangA,
		DefaultLangB: cfg.DefaultLangB,
		Events:       hub,
		Logger:       logger,
	})

	// Create HTTP server
	mux := http.NewServeMux()
	interpreter.NewAPI(ctrl, hub, languages, logger).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: the selected backend is configured and the session is not failed
	backendCheck := func(ctx context.Context) (bool, error) {
		if err := cfg.Validate(); err != nil {
			return false, err
		}
		return true, nil
	}
	sessionCheck := func(ctx context.Context) (bool, error) {
		view := ctrl.Snapshot()
		if view.Status == interpreter.StatusError {
			return false, fmt.Errorf("session failed: %s", view.Error)
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(
		observability.HealthCheck{Name: cfg.Backend, Check: backendCheck},
		observability.HealthCheck{Name: "session", Check: sessionCheck},
	))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. No WriteTimeout: the subtitle
	// websocket is long-lived and manages its own deadlines.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("subtitles", fmt.Sprintf("ws://localhost:%s/subtitles/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Release the microphone and speaker before the listener goes away
	ctrl.Stop()
	hub.Close()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
