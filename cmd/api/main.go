// Package main is the entry point for the relay server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/streamrelay/chat-relay/internal/config"
	"github.com/streamrelay/chat-relay/internal/handler"
	"github.com/streamrelay/chat-relay/internal/llm"
	"github.com/streamrelay/chat-relay/internal/middleware"
	natsclient "github.com/streamrelay/chat-relay/internal/nats"
	"github.com/streamrelay/chat-relay/pkg/logger"
	"github.com/streamrelay/chat-relay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting relay server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect the optional NATS telemetry sink
	var telemetry *natsclient.TelemetrySink
	if cfg.NATSURL != "" {
		nc, err := natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer nc.Close()

		telemetry = natsclient.NewTelemetrySink(nc)
		if err := telemetry.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure telemetry stream", zap.Error(err))
			os.Exit(1)
		}
	}

	// Provider client cache: created at process start, shared by all
	// requests, torn down with the process.
	cache := llm.NewCache(llm.Credentials{
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
	})

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(readiness(telemetry))
	chatHandler := newChatHandler(cfg, cache, telemetry, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  middleware.OriginAllowed(cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-Tenant-ID", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no admission required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes behind the admission gate
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OriginGate(cfg.AllowedOrigins))
		r.Use(middleware.Identity(middleware.IdentityConfig{
			JWTSecret:   cfg.JWTSecret,
			DevUserID:   cfg.DevUserID,
			DevTenantID: cfg.DevTenantID,
			Production:  cfg.IsProduction(),
		}))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Post("/chat", chatHandler.Chat)
		r.Get("/providers", chatHandler.Providers)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newChatHandler keeps the nil-sink case truly nil: a typed nil
// *TelemetrySink must not reach the handler's interface field.
func newChatHandler(cfg *config.Config, cache *llm.Cache, telemetry *natsclient.TelemetrySink, log *logger.Logger) *handler.ChatHandler {
	if telemetry == nil {
		return handler.NewChatHandler(cfg, cache, nil, log)
	}
	return handler.NewChatHandler(cfg, cache, telemetry, log)
}

func readiness(telemetry *natsclient.TelemetrySink) handler.ReadinessCheck {
	if telemetry == nil {
		return nil
	}
	return telemetry
}
