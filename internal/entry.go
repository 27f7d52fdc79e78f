// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Derkades/metrics/internal/api"
	"github.com/Derkades/metrics/internal/ingest"
	"github.com/Derkades/metrics/internal/mcpserver"
	"github.com/Derkades/metrics/internal/schema"
	"github.com/Derkades/metrics/internal/sse"
	"github.com/Derkades/metrics/internal/store"
	"github.com/Derkades/metrics/internal/sweeper"
	"github.com/Derkades/metrics/internal/view"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_path", cfg.Data.Path),
		slog.String("sources_path", cfg.Sources.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Load and compile the per-source schemas. Configuration errors are
	// fatal here so they never surface on the request path.
	registry, err := schema.LoadDir(cfg.Sources.Path, logger)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	logger.Info("Source registry ready", slog.Int("sources", registry.Len()))

	// Open the store.
	db, err := store.Open(cfg.Data.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	// SSE broker for dashboard refresh events.
	broker := sse.NewBroker(2 * time.Second)

	// Build services and router.
	svc := ingest.NewService(registry, db, logger)
	svc.OnAccepted = broker.PublishSubmission
	views := view.NewEngine(registry, db)
	apiRouter := api.NewRouter(api.NewHandler(svc, views, registry, db), cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes at the root, matching the submission protocol.
	r.Mount("/", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// Start the expiry sweeper.
	g.Go(func() error {
		return sweeper.New(registry, db, logger).Run(gCtx)
	})

	// Watch the sources directory for on-disk changes (restart required).
	g.Go(func() error {
		if err := schema.Watch(gCtx, cfg.Sources.Path, logger); err != nil {
			logger.Warn("source watcher unavailable", slog.String("error", err.Error()))
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stop the sweeper and watcher as well.
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	broker.Close()
	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the operator tools over MCP on stdio. Logs go to stderr
// because stdout carries the protocol.
func RunMCP(opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	registry, err := schema.LoadDir(cfg.Sources.Path, logger)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	db, err := store.Open(cfg.Data.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	return mcpserver.New(registry, db).ServeStdio()
}
