// drover-service is the HTTP control plane for orchestrating batch jobs
// on SLURM, PBS, or a local Docker daemon.
package main

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

	"drover/internal/api"
	"drover/internal/backend"
	"drover/internal/config"
	"drover/internal/dispatcher"
	"drover/internal/engine"
	"drover/internal/failure"
	"drover/internal/health"
	"drover/internal/logscan"
	"drover/internal/observability"
	"drover/internal/profile"
	"drover/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg := config.Load()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Optional cluster profile with site defaults
	prof, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		return err
	}

	// Open the job store
	st, err := store.Open(store.DSN(cfg.DBPath))
	if err != nil {
		return err
	}

	// Select the scheduler backend
	bk, err := backend.New(ctx, cfg.Backend, prof)
	if err != nil {
		st.Close()
		return err
	}
	slog.Info("Scheduler backend selected", "backend", bk.Name())

	// Log inspector and failure detector
	insp, err := logscan.New(logscan.Config{Threshold: cfg.WhitelistThreshold})
	if err != nil {
		st.Close()
		bk.Close()
		return err
	}

	// Webhook dispatcher; the notifier stays nil unless an endpoint is
	// configured, which disables lifecycle events entirely.
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)
	var notifier *engine.Notifier
	if cfg.WebhookURL != "" {
		notifier = engine.NewNotifier(eventDispatcher, cfg.WebhookURL, cfg.WebhookSecret)
		slog.Info("Lifecycle webhooks enabled", "url", cfg.WebhookURL)
	}

	// Create the orchestration engine
	eng, err := engine.New(engine.Config{
		Store:             st,
		Backend:           bk,
		Detector:          failure.New(insp),
		WorkRoot:          cfg.WorkRoot,
		DefaultMaxRetries: cfg.DefaultMaxRetries,
		Notifier:          notifier,
		Metrics:           metrics,
	})
	if err != nil {
		st.Close()
		bk.Close()
		return err
	}
	defer eng.Close()

	// Create health checker
	healthChecker := health.NewChecker(map[string]health.ReadinessChecker{
		"store": health.ReadinessFunc(st.Ping),
		"backend": health.ReadinessFunc(func(ctx context.Context) error {
			if !bk.Available(ctx) {
				return fmt.Errorf("backend %s is not available", bk.Name())
			}
			return nil
		}),
	})

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Engine:        eng,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.APIKey,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no DROVER_API_KEY configured")
	}

	// Background sweeper: periodic tracking passes over every live job,
	// so jobs progress without explicit track calls.
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	sweeperDone := make(chan struct{})
	if cfg.SweepEnabled {
		go func() {
			defer close(sweeperDone)
			ticker := time.NewTicker(cfg.PollInterval)
			defer ticker.Stop()
			slog.Info("Background sweeper started", "interval", cfg.PollInterval)
			for {
				select {
				case <-sweepCtx.Done():
					return
				case <-ticker.C:
					if _, err := eng.Sweep(sweepCtx); err != nil {
						slog.Warn("Sweep failed", "error", err)
					}
				}
			}
		}()
	} else {
		close(sweeperDone)
		slog.Info("Background sweeper disabled")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		stopSweeper()
		<-sweeperDone
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: Stop the sweeper, then finish in-flight requests
	stopSweeper()
	<-sweeperDone
	slog.Info("Starting graceful shutdown")
	shutdown(cfg.ShutdownTimeout)

	// Phase 3: Drain the webhook dispatcher
	slog.Info("Draining webhook dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	// Log final dispatcher stats
	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// Submitted jobs keep running on the scheduler. A restarted service
	// picks them up from the store on its next tracking pass.
	slog.Info("Submitted jobs continue on the scheduler")
	slog.Info("Shutdown complete")
	return nil
}
