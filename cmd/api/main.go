package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wolfman30/care-coordinator-ai/cmd/mainconfig"
	"github.com/wolfman30/care-coordinator-ai/internal/api/router"
	"github.com/wolfman30/care-coordinator-ai/internal/app/bootstrap"
	appconfig "github.com/wolfman30/care-coordinator-ai/internal/config"
	"github.com/wolfman30/care-coordinator-ai/internal/conversation"
	httpmiddleware "github.com/wolfman30/care-coordinator-ai/internal/http/middleware"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting care coordinator API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"patient_api", cfg.PatientAPIURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	metricsHandler, registry := setupMetrics()
	services, err := bootstrap.BuildServices(ctx, cfg, bootstrap.ServicesOptions{AWS: awsCfg, Registry: registry}, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	var limiter *httpmiddleware.RateLimiter
	if cfg.ChatRateLimit > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateBurst)
		defer limiter.Close()
	}

	srv := newServer(cfg, router.New(buildRouterConfig(cfg, services, metricsHandler, limiter, logger)))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func buildRouterConfig(cfg *appconfig.Config, services *bootstrap.Services, metricsHandler http.Handler, limiter *httpmiddleware.RateLimiter, logger *logging.Logger) *router.Config {
	return &router.Config{
		Logger: logger,
		ConversationHandler: conversation.NewHandler(services.Coordinator, conversation.HealthInfo{
			Service:       "care_coordinator",
			PatientAPI:    cfg.PatientAPIURL,
			AIInitialized: services.Dispatcher.Configured(),
			Cache:         services.Cache,
			CacheExpiry:   cfg.CacheExpiry,
		}, logger),
		CacheHandler:       patient.NewCacheHandler(services.Cache, logger),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		ChatRateLimiter:    limiter,
	}
}

func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), registry
}

// WriteTimeout must outlast the provider timeout so a slow completion still
// gets its 503 body written.
func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout + cfg.PatientFetchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
