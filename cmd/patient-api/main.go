package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	appconfig "github.com/wolfman30/care-coordinator-ai/internal/config"
	httpmiddleware "github.com/wolfman30/care-coordinator-ai/internal/http/middleware"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
	"github.com/wolfman30/care-coordinator-ai/pkg/logging"
)

// patient-api serves the sample patient directory for local development.
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithWriter(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	srv := &http.Server{
		Addr:         ":" + cfg.PatientAPIPort,
		Handler:      newHandler(logger, cfg.CORSAllowedOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("sample patient api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("patient api failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("patient api forced to shutdown", "error", err)
	}
}

func newHandler(logger *logging.Logger, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(httpmiddleware.CORS(corsOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Mount("/", patient.NewSampleHandler(patient.NewSampleDirectory(), logger).Routes())
	return r
}
