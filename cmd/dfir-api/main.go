package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hive-corporation/dfir-engine/internal/adapter/handler"
	"github.com/hive-corporation/dfir-engine/internal/app"
	"github.com/hive-corporation/dfir-engine/internal/config"
	"github.com/hive-corporation/dfir-engine/internal/core/domain"
	"github.com/hive-corporation/dfir-engine/internal/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New()
	defer logger.Close()

	ctx := context.Background()
	components, err := app.Build(ctx, cfg, nil, logger.Logger)
	if err != nil {
		logger.Fatal("❌ Failed to initialize engine", "err", err)
	}
	defer components.Close()

	router := mux.NewRouter()
	handler.NewRestHandler(components.Engine, components.Repository, components.Providers, logger.Logger).Register(router)

	// Metrics endpoint (requires authentication)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(handler.LoggingMiddleware(logger.Logger))
	router.Use(handler.AuthMiddleware(cfg.RESTAuthToken, logger.Logger))

	// ?wait=true blocks for the whole pipeline
	srv := &http.Server{
		Addr:         ":" + cfg.RESTPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(len(domain.DefaultSteps()))*cfg.LLMTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("🚀 DFIR REST API listening", "port", cfg.RESTPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("❌ Failed to start server", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	components.Engine.Reset()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("❌ Server forced to shutdown", "err", err)
		return
	}

	logger.Info("✅ Server stopped gracefully")
}
