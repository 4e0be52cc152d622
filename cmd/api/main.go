package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"

	"boxoffice/internal/api"
	"boxoffice/internal/app"
	"boxoffice/internal/config"
	"boxoffice/internal/logger"
	"boxoffice/internal/telemetry"
)

var version = "dev"

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the environment")
	memory := flag.Bool("memory", false, "keep state in memory instead of PostgreSQL")
	migrateOnly := flag.Bool("migrate-only", false, "apply the schema and exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		logger.Fatal("Failed to init tracing", "error", err)
	}

	a, err := app.Open(ctx, cfg, app.Options{Memory: *memory, Migrate: !*memory})
	if err != nil {
		logger.Fatal("Failed to start", "error", err)
	}
	if *migrateOnly {
		_ = a.Close()
		logger.Get().Info("Migrations applied")
		return
	}

	gin.SetMode(cfg.GinMode)
	server := api.NewServer(api.Deps{
		Services:            a.Services,
		Inventory:           a.Inventory,
		Publisher:           a.Publisher,
		Publishers:          a.Repos.Publishers,
		Checks:              a.Checks,
		RequestTimeout:      cfg.RequestTimeout,
		CartExpirationBatch: cfg.Jobs.CartExpirationBatch,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Get().Info("Starting ops server", "port", cfg.Port, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Get().Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Get().Error("Server forced to shutdown", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Get().Error("Error during cleanup", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Get().Warn("Failed to flush traces", "error", err)
	}

	logger.Get().Info("Server stopped")
}
