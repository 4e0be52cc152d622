package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"boxoffice/internal/app"
	"boxoffice/internal/config"
	"boxoffice/internal/jobs"
	"boxoffice/internal/logger"
	"boxoffice/internal/telemetry"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the environment")
	memory := flag.Bool("memory", false, "keep state in memory instead of PostgreSQL")
	once := flag.Bool("once", false, "run one expiration sweep and one publishing pass, then exit")
	noPublish := flag.Bool("no-publish", false, "do not forward domain events")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		logger.Fatal("Failed to init tracing", "error", err)
	}

	a, err := app.Open(ctx, cfg, app.Options{Memory: *memory})
	if err != nil {
		logger.Fatal("Failed to start", "error", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Get().Error("Error during cleanup", "error", err)
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	if *once {
		return runOnce(ctx, a, cfg, !*noPublish)
	}

	var events jobs.EventPublisher
	if !*noPublish {
		events = a.Publisher
	}
	scheduler, err := jobs.New(ctx, a.Clock, jobs.Config{
		CartExpirationInterval: cfg.Jobs.CartExpirationInterval,
		CartExpirationBatch:    cfg.Jobs.CartExpirationBatch,
		PublishInterval:        cfg.Publisher.Interval,
	}, a.Services.Cart, events)
	if err != nil {
		logger.Fatal("Failed to schedule jobs", "error", err)
	}

	logger.Get().Info("Worker started", "holder", a.Publisher.Holder(), "version", version)
	scheduler.Start()

	<-ctx.Done()
	logger.Get().Info("Shutting down worker...")
	if err := scheduler.Shutdown(); err != nil {
		logger.Get().Error("Scheduler did not stop cleanly", "error", err)
	}
	logger.Get().Info("Worker stopped")
	return 0
}

func runOnce(ctx context.Context, a *app.App, cfg *config.Config, publish bool) int {
	expired, err := a.Services.Cart.ExpireCarts(ctx, cfg.Jobs.CartExpirationBatch)
	if err != nil {
		logger.Get().Error("Cart expiration failed", "error", err)
		return 1
	}
	logger.Get().Info("Cart expiration done", "expired", expired)

	if publish {
		stats, err := a.Publisher.PublishPending(ctx)
		if err != nil {
			logger.Get().Error("Publishing failed", "error", err)
			return 1
		}
		logger.Get().Info("Publishing done", "published", stats.Published, "failed", stats.Failed, "busy", stats.Busy)
	}
	return 0
}
