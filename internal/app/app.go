// Package app connects the configured backends and builds the services
// shared by cmd/api and cmd/worker.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"boxoffice/internal/api"
	"boxoffice/internal/cache"
	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/inventory"
	"boxoffice/internal/logger"
	"boxoffice/internal/messaging"
	"boxoffice/internal/models"
	"boxoffice/internal/publisher"
	"boxoffice/internal/repository"
	"boxoffice/internal/repository/memstore"
	"boxoffice/internal/search"
	"boxoffice/internal/service"
)

type Options struct {
	// Memory keeps all state in process instead of PostgreSQL.
	Memory bool
	// Migrate applies the schema after connecting.
	Migrate bool
}

type App struct {
	Config    *config.Config
	Clock     clockwork.Clock
	DB        *database.DB
	Repos     *repository.Repositories
	Services  *service.Services
	Inventory *inventory.Accountant
	Publisher *publisher.Publisher
	Checks    map[string]api.Checker

	closers []func() error
}

func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Clock: clockwork.NewRealClock(), Checks: map[string]api.Checker{}}
	if err := a.open(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, opts Options) error {
	cfg := a.Config

	if opts.Memory {
		logger.Get().Warn("Using in-memory store, state is lost on exit")
		a.Repos = memstore.New().Repositories()
	} else {
		db, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		a.Checks["database"] = func(ctx context.Context) error {
			if hc := db.Check(ctx); hc.Status != "healthy" {
				return errors.New(hc.Error)
			}
			return nil
		}
		if opts.Migrate {
			if err := db.RunMigrations(ctx); err != nil {
				return err
			}
		}
		a.Repos = repository.NewRepositories(db)
	}

	var feeSchedules repository.FeeScheduleStore
	if cfg.Redis.Enabled {
		rdb, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rdb.Close)
		a.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		feeSchedules = cache.NewFeeSchedules(a.Repos.FeeSchedules, rdb, cfg.Redis.TTL)
	} else {
		feeSchedules = cache.NewFeeSchedules(a.Repos.FeeSchedules, nil, 0)
	}

	a.Services = service.NewServices(a.Repos, feeSchedules, a.Clock, service.Options{
		CartTTL:      cfg.Cart.TTL,
		ResalePolicy: service.ResalePolicy(cfg.Refund.ResalePolicy),
		RedeemedMode: service.RedeemedRefundMode(cfg.Refund.RedeemedMode),
	})
	a.Inventory = inventory.NewAccountant(a.Repos, a.Clock)

	sinks, err := a.openSinks(ctx)
	if err != nil {
		return err
	}
	a.Publisher = publisher.New(a.Repos, a.Clock, cfg.Publisher.Holder, sinks, publisher.Options{
		LeaseTTL:  cfg.Publisher.LeaseTTL,
		BatchSize: cfg.Publisher.BatchSize,
	})
	return nil
}

// openSinks connects every configured broker. Webhooks need no connection
// and are always available.
func (a *App) openSinks(ctx context.Context) (map[models.PublisherAdapter]publisher.Sink, error) {
	cfg := a.Config
	sinks := map[models.PublisherAdapter]publisher.Sink{
		models.PublisherAdapterWebhook: publisher.NewWebhookSink(cfg.Publisher.WebhookTimeout),
	}

	if cfg.NATS.Enabled() {
		nats, err := messaging.NewNATSSink(cfg.NATS)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nats.Close)
		sinks[models.PublisherAdapterNATS] = nats
	}

	if cfg.AMQP.Enabled() {
		amqp, err := messaging.NewAMQPSink(cfg.AMQP)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, amqp.Close)
		sinks[models.PublisherAdapterAMQP] = amqp
	}

	if cfg.Elasticsearch.Enabled() {
		es, err := search.NewAuditSink(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		if err := es.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("elasticsearch unavailable: %w", err)
		}
		a.Checks["elasticsearch"] = es.HealthCheck
		sinks[models.PublisherAdapterElasticsearch] = es
	}

	adapters := make([]models.PublisherAdapter, 0, len(sinks))
	for adapter := range sinks {
		adapters = append(adapters, adapter)
	}
	logger.Get().Info("Publisher sinks ready", "adapters", adapters)
	return sinks, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
