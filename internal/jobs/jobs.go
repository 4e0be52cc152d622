// Package jobs schedules the worker's periodic tasks on gocron. Each job
// runs in singleton mode: a tick that arrives while the previous run is
// still going is skipped.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"boxoffice/internal/logger"
	"boxoffice/internal/publisher"
)

type CartExpirer interface {
	ExpireCarts(ctx context.Context, limit int) (int, error)
}

type EventPublisher interface {
	PublishPending(ctx context.Context) (publisher.Stats, error)
}

type Config struct {
	CartExpirationInterval time.Duration
	CartExpirationBatch    int
	PublishInterval        time.Duration
}

const (
	CartExpirationJob = "cart-expiration"
	PublishEventsJob  = "publish-domain-events"
)

type Scheduler struct {
	s      gocron.Scheduler
	cancel context.CancelFunc
}

// New registers the jobs that have a collaborator; a nil one is left out.
// Jobs run with ctx until Shutdown.
func New(ctx context.Context, clock clockwork.Clock, cfg Config, carts CartExpirer, events EventPublisher) (*Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(logger.WithFields("component", "scheduler")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sched := &Scheduler{s: s, cancel: cancel}

	if carts != nil {
		err := sched.add(CartExpirationJob, cfg.CartExpirationInterval, func() error {
			_, err := carts.ExpireCarts(ctx, cfg.CartExpirationBatch)
			return err
		})
		if err != nil {
			return nil, sched.abort(err)
		}
	}

	if events != nil {
		err := sched.add(PublishEventsJob, cfg.PublishInterval, func() error {
			stats, err := events.PublishPending(ctx)
			if stats.Published > 0 || stats.Failed > 0 {
				logger.WithContext(ctx).Info("Domain events published",
					"published", stats.Published, "failed", stats.Failed, "busy", stats.Busy)
			}
			return err
		})
		if err != nil {
			return nil, sched.abort(err)
		}
	}

	return sched, nil
}

func (s *Scheduler) add(name string, every time.Duration, task func() error) error {
	if every <= 0 {
		return fmt.Errorf("job %s needs a positive interval, got %s", name, every)
	}
	_, err := s.s.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, jobName string, err error) {
				logger.Get().Error("Job failed", "job", jobName, "error", err)
			}),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) abort(err error) error {
	s.cancel()
	_ = s.s.Shutdown()
	return err
}

// Names lists the scheduled jobs.
func (s *Scheduler) Names() []string {
	var names []string
	for _, j := range s.s.Jobs() {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) Start() {
	logger.Get().Info("Starting scheduler", "jobs", s.Names())
	s.s.Start()
}

// Shutdown cancels running tasks and waits for them to return.
func (s *Scheduler) Shutdown() error {
	s.cancel()
	return s.s.Shutdown()
}
