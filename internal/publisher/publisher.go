// Package publisher forwards domain events to the sink of each registered
// publisher. A publisher is worked on by one worker at a time, guarded by
// its lease; the domain_event_published claim keeps a single event from
// being sent twice even when a lease expires mid-batch.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/lease"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
	"boxoffice/internal/validation"
)

var tracer = otel.Tracer("boxoffice/internal/publisher")

// Sink delivers one event. target is the publisher's own destination (url,
// subject prefix, exchange or index) and may be empty.
type Sink interface {
	Publish(ctx context.Context, target string, ev models.DomainEvent) error
}

type Options struct {
	LeaseTTL  time.Duration
	BatchSize int
}

// Stats counts what one PublishPending pass did.
type Stats struct {
	Published int
	// Claimed were already sent for this publisher by an earlier pass.
	Claimed  int
	Filtered int
	Failed   int
	Busy     int
}

func (s *Stats) add(o Stats) {
	s.Published += o.Published
	s.Claimed += o.Claimed
	s.Filtered += o.Filtered
	s.Failed += o.Failed
	s.Busy += o.Busy
}

type Publisher struct {
	events     repository.DomainEventStore
	publishers repository.PublisherStore
	leases     *lease.Manager
	clock      clockwork.Clock
	sinks      map[models.PublisherAdapter]Sink
	opts       Options
}

func New(repos *repository.Repositories, clock clockwork.Clock, holder string,
	sinks map[models.PublisherAdapter]Sink, opts Options) *Publisher {

	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = time.Minute
	}
	return &Publisher{
		events:     repos.DomainEvents,
		publishers: repos.Publishers,
		leases:     lease.NewManager(repos.Publishers, clock, holder),
		clock:      clock,
		sinks:      sinks,
		opts:       opts,
	}
}

func (p *Publisher) Holder() string { return p.leases.Holder() }

// Create registers a publisher. Without import_historic_events it only sees
// events created from now on.
func (p *Publisher) Create(ctx context.Context, attrs validation.PublisherAttributes) (*models.DomainEventPublisher, error) {
	if verrs := validation.ValidatePublisher(attrs); verrs != nil {
		return nil, verrs
	}
	now := p.clock.Now()
	pub := &models.DomainEventPublisher{
		ID:                   uuid.New(),
		OrganizationID:       attrs.OrganizationID,
		EventTypes:           attrs.EventTypes,
		Adapter:              attrs.Adapter,
		Target:               attrs.Target,
		ImportHistoricEvents: attrs.ImportHistoricEvents,
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := p.publishers.CreatePublisher(ctx, pub); err != nil {
		return nil, err
	}
	logger.WithContext(ctx).Info("Domain event publisher created",
		"publisher_id", pub.ID, "adapter", pub.Adapter, "event_types", pub.EventTypes)
	return pub, nil
}

// PublishPending runs one batch for every publisher. Publishers leased by
// another worker are skipped. A failing publisher does not stop the others;
// their store errors are joined into the result.
func (p *Publisher) PublishPending(ctx context.Context) (stats Stats, err error) {
	ctx, span := tracer.Start(ctx, "publisher.PublishPending")
	defer func() {
		span.SetAttributes(
			attribute.Int("published", stats.Published),
			attribute.Int("failed", stats.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.End()
	}()

	pubs, err := p.publishers.ListPublishers(ctx)
	if err != nil {
		return stats, err
	}

	var errs []error
	for i := range pubs {
		s, err := p.publishOne(ctx, pubs[i].ID, pubs[i].Adapter)
		stats.add(s)
		switch {
		case err == nil:
		case apperrors.IsConcurrency(err):
			stats.Busy++
			logger.WithContext(ctx).Debug("Publisher leased elsewhere", "publisher_id", pubs[i].ID, "error", err)
		default:
			errs = append(errs, fmt.Errorf("publisher %s: %w", pubs[i].ID, err))
		}
	}
	return stats, errors.Join(errs...)
}

func (p *Publisher) publishOne(ctx context.Context, id uuid.UUID, adapter models.PublisherAdapter) (Stats, error) {
	var stats Stats
	sink, ok := p.sinks[adapter]
	if !ok {
		logger.WithContext(ctx).Warn("No sink configured for publisher adapter", "publisher_id", id, "adapter", adapter)
		return stats, nil
	}

	err := p.leases.Run(ctx, id, p.opts.LeaseTTL, func(ctx context.Context, h *lease.Handle) error {
		// The cursor may have moved since the list was read.
		pub, err := p.publishers.GetPublisher(ctx, id)
		if err != nil {
			return err
		}
		if pub == nil {
			return nil
		}
		var after int64
		if pub.LastDomainEventSeq != nil {
			after = *pub.LastDomainEventSeq
		}

		events, err := p.events.ListDomainEventsAfter(ctx, after, p.opts.BatchSize)
		if err != nil {
			return err
		}

		for i := range events {
			ev := events[i]
			if wants(pub, &ev) {
				outcome, err := p.deliver(ctx, pub, sink, ev)
				if err != nil {
					return err
				}
				switch outcome {
				case sent:
					stats.Published++
				case alreadyClaimed:
					stats.Claimed++
				case sinkFailed:
					stats.Failed++
					return nil
				}
			} else {
				stats.Filtered++
			}

			if err := h.Renew(ctx); err != nil {
				logger.WithContext(ctx).Info("Publisher lease lost", "publisher_id", id, "holder", p.Holder())
				return err
			}
			if _, err := p.publishers.UpdateLastDomainEventSeq(ctx, id, ev.Seq, p.clock.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	return stats, err
}

type outcome int

const (
	sent outcome = iota
	alreadyClaimed
	sinkFailed
)

// deliver claims ev and sends it. When the sink fails the claim is undone so
// the event is retried on the next pass.
func (p *Publisher) deliver(ctx context.Context, pub *models.DomainEventPublisher, sink Sink, ev models.DomainEvent) (outcome, error) {
	claimed, err := p.publishers.ClaimForPublishing(ctx, pub.ID, ev.ID)
	if err != nil {
		return sinkFailed, err
	}
	if !claimed {
		return alreadyClaimed, nil
	}

	if err := sink.Publish(ctx, pub.Target, ev); err != nil {
		metrics.ObservePublish(string(pub.Adapter), false)
		logger.WithContext(ctx).Warn("Failed to publish domain event",
			"publisher_id", pub.ID, "adapter", pub.Adapter, "event_id", ev.ID, "seq", ev.Seq, "error", err)
		if err := p.publishers.UnclaimForPublishing(ctx, pub.ID, ev.ID); err != nil {
			return sinkFailed, err
		}
		return sinkFailed, nil
	}

	metrics.ObservePublish(string(pub.Adapter), true)
	return sent, nil
}

func wants(pub *models.DomainEventPublisher, ev *models.DomainEvent) bool {
	if !pub.Accepts(ev.EventType) {
		return false
	}
	if pub.OrganizationID != nil && (ev.OrganizationID == nil || *ev.OrganizationID != *pub.OrganizationID) {
		return false
	}
	if !pub.ImportHistoricEvents && ev.CreatedAt.Before(pub.CreatedAt) {
		return false
	}
	return true
}
