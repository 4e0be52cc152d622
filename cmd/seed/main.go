package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

var (
	envFile    = flag.String("env-file", ".env", "optional dotenv file loaded before the environment")
	eventName  = flag.String("event", "Demo Night", "name of the seeded event")
	ticketKind = flag.Int("ticket-types", 3, "number of ticket types to create")
	capacity   = flag.Int64("capacity", 100, "capacity of each ticket type")
	dryRun     = flag.Bool("dry-run", false, "show what would be created without writing")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.WithFields("component", "seed")

	c := buildCatalog(time.Now().UTC(), *eventName, *ticketKind, *capacity)
	for _, tt := range c.TicketTypes {
		log.Info("Ticket type", "name", tt.Name, "price_in_cents", tt.PriceInCents, "capacity", tt.Capacity)
	}
	if *dryRun {
		log.Info("Dry run, nothing written", "event", c.Event.Name, "ticket_types", len(c.TicketTypes))
		return
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	if err := c.store(ctx, repository.NewRepositories(db)); err != nil {
		log.Error("Failed to seed catalog", "error", err)
		os.Exit(1)
	}
	log.Info("Seed completed", "organization_id", c.Organization.ID, "event_id", c.Event.ID)
}

type catalog struct {
	FeeSchedule  *models.FeeSchedule
	Organization *models.Organization
	Event        *models.Event
	TicketTypes  []*models.TicketType
	Pricing      []*models.TicketPricing
}

// buildCatalog lays out one organization with a three-tier fee schedule and
// n ticket types, each priced higher than the last. Every ticket type gets
// a Default pricing row covering the sale window.
func buildCatalog(now time.Time, name string, n int, capacity int64) *catalog {
	schedule := &models.FeeSchedule{ID: uuid.New(), Name: "Standard", CreatedAt: now}
	for _, r := range []struct{ min, company, client int64 }{
		{0, 50, 99},
		{2000, 100, 199},
		{10000, 200, 299},
	} {
		schedule.Ranges = append(schedule.Ranges, models.FeeScheduleRange{
			ID:                uuid.New(),
			FeeScheduleID:     schedule.ID,
			MinPriceInCents:   r.min,
			CompanyFeeInCents: r.company,
			ClientFeeInCents:  r.client,
		})
	}

	org := &models.Organization{
		ID:                       uuid.New(),
		Name:                     "Demo Promotions",
		FeeScheduleID:            schedule.ID,
		EventFeeInCents:          150,
		CreditCardFeeBasisPoints: 290,
		CreatedAt:                now,
	}

	start := now.AddDate(0, 1, 0)
	event := &models.Event{ID: uuid.New(), OrganizationID: org.ID, Name: name, EventStart: &start, CreatedAt: now}

	c := &catalog{FeeSchedule: schedule, Organization: org, Event: event}
	salesEnd := start
	for i := 0; i < n; i++ {
		price := int64(1500 + i*2500)
		tt := &models.TicketType{
			ID:             uuid.New(),
			EventID:        event.ID,
			Name:           fmt.Sprintf("Tier %d", i+1),
			Status:         models.TicketTypeStatusPublished,
			Capacity:       capacity,
			PriceInCents:   price,
			LimitPerPerson: 10,
			StartDate:      &now,
			EndDate:        &salesEnd,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		c.TicketTypes = append(c.TicketTypes, tt)
		c.Pricing = append(c.Pricing, &models.TicketPricing{
			ID:           uuid.New(),
			TicketTypeID: tt.ID,
			Name:         "Default",
			Status:       models.TicketPricingStatusDefault,
			PriceInCents: price,
			StartDate:    now,
			EndDate:      salesEnd,
		})
	}
	return c
}

func (c *catalog) store(ctx context.Context, repos *repository.Repositories) error {
	return repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := repos.FeeSchedules.CreateFeeSchedule(ctx, c.FeeSchedule); err != nil {
			return fmt.Errorf("fee schedule: %w", err)
		}
		if err := repos.Organizations.CreateOrganization(ctx, c.Organization); err != nil {
			return fmt.Errorf("organization: %w", err)
		}
		if err := repos.Organizations.CreateEvent(ctx, c.Event); err != nil {
			return fmt.Errorf("event: %w", err)
		}
		for _, tt := range c.TicketTypes {
			if err := repos.TicketTypes.CreateTicketType(ctx, tt); err != nil {
				return fmt.Errorf("ticket type %s: %w", tt.Name, err)
			}
		}
		for _, p := range c.Pricing {
			if err := repos.TicketTypes.CreateTicketPricing(ctx, p); err != nil {
				return fmt.Errorf("pricing: %w", err)
			}
		}
		return nil
	})
}
