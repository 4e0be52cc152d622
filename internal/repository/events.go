package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
)

type OrganizationRepository struct {
	db *database.DB
}

func NewOrganizationRepository(db *database.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (id, name, fee_schedule_id, event_fee_in_cents, cc_fee_basis_points, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		org.ID, org.Name, org.FeeScheduleID, org.EventFeeInCents, org.CreditCardFeeBasisPoints, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (r *OrganizationRepository) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	query := `
		SELECT id, name, fee_schedule_id, event_fee_in_cents, cc_fee_basis_points, created_at
		FROM organizations WHERE id = $1`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&org.ID, &org.Name, &org.FeeScheduleID, &org.EventFeeInCents, &org.CreditCardFeeBasisPoints, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

func (r *OrganizationRepository) CreateEvent(ctx context.Context, event *models.Event) error {
	query := `
		INSERT INTO events (id, organization_id, name, event_start, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		event.ID, event.OrganizationID, event.Name, event.EventStart, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

func (r *OrganizationRepository) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	query := `SELECT id, organization_id, name, event_start, created_at FROM events WHERE id = $1`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&event.ID, &event.OrganizationID, &event.Name, &event.EventStart, &event.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

type FeeScheduleRepository struct {
	db *database.DB
}

func NewFeeScheduleRepository(db *database.DB) *FeeScheduleRepository {
	return &FeeScheduleRepository{db: db}
}

// CreateFeeSchedule stores the schedule and its ranges in input order.
func (r *FeeScheduleRepository) CreateFeeSchedule(ctx context.Context, schedule *models.FeeSchedule) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		_, err := conn.ExecContext(ctx,
			`INSERT INTO fee_schedules (id, name, created_at) VALUES ($1, $2, $3)`,
			schedule.ID, schedule.Name, schedule.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create fee schedule: %w", err)
		}

		for i := range schedule.Ranges {
			rg := &schedule.Ranges[i]
			if rg.ID == uuid.Nil {
				rg.ID = uuid.New()
			}
			rg.FeeScheduleID = schedule.ID
			_, err := conn.ExecContext(ctx, `
				INSERT INTO fee_schedule_ranges (id, fee_schedule_id, position, min_price_in_cents, company_fee_in_cents, client_fee_in_cents)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				rg.ID, rg.FeeScheduleID, i, rg.MinPriceInCents, rg.CompanyFeeInCents, rg.ClientFeeInCents)
			if err != nil {
				return fmt.Errorf("failed to create fee schedule range: %w", err)
			}
		}
		return nil
	})
}

func (r *FeeScheduleRepository) GetFeeSchedule(ctx context.Context, id uuid.UUID) (*models.FeeSchedule, error) {
	conn := r.db.Conn(ctx)

	var schedule models.FeeSchedule
	err := conn.QueryRowContext(ctx, `SELECT id, name, created_at FROM fee_schedules WHERE id = $1`, id).
		Scan(&schedule.ID, &schedule.Name, &schedule.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get fee schedule: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT id, fee_schedule_id, min_price_in_cents, company_fee_in_cents, client_fee_in_cents
		FROM fee_schedule_ranges
		WHERE fee_schedule_id = $1
		ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get fee schedule ranges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rg models.FeeScheduleRange
		if err := rows.Scan(&rg.ID, &rg.FeeScheduleID, &rg.MinPriceInCents, &rg.CompanyFeeInCents, &rg.ClientFeeInCents); err != nil {
			return nil, fmt.Errorf("failed to scan fee schedule range: %w", err)
		}
		schedule.Ranges = append(schedule.Ranges, rg)
	}
	return &schedule, rows.Err()
}
