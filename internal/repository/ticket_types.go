package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"boxoffice/internal/database"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

type TicketTypeRepository struct {
	db *database.DB
}

func NewTicketTypeRepository(db *database.DB) *TicketTypeRepository {
	return &TicketTypeRepository{db: db}
}

func (r *TicketTypeRepository) CreateTicketType(ctx context.Context, tt *models.TicketType) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		query := `
			INSERT INTO ticket_types (id, event_id, name, status, capacity, price_in_cents, additional_fee_in_cents,
				limit_per_person, start_date, end_date, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

		_, err := conn.ExecContext(ctx, query,
			tt.ID, tt.EventID, tt.Name, tt.Status, tt.Capacity, tt.PriceInCents, tt.AdditionalFeeInCents,
			tt.LimitPerPerson, tt.StartDate, tt.EndDate, tt.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create ticket type: %w", err)
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO ticket_instances (id, ticket_type_id, status, created_at, updated_at)
			SELECT gen_random_uuid(), $1, 'Available', $2, $2 FROM generate_series(1, $3)`,
			tt.ID, tt.CreatedAt, tt.Capacity)
		if err != nil {
			return fmt.Errorf("failed to create ticket instances: %w", err)
		}
		return nil
	})
}

func (r *TicketTypeRepository) GetTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error) {
	var tt models.TicketType
	query := `
		SELECT id, event_id, name, status, capacity, price_in_cents, additional_fee_in_cents,
			limit_per_person, start_date, end_date, created_at, updated_at
		FROM ticket_types WHERE id = $1`

	err := r.db.Conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&tt.ID, &tt.EventID, &tt.Name, &tt.Status, &tt.Capacity, &tt.PriceInCents, &tt.AdditionalFeeInCents,
		&tt.LimitPerPerson, &tt.StartDate, &tt.EndDate, &tt.CreatedAt, &tt.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ticket type: %w", err)
	}
	return &tt, nil
}

func (r *TicketTypeRepository) UpdateTicketTypeStatus(ctx context.Context, id uuid.UUID, status models.TicketTypeStatus, now time.Time) error {
	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE ticket_types SET status = $2, updated_at = $3 WHERE id = $1`, id, status, now))
	if err != nil {
		return fmt.Errorf("failed to update ticket type status: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("ticket type", id)
	}
	return nil
}

func (r *TicketTypeRepository) CreateTicketPricing(ctx context.Context, p *models.TicketPricing) error {
	query := `
		INSERT INTO ticket_pricing (id, ticket_type_id, name, status, price_in_cents, start_date, end_date, is_box_office_only)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		p.ID, p.TicketTypeID, p.Name, p.Status, p.PriceInCents, p.StartDate, p.EndDate, p.IsBoxOfficeOnly)
	if err != nil {
		return fmt.Errorf("failed to create ticket pricing: %w", err)
	}
	return nil
}

func (r *TicketTypeRepository) ListTicketPricing(ctx context.Context, ticketTypeID uuid.UUID) ([]models.TicketPricing, error) {
	query := `
		SELECT id, ticket_type_id, name, status, price_in_cents, start_date, end_date, is_box_office_only
		FROM ticket_pricing
		WHERE ticket_type_id = $1 AND status <> 'Deleted'
		ORDER BY start_date, id`

	rows, err := r.db.Conn(ctx).QueryContext(ctx, query, ticketTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket pricing: %w", err)
	}
	defer rows.Close()

	var periods []models.TicketPricing
	for rows.Next() {
		var p models.TicketPricing
		if err := rows.Scan(&p.ID, &p.TicketTypeID, &p.Name, &p.Status, &p.PriceInCents,
			&p.StartDate, &p.EndDate, &p.IsBoxOfficeOnly); err != nil {
			return nil, fmt.Errorf("failed to scan ticket pricing: %w", err)
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}
