package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"boxoffice/internal/database"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

type HoldRepository struct {
	db *database.DB
}

func NewHoldRepository(db *database.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

const holdColumns = `id, event_id, ticket_type_id, parent_hold_id, name, hold_type, quantity, redemption_code,
	max_per_user, discount_in_cents, end_at, created_at, updated_at`

func scanHold(s rowScanner) (*models.Hold, error) {
	var h models.Hold
	err := s.Scan(&h.ID, &h.EventID, &h.TicketTypeID, &h.ParentHoldID, &h.Name, &h.HoldType, &h.Quantity,
		&h.RedemptionCode, &h.MaxPerUser, &h.DiscountInCents, &h.EndAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *HoldRepository) CreateHold(ctx context.Context, h *models.Hold) error {
	query := `
		INSERT INTO holds (` + holdColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		h.ID, h.EventID, h.TicketTypeID, h.ParentHoldID, h.Name, h.HoldType, h.Quantity, h.RedemptionCode,
		h.MaxPerUser, h.DiscountInCents, h.EndAt, h.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return redemptionCodeTaken()
		}
		return fmt.Errorf("failed to create hold: %w", err)
	}
	return nil
}

func (r *HoldRepository) GetHold(ctx context.Context, id uuid.UUID) (*models.Hold, error) {
	h, err := scanHold(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	return h, nil
}

func (r *HoldRepository) UpdateHold(ctx context.Context, h *models.Hold) error {
	query := `
		UPDATE holds
		SET name = $2, quantity = $3, redemption_code = $4, max_per_user = $5, discount_in_cents = $6,
			end_at = $7, updated_at = $8
		WHERE id = $1`

	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, query,
		h.ID, h.Name, h.Quantity, h.RedemptionCode, h.MaxPerUser, h.DiscountInCents, h.EndAt, h.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return redemptionCodeTaken()
		}
		return fmt.Errorf("failed to update hold: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("hold", h.ID)
	}
	return nil
}

func (r *HoldRepository) FindHoldByRedemptionCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Hold, error) {
	h, err := scanHold(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE event_id = $1 AND redemption_code = $2`, eventID, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find hold: %w", err)
	}
	return h, nil
}

func (r *HoldRepository) ListHolds(ctx context.Context, ticketTypeID uuid.UUID) ([]models.Hold, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE ticket_type_id = $1 ORDER BY created_at, id`, ticketTypeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holds: %w", err)
	}
	defer rows.Close()

	var holds []models.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hold: %w", err)
		}
		holds = append(holds, *h)
	}
	return holds, rows.Err()
}
