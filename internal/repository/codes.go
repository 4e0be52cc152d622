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

type CodeRepository struct {
	db *database.DB
}

func NewCodeRepository(db *database.DB) *CodeRepository {
	return &CodeRepository{db: db}
}

const codeColumns = `id, event_id, name, code_type, redemption_code, max_uses, max_tickets_per_user,
	discount_in_cents, discount_as_percentage, start_date, end_date, version, created_at, updated_at`

func scanCode(s rowScanner) (*models.Code, error) {
	var c models.Code
	err := s.Scan(&c.ID, &c.EventID, &c.Name, &c.CodeType, &c.RedemptionCode, &c.MaxUses, &c.MaxTicketsPerUser,
		&c.DiscountInCents, &c.DiscountAsPercentage, &c.StartDate, &c.EndDate, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}


func (r *CodeRepository) CreateCode(ctx context.Context, c *models.Code) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		query := `
			INSERT INTO codes (` + codeColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

		_, err := r.db.Conn(ctx).ExecContext(ctx, query,
			c.ID, c.EventID, c.Name, c.CodeType, c.RedemptionCode, c.MaxUses, c.MaxTicketsPerUser,
			c.DiscountInCents, c.DiscountAsPercentage, c.StartDate, c.EndDate, c.Version, c.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return redemptionCodeTaken()
			}
			return fmt.Errorf("failed to create code: %w", err)
		}
		return r.replaceTicketTypes(ctx, c)
	})
}

func (r *CodeRepository) replaceTicketTypes(ctx context.Context, c *models.Code) error {
	conn := r.db.Conn(ctx)
	if _, err := conn.ExecContext(ctx, `DELETE FROM code_ticket_types WHERE code_id = $1`, c.ID); err != nil {
		return fmt.Errorf("failed to clear code ticket types: %w", err)
	}
	for _, ttID := range c.TicketTypeIDs {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO code_ticket_types (code_id, ticket_type_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, c.ID, ttID)
		if err != nil {
			return fmt.Errorf("failed to link code ticket type: %w", err)
		}
	}
	return nil
}

func (r *CodeRepository) loadTicketTypes(ctx context.Context, c *models.Code) error {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT ticket_type_id FROM code_ticket_types WHERE code_id = $1 ORDER BY ticket_type_id`, c.ID)
	if err != nil {
		return fmt.Errorf("failed to load code ticket types: %w", err)
	}
	defer rows.Close()

	c.TicketTypeIDs = nil
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan code ticket type: %w", err)
		}
		c.TicketTypeIDs = append(c.TicketTypeIDs, id)
	}
	return rows.Err()
}

func (r *CodeRepository) getBy(ctx context.Context, where string, args ...any) (*models.Code, error) {
	c, err := scanCode(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+codeColumns+` FROM codes WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get code: %w", err)
	}
	if err := r.loadTicketTypes(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CodeRepository) GetCode(ctx context.Context, id uuid.UUID) (*models.Code, error) {
	return r.getBy(ctx, `id = $1`, id)
}

func (r *CodeRepository) FindCodeByRedemptionCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Code, error) {
	return r.getBy(ctx, `event_id = $1 AND redemption_code = $2`, eventID, code)
}

func (r *CodeRepository) UpdateCode(ctx context.Context, c *models.Code) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		query := `
			UPDATE codes
			SET name = $3, redemption_code = $4, max_uses = $5, max_tickets_per_user = $6,
				discount_in_cents = $7, discount_as_percentage = $8, start_date = $9, end_date = $10,
				version = version + 1, updated_at = $11
			WHERE id = $1 AND version = $2`

		res, err := r.db.Conn(ctx).ExecContext(ctx, query,
			c.ID, c.Version, c.Name, c.RedemptionCode, c.MaxUses, c.MaxTicketsPerUser,
			c.DiscountInCents, c.DiscountAsPercentage, c.StartDate, c.EndDate, c.UpdatedAt)
		if err != nil && isUniqueViolation(err) {
			return redemptionCodeTaken()
		}
		if err := expectOne(res, err, "code"); err != nil {
			return err
		}
		c.Version++
		return r.replaceTicketTypes(ctx, c)
	})
}

func (r *CodeRepository) AccessCodeExists(ctx context.Context, ticketTypeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM codes c
			JOIN code_ticket_types ctt ON ctt.code_id = c.id
			WHERE ctt.ticket_type_id = $1 AND c.code_type = 'Access'
		)`, ticketTypeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check access codes: %w", err)
	}
	return exists, nil
}

func (r *CodeRepository) RedemptionCodeTaken(ctx context.Context, eventID uuid.UUID, code string, exclude uuid.UUID) (bool, error) {
	var taken bool
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM codes WHERE event_id = $1 AND redemption_code = $2 AND id <> $3)
			OR EXISTS (SELECT 1 FROM holds WHERE event_id = $1 AND redemption_code = $2 AND id <> $3)`,
		eventID, code, exclude).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check redemption code: %w", err)
	}
	return taken, nil
}
