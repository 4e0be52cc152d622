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

type RefundRepository struct {
	db *database.DB
}

func NewRefundRepository(db *database.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		_, err := conn.ExecContext(ctx, `
			INSERT INTO refunds (id, order_id, user_id, reason, manual_override, amount_in_cents, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			refund.ID, refund.OrderID, refund.UserID, refund.Reason, refund.ManualOverride,
			refund.AmountInCents, refund.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create refund: %w", err)
		}

		for i := range refund.Items {
			item := &refund.Items[i]
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			item.RefundID = refund.ID
			_, err := conn.ExecContext(ctx, `
				INSERT INTO refund_items (id, refund_id, order_item_id, quantity, amount_in_cents)
				VALUES ($1, $2, $3, $4, $5)`,
				item.ID, item.RefundID, item.OrderItemID, item.Quantity, item.AmountInCents)
			if err != nil {
				return fmt.Errorf("failed to create refund item: %w", err)
			}
		}
		return nil
	})
}

func (r *RefundRepository) GetRefundedTicket(ctx context.Context, orderItemID, ticketInstanceID uuid.UUID) (*models.RefundedTicket, error) {
	var rt models.RefundedTicket
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT id, order_item_id, ticket_instance_id, fee_refunded_at, ticket_refunded_at, created_at, updated_at
		FROM refunded_tickets
		WHERE order_item_id = $1 AND ticket_instance_id = $2`, orderItemID, ticketInstanceID).Scan(
		&rt.ID, &rt.OrderItemID, &rt.TicketInstanceID, &rt.FeeRefundedAt, &rt.TicketRefundedAt,
		&rt.CreatedAt, &rt.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get refunded ticket: %w", err)
	}
	return &rt, nil
}

func (r *RefundRepository) SaveRefundedTicket(ctx context.Context, rt *models.RefundedTicket) error {
	query := `
		INSERT INTO refunded_tickets (id, order_item_id, ticket_instance_id, fee_refunded_at, ticket_refunded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_item_id, ticket_instance_id) DO UPDATE
		SET fee_refunded_at = EXCLUDED.fee_refunded_at,
			ticket_refunded_at = EXCLUDED.ticket_refunded_at,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		rt.ID, rt.OrderItemID, rt.TicketInstanceID, rt.FeeRefundedAt, rt.TicketRefundedAt, rt.CreatedAt, rt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save refunded ticket: %w", err)
	}
	return nil
}
