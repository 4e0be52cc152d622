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

// InventoryRepository keeps one ticket_instances row per sellable unit.
// Claims go through FOR UPDATE SKIP LOCKED so concurrent carts never take
// the same unit and never wait on each other.
type InventoryRepository struct {
	db *database.DB
}

func NewInventoryRepository(db *database.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

func (r *InventoryRepository) InventoryCounts(ctx context.Context, ticketTypeID uuid.UUID, now time.Time) (*models.InventoryCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE ti.hold_id IS NULL AND ti.status = 'Reserved' AND ti.reserved_until >= $2),
			COUNT(*) FILTER (WHERE ti.hold_id IS NULL AND ti.status IN ('Purchased', 'Redeemed')),
			COUNT(*) FILTER (WHERE ti.status = 'Nullified'),
			COUNT(*) FILTER (WHERE ti.hold_id IS NOT NULL AND ti.status <> 'Nullified'),
			COUNT(*) FILTER (WHERE ti.hold_id IS NOT NULL AND ti.status = 'Reserved' AND ti.reserved_until >= $2),
			COUNT(*) FILTER (WHERE ti.hold_id IS NOT NULL AND ti.status IN ('Purchased', 'Redeemed')),
			COUNT(*) FILTER (WHERE h.hold_type = 'Comp' AND ti.status IN ('Purchased', 'Redeemed')),
			COUNT(*) FILTER (WHERE h.hold_type = 'Access' AND ti.status <> 'Nullified')
		FROM ticket_instances ti
		LEFT JOIN holds h ON h.id = ti.hold_id
		WHERE ti.ticket_type_id = $1`

	c := models.InventoryCounts{TicketTypeID: ticketTypeID}
	err := r.db.Conn(ctx).QueryRowContext(ctx, query, ticketTypeID, now).Scan(
		&c.Allocation, &c.Reserved, &c.Purchased, &c.Nullified,
		&c.HoldQuantity, &c.HoldReserved, &c.HoldPurchased, &c.CompPurchased, &c.AccessHoldQuantity)
	if err != nil {
		return nil, fmt.Errorf("failed to count inventory: %w", err)
	}
	return &c, nil
}

func (r *InventoryRepository) HoldCounts(ctx context.Context, holdID uuid.UUID, now time.Time) (*models.HoldCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status <> 'Nullified'),
			COUNT(*) FILTER (WHERE status = 'Reserved' AND reserved_until >= $2),
			COUNT(*) FILTER (WHERE status IN ('Purchased', 'Redeemed'))
		FROM ticket_instances
		WHERE hold_id = $1`

	c := models.HoldCounts{HoldID: holdID}
	err := r.db.Conn(ctx).QueryRowContext(ctx, query, holdID, now).Scan(&c.Quantity, &c.Reserved, &c.Purchased)
	if err != nil {
		return nil, fmt.Errorf("failed to count hold inventory: %w", err)
	}
	return &c, nil
}

func (r *InventoryRepository) ReserveInstances(ctx context.Context, p ReserveParams) (int64, error) {
	query := `
		WITH claimable AS (
			SELECT id FROM ticket_instances
			WHERE ticket_type_id = $1
				AND hold_id IS NOT DISTINCT FROM $2
				AND (status = 'Available' OR (status = 'Reserved' AND reserved_until < $6))
			ORDER BY id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE ticket_instances ti
		SET status = 'Reserved', order_item_id = $3, reserved_until = $5, updated_at = $6
		FROM claimable c
		WHERE ti.id = c.id`

	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, query,
		p.TicketTypeID, p.HoldID, p.OrderItemID, p.Quantity, p.Until, p.Now))
	if err != nil {
		return 0, fmt.Errorf("failed to reserve ticket instances: %w", err)
	}
	return n, nil
}

func (r *InventoryRepository) ReleaseInstances(ctx context.Context, orderItemID uuid.UUID, n int64, now time.Time) (int64, error) {
	query := `
		UPDATE ticket_instances
		SET status = 'Available', order_item_id = NULL, reserved_until = NULL, updated_at = $3
		WHERE id IN (
			SELECT id FROM ticket_instances
			WHERE order_item_id = $1 AND status = 'Reserved'
			ORDER BY id DESC
			LIMIT $2
			FOR UPDATE
		)`

	released, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, query, orderItemID, n, now))
	if err != nil {
		return 0, fmt.Errorf("failed to release ticket instances: %w", err)
	}
	return released, nil
}

func (r *InventoryRepository) ReleaseOrderReservations(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	query := `
		UPDATE ticket_instances
		SET status = 'Available', order_item_id = NULL, reserved_until = NULL, updated_at = $2
		WHERE status = 'Reserved'
			AND order_item_id IN (SELECT id FROM order_items WHERE order_id = $1)`

	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, query, orderID, now))
	if err != nil {
		return 0, fmt.Errorf("failed to release order reservations: %w", err)
	}
	return n, nil
}

func (r *InventoryRepository) ExtendReservations(ctx context.Context, orderID uuid.UUID, until, now time.Time) error {
	query := `
		UPDATE ticket_instances
		SET reserved_until = $2, updated_at = $3
		WHERE status = 'Reserved'
			AND order_item_id IN (SELECT id FROM order_items WHERE order_id = $1)`

	if _, err := r.db.Conn(ctx).ExecContext(ctx, query, orderID, until, now); err != nil {
		return fmt.Errorf("failed to extend reservations: %w", err)
	}
	return nil
}

func (r *InventoryRepository) CountLiveReservations(ctx context.Context, orderItemID uuid.UUID, now time.Time) (int64, error) {
	var n int64
	err := r.db.Conn(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ticket_instances
		WHERE order_item_id = $1 AND status = 'Reserved' AND reserved_until >= $2`,
		orderItemID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count reservations: %w", err)
	}
	return n, nil
}

func (r *InventoryRepository) MarkPurchased(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	query := `
		UPDATE ticket_instances
		SET status = 'Purchased', reserved_until = NULL, updated_at = $2
		WHERE status = 'Reserved'
			AND order_item_id IN (SELECT id FROM order_items WHERE order_id = $1)`

	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, query, orderID, now))
	if err != nil {
		return 0, fmt.Errorf("failed to mark instances purchased: %w", err)
	}
	return n, nil
}

const instanceColumns = `id, ticket_type_id, hold_id, order_item_id, status, reserved_until, redeemed_at, created_at, updated_at`

func scanInstance(row rowScanner) (*models.TicketInstance, error) {
	var ti models.TicketInstance
	err := row.Scan(&ti.ID, &ti.TicketTypeID, &ti.HoldID, &ti.OrderItemID, &ti.Status,
		&ti.ReservedUntil, &ti.RedeemedAt, &ti.CreatedAt, &ti.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ti, nil
}

func (r *InventoryRepository) GetTicketInstance(ctx context.Context, id uuid.UUID) (*models.TicketInstance, error) {
	ti, err := scanInstance(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM ticket_instances WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ticket instance: %w", err)
	}
	return ti, nil
}

func (r *InventoryRepository) ListTicketInstances(ctx context.Context, orderItemID uuid.UUID) ([]models.TicketInstance, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM ticket_instances WHERE order_item_id = $1 ORDER BY id`, orderItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ticket instances: %w", err)
	}
	defer rows.Close()

	var out []models.TicketInstance
	for rows.Next() {
		ti, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket instance: %w", err)
		}
		out = append(out, *ti)
	}
	return out, rows.Err()
}

func (r *InventoryRepository) DetachInstance(ctx context.Context, id uuid.UUID, status models.TicketInstanceStatus, now time.Time) error {
	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE ticket_instances
		SET status = $2, order_item_id = NULL, reserved_until = NULL, redeemed_at = NULL, updated_at = $3
		WHERE id = $1`, id, status, now))
	if err != nil {
		return fmt.Errorf("failed to detach ticket instance: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("ticket instance", id)
	}
	return nil
}

func (r *InventoryRepository) RedeemInstance(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE ticket_instances SET status = 'Redeemed', redeemed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'Purchased'`, id, now))
	if err != nil {
		return false, fmt.Errorf("failed to redeem ticket instance: %w", err)
	}
	return n == 1, nil
}

func (r *InventoryRepository) MoveInstances(ctx context.Context, p MoveParams) (int64, error) {
	query := `
		WITH movable AS (
			SELECT id FROM ticket_instances
			WHERE ticket_type_id = $1
				AND hold_id IS NOT DISTINCT FROM $2
				AND (status = 'Available' OR (status = 'Reserved' AND reserved_until < $5))
			ORDER BY id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE ticket_instances ti
		SET hold_id = $3, status = 'Available', order_item_id = NULL, reserved_until = NULL, updated_at = $5
		FROM movable m
		WHERE ti.id = m.id`

	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, query,
		p.TicketTypeID, p.FromHoldID, p.ToHoldID, p.Quantity, p.Now))
	if err != nil {
		return 0, fmt.Errorf("failed to move ticket instances: %w", err)
	}
	return n, nil
}
