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

type OrderRepository struct {
	db *database.DB
}

func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, user_id, status, box_office_pricing, expires_at, paid_at, version, created_at, updated_at`

func scanOrder(s rowScanner) (*models.Order, error) {
	var o models.Order
	err := s.Scan(&o.ID, &o.UserID, &o.Status, &o.BoxOfficePricing, &o.ExpiresAt, &o.PaidAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		o.ID, o.UserID, o.Status, o.BoxOfficePricing, o.ExpiresAt, o.PaidAt, o.Version, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	o, err := scanOrder(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// UpdateOrder writes the order if its version is unchanged and bumps the
// version in place.
func (r *OrderRepository) UpdateOrder(ctx context.Context, o *models.Order, now time.Time) error {
	query := `
		UPDATE orders
		SET status = $3, box_office_pricing = $4, expires_at = $5, paid_at = $6,
			version = version + 1, updated_at = $7
		WHERE id = $1 AND version = $2`

	res, err := r.db.Conn(ctx).ExecContext(ctx, query,
		o.ID, o.Version, o.Status, o.BoxOfficePricing, o.ExpiresAt, o.PaidAt, now)
	if err := expectOne(res, err, "order"); err != nil {
		return err
	}
	o.Version++
	o.UpdatedAt = now
	return nil
}

func (r *OrderRepository) ListExpiredDrafts(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'Draft' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired drafts: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) GetUserCart(ctx context.Context, userID uuid.UUID) (*models.UserCart, error) {
	var c models.UserCart
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT user_id, order_id, version, updated_at FROM user_carts WHERE user_id = $1`, userID).
		Scan(&c.UserID, &c.OrderID, &c.Version, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user cart: %w", err)
	}
	return &c, nil
}

func (r *OrderRepository) SaveUserCart(ctx context.Context, c *models.UserCart, now time.Time) error {
	conn := r.db.Conn(ctx)
	if c.Version == 0 {
		_, err := conn.ExecContext(ctx,
			`INSERT INTO user_carts (user_id, order_id, version, updated_at) VALUES ($1, $2, 1, $3)`,
			c.UserID, c.OrderID, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("user cart: %w", apperrors.ErrConcurrency)
			}
			return fmt.Errorf("failed to create user cart: %w", err)
		}
		c.Version = 1
		c.UpdatedAt = now
		return nil
	}

	res, err := conn.ExecContext(ctx, `
		UPDATE user_carts SET order_id = $3, version = version + 1, updated_at = $4
		WHERE user_id = $1 AND version = $2`, c.UserID, c.Version, c.OrderID, now)
	if err := expectOne(res, err, "user cart"); err != nil {
		return err
	}
	c.Version++
	c.UpdatedAt = now
	return nil
}

const orderItemColumns = `id, order_id, item_type, event_id, ticket_type_id, ticket_pricing_id, hold_id, code_id,
	parent_id, fee_schedule_range_id, unit_price_in_cents, company_fee_in_cents, client_fee_in_cents,
	quantity, refunded_quantity, created_at, updated_at`

func scanOrderItem(s rowScanner) (*models.OrderItem, error) {
	var it models.OrderItem
	err := s.Scan(&it.ID, &it.OrderID, &it.ItemType, &it.EventID, &it.TicketTypeID, &it.TicketPricingID,
		&it.HoldID, &it.CodeID, &it.ParentID, &it.FeeScheduleRangeID, &it.UnitPriceInCents,
		&it.CompanyFeeInCents, &it.ClientFeeInCents, &it.Quantity, &it.RefundedQuantity,
		&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *OrderRepository) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *OrderRepository) GetOrderItem(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	it, err := scanOrderItem(r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+orderItemColumns+` FROM order_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order item: %w", err)
	}
	return it, nil
}

func (r *OrderRepository) CreateOrderItem(ctx context.Context, it *models.OrderItem) error {
	query := `
		INSERT INTO order_items (` + orderItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		it.ID, it.OrderID, it.ItemType, it.EventID, it.TicketTypeID, it.TicketPricingID, it.HoldID, it.CodeID,
		it.ParentID, it.FeeScheduleRangeID, it.UnitPriceInCents, it.CompanyFeeInCents, it.ClientFeeInCents,
		it.Quantity, it.RefundedQuantity, it.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order item: %w", err)
	}
	return nil
}

func (r *OrderRepository) UpdateOrderItem(ctx context.Context, it *models.OrderItem) error {
	query := `
		UPDATE order_items
		SET ticket_pricing_id = $2, fee_schedule_range_id = $3, unit_price_in_cents = $4,
			company_fee_in_cents = $5, client_fee_in_cents = $6, quantity = $7, refunded_quantity = $8,
			updated_at = $9
		WHERE id = $1`

	n, err := rowsAffected(r.db.Conn(ctx).ExecContext(ctx, query,
		it.ID, it.TicketPricingID, it.FeeScheduleRangeID, it.UnitPriceInCents, it.CompanyFeeInCents,
		it.ClientFeeInCents, it.Quantity, it.RefundedQuantity, it.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to update order item: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("order item", it.ID)
	}
	return nil
}

func (r *OrderRepository) DeleteOrderItem(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM order_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete order item: %w", err)
	}
	return nil
}

func (r *OrderRepository) PurchasedQuantity(ctx context.Context, userID uuid.UUID, f PurchaseFilter) (int64, error) {
	var column string
	var id uuid.UUID
	switch {
	case f.CodeID != nil:
		column, id = "oi.code_id", *f.CodeID
	case f.HoldID != nil:
		column, id = "oi.hold_id", *f.HoldID
	case f.TicketTypeID != nil:
		column, id = "oi.ticket_type_id", *f.TicketTypeID
	default:
		return 0, fmt.Errorf("purchase filter is empty")
	}

	query := `
		SELECT COALESCE(SUM(oi.quantity - oi.refunded_quantity), 0)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.user_id = $1
			AND o.status IN ('Paid', 'PartiallyRefunded')
			AND oi.item_type = 'Tickets'
			AND ` + column + ` = $2`

	var n int64
	if err := r.db.Conn(ctx).QueryRowContext(ctx, query, userID, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to sum purchased quantity: %w", err)
	}
	return n, nil
}

func (r *OrderRepository) CountCodeUses(ctx context.Context, codeID, excludeOrderID uuid.UUID, now time.Time) (int64, error) {
	query := `
		SELECT COUNT(DISTINCT o.id)
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		WHERE oi.code_id = $1
			AND oi.item_type = 'Tickets'
			AND oi.refunded_quantity < oi.quantity
			AND o.id <> $2
			AND (o.status IN ('Paid', 'PartiallyRefunded')
				OR (o.status = 'Draft' AND o.expires_at > $3))`

	var n int64
	if err := r.db.Conn(ctx).QueryRowContext(ctx, query, codeID, excludeOrderID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count code uses: %w", err)
	}
	return n, nil
}

func (r *OrderRepository) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, created_by, payment_method, provider, external_reference, amount_in_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Conn(ctx).ExecContext(ctx, query,
		p.ID, p.OrderID, p.CreatedBy, p.Method, p.Provider, p.ExternalReference, p.AmountInCents, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *OrderRepository) SumPayments(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var sum int64
	err := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_in_cents), 0) FROM payments WHERE order_id = $1`, orderID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum payments: %w", err)
	}
	return sum, nil
}
