package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/pricing"
	"boxoffice/internal/redemption"
)

type PaymentResult struct {
	Payment      models.Payment `json:"payment"`
	Paid         bool           `json:"paid"`
	TotalInCents int64          `json:"total_in_cents"`
	PaidInCents  int64          `json:"paid_in_cents"`
}

// AddExternalPayment records money taken outside the platform, e.g. cash at
// the box office.
func (s *CartService) AddExternalPayment(ctx context.Context, order *models.Order, userID uuid.UUID,
	reference string, amount int64) (*PaymentResult, error) {

	return s.addPayment(ctx, order, userID, models.Payment{
		Method:            models.PaymentMethodExternal,
		ExternalReference: reference,
		AmountInCents:     amount,
	})
}

// AddProviderPayment records a card payment and charges the organization's
// card fee on the order first.
func (s *CartService) AddProviderPayment(ctx context.Context, order *models.Order, userID uuid.UUID,
	provider, reference string, amount int64) (*PaymentResult, error) {

	return s.addPayment(ctx, order, userID, models.Payment{
		Method:            models.PaymentMethodProvider,
		Provider:          provider,
		ExternalReference: reference,
		AmountInCents:     amount,
	})
}

func (s *CartService) addPayment(ctx context.Context, order *models.Order, userID uuid.UUID,
	payment models.Payment) (result *PaymentResult, err error) {

	ctx, span := tracer.Start(ctx, "cart.AddPayment", trace.WithAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.String("payment.method", string(payment.Method)),
	))
	defer func() { finishSpan(span, "add_payment", err) }()
	ctx = logger.ContextWithOrderID(ctx, order.ID)

	verrs := apperrors.NewValidationErrors()
	if payment.AmountInCents < 0 {
		verrs.Add("amount_in_cents", apperrors.CodeInvalid, "amount cannot be negative", nil)
	}
	if payment.ExternalReference == "" {
		verrs.Add("external_reference", apperrors.CodeRequired, "external_reference is required", nil)
	}
	if payment.Method == models.PaymentMethodProvider && payment.Provider == "" {
		verrs.Add("provider", apperrors.CodeRequired, "provider is required", nil)
	}
	if err := verrs.Err(); err != nil {
		return nil, err
	}

	loaded := *order
	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.recordPayment(ctx, order, userID, payment)
		return err
	})
	if err != nil {
		*order = loaded
		return nil, err
	}

	if result.Paid {
		metrics.OrdersPaid.WithLabelValues(string(payment.Method)).Inc()
		logger.WithContext(ctx).Info("Order paid",
			"method", payment.Method, "total_in_cents", result.TotalInCents, "paid_in_cents", result.PaidInCents)
	}
	return result, nil
}

func (s *CartService) recordPayment(ctx context.Context, order *models.Order, userID uuid.UUID,
	payment models.Payment) (*PaymentResult, error) {

	now := s.clock.Now()
	if order.UserID != userID {
		return nil, apperrors.BusinessProcess("order belongs to another user")
	}
	if order.Status != models.OrderStatusDraft {
		return nil, orderNotDraft(order)
	}
	if order.ExpiredAt(now) {
		return nil, apperrors.BusinessProcess(fmt.Sprintf("order %s expired at %s", order.ID, order.ExpiresAt))
	}

	items, err := s.repos.Orders.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.checkReservations(ctx, order, items)
	if err != nil {
		return nil, err
	}

	if payment.Method == models.PaymentMethodProvider {
		if items, err = s.applyCardFee(ctx, order.ID, items, tickets, now); err != nil {
			return nil, err
		}
	}
	total := pricing.Total(items)

	payment.ID = uuid.New()
	payment.OrderID = order.ID
	payment.CreatedBy = userID
	payment.CreatedAt = now
	if err := s.repos.Orders.CreatePayment(ctx, &payment); err != nil {
		return nil, err
	}
	paid, err := s.repos.Orders.SumPayments(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	result := &PaymentResult{Payment: payment, TotalInCents: total, PaidInCents: paid}
	if paid < total {
		return result, s.repos.Orders.UpdateOrder(ctx, order, now)
	}

	var units int64
	for _, row := range tickets {
		units += row.Quantity
	}
	purchased, err := s.repos.Inventory.MarkPurchased(ctx, order.ID, now)
	if err != nil {
		return nil, err
	}
	if purchased != units {
		return nil, apperrors.BusinessProcess(fmt.Sprintf("order %s holds %d reservations for %d tickets", order.ID, purchased, units))
	}

	order.Status = models.OrderStatusPaid
	order.PaidAt = &now
	order.ExpiresAt = nil
	if err := s.repos.Orders.UpdateOrder(ctx, order, now); err != nil {
		return nil, err
	}
	if err := s.clearCartPointer(ctx, order.UserID, order.ID, now); err != nil {
		return nil, err
	}

	orgID, err := s.orderOrganization(ctx, items)
	if err != nil {
		return nil, err
	}
	err = s.emit(ctx, models.DomainEventOrderCompleted, models.TableOrders, order.ID, orgID, models.OrderCompletedPayload{
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalInCents:  total,
		PaymentMethod: string(payment.Method),
		Timestamp:     now,
	})
	if err != nil {
		return nil, err
	}
	result.Paid = true
	return result, nil
}

// checkReservations confirms every ticket row still owns its units and that
// its code or hold still admits it.
func (s *CartService) checkReservations(ctx context.Context, order *models.Order, items []models.OrderItem) ([]*models.OrderItem, error) {
	now := s.clock.Now()
	var tickets []*models.OrderItem
	var lines []models.UpdateOrderItem
	verrs := apperrors.NewValidationErrors()

	for i := range items {
		row := &items[i]
		if row.ItemType != models.OrderItemTypeTickets {
			continue
		}
		idx := len(tickets)
		tickets = append(tickets, row)

		live, err := s.repos.Inventory.CountLiveReservations(ctx, row.ID, now)
		if err != nil {
			return nil, err
		}
		if live != row.Quantity {
			verrs.Add(lineField(idx), apperrors.CodeReservationLost, "tickets are no longer reserved",
				map[string]any{"reserved": live, "quantity": row.Quantity})
		}

		line := models.UpdateOrderItem{TicketTypeID: deref(row.TicketTypeID), Quantity: row.Quantity}
		code, err := s.redemptionCodeOf(ctx, row)
		if err != nil {
			return nil, err
		}
		line.RedemptionCode = code
		lines = append(lines, line)
	}

	if len(tickets) == 0 {
		return nil, apperrors.BusinessProcess("order has no tickets")
	}
	if err := verrs.Err(); err != nil {
		return nil, err
	}

	_, err := s.validator.Validate(ctx, redemption.Request{
		UserID:  order.UserID,
		OrderID: order.ID,
		Lines:   lines,
		Now:     now,
	})
	return tickets, err
}

func (s *CartService) redemptionCodeOf(ctx context.Context, row *models.OrderItem) (*string, error) {
	switch {
	case row.CodeID != nil:
		c, err := s.repos.Codes.GetCode(ctx, *row.CodeID)
		if err != nil || c == nil {
			return nil, err
		}
		return &c.RedemptionCode, nil
	case row.HoldID != nil:
		h, err := s.repos.Holds.GetHold(ctx, *row.HoldID)
		if err != nil || h == nil {
			return nil, err
		}
		return &h.RedemptionCode, nil
	}
	return nil, nil
}

// applyCardFee sets the CreditCardFees row from the total of every other
// row and returns the reloaded items.
func (s *CartService) applyCardFee(ctx context.Context, orderID uuid.UUID, items []models.OrderItem,
	tickets []*models.OrderItem, now time.Time) ([]models.OrderItem, error) {

	var base int64
	var row *models.OrderItem
	for i := range items {
		if items[i].ItemType == models.OrderItemTypeCreditCardFees {
			row = &items[i]
			continue
		}
		base += items[i].Subtotal()
	}

	org, err := s.organizationOf(ctx, deref(tickets[0].EventID))
	if err != nil {
		return nil, err
	}
	fee := pricing.CreditCardFee(base, org.CreditCardFeeBasisPoints)

	switch {
	case fee == 0 && row == nil:
		return items, nil
	case fee == 0:
		err = s.repos.Orders.DeleteOrderItem(ctx, row.ID)
	case row == nil:
		err = s.repos.Orders.CreateOrderItem(ctx, &models.OrderItem{
			ID:                uuid.New(),
			OrderID:           orderID,
			ItemType:          models.OrderItemTypeCreditCardFees,
			UnitPriceInCents:  fee,
			CompanyFeeInCents: fee,
			Quantity:          1,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	default:
		row.UnitPriceInCents = fee
		row.CompanyFeeInCents = fee
		row.UpdatedAt = now
		err = s.repos.Orders.UpdateOrderItem(ctx, row)
	}
	if err != nil {
		return nil, err
	}
	return s.repos.Orders.ListOrderItems(ctx, orderID)
}
