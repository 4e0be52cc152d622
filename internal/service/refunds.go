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
)

// RefundLine names one unit to refund: a ticket instance of a Tickets row,
// or one unit of an EventFees or CreditCardFees row when TicketInstanceID
// is nil.
type RefundLine struct {
	OrderItemID      uuid.UUID  `json:"order_item_id"`
	TicketInstanceID *uuid.UUID `json:"ticket_instance_id,omitempty"`
}

type RefundRequest struct {
	Items          []RefundLine `json:"items"`
	ActorID        uuid.UUID    `json:"actor_id"`
	Reason         *string      `json:"reason,omitempty"`
	ManualOverride bool         `json:"manual_override"`
}

type RefundService struct {
	*deps
}

// Refund reverses the requested units of a paid order. Every line must
// succeed or nothing is refunded. A ticket already refunded is no longer
// attached to its row, so repeating a request fails instead of paying twice.
func (s *RefundService) Refund(ctx context.Context, order *models.Order, req RefundRequest) (refund *models.Refund, amount int64, err error) {
	ctx, span := tracer.Start(ctx, "refund.Refund", trace.WithAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.Int("lines", len(req.Items)),
		attribute.Bool("manual_override", req.ManualOverride),
	))
	defer func() { finishSpan(span, "refund", err) }()
	ctx = logger.ContextWithOrderID(ctx, order.ID)

	if len(req.Items) == 0 {
		return nil, 0, apperrors.Single("items", apperrors.CodeRequired, "at least one item is required")
	}

	loaded := *order
	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		refund, err = s.refund(ctx, order, req)
		return err
	})
	if err != nil {
		*order = loaded
		if verrs, ok := apperrors.AsValidation(err); ok {
			metrics.ObserveValidation(verrs.Codes())
		}
		return nil, 0, err
	}

	if refund.AmountInCents > 0 {
		metrics.RefundedCents.Add(float64(refund.AmountInCents))
	}
	logger.WithContext(ctx).Info("Refund issued",
		"refund_id", refund.ID, "amount_in_cents", refund.AmountInCents, "status", order.Status)
	return refund, refund.AmountInCents, nil
}

// refundRun accumulates the reversed units of one request.
type refundRun struct {
	items    map[uuid.UUID]*models.OrderItem
	children map[uuid.UUID]map[models.OrderItemType]*models.OrderItem
	order    []uuid.UUID
	lines    map[uuid.UUID]*models.RefundItem
	amount   int64
}

func newRefundRun(items []models.OrderItem) *refundRun {
	r := &refundRun{
		items:    map[uuid.UUID]*models.OrderItem{},
		children: childIndex(items),
		lines:    map[uuid.UUID]*models.RefundItem{},
	}
	for i := range items {
		r.items[items[i].ID] = &items[i]
	}
	return r
}

// take reverses one unit of item; false when every unit is already refunded.
func (r *refundRun) take(item *models.OrderItem) bool {
	if item.RefundedQuantity >= item.Quantity {
		return false
	}
	item.RefundedQuantity++
	r.amount += item.UnitPriceInCents

	line, ok := r.lines[item.ID]
	if !ok {
		line = &models.RefundItem{OrderItemID: item.ID}
		r.lines[item.ID] = line
		r.order = append(r.order, item.ID)
	}
	line.Quantity++
	line.AmountInCents += item.UnitPriceInCents
	return true
}

func (r *refundRun) fullyRefunded() bool {
	for _, it := range r.items {
		if !it.FullyRefunded() {
			return false
		}
	}
	return true
}

type refundFailure struct {
	code    string
	message string
}

func (s *RefundService) refund(ctx context.Context, order *models.Order, req RefundRequest) (*models.Refund, error) {
	now := s.clock.Now()
	if !order.Status.Purchased() {
		return nil, apperrors.BusinessProcess(fmt.Sprintf("order_not_refundable: order %s is %s", order.ID, order.Status))
	}

	items, err := s.repos.Orders.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	run := newRefundRun(items)
	verrs := apperrors.NewValidationErrors()

	for i, line := range req.Items {
		item := run.items[line.OrderItemID]
		if item == nil {
			return nil, apperrors.NotFound("order item", line.OrderItemID)
		}

		var failure *refundFailure
		switch {
		case line.TicketInstanceID != nil && item.ItemType != models.OrderItemTypeTickets:
			failure = &refundFailure{apperrors.CodeTicketInstanceNotAttached, "ticket instance is not attached to this item"}
		case line.TicketInstanceID != nil:
			failure, err = s.refundTicket(ctx, run, item, *line.TicketInstanceID, req.ManualOverride, now)
			if err != nil {
				return nil, err
			}
		case item.ItemType == models.OrderItemTypeEventFees, item.ItemType == models.OrderItemTypeCreditCardFees:
			if !run.take(item) {
				failure = &refundFailure{apperrors.CodeAlreadyRefunded, "item is already fully refunded"}
			}
		default:
			failure = &refundFailure{apperrors.CodeTicketInstanceRequired, "refunding this item needs a ticket instance"}
		}
		if failure != nil {
			verrs.Add(lineField(i), failure.code, failure.message, nil)
		}
	}
	if err := verrs.Err(); err != nil {
		return nil, err
	}

	refund := &models.Refund{
		ID:             uuid.New(),
		OrderID:        order.ID,
		UserID:         req.ActorID,
		Reason:         req.Reason,
		ManualOverride: req.ManualOverride,
		AmountInCents:  run.amount,
		CreatedAt:      now,
	}
	for _, id := range run.order {
		item := run.items[id]
		item.UpdatedAt = now
		if err := s.repos.Orders.UpdateOrderItem(ctx, item); err != nil {
			return nil, err
		}
		refund.Items = append(refund.Items, *run.lines[id])
	}
	if err := s.repos.Refunds.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}

	if run.fullyRefunded() {
		order.Status = models.OrderStatusCancelled
	} else {
		order.Status = models.OrderStatusPartiallyRefunded
	}
	if err := s.repos.Orders.UpdateOrder(ctx, order, now); err != nil {
		return nil, err
	}

	orgID, err := s.orderOrganization(ctx, items)
	if err != nil {
		return nil, err
	}
	err = s.emit(ctx, models.DomainEventOrderRefund, models.TableOrders, order.ID, orgID, models.OrderRefundPayload{
		OrderID:        order.ID,
		RefundID:       refund.ID,
		ActorID:        req.ActorID,
		AmountInCents:  refund.AmountInCents,
		ManualOverride: req.ManualOverride,
		Timestamp:      now,
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

// refundTicket reverses one ticket unit of row. Unused tickets give back the
// ticket, its discount and its fee; redeemed ones follow the configured mode
// unless manual override is set.
func (s *RefundService) refundTicket(ctx context.Context, run *refundRun, row *models.OrderItem,
	instanceID uuid.UUID, override bool, now time.Time) (*refundFailure, error) {

	ti, err := s.repos.Inventory.GetTicketInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if ti == nil || ti.OrderItemID == nil || *ti.OrderItemID != row.ID {
		return &refundFailure{apperrors.CodeTicketInstanceNotAttached, "ticket instance is not attached to this item"}, nil
	}

	rt, err := s.repos.Refunds.GetRefundedTicket(ctx, row.ID, ti.ID)
	if err != nil {
		return nil, err
	}
	if rt == nil {
		rt = &models.RefundedTicket{ID: uuid.New(), OrderItemID: row.ID, TicketInstanceID: ti.ID, CreatedAt: now}
	}
	discount := run.children[row.ID][models.OrderItemTypeDiscount]
	fee := run.children[row.ID][models.OrderItemTypePerUnitFees]

	switch ti.Status {
	case models.TicketInstanceStatusPurchased:
		if !s.takeTicket(run, row, discount, fee, rt, now) {
			return &refundFailure{apperrors.CodeAlreadyRefunded, "ticket is already refunded"}, nil
		}
		status, err := s.resaleStatus(ctx, row)
		if err != nil {
			return nil, err
		}
		if err := s.repos.Inventory.DetachInstance(ctx, ti.ID, status, now); err != nil {
			return nil, err
		}

	case models.TicketInstanceStatusRedeemed:
		if override {
			if !s.takeTicket(run, row, discount, fee, rt, now) {
				return &refundFailure{apperrors.CodeAlreadyRefunded, "ticket is already refunded"}, nil
			}
			// A scanned unit is never sold again.
			if err := s.repos.Inventory.DetachInstance(ctx, ti.ID, models.TicketInstanceStatusNullified, now); err != nil {
				return nil, err
			}
			break
		}
		if s.opts.RedeemedMode == RedeemedRefundReject {
			return &refundFailure{apperrors.CodeTicketAlreadyRedeemed, "ticket was already redeemed"}, nil
		}
		if rt.FeeRefundedAt != nil {
			return &refundFailure{apperrors.CodeAlreadyRefunded, "ticket fee is already refunded"}, nil
		}
		if fee == nil {
			return &refundFailure{apperrors.CodeTicketAlreadyRedeemed, "ticket was redeemed and carries no fee"}, nil
		}
		if !run.take(fee) {
			return &refundFailure{apperrors.CodeAlreadyRefunded, "ticket fee is already refunded"}, nil
		}
		rt.FeeRefundedAt = &now

	default:
		return &refundFailure{apperrors.CodeTicketInstanceNotAttached, "ticket instance is not sold on this item"}, nil
	}

	rt.UpdatedAt = now
	return nil, s.repos.Refunds.SaveRefundedTicket(ctx, rt)
}

// takeTicket reverses the ticket unit and its children. A fee refunded
// earlier on its own is not paid out again.
func (s *RefundService) takeTicket(run *refundRun, row, discount, fee *models.OrderItem, rt *models.RefundedTicket, now time.Time) bool {
	if !run.take(row) {
		return false
	}
	if discount != nil {
		run.take(discount)
	}
	if fee != nil && rt.FeeRefundedAt == nil {
		run.take(fee)
		rt.FeeRefundedAt = &now
	}
	rt.TicketRefundedAt = &now
	return true
}

func (s *RefundService) resaleStatus(ctx context.Context, row *models.OrderItem) (models.TicketInstanceStatus, error) {
	if s.opts.ResalePolicy == ResalePolicyNullify {
		return models.TicketInstanceStatusNullified, nil
	}
	tt, err := s.ticketType(ctx, deref(row.TicketTypeID))
	if err != nil {
		return "", err
	}
	if tt.Status == models.TicketTypeStatusCancelled {
		return models.TicketInstanceStatusNullified, nil
	}
	return models.TicketInstanceStatusAvailable, nil
}
