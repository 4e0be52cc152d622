// Package service holds the commerce operations: the cart engine, payments,
// refunds and code and hold administration. Every operation runs in one
// transaction of repository.Transactor and reads time from the injected clock.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/inventory"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/redemption"
	"boxoffice/internal/repository"
)

var tracer = otel.Tracer("boxoffice/internal/service")

// ResalePolicy decides what happens to an unused ticket after a refund.
type ResalePolicy string

const (
	ResalePolicyResell  ResalePolicy = "resell"
	ResalePolicyNullify ResalePolicy = "nullify"
)

// RedeemedRefundMode decides how a refund of a scanned ticket is handled
// when no manual override is given.
type RedeemedRefundMode string

const (
	RedeemedRefundFeeOnly RedeemedRefundMode = "fee_only"
	RedeemedRefundReject  RedeemedRefundMode = "reject"
)

type Options struct {
	CartTTL      time.Duration
	ResalePolicy ResalePolicy
	RedeemedMode RedeemedRefundMode
}

func DefaultOptions() Options {
	return Options{
		CartTTL:      15 * time.Minute,
		ResalePolicy: ResalePolicyResell,
		RedeemedMode: RedeemedRefundFeeOnly,
	}
}

type Services struct {
	Cart    *CartService
	Refunds *RefundService
	Codes   *CodeService
	Holds   *HoldService
}

// NewServices wires every service. feeSchedules overrides repos.FeeSchedules
// when non-nil, so a cache can sit in front of the table.
func NewServices(repos *repository.Repositories, feeSchedules repository.FeeScheduleStore, clock clockwork.Clock, opts Options) *Services {
	if feeSchedules == nil {
		feeSchedules = repos.FeeSchedules
	}
	d := &deps{
		repos:        repos,
		feeSchedules: feeSchedules,
		clock:        clock,
		opts:         opts,
		inventory:    inventory.NewAccountant(repos, clock),
		validator:    redemption.NewValidator(repos),
	}
	return &Services{
		Cart:    &CartService{d},
		Refunds: &RefundService{d},
		Codes:   &CodeService{d},
		Holds:   &HoldService{d},
	}
}

type deps struct {
	repos        *repository.Repositories
	feeSchedules repository.FeeScheduleStore
	clock        clockwork.Clock
	opts         Options
	inventory    *inventory.Accountant
	validator    *redemption.Validator
}

// emit appends a domain event in the caller's transaction.
func (d *deps) emit(ctx context.Context, eventType models.DomainEventType, table string, mainID uuid.UUID,
	orgID *uuid.UUID, payload any) error {

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	ev := &models.DomainEvent{
		EventType:      eventType,
		MainTable:      table,
		MainID:         mainID,
		OrganizationID: orgID,
		Payload:        raw,
		CreatedAt:      d.clock.Now(),
	}
	if err := d.repos.DomainEvents.CreateDomainEvent(ctx, ev); err != nil {
		return fmt.Errorf("failed to record %s: %w", eventType, err)
	}
	return nil
}

// organizationOf resolves the organization selling the event.
func (d *deps) organizationOf(ctx context.Context, eventID uuid.UUID) (*models.Organization, error) {
	ev, err := d.repos.Organizations.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, apperrors.NotFound("event", eventID)
	}
	org, err := d.repos.Organizations.GetOrganization(ctx, ev.OrganizationID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, apperrors.NotFound("organization", ev.OrganizationID)
	}
	return org, nil
}

func (d *deps) ticketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error) {
	tt, err := d.repos.TicketTypes.GetTicketType(ctx, id)
	if err != nil {
		return nil, err
	}
	if tt == nil {
		return nil, apperrors.NotFound("ticket type", id)
	}
	return tt, nil
}

// finishSpan records err on the span and counts lost optimistic writes.
func finishSpan(span trace.Span, operation string, err error) {
	if err != nil {
		if apperrors.IsConcurrency(err) {
			metrics.ConcurrencyConflicts.WithLabelValues(operation).Inc()
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	}
	span.End()
}

func orderNotDraft(o *models.Order) error {
	return apperrors.BusinessProcess(fmt.Sprintf("order_not_draft: order %s is %s", o.ID, o.Status))
}

// orderOrganization is the organization of the order's first ticket row.
func (d *deps) orderOrganization(ctx context.Context, items []models.OrderItem) (*uuid.UUID, error) {
	for i := range items {
		if items[i].ItemType != models.OrderItemTypeTickets || items[i].EventID == nil {
			continue
		}
		org, err := d.organizationOf(ctx, *items[i].EventID)
		if err != nil {
			return nil, err
		}
		return &org.ID, nil
	}
	return nil, nil
}

// clearCartPointer detaches the user's cart from orderID if it still points there.
func (d *deps) clearCartPointer(ctx context.Context, userID, orderID uuid.UUID, now time.Time) error {
	cart, err := d.repos.Orders.GetUserCart(ctx, userID)
	if err != nil {
		return err
	}
	if cart == nil || cart.OrderID == nil || *cart.OrderID != orderID {
		return nil
	}
	cart.OrderID = nil
	return d.repos.Orders.SaveUserCart(ctx, cart, now)
}

func lineField(i int) string {
	return fmt.Sprintf("items[%d]", i)
}
