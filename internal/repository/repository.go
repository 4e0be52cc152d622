package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"boxoffice/internal/database"
	"boxoffice/internal/lease"
	"boxoffice/internal/models"
)

// Getters return (nil, nil) when the row does not exist. Version-checked
// writes return errors.ErrConcurrency when the stored version moved on.

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type OrganizationStore interface {
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

type FeeScheduleStore interface {
	CreateFeeSchedule(ctx context.Context, schedule *models.FeeSchedule) error
	GetFeeSchedule(ctx context.Context, id uuid.UUID) (*models.FeeSchedule, error)
}

type TicketTypeStore interface {
	// CreateTicketType also creates Capacity Available ticket instances.
	CreateTicketType(ctx context.Context, tt *models.TicketType) error
	GetTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error)
	UpdateTicketTypeStatus(ctx context.Context, id uuid.UUID, status models.TicketTypeStatus, now time.Time) error
	CreateTicketPricing(ctx context.Context, p *models.TicketPricing) error
	ListTicketPricing(ctx context.Context, ticketTypeID uuid.UUID) ([]models.TicketPricing, error)
}

// ReserveParams claims units of one pool: the general pool when HoldID is
// nil, otherwise the hold's sub-pool.
type ReserveParams struct {
	TicketTypeID uuid.UUID
	HoldID       *uuid.UUID
	OrderItemID  uuid.UUID
	Quantity     int64
	Until        time.Time
	Now          time.Time
}

// MoveParams moves claimable units between pools; nil means the general pool.
type MoveParams struct {
	TicketTypeID uuid.UUID
	FromHoldID   *uuid.UUID
	ToHoldID     *uuid.UUID
	Quantity     int64
	Now          time.Time
}

type InventoryStore interface {
	InventoryCounts(ctx context.Context, ticketTypeID uuid.UUID, now time.Time) (*models.InventoryCounts, error)
	HoldCounts(ctx context.Context, holdID uuid.UUID, now time.Time) (*models.HoldCounts, error)
	// ReserveInstances claims up to Quantity units and returns how many it got.
	ReserveInstances(ctx context.Context, p ReserveParams) (int64, error)
	// ReleaseInstances returns up to n reserved units of an order item to their pool.
	ReleaseInstances(ctx context.Context, orderItemID uuid.UUID, n int64, now time.Time) (int64, error)
	ReleaseOrderReservations(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error)
	ExtendReservations(ctx context.Context, orderID uuid.UUID, until, now time.Time) error
	CountLiveReservations(ctx context.Context, orderItemID uuid.UUID, now time.Time) (int64, error)
	MarkPurchased(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error)
	GetTicketInstance(ctx context.Context, id uuid.UUID) (*models.TicketInstance, error)
	ListTicketInstances(ctx context.Context, orderItemID uuid.UUID) ([]models.TicketInstance, error)
	// DetachInstance clears the order item of a sold unit and sets its status.
	DetachInstance(ctx context.Context, id uuid.UUID, status models.TicketInstanceStatus, now time.Time) error
	// RedeemInstance flips a Purchased unit to Redeemed; false if it was not Purchased.
	RedeemInstance(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MoveInstances(ctx context.Context, p MoveParams) (int64, error)
}

type HoldStore interface {
	CreateHold(ctx context.Context, hold *models.Hold) error
	GetHold(ctx context.Context, id uuid.UUID) (*models.Hold, error)
	UpdateHold(ctx context.Context, hold *models.Hold) error
	FindHoldByRedemptionCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Hold, error)
	ListHolds(ctx context.Context, ticketTypeID uuid.UUID) ([]models.Hold, error)
}

type CodeStore interface {
	CreateCode(ctx context.Context, code *models.Code) error
	GetCode(ctx context.Context, id uuid.UUID) (*models.Code, error)
	UpdateCode(ctx context.Context, code *models.Code) error
	FindCodeByRedemptionCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Code, error)
	// AccessCodeExists reports whether any Access code lists the ticket type.
	AccessCodeExists(ctx context.Context, ticketTypeID uuid.UUID) (bool, error)
	// RedemptionCodeTaken checks codes and holds of the event, ignoring exclude.
	RedemptionCodeTaken(ctx context.Context, eventID uuid.UUID, code string, exclude uuid.UUID) (bool, error)
}

// PurchaseFilter selects ticket rows by exactly one of its fields.
type PurchaseFilter struct {
	CodeID       *uuid.UUID
	HoldID       *uuid.UUID
	TicketTypeID *uuid.UUID
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order, now time.Time) error
	ListExpiredDrafts(ctx context.Context, now time.Time, limit int) ([]models.Order, error)

	GetUserCart(ctx context.Context, userID uuid.UUID) (*models.UserCart, error)
	// SaveUserCart inserts when Version is 0, otherwise updates by version.
	SaveUserCart(ctx context.Context, cart *models.UserCart, now time.Time) error

	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	GetOrderItem(ctx context.Context, id uuid.UUID) (*models.OrderItem, error)
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	UpdateOrderItem(ctx context.Context, item *models.OrderItem) error
	DeleteOrderItem(ctx context.Context, id uuid.UUID) error

	// PurchasedQuantity sums net ticket quantities of the user's paid orders.
	PurchasedQuantity(ctx context.Context, userID uuid.UUID, f PurchaseFilter) (int64, error)
	// CountCodeUses counts distinct other orders holding unrefunded tickets
	// under the code that are paid or still live drafts.
	CountCodeUses(ctx context.Context, codeID, excludeOrderID uuid.UUID, now time.Time) (int64, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	SumPayments(ctx context.Context, orderID uuid.UUID) (int64, error)
}

type RefundStore interface {
	CreateRefund(ctx context.Context, refund *models.Refund) error
	GetRefundedTicket(ctx context.Context, orderItemID, ticketInstanceID uuid.UUID) (*models.RefundedTicket, error)
	SaveRefundedTicket(ctx context.Context, rt *models.RefundedTicket) error
}

type DomainEventStore interface {
	// CreateDomainEvent assigns ID when zero and Seq always.
	CreateDomainEvent(ctx context.Context, ev *models.DomainEvent) error
	ListDomainEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]models.DomainEvent, error)
}

type PublisherStore interface {
	lease.Store
	CreatePublisher(ctx context.Context, p *models.DomainEventPublisher) error
	GetPublisher(ctx context.Context, id uuid.UUID) (*models.DomainEventPublisher, error)
	ListPublishers(ctx context.Context) ([]models.DomainEventPublisher, error)
	// ClaimForPublishing records the pair once; false means it was already claimed.
	ClaimForPublishing(ctx context.Context, publisherID, eventID uuid.UUID) (bool, error)
	UnclaimForPublishing(ctx context.Context, publisherID, eventID uuid.UUID) error
	// UpdateLastDomainEventSeq only moves the cursor forward and returns the stored value.
	UpdateLastDomainEventSeq(ctx context.Context, id uuid.UUID, seq int64, now time.Time) (int64, error)
}

type Repositories struct {
	Tx            Transactor
	Organizations OrganizationStore
	FeeSchedules  FeeScheduleStore
	TicketTypes   TicketTypeStore
	Inventory     InventoryStore
	Holds         HoldStore
	Codes         CodeStore
	Orders        OrderStore
	Refunds       RefundStore
	DomainEvents  DomainEventStore
	Publishers    PublisherStore
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Tx:            db,
		Organizations: NewOrganizationRepository(db),
		FeeSchedules:  NewFeeScheduleRepository(db),
		TicketTypes:   NewTicketTypeRepository(db),
		Inventory:     NewInventoryRepository(db),
		Holds:         NewHoldRepository(db),
		Codes:         NewCodeRepository(db),
		Orders:        NewOrderRepository(db),
		Refunds:       NewRefundRepository(db),
		DomainEvents:  NewDomainEventRepository(db),
		Publishers:    NewPublisherRepository(db),
	}
}
