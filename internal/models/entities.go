package models

import (
	"time"

	"github.com/google/uuid"
)

type Organization struct {
	ID                       uuid.UUID `json:"id" db:"id"`
	Name                     string    `json:"name" db:"name"`
	FeeScheduleID            uuid.UUID `json:"fee_schedule_id" db:"fee_schedule_id"`
	EventFeeInCents          int64     `json:"event_fee_in_cents" db:"event_fee_in_cents"`
	CreditCardFeeBasisPoints int64     `json:"cc_fee_basis_points" db:"cc_fee_basis_points"`
	CreatedAt                time.Time `json:"created_at" db:"created_at"`
}

type Event struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	Name           string     `json:"name" db:"name"`
	EventStart     *time.Time `json:"event_start,omitempty" db:"event_start"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

type TicketType struct {
	ID                   uuid.UUID        `json:"id" db:"id"`
	EventID              uuid.UUID        `json:"event_id" db:"event_id"`
	Name                 string           `json:"name" db:"name"`
	Status               TicketTypeStatus `json:"status" db:"status"`
	Capacity             int64            `json:"capacity" db:"capacity"`
	PriceInCents         int64            `json:"price_in_cents" db:"price_in_cents"`
	AdditionalFeeInCents int64            `json:"additional_fee_in_cents" db:"additional_fee_in_cents"`
	LimitPerPerson       int64            `json:"limit_per_person" db:"limit_per_person"`
	StartDate            *time.Time       `json:"start_date,omitempty" db:"start_date"`
	EndDate              *time.Time       `json:"end_date,omitempty" db:"end_date"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at" db:"updated_at"`
}

// OnSaleAt reports whether now falls inside the ticket type's sales window.
func (t *TicketType) OnSaleAt(now time.Time) bool {
	if t.StartDate != nil && now.Before(*t.StartDate) {
		return false
	}
	if t.EndDate != nil && !now.Before(*t.EndDate) {
		return false
	}
	return true
}

// TicketPricing is a dated price period of a ticket type.
type TicketPricing struct {
	ID              uuid.UUID           `json:"id" db:"id"`
	TicketTypeID    uuid.UUID           `json:"ticket_type_id" db:"ticket_type_id"`
	Name            string              `json:"name" db:"name"`
	Status          TicketPricingStatus `json:"status" db:"status"`
	PriceInCents    int64               `json:"price_in_cents" db:"price_in_cents"`
	StartDate       time.Time           `json:"start_date" db:"start_date"`
	EndDate         time.Time           `json:"end_date" db:"end_date"`
	IsBoxOfficeOnly bool                `json:"is_box_office_only" db:"is_box_office_only"`
}

func (p *TicketPricing) ActiveAt(now time.Time) bool {
	return !now.Before(p.StartDate) && now.Before(p.EndDate)
}

type TicketInstance struct {
	ID            uuid.UUID            `json:"id" db:"id"`
	TicketTypeID  uuid.UUID            `json:"ticket_type_id" db:"ticket_type_id"`
	HoldID        *uuid.UUID           `json:"hold_id,omitempty" db:"hold_id"`
	OrderItemID   *uuid.UUID           `json:"order_item_id,omitempty" db:"order_item_id"`
	Status        TicketInstanceStatus `json:"status" db:"status"`
	ReservedUntil *time.Time           `json:"reserved_until,omitempty" db:"reserved_until"`
	RedeemedAt    *time.Time           `json:"redeemed_at,omitempty" db:"redeemed_at"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at" db:"updated_at"`
}

// Claimable reports whether the unit can be reserved at now.
func (i *TicketInstance) Claimable(now time.Time) bool {
	switch i.Status {
	case TicketInstanceStatusAvailable:
		return true
	case TicketInstanceStatusReserved:
		return i.ReservedUntil != nil && i.ReservedUntil.Before(now)
	}
	return false
}

type Hold struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	EventID         uuid.UUID  `json:"event_id" db:"event_id"`
	TicketTypeID    uuid.UUID  `json:"ticket_type_id" db:"ticket_type_id"`
	ParentHoldID    *uuid.UUID `json:"parent_hold_id,omitempty" db:"parent_hold_id"`
	Name            string     `json:"name" db:"name"`
	HoldType        HoldType   `json:"hold_type" db:"hold_type"`
	Quantity        int64      `json:"quantity" db:"quantity"`
	RedemptionCode  string     `json:"redemption_code" db:"redemption_code"`
	MaxPerUser      int64      `json:"max_per_user" db:"max_per_user"`
	DiscountInCents *int64     `json:"discount_in_cents,omitempty" db:"discount_in_cents"`
	EndAt           *time.Time `json:"end_at,omitempty" db:"end_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

func (h *Hold) ValidAt(now time.Time) bool {
	return h.EndAt == nil || now.Before(*h.EndAt)
}

type Code struct {
	ID                   uuid.UUID   `json:"id" db:"id"`
	EventID              uuid.UUID   `json:"event_id" db:"event_id"`
	Name                 string      `json:"name" db:"name"`
	CodeType             CodeType    `json:"code_type" db:"code_type"`
	RedemptionCode       string      `json:"redemption_code" db:"redemption_code"`
	MaxUses              int64       `json:"max_uses" db:"max_uses"`
	MaxTicketsPerUser    int64       `json:"max_tickets_per_user" db:"max_tickets_per_user"`
	DiscountInCents      *int64      `json:"discount_in_cents,omitempty" db:"discount_in_cents"`
	DiscountAsPercentage *int64      `json:"discount_as_percentage,omitempty" db:"discount_as_percentage"`
	StartDate            time.Time   `json:"start_date" db:"start_date"`
	EndDate              time.Time   `json:"end_date" db:"end_date"`
	TicketTypeIDs        []uuid.UUID `json:"ticket_type_ids" db:"-"`
	Version              int64       `json:"version" db:"version"`
	CreatedAt            time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at" db:"updated_at"`
}

func (c *Code) ValidAt(now time.Time) bool {
	return !now.Before(c.StartDate) && now.Before(c.EndDate)
}

func (c *Code) AllowsTicketType(id uuid.UUID) bool {
	for _, tt := range c.TicketTypeIDs {
		if tt == id {
			return true
		}
	}
	return false
}

type Order struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	UserID           uuid.UUID   `json:"user_id" db:"user_id"`
	Status           OrderStatus `json:"status" db:"status"`
	BoxOfficePricing bool        `json:"box_office_pricing" db:"box_office_pricing"`
	ExpiresAt        *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	PaidAt           *time.Time  `json:"paid_at,omitempty" db:"paid_at"`
	Version          int64       `json:"version" db:"version"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at" db:"updated_at"`
}

func (o *Order) ExpiredAt(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// UserCart points a user at the current Draft order.
type UserCart struct {
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	OrderID   *uuid.UUID `json:"order_id,omitempty" db:"order_id"`
	Version   int64      `json:"version" db:"version"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

type OrderItem struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	OrderID            uuid.UUID     `json:"order_id" db:"order_id"`
	ItemType           OrderItemType `json:"item_type" db:"item_type"`
	EventID            *uuid.UUID    `json:"event_id,omitempty" db:"event_id"`
	TicketTypeID       *uuid.UUID    `json:"ticket_type_id,omitempty" db:"ticket_type_id"`
	TicketPricingID    *uuid.UUID    `json:"ticket_pricing_id,omitempty" db:"ticket_pricing_id"`
	HoldID             *uuid.UUID    `json:"hold_id,omitempty" db:"hold_id"`
	CodeID             *uuid.UUID    `json:"code_id,omitempty" db:"code_id"`
	ParentID           *uuid.UUID    `json:"parent_id,omitempty" db:"parent_id"`
	FeeScheduleRangeID *uuid.UUID    `json:"fee_schedule_range_id,omitempty" db:"fee_schedule_range_id"`
	UnitPriceInCents   int64         `json:"unit_price_in_cents" db:"unit_price_in_cents"`
	CompanyFeeInCents  int64         `json:"company_fee_in_cents" db:"company_fee_in_cents"`
	ClientFeeInCents   int64         `json:"client_fee_in_cents" db:"client_fee_in_cents"`
	Quantity           int64         `json:"quantity" db:"quantity"`
	RefundedQuantity   int64         `json:"refunded_quantity" db:"refunded_quantity"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// Subtotal is unit price times quantity; discount rows are negative.
func (i *OrderItem) Subtotal() int64 {
	return i.UnitPriceInCents * i.Quantity
}

func (i *OrderItem) FullyRefunded() bool {
	return i.RefundedQuantity >= i.Quantity
}

// UpdateOrderItem is one requested line of an update_quantities call.
type UpdateOrderItem struct {
	TicketTypeID   uuid.UUID `json:"ticket_type_id"`
	Quantity       int64     `json:"quantity"`
	RedemptionCode *string   `json:"redemption_code,omitempty"`
}

type FeeSchedule struct {
	ID        uuid.UUID          `json:"id" db:"id"`
	Name      string             `json:"name" db:"name"`
	Ranges    []FeeScheduleRange `json:"ranges" db:"-"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
}

type FeeScheduleRange struct {
	ID                uuid.UUID `json:"id" db:"id"`
	FeeScheduleID     uuid.UUID `json:"fee_schedule_id" db:"fee_schedule_id"`
	MinPriceInCents   int64     `json:"min_price_in_cents" db:"min_price_in_cents"`
	CompanyFeeInCents int64     `json:"company_fee_in_cents" db:"company_fee_in_cents"`
	ClientFeeInCents  int64     `json:"client_fee_in_cents" db:"client_fee_in_cents"`
}

func (r FeeScheduleRange) TotalFee() int64 {
	return r.CompanyFeeInCents + r.ClientFeeInCents
}

type Payment struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	OrderID           uuid.UUID     `json:"order_id" db:"order_id"`
	CreatedBy         uuid.UUID     `json:"created_by" db:"created_by"`
	Method            PaymentMethod `json:"payment_method" db:"payment_method"`
	Provider          string        `json:"provider" db:"provider"`
	ExternalReference string        `json:"external_reference" db:"external_reference"`
	AmountInCents     int64         `json:"amount_in_cents" db:"amount_in_cents"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
}

type Refund struct {
	ID             uuid.UUID    `json:"id" db:"id"`
	OrderID        uuid.UUID    `json:"order_id" db:"order_id"`
	UserID         uuid.UUID    `json:"user_id" db:"user_id"`
	Reason         *string      `json:"reason,omitempty" db:"reason"`
	ManualOverride bool         `json:"manual_override" db:"manual_override"`
	AmountInCents  int64        `json:"amount_in_cents" db:"amount_in_cents"`
	Items          []RefundItem `json:"items" db:"-"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

type RefundItem struct {
	ID            uuid.UUID `json:"id" db:"id"`
	RefundID      uuid.UUID `json:"refund_id" db:"refund_id"`
	OrderItemID   uuid.UUID `json:"order_item_id" db:"order_item_id"`
	Quantity      int64     `json:"quantity" db:"quantity"`
	AmountInCents int64     `json:"amount_in_cents" db:"amount_in_cents"`
}

// RefundedTicket tracks the fee and ticket parts of one refunded unit separately.
type RefundedTicket struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	OrderItemID      uuid.UUID  `json:"order_item_id" db:"order_item_id"`
	TicketInstanceID uuid.UUID  `json:"ticket_instance_id" db:"ticket_instance_id"`
	FeeRefundedAt    *time.Time `json:"fee_refunded_at,omitempty" db:"fee_refunded_at"`
	TicketRefundedAt *time.Time `json:"ticket_refunded_at,omitempty" db:"ticket_refunded_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// InventoryCounts are the accounting counters of one ticket type. Reserved,
// Purchased and Nullified cover the general pool only; hold units are
// counted in the Hold* fields.
type InventoryCounts struct {
	TicketTypeID       uuid.UUID `json:"ticket_type_id"`
	Allocation         int64     `json:"allocation"`
	Reserved           int64     `json:"reserved"`
	Purchased          int64     `json:"purchased"`
	Nullified          int64     `json:"nullified"`
	HoldQuantity       int64     `json:"hold_quantity"`
	HoldReserved       int64     `json:"hold_reserved"`
	HoldPurchased      int64     `json:"hold_purchased"`
	CompPurchased      int64     `json:"comp_purchased"`
	AccessHoldQuantity int64     `json:"access_hold_quantity"`
}

func (c InventoryCounts) Unallocated() int64 {
	return c.Allocation - c.Reserved - c.Purchased - c.Nullified - c.HoldQuantity
}

func (c InventoryCounts) TotalPurchased() int64 {
	return c.Purchased + c.HoldPurchased
}

// HoldCounts are the counters of one hold's sub-pool.
type HoldCounts struct {
	HoldID    uuid.UUID `json:"hold_id"`
	Quantity  int64     `json:"quantity"`
	Reserved  int64     `json:"reserved"`
	Purchased int64     `json:"purchased"`
}

func (c HoldCounts) Available() int64 {
	return c.Quantity - c.Reserved - c.Purchased
}
