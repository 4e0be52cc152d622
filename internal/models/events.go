package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DomainEventType string

const (
	DomainEventOrderCompleted DomainEventType = "OrderCompleted"
	DomainEventOrderRefund    DomainEventType = "OrderRefund"
	DomainEventOrderCancelled DomainEventType = "OrderCancelled"
	DomainEventCodeCreated    DomainEventType = "CodeCreated"
	DomainEventHoldCreated    DomainEventType = "HoldCreated"
)

func (t DomainEventType) Valid() bool {
	switch t {
	case DomainEventOrderCompleted, DomainEventOrderRefund, DomainEventOrderCancelled,
		DomainEventCodeCreated, DomainEventHoldCreated:
		return true
	}
	return false
}

// Subject is the routing key used by broker sinks.
func (t DomainEventType) Subject() string {
	switch t {
	case DomainEventOrderCompleted:
		return "order.completed"
	case DomainEventOrderRefund:
		return "order.refund"
	case DomainEventOrderCancelled:
		return "order.cancelled"
	case DomainEventCodeCreated:
		return "code.created"
	case DomainEventHoldCreated:
		return "hold.created"
	}
	return "unknown"
}

func (t *DomainEventType) Scan(src any) error { return scanEnum(src, (*string)(t), func() bool { return t.Valid() }, "domain event type") }
func (t DomainEventType) Value() (driver.Value, error) { return string(t), nil }

// Tables referenced by DomainEvent.MainTable.
const (
	TableOrders = "orders"
	TableCodes  = "codes"
	TableHolds  = "holds"
)

type DomainEvent struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	Seq            int64           `json:"seq" db:"seq"`
	EventType      DomainEventType `json:"event_type" db:"event_type"`
	MainTable      string          `json:"main_table" db:"main_table"`
	MainID         uuid.UUID       `json:"main_id" db:"main_id"`
	OrganizationID *uuid.UUID      `json:"organization_id,omitempty" db:"organization_id"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Payloads carried by DomainEvent.Payload.

type OrderCompletedPayload struct {
	OrderID       uuid.UUID `json:"order_id"`
	UserID        uuid.UUID `json:"user_id"`
	TotalInCents  int64     `json:"total_in_cents"`
	PaymentMethod string    `json:"payment_method"`
	Timestamp     time.Time `json:"timestamp"`
}

type OrderRefundPayload struct {
	OrderID        uuid.UUID `json:"order_id"`
	RefundID       uuid.UUID `json:"refund_id"`
	ActorID        uuid.UUID `json:"actor_id"`
	AmountInCents  int64     `json:"amount_in_cents"`
	ManualOverride bool      `json:"manual_override"`
	Timestamp      time.Time `json:"timestamp"`
}

type OrderCancelledPayload struct {
	OrderID   uuid.UUID `json:"order_id"`
	UserID    uuid.UUID `json:"user_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type CodeCreatedPayload struct {
	CodeID    uuid.UUID `json:"code_id"`
	EventID   uuid.UUID `json:"event_id"`
	CodeType  CodeType  `json:"code_type"`
	Timestamp time.Time `json:"timestamp"`
}

type HoldCreatedPayload struct {
	HoldID       uuid.UUID `json:"hold_id"`
	TicketTypeID uuid.UUID `json:"ticket_type_id"`
	HoldType     HoldType  `json:"hold_type"`
	Quantity     int64     `json:"quantity"`
	Timestamp    time.Time `json:"timestamp"`
}

// DomainEventPublisher forwards domain events to one adapter target. Lease
// fields coordinate workers; Version guards the row like other aggregates.
type DomainEventPublisher struct {
	ID                   uuid.UUID         `json:"id" db:"id"`
	OrganizationID       *uuid.UUID        `json:"organization_id,omitempty" db:"organization_id"`
	EventTypes           []DomainEventType `json:"event_types" db:"event_types"`
	Adapter              PublisherAdapter  `json:"adapter" db:"adapter"`
	Target               string            `json:"target" db:"target"`
	ImportHistoricEvents bool              `json:"import_historic_events" db:"import_historic_events"`
	LastDomainEventSeq   *int64            `json:"last_domain_event_seq,omitempty" db:"last_domain_event_seq"`
	LeaseHolder          *string           `json:"lease_holder,omitempty" db:"lease_holder"`
	BlockedUntil         time.Time         `json:"blocked_until" db:"blocked_until"`
	Version              int64             `json:"version" db:"version"`
	CreatedAt            time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at" db:"updated_at"`
}

// Accepts reports whether the publisher forwards events of type t.
func (p *DomainEventPublisher) Accepts(t DomainEventType) bool {
	for _, et := range p.EventTypes {
		if et == t {
			return true
		}
	}
	return false
}
