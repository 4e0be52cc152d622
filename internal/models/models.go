package models

import (
	"database/sql/driver"
	"fmt"
)

// Closed enums. Every type below rejects unknown values on Scan so that a
// bad row surfaces at load time instead of falling through a switch.

type OrderStatus string

const (
	OrderStatusDraft             OrderStatus = "Draft"
	OrderStatusPaid              OrderStatus = "Paid"
	OrderStatusCancelled         OrderStatus = "Cancelled"
	OrderStatusPartiallyRefunded OrderStatus = "PartiallyRefunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusDraft, OrderStatusPaid, OrderStatusCancelled, OrderStatusPartiallyRefunded:
		return true
	}
	return false
}

// Purchased reports whether the order's ticket rows count as bought.
func (s OrderStatus) Purchased() bool {
	switch s {
	case OrderStatusPaid, OrderStatusPartiallyRefunded:
		return true
	case OrderStatusDraft, OrderStatusCancelled:
		return false
	}
	return false
}

func (s *OrderStatus) Scan(src any) error { return scanEnum(src, (*string)(s), func() bool { return s.Valid() }, "order status") }
func (s OrderStatus) Value() (driver.Value, error) { return string(s), nil }

type OrderItemType string

const (
	OrderItemTypeTickets        OrderItemType = "Tickets"
	OrderItemTypePerUnitFees    OrderItemType = "PerUnitFees"
	OrderItemTypeEventFees      OrderItemType = "EventFees"
	OrderItemTypeCreditCardFees OrderItemType = "CreditCardFees"
	OrderItemTypeDiscount       OrderItemType = "Discount"
)

func (t OrderItemType) Valid() bool {
	switch t {
	case OrderItemTypeTickets, OrderItemTypePerUnitFees, OrderItemTypeEventFees,
		OrderItemTypeCreditCardFees, OrderItemTypeDiscount:
		return true
	}
	return false
}

// IsFee reports whether the row is a fee charged on top of tickets.
func (t OrderItemType) IsFee() bool {
	switch t {
	case OrderItemTypePerUnitFees, OrderItemTypeEventFees, OrderItemTypeCreditCardFees:
		return true
	case OrderItemTypeTickets, OrderItemTypeDiscount:
		return false
	}
	return false
}

// IsChild reports whether the row is derived from a Tickets parent row.
func (t OrderItemType) IsChild() bool {
	switch t {
	case OrderItemTypePerUnitFees, OrderItemTypeDiscount:
		return true
	case OrderItemTypeTickets, OrderItemTypeEventFees, OrderItemTypeCreditCardFees:
		return false
	}
	return false
}

func (t *OrderItemType) Scan(src any) error { return scanEnum(src, (*string)(t), func() bool { return t.Valid() }, "order item type") }
func (t OrderItemType) Value() (driver.Value, error) { return string(t), nil }

type CodeType string

const (
	CodeTypeDiscount CodeType = "Discount"
	CodeTypeAccess   CodeType = "Access"
)

func (t CodeType) Valid() bool {
	switch t {
	case CodeTypeDiscount, CodeTypeAccess:
		return true
	}
	return false
}

func (t *CodeType) Scan(src any) error { return scanEnum(src, (*string)(t), func() bool { return t.Valid() }, "code type") }
func (t CodeType) Value() (driver.Value, error) { return string(t), nil }

type HoldType string

const (
	HoldTypeDiscount HoldType = "Discount"
	HoldTypeComp     HoldType = "Comp"
	HoldTypeAccess   HoldType = "Access"
)

func (t HoldType) Valid() bool {
	switch t {
	case HoldTypeDiscount, HoldTypeComp, HoldTypeAccess:
		return true
	}
	return false
}

func (t *HoldType) Scan(src any) error { return scanEnum(src, (*string)(t), func() bool { return t.Valid() }, "hold type") }
func (t HoldType) Value() (driver.Value, error) { return string(t), nil }

type TicketTypeStatus string

const (
	TicketTypeStatusPublished TicketTypeStatus = "Published"
	TicketTypeStatusCancelled TicketTypeStatus = "Cancelled"
)

func (s TicketTypeStatus) Valid() bool {
	switch s {
	case TicketTypeStatusPublished, TicketTypeStatusCancelled:
		return true
	}
	return false
}

func (s *TicketTypeStatus) Scan(src any) error { return scanEnum(src, (*string)(s), func() bool { return s.Valid() }, "ticket type status") }
func (s TicketTypeStatus) Value() (driver.Value, error) { return string(s), nil }

type TicketPricingStatus string

const (
	TicketPricingStatusPublished TicketPricingStatus = "Published"
	TicketPricingStatusDefault   TicketPricingStatus = "Default"
	TicketPricingStatusDeleted   TicketPricingStatus = "Deleted"
)

func (s TicketPricingStatus) Valid() bool {
	switch s {
	case TicketPricingStatusPublished, TicketPricingStatusDefault, TicketPricingStatusDeleted:
		return true
	}
	return false
}

func (s *TicketPricingStatus) Scan(src any) error { return scanEnum(src, (*string)(s), func() bool { return s.Valid() }, "ticket pricing status") }
func (s TicketPricingStatus) Value() (driver.Value, error) { return string(s), nil }

type TicketInstanceStatus string

const (
	TicketInstanceStatusAvailable TicketInstanceStatus = "Available"
	TicketInstanceStatusReserved  TicketInstanceStatus = "Reserved"
	TicketInstanceStatusPurchased TicketInstanceStatus = "Purchased"
	TicketInstanceStatusRedeemed  TicketInstanceStatus = "Redeemed"
	TicketInstanceStatusNullified TicketInstanceStatus = "Nullified"
)

func (s TicketInstanceStatus) Valid() bool {
	switch s {
	case TicketInstanceStatusAvailable, TicketInstanceStatusReserved, TicketInstanceStatusPurchased,
		TicketInstanceStatusRedeemed, TicketInstanceStatusNullified:
		return true
	}
	return false
}

func (s *TicketInstanceStatus) Scan(src any) error { return scanEnum(src, (*string)(s), func() bool { return s.Valid() }, "ticket instance status") }
func (s TicketInstanceStatus) Value() (driver.Value, error) { return string(s), nil }

type PaymentMethod string

const (
	PaymentMethodExternal PaymentMethod = "External"
	PaymentMethodProvider PaymentMethod = "Provider"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodExternal, PaymentMethodProvider:
		return true
	}
	return false
}

func (m *PaymentMethod) Scan(src any) error { return scanEnum(src, (*string)(m), func() bool { return m.Valid() }, "payment method") }
func (m PaymentMethod) Value() (driver.Value, error) { return string(m), nil }

type PublisherAdapter string

const (
	PublisherAdapterWebhook       PublisherAdapter = "Webhook"
	PublisherAdapterNATS          PublisherAdapter = "NATS"
	PublisherAdapterAMQP          PublisherAdapter = "AMQP"
	PublisherAdapterElasticsearch PublisherAdapter = "Elasticsearch"
)

func (a PublisherAdapter) Valid() bool {
	switch a {
	case PublisherAdapterWebhook, PublisherAdapterNATS, PublisherAdapterAMQP, PublisherAdapterElasticsearch:
		return true
	}
	return false
}

func (a *PublisherAdapter) Scan(src any) error { return scanEnum(src, (*string)(a), func() bool { return a.Valid() }, "publisher adapter") }
func (a PublisherAdapter) Value() (driver.Value, error) { return string(a), nil }

func scanEnum(src any, dst *string, valid func() bool, name string) error {
	switch v := src.(type) {
	case string:
		*dst = v
	case []byte:
		*dst = string(v)
	default:
		return fmt.Errorf("cannot scan %T into %s", src, name)
	}
	if !valid() {
		return fmt.Errorf("unknown %s %q", name, *dst)
	}
	return nil
}
