package database

import (
	"context"
	"fmt"
	"log/slog"
)

// RunMigrations applies the schema. Every statement is idempotent.
func (db *DB) RunMigrations(ctx context.Context) error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createFeeSchedulesTables,
		createOrganizationsTable,
		createEventsTable,
		createTicketTypesTables,
		createHoldsTable,
		createCodesTables,
		createOrdersTables,
		createTicketInstancesTable,
		createPaymentsTable,
		createRefundsTables,
		createDomainEventsTables,
	}

	for i, migration := range migrations {
		slog.Debug("Running migration", "step", i+1)
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully", "count", len(migrations))
	return nil
}

const createFeeSchedulesTables = `
CREATE TABLE IF NOT EXISTS fee_schedules (
    id UUID PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS fee_schedule_ranges (
    id UUID PRIMARY KEY,
    fee_schedule_id UUID NOT NULL REFERENCES fee_schedules(id),
    position INTEGER NOT NULL,
    min_price_in_cents BIGINT NOT NULL,
    company_fee_in_cents BIGINT NOT NULL,
    client_fee_in_cents BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fee_schedule_ranges_schedule ON fee_schedule_ranges(fee_schedule_id, min_price_in_cents, position);`

const createOrganizationsTable = `
CREATE TABLE IF NOT EXISTS organizations (
    id UUID PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    fee_schedule_id UUID NOT NULL REFERENCES fee_schedules(id),
    event_fee_in_cents BIGINT NOT NULL DEFAULT 0,
    cc_fee_basis_points BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY,
    organization_id UUID NOT NULL REFERENCES organizations(id),
    name VARCHAR(255) NOT NULL,
    event_start TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createTicketTypesTables = `
CREATE TABLE IF NOT EXISTS ticket_types (
    id UUID PRIMARY KEY,
    event_id UUID NOT NULL REFERENCES events(id),
    name VARCHAR(255) NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('Published', 'Cancelled')),
    capacity BIGINT NOT NULL CHECK (capacity >= 0),
    price_in_cents BIGINT NOT NULL CHECK (price_in_cents >= 0),
    additional_fee_in_cents BIGINT NOT NULL DEFAULT 0,
    limit_per_person BIGINT NOT NULL DEFAULT 0,
    start_date TIMESTAMPTZ,
    end_date TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS ticket_pricing (
    id UUID PRIMARY KEY,
    ticket_type_id UUID NOT NULL REFERENCES ticket_types(id),
    name VARCHAR(255) NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('Published', 'Default', 'Deleted')),
    price_in_cents BIGINT NOT NULL CHECK (price_in_cents >= 0),
    start_date TIMESTAMPTZ NOT NULL,
    end_date TIMESTAMPTZ NOT NULL,
    is_box_office_only BOOLEAN NOT NULL DEFAULT FALSE,
    CHECK (start_date < end_date)
);
CREATE INDEX IF NOT EXISTS idx_ticket_pricing_ticket_type ON ticket_pricing(ticket_type_id);`

const createHoldsTable = `
CREATE TABLE IF NOT EXISTS holds (
    id UUID PRIMARY KEY,
    event_id UUID NOT NULL REFERENCES events(id),
    ticket_type_id UUID NOT NULL REFERENCES ticket_types(id),
    parent_hold_id UUID REFERENCES holds(id),
    name VARCHAR(255) NOT NULL,
    hold_type TEXT NOT NULL CHECK (hold_type IN ('Discount', 'Comp', 'Access')),
    quantity BIGINT NOT NULL CHECK (quantity >= 0),
    redemption_code VARCHAR(255) NOT NULL,
    max_per_user BIGINT NOT NULL DEFAULT 0,
    discount_in_cents BIGINT,
    end_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK ((hold_type = 'Discount') = (discount_in_cents IS NOT NULL))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_holds_event_redemption_code ON holds(event_id, redemption_code);`

const createCodesTables = `
CREATE TABLE IF NOT EXISTS codes (
    id UUID PRIMARY KEY,
    event_id UUID NOT NULL REFERENCES events(id),
    name VARCHAR(255) NOT NULL,
    code_type TEXT NOT NULL CHECK (code_type IN ('Discount', 'Access')),
    redemption_code VARCHAR(255) NOT NULL,
    max_uses BIGINT NOT NULL DEFAULT 0,
    max_tickets_per_user BIGINT NOT NULL DEFAULT 0,
    discount_in_cents BIGINT,
    discount_as_percentage BIGINT,
    start_date TIMESTAMPTZ NOT NULL,
    end_date TIMESTAMPTZ NOT NULL,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (start_date < end_date),
    CHECK (discount_in_cents IS NULL OR discount_as_percentage IS NULL)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_codes_event_redemption_code ON codes(event_id, redemption_code);
CREATE TABLE IF NOT EXISTS code_ticket_types (
    code_id UUID NOT NULL REFERENCES codes(id) ON DELETE CASCADE,
    ticket_type_id UUID NOT NULL REFERENCES ticket_types(id),
    PRIMARY KEY (code_id, ticket_type_id)
);
CREATE INDEX IF NOT EXISTS idx_code_ticket_types_ticket_type ON code_ticket_types(ticket_type_id);`

const createOrdersTables = `
CREATE TABLE IF NOT EXISTS orders (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('Draft', 'Paid', 'Cancelled', 'PartiallyRefunded')),
    box_office_pricing BOOLEAN NOT NULL DEFAULT FALSE,
    expires_at TIMESTAMPTZ,
    paid_at TIMESTAMPTZ,
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_orders_draft_expiry ON orders(expires_at) WHERE status = 'Draft';
CREATE TABLE IF NOT EXISTS user_carts (
    user_id UUID PRIMARY KEY,
    order_id UUID REFERENCES orders(id),
    version BIGINT NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS order_items (
    id UUID PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES orders(id),
    item_type TEXT NOT NULL CHECK (item_type IN ('Tickets', 'PerUnitFees', 'EventFees', 'CreditCardFees', 'Discount')),
    event_id UUID REFERENCES events(id),
    ticket_type_id UUID REFERENCES ticket_types(id),
    ticket_pricing_id UUID REFERENCES ticket_pricing(id),
    hold_id UUID REFERENCES holds(id),
    code_id UUID REFERENCES codes(id),
    parent_id UUID REFERENCES order_items(id) ON DELETE CASCADE,
    fee_schedule_range_id UUID REFERENCES fee_schedule_ranges(id),
    unit_price_in_cents BIGINT NOT NULL,
    company_fee_in_cents BIGINT NOT NULL DEFAULT 0,
    client_fee_in_cents BIGINT NOT NULL DEFAULT 0,
    quantity BIGINT NOT NULL CHECK (quantity >= 0),
    refunded_quantity BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (refunded_quantity >= 0 AND refunded_quantity <= quantity)
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_order_items_code ON order_items(code_id) WHERE code_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_order_items_hold ON order_items(hold_id) WHERE hold_id IS NOT NULL;`

const createTicketInstancesTable = `
CREATE TABLE IF NOT EXISTS ticket_instances (
    id UUID PRIMARY KEY,
    ticket_type_id UUID NOT NULL REFERENCES ticket_types(id),
    hold_id UUID REFERENCES holds(id),
    order_item_id UUID REFERENCES order_items(id),
    status TEXT NOT NULL CHECK (status IN ('Available', 'Reserved', 'Purchased', 'Redeemed', 'Nullified')),
    reserved_until TIMESTAMPTZ,
    redeemed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ticket_instances_pool ON ticket_instances(ticket_type_id, hold_id, status);
CREATE INDEX IF NOT EXISTS idx_ticket_instances_order_item ON ticket_instances(order_item_id) WHERE order_item_id IS NOT NULL;`

const createPaymentsTable = `
CREATE TABLE IF NOT EXISTS payments (
    id UUID PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES orders(id),
    created_by UUID NOT NULL,
    payment_method TEXT NOT NULL CHECK (payment_method IN ('External', 'Provider')),
    provider VARCHAR(100) NOT NULL DEFAULT '',
    external_reference VARCHAR(255) NOT NULL DEFAULT '',
    amount_in_cents BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id);`

const createRefundsTables = `
CREATE TABLE IF NOT EXISTS refunds (
    id UUID PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES orders(id),
    user_id UUID NOT NULL,
    reason TEXT,
    manual_override BOOLEAN NOT NULL DEFAULT FALSE,
    amount_in_cents BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS refund_items (
    id UUID PRIMARY KEY,
    refund_id UUID NOT NULL REFERENCES refunds(id),
    order_item_id UUID NOT NULL REFERENCES order_items(id),
    quantity BIGINT NOT NULL,
    amount_in_cents BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS refunded_tickets (
    id UUID PRIMARY KEY,
    order_item_id UUID NOT NULL REFERENCES order_items(id),
    ticket_instance_id UUID NOT NULL REFERENCES ticket_instances(id),
    fee_refunded_at TIMESTAMPTZ,
    ticket_refunded_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (order_item_id, ticket_instance_id)
);`

const createDomainEventsTables = `
CREATE TABLE IF NOT EXISTS domain_events (
    id UUID PRIMARY KEY,
    seq BIGSERIAL UNIQUE,
    event_type TEXT NOT NULL,
    main_table TEXT NOT NULL,
    main_id UUID NOT NULL,
    organization_id UUID,
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS domain_event_publishers (
    id UUID PRIMARY KEY,
    organization_id UUID REFERENCES organizations(id),
    event_types TEXT[] NOT NULL,
    adapter TEXT NOT NULL CHECK (adapter IN ('Webhook', 'NATS', 'AMQP', 'Elasticsearch')),
    target TEXT NOT NULL,
    import_historic_events BOOLEAN NOT NULL DEFAULT FALSE,
    last_domain_event_seq BIGINT,
    lease_holder TEXT,
    blocked_until TIMESTAMPTZ NOT NULL DEFAULT '0001-01-01 00:00:00+00',
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS domain_event_published (
    domain_event_publisher_id UUID NOT NULL REFERENCES domain_event_publishers(id),
    domain_event_id UUID NOT NULL REFERENCES domain_events(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (domain_event_publisher_id, domain_event_id)
);`
