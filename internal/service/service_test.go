package service

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
	"boxoffice/internal/repository/memstore"
	"boxoffice/internal/validation"
)

func TestMain(m *testing.M) {
	logger.InitWithWriter("ERROR", "json", io.Discard)
	os.Exit(m.Run())
}

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture is one organization selling one event, backed by the in-memory
// store. Fee schedule: 100+50 below 50.00, 200+100 from 50.00; event fee
// 2.50; card fee 3%.
type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memstore.Store
	repos *repository.Repositories
	clock *clockwork.FakeClock
	svc   *Services
	org   *models.Organization
	event *models.Event
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	repos := store.Repositories()
	clock := clockwork.NewFakeClockAt(start)

	opts := DefaultOptions()
	for _, fn := range configure {
		fn(&opts)
	}

	schedule := &models.FeeSchedule{
		ID:   uuid.New(),
		Name: "standard",
		Ranges: []models.FeeScheduleRange{
			{MinPriceInCents: 0, CompanyFeeInCents: 100, ClientFeeInCents: 50},
			{MinPriceInCents: 5000, CompanyFeeInCents: 200, ClientFeeInCents: 100},
		},
		CreatedAt: start,
	}
	require.NoError(t, repos.FeeSchedules.CreateFeeSchedule(ctx, schedule))

	org := &models.Organization{
		ID:                       uuid.New(),
		Name:                     "Riverside Hall",
		FeeScheduleID:            schedule.ID,
		EventFeeInCents:          250,
		CreditCardFeeBasisPoints: 300,
		CreatedAt:                start,
	}
	require.NoError(t, repos.Organizations.CreateOrganization(ctx, org))
	event := &models.Event{ID: uuid.New(), OrganizationID: org.ID, Name: "Spring Gala", CreatedAt: start}
	require.NoError(t, repos.Organizations.CreateEvent(ctx, event))

	return &fixture{
		t:     t,
		ctx:   ctx,
		store: store,
		repos: repos,
		clock: clock,
		svc:   NewServices(repos, nil, clock, opts),
		org:   org,
		event: event,
	}
}

func (f *fixture) ticketType(capacity, price int64, configure ...func(*models.TicketType)) *models.TicketType {
	f.t.Helper()
	tt := &models.TicketType{
		ID:           uuid.New(),
		EventID:      f.event.ID,
		Name:         "General admission",
		Status:       models.TicketTypeStatusPublished,
		Capacity:     capacity,
		PriceInCents: price,
		CreatedAt:    start,
		UpdatedAt:    start,
	}
	for _, fn := range configure {
		fn(tt)
	}
	require.NoError(f.t, f.repos.TicketTypes.CreateTicketType(f.ctx, tt))
	return tt
}

func (f *fixture) cart(userID uuid.UUID) *models.Order {
	f.t.Helper()
	order, err := f.svc.Cart.FindOrCreateCart(f.ctx, userID)
	require.NoError(f.t, err)
	return order
}

func (f *fixture) update(order *models.Order, lines ...models.UpdateOrderItem) (*CartSummary, error) {
	return f.svc.Cart.UpdateQuantities(f.ctx, order, order.UserID, lines, UpdateOptions{})
}

// buy runs a whole purchase paid in cash and returns the order and its items.
func (f *fixture) buy(userID uuid.UUID, opts UpdateOptions, lines ...models.UpdateOrderItem) (*models.Order, []models.OrderItem) {
	f.t.Helper()
	order := f.cart(userID)
	summary, err := f.svc.Cart.UpdateQuantities(f.ctx, order, userID, lines, opts)
	require.NoError(f.t, err)
	result, err := f.svc.Cart.AddExternalPayment(f.ctx, order, userID, "till-"+uuid.NewString(), summary.TotalInCents)
	require.NoError(f.t, err)
	require.True(f.t, result.Paid)
	return order, f.items(order.ID)
}

func (f *fixture) items(orderID uuid.UUID) []models.OrderItem {
	f.t.Helper()
	items, err := f.repos.Orders.ListOrderItems(f.ctx, orderID)
	require.NoError(f.t, err)
	return items
}

func (f *fixture) order(id uuid.UUID) *models.Order {
	f.t.Helper()
	o, err := f.repos.Orders.GetOrder(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, o)
	return o
}

func (f *fixture) counts(ttID uuid.UUID) models.InventoryCounts {
	f.t.Helper()
	c, err := f.repos.Inventory.InventoryCounts(f.ctx, ttID, f.clock.Now())
	require.NoError(f.t, err)
	return *c
}

func (f *fixture) instances(orderItemID uuid.UUID) []models.TicketInstance {
	f.t.Helper()
	out, err := f.repos.Inventory.ListTicketInstances(f.ctx, orderItemID)
	require.NoError(f.t, err)
	return out
}

func (f *fixture) domainEvents(eventType models.DomainEventType) []models.DomainEvent {
	f.t.Helper()
	all, err := f.repos.DomainEvents.ListDomainEventsAfter(f.ctx, 0, 1000)
	require.NoError(f.t, err)
	var out []models.DomainEvent
	for _, ev := range all {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fixture) discountCode(redemptionCode string, ttIDs []uuid.UUID, configure ...func(*validation.CodeAttributes)) *models.Code {
	f.t.Helper()
	attrs := validation.CodeAttributes{
		EventID:              f.event.ID,
		Name:                 "Promo",
		CodeType:             models.CodeTypeDiscount,
		RedemptionCode:       redemptionCode,
		DiscountAsPercentage: i64(25),
		StartDate:            start.Add(-time.Hour),
		EndDate:              start.Add(30 * 24 * time.Hour),
		TicketTypeIDs:        ttIDs,
	}
	for _, fn := range configure {
		fn(&attrs)
	}
	code, err := f.svc.Codes.CreateCode(f.ctx, attrs)
	require.NoError(f.t, err)
	return code
}

func (f *fixture) hold(tt *models.TicketType, holdType models.HoldType, quantity int64, redemptionCode string,
	configure ...func(*validation.HoldAttributes)) *models.Hold {

	f.t.Helper()
	attrs := validation.HoldAttributes{
		TicketTypeID:   tt.ID,
		Name:           string(holdType) + " seats",
		HoldType:       holdType,
		Quantity:       quantity,
		RedemptionCode: redemptionCode,
	}
	for _, fn := range configure {
		fn(&attrs)
	}
	h, err := f.svc.Holds.CreateHold(f.ctx, attrs)
	require.NoError(f.t, err)
	return h
}

func line(tt *models.TicketType, quantity int64) models.UpdateOrderItem {
	return models.UpdateOrderItem{TicketTypeID: tt.ID, Quantity: quantity}
}

func codeLine(tt *models.TicketType, quantity int64, code string) models.UpdateOrderItem {
	return models.UpdateOrderItem{TicketTypeID: tt.ID, Quantity: quantity, RedemptionCode: &code}
}

func byType(items []models.OrderItem, itemType models.OrderItemType) []models.OrderItem {
	var out []models.OrderItem
	for _, it := range items {
		if it.ItemType == itemType {
			out = append(out, it)
		}
	}
	return out
}

func i64(v int64) *int64 { return &v }

// requireFieldError asserts err is a validation error carrying code on field.
func requireFieldError(t *testing.T, err error, field, code string) {
	t.Helper()
	verrs, ok := apperrors.AsValidation(err)
	require.True(t, ok, "expected a validation error, got %v", err)
	require.Contains(t, verrs.Fields, field, "fields: %v", verrs.Fields)
	var got []string
	for _, fe := range verrs.Fields[field] {
		got = append(got, fe.Code)
	}
	assert.Contains(t, got, code)
}
