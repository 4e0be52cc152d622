package redemption

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
	"boxoffice/internal/repository/memstore"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	ctx   context.Context
	repos *repository.Repositories
	v     *Validator
	event uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repos := memstore.New().Repositories()
	e := &env{ctx: context.Background(), repos: repos, v: NewValidator(repos), event: uuid.New()}
	return e
}

func (e *env) ticketType(t *testing.T, capacity int64) *models.TicketType {
	t.Helper()
	tt := &models.TicketType{
		ID:           uuid.New(),
		EventID:      e.event,
		Name:         "GA",
		Status:       models.TicketTypeStatusPublished,
		Capacity:     capacity,
		PriceInCents: 4000,
	}
	require.NoError(t, e.repos.TicketTypes.CreateTicketType(e.ctx, tt))
	return tt
}

func (e *env) code(t *testing.T, c models.Code) *models.Code {
	t.Helper()
	c.ID = uuid.New()
	c.EventID = e.event
	c.Version = 1
	if c.StartDate.IsZero() {
		c.StartDate = now.Add(-time.Hour)
	}
	if c.EndDate.IsZero() {
		c.EndDate = now.Add(time.Hour)
	}
	require.NoError(t, e.repos.Codes.CreateCode(e.ctx, &c))
	return &c
}

func (e *env) validate(lines ...models.UpdateOrderItem) ([]Resolution, error) {
	return e.v.Validate(e.ctx, Request{UserID: uuid.New(), OrderID: uuid.New(), Lines: lines, Now: now})
}

func withCode(tt *models.TicketType, quantity int64, code string) models.UpdateOrderItem {
	return models.UpdateOrderItem{TicketTypeID: tt.ID, Quantity: quantity, RedemptionCode: &code}
}

func codesOn(t *testing.T, err error, field string) []string {
	t.Helper()
	verrs, ok := apperrors.AsValidation(err)
	require.True(t, ok, "expected a validation error, got %v", err)
	var out []string
	for _, fe := range verrs.Fields[field] {
		out = append(out, fe.Code)
	}
	return out
}

func i64(v int64) *int64 { return &v }

func TestValidateResolvesCodesAndHolds(t *testing.T) {
	e := newEnv(t)
	tt := e.ticketType(t, 10)
	c := e.code(t, models.Code{CodeType: models.CodeTypeDiscount, RedemptionCode: "HALFOFF1",
		DiscountAsPercentage: i64(50), TicketTypeIDs: []uuid.UUID{tt.ID}})
	h := &models.Hold{ID: uuid.New(), EventID: e.event, TicketTypeID: tt.ID, HoldType: models.HoldTypeComp, RedemptionCode: "COMPS001"}
	require.NoError(t, e.repos.Holds.CreateHold(e.ctx, h))

	res, err := e.validate(
		models.UpdateOrderItem{TicketTypeID: tt.ID, Quantity: 1},
		withCode(tt, 2, "halfoff1"),
		withCode(tt, 1, "comps001"),
	)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Nil(t, res[0].Code)
	assert.Nil(t, res[0].Hold)
	assert.Equal(t, c.ID, *res[1].CodeID())
	assert.Nil(t, res[1].HoldID())
	assert.Equal(t, h.ID, *res[2].HoldID())
	assert.Equal(t, 2, res[2].Index)
}

func TestValidateReportsFirstFailingRulePerLine(t *testing.T) {
	e := newEnv(t)
	tt := e.ticketType(t, 10)
	other := e.ticketType(t, 10)
	e.code(t, models.Code{CodeType: models.CodeTypeDiscount, RedemptionCode: "EXPIRED1", DiscountInCents: i64(100),
		StartDate: now.Add(-48 * time.Hour), EndDate: now.Add(-24 * time.Hour), TicketTypeIDs: []uuid.UUID{tt.ID}})
	e.code(t, models.Code{CodeType: models.CodeTypeDiscount, RedemptionCode: "OTHERTT1", DiscountInCents: i64(100),
		TicketTypeIDs: []uuid.UUID{other.ID}})
	e.code(t, models.Code{CodeType: models.CodeTypeDiscount, RedemptionCode: "BROKEN01",
		TicketTypeIDs: []uuid.UUID{tt.ID}})

	_, err := e.validate(
		withCode(tt, 1, "NOSUCHCODE"),
		withCode(tt, 1, "EXPIRED1"),
		withCode(tt, 1, "OTHERTT1"),
		withCode(tt, 1, "BROKEN01"),
		models.UpdateOrderItem{TicketTypeID: tt.ID, Quantity: -1},
	)
	assert.Equal(t, []string{apperrors.CodeInvalid}, codesOn(t, err, "items[4].quantity"))

	_, err = e.validate(
		withCode(tt, 1, "NOSUCHCODE"),
		withCode(tt, 1, "EXPIRED1"),
		withCode(tt, 1, "OTHERTT1"),
		withCode(tt, 1, "BROKEN01"),
	)
	assert.Equal(t, []string{apperrors.CodeInvalid}, codesOn(t, err, "items[0]"))
	assert.Equal(t, []string{apperrors.CodeNotValidForDatetime}, codesOn(t, err, "items[1]"))
	assert.Equal(t, []string{apperrors.CodeTicketTypeNotEligible}, codesOn(t, err, "items[2]"))
	assert.Equal(t, []string{apperrors.CodeInvalidDiscountConfig}, codesOn(t, err, "items[3]"))
}

func TestValidateRemovalSkipsRules(t *testing.T) {
	e := newEnv(t)
	tt := e.ticketType(t, 10)
	require.NoError(t, e.repos.TicketTypes.UpdateTicketTypeStatus(e.ctx, tt.ID, models.TicketTypeStatusCancelled, now))

	_, err := e.validate(models.UpdateOrderItem{TicketTypeID: tt.ID, Quantity: 1})
	assert.Equal(t, []string{apperrors.CodeTicketTypeCancelled}, codesOn(t, err, "items[0]"))

	res, err := e.validate(models.UpdateOrderItem{TicketTypeID: tt.ID, Quantity: 0})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestValidateAccessGating(t *testing.T) {
	e := newEnv(t)
	tt := e.ticketType(t, 10)
	e.code(t, models.Code{CodeType: models.CodeTypeAccess, RedemptionCode: "INSIDERS", TicketTypeIDs: []uuid.UUID{tt.ID}})
	e.code(t, models.Code{CodeType: models.CodeTypeDiscount, RedemptionCode: "TENOFF01", DiscountInCents: i64(1000),
		TicketTypeIDs: []uuid.UUID{tt.ID}})

	_, err := e.validate(models.UpdateOrderItem{TicketTypeID: tt.ID, Quantity: 1})
	assert.Equal(t, []string{apperrors.CodeRequiresAccessCode}, codesOn(t, err, "items[0]"))

	// A discount code does not open a gated ticket type.
	_, err = e.validate(withCode(tt, 1, "TENOFF01"))
	assert.Equal(t, []string{apperrors.CodeRequiresAccessCode}, codesOn(t, err, "items[0]"))

	_, err = e.validate(withCode(tt, 1, "INSIDERS"))
	require.NoError(t, err)
}

func TestValidateCapsSumTheWholeRequest(t *testing.T) {
	e := newEnv(t)
	tt := e.ticketType(t, 10)
	e.code(t, models.Code{CodeType: models.CodeTypeDiscount, RedemptionCode: "MAXTWO01", DiscountInCents: i64(100),
		MaxTicketsPerUser: 2, TicketTypeIDs: []uuid.UUID{tt.ID}})

	_, err := e.validate(withCode(tt, 1, "MAXTWO01"), withCode(tt, 1, "maxtwo01"))
	require.NoError(t, err)

	_, err = e.validate(withCode(tt, 2, "MAXTWO01"), withCode(tt, 1, "MAXTWO01"))
	assert.Equal(t, []string{apperrors.CodeMaxTicketsPerUserReached}, codesOn(t, err, "items[0]"))
	assert.Equal(t, []string{apperrors.CodeMaxTicketsPerUserReached}, codesOn(t, err, "items[1]"))
}

func TestValidateCapsCountRowsLeftInTheCart(t *testing.T) {
	e := newEnv(t)
	ga := e.ticketType(t, 10)
	vip := e.ticketType(t, 10)
	code := e.code(t, models.Code{CodeType: models.CodeTypeDiscount, RedemptionCode: "MAXFOUR1", DiscountInCents: i64(100),
		MaxTicketsPerUser: 4, TicketTypeIDs: []uuid.UUID{ga.ID, vip.ID}})

	existing := []models.OrderItem{{
		ID:           uuid.New(),
		ItemType:     models.OrderItemTypeTickets,
		TicketTypeID: &ga.ID,
		CodeID:       &code.ID,
		Quantity:     3,
	}}
	validate := func(lines ...models.UpdateOrderItem) error {
		_, err := e.v.Validate(e.ctx, Request{UserID: uuid.New(), OrderID: uuid.New(), Lines: lines, Existing: existing, Now: now})
		return err
	}

	err := validate(withCode(vip, 3, "MAXFOUR1"))
	assert.Equal(t, []string{apperrors.CodeMaxTicketsPerUserReached}, codesOn(t, err, "items[0]"))

	require.NoError(t, validate(withCode(vip, 1, "MAXFOUR1")))

	// A line naming the existing row replaces its quantity.
	require.NoError(t, validate(withCode(ga, 1, "MAXFOUR1"), withCode(vip, 3, "MAXFOUR1")))
}

func TestValidateExpiredHold(t *testing.T) {
	e := newEnv(t)
	tt := e.ticketType(t, 10)
	ended := now.Add(-time.Minute)
	h := &models.Hold{ID: uuid.New(), EventID: e.event, TicketTypeID: tt.ID, HoldType: models.HoldTypeAccess,
		RedemptionCode: "ENDEDHLD", EndAt: &ended}
	require.NoError(t, e.repos.Holds.CreateHold(e.ctx, h))

	_, err := e.validate(withCode(tt, 1, "ENDEDHLD"))
	assert.Equal(t, []string{apperrors.CodeNotValidForDatetime}, codesOn(t, err, "items[0]"))
}

func TestValidateUnknownTicketType(t *testing.T) {
	e := newEnv(t)
	_, err := e.validate(models.UpdateOrderItem{TicketTypeID: uuid.New(), Quantity: 1})
	assert.True(t, apperrors.IsNotFound(err))
}
