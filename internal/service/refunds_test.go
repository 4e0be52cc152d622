package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/validation"
)

// paidOrder buys two 40.00 tickets online: 2x4000 + 2x150 + 250.
func paidOrder(f *fixture) (*models.Order, *models.TicketType, models.OrderItem, []models.TicketInstance) {
	f.t.Helper()
	tt := f.ticketType(10, 4000)
	order, items := f.buy(uuid.New(), UpdateOptions{}, line(tt, 2))
	row := byType(items, models.OrderItemTypeTickets)[0]
	units := f.instances(row.ID)
	require.Len(f.t, units, 2)
	return order, tt, row, units
}

func ticketLine(row models.OrderItem, unit models.TicketInstance) RefundLine {
	id := unit.ID
	return RefundLine{OrderItemID: row.ID, TicketInstanceID: &id}
}

func TestRefundUnusedTicket(t *testing.T) {
	f := newFixture(t)
	order, tt, row, units := paidOrder(f)
	actor := uuid.New()

	refund, amount, err := f.svc.Refunds.Refund(f.ctx, order, RefundRequest{
		Items:   []RefundLine{ticketLine(row, units[0])},
		ActorID: actor,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4150), amount)
	assert.Equal(t, actor, refund.UserID)
	assert.Len(t, refund.Items, 2)
	assert.Equal(t, models.OrderStatusPartiallyRefunded, order.Status)

	items := f.items(order.ID)
	assert.Equal(t, int64(1), byType(items, models.OrderItemTypeTickets)[0].RefundedQuantity)
	assert.Equal(t, int64(1), byType(items, models.OrderItemTypePerUnitFees)[0].RefundedQuantity)
	assert.Zero(t, byType(items, models.OrderItemTypeEventFees)[0].RefundedQuantity)

	unit, err := f.repos.Inventory.GetTicketInstance(f.ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketInstanceStatusAvailable, unit.Status)
	assert.Nil(t, unit.OrderItemID)
	c := f.counts(tt.ID)
	assert.Equal(t, int64(1), c.Purchased)
	assert.Equal(t, int64(9), c.Unallocated())

	_, _, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{ticketLine(row, units[0])}})
	requireFieldError(t, err, "items[0]", apperrors.CodeTicketInstanceNotAttached)
	assert.Len(t, f.store.Refunds(), 1)
	assert.Len(t, f.domainEvents(models.DomainEventOrderRefund), 1)
}

func TestRefundEverythingCancelsTheOrder(t *testing.T) {
	f := newFixture(t)
	order, _, row, units := paidOrder(f)
	eventFee := byType(f.items(order.ID), models.OrderItemTypeEventFees)[0]

	_, amount, err := f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{
		ticketLine(row, units[0]),
		ticketLine(row, units[1]),
		{OrderItemID: eventFee.ID},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(8550), amount)
	assert.Equal(t, models.OrderStatusCancelled, f.order(order.ID).Status)

	_, _, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{{OrderItemID: eventFee.ID}}})
	assert.ErrorIs(t, err, apperrors.ErrBusinessProcess)
}

func TestRefundFeeRowTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	order, _, _, _ := paidOrder(f)
	eventFee := byType(f.items(order.ID), models.OrderItemTypeEventFees)[0]

	_, amount, err := f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{{OrderItemID: eventFee.ID}}})
	require.NoError(t, err)
	assert.Equal(t, int64(250), amount)

	_, _, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{{OrderItemID: eventFee.ID}}})
	requireFieldError(t, err, "items[0]", apperrors.CodeAlreadyRefunded)
}

func TestRefundLineShapes(t *testing.T) {
	f := newFixture(t)
	order, _, row, units := paidOrder(f)
	fee := byType(f.items(order.ID), models.OrderItemTypePerUnitFees)[0]

	_, _, err := f.svc.Refunds.Refund(f.ctx, order, RefundRequest{})
	requireFieldError(t, err, "items", apperrors.CodeRequired)

	_, _, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{
		{OrderItemID: row.ID},
		ticketLine(fee, units[0]),
	}})
	requireFieldError(t, err, "items[0]", apperrors.CodeTicketInstanceRequired)
	requireFieldError(t, err, "items[1]", apperrors.CodeTicketInstanceNotAttached)

	_, _, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{{OrderItemID: uuid.New()}}})
	assert.True(t, apperrors.IsNotFound(err))

	// A failing line rolls back the ones before it.
	_, _, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{
		ticketLine(row, units[0]),
		{OrderItemID: row.ID},
	}})
	require.Error(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Zero(t, byType(f.items(order.ID), models.OrderItemTypeTickets)[0].RefundedQuantity)
	assert.Empty(t, f.store.Refunds())
}

func TestRefundDraftIsRejected(t *testing.T) {
	f := newFixture(t)
	tt := f.ticketType(10, 4000)
	order := f.cart(uuid.New())
	summary, err := f.update(order, line(tt, 1))
	require.NoError(t, err)
	row := byType(summary.Items, models.OrderItemTypeTickets)[0]

	_, _, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{{OrderItemID: row.ID}}})
	assert.ErrorIs(t, err, apperrors.ErrBusinessProcess)
	assert.Contains(t, err.Error(), "order_not_refundable")
}

func TestRefundRedeemedTicketReturnsFeeOnly(t *testing.T) {
	f := newFixture(t)
	order, _, row, units := paidOrder(f)
	redeemed, err := f.repos.Inventory.RedeemInstance(f.ctx, units[0].ID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, redeemed)

	_, amount, err := f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{ticketLine(row, units[0])}})
	require.NoError(t, err)
	assert.Equal(t, int64(150), amount)

	unit, err := f.repos.Inventory.GetTicketInstance(f.ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketInstanceStatusRedeemed, unit.Status)
	assert.Equal(t, row.ID, *unit.OrderItemID)

	rt, err := f.repos.Refunds.GetRefundedTicket(f.ctx, row.ID, units[0].ID)
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.NotNil(t, rt.FeeRefundedAt)
	assert.Nil(t, rt.TicketRefundedAt)

	_, _, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{ticketLine(row, units[0])}})
	requireFieldError(t, err, "items[0]", apperrors.CodeAlreadyRefunded)

	// A manual override later pays the ticket part only.
	_, amount, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{
		Items:          []RefundLine{ticketLine(row, units[0])},
		ManualOverride: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), amount)
}

func TestRefundRedeemedTicketInRejectMode(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.RedeemedMode = RedeemedRefundReject })
	order, _, row, units := paidOrder(f)
	_, err := f.repos.Inventory.RedeemInstance(f.ctx, units[0].ID, f.clock.Now())
	require.NoError(t, err)

	_, _, err = f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{ticketLine(row, units[0])}})
	requireFieldError(t, err, "items[0]", apperrors.CodeTicketAlreadyRedeemed)
}

func TestRefundRedeemedTicketWithOverride(t *testing.T) {
	f := newFixture(t)
	order, tt, row, units := paidOrder(f)
	_, err := f.repos.Inventory.RedeemInstance(f.ctx, units[0].ID, f.clock.Now())
	require.NoError(t, err)

	refund, amount, err := f.svc.Refunds.Refund(f.ctx, order, RefundRequest{
		Items:          []RefundLine{ticketLine(row, units[0])},
		ManualOverride: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4150), amount)
	assert.True(t, refund.ManualOverride)

	unit, err := f.repos.Inventory.GetTicketInstance(f.ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketInstanceStatusNullified, unit.Status)
	assert.Equal(t, int64(1), f.counts(tt.ID).Nullified)
}

func TestRefundUnderNullifyPolicy(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ResalePolicy = ResalePolicyNullify })
	order, tt, row, units := paidOrder(f)

	_, _, err := f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{ticketLine(row, units[1])}})
	require.NoError(t, err)

	unit, err := f.repos.Inventory.GetTicketInstance(f.ctx, units[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketInstanceStatusNullified, unit.Status)
	c := f.counts(tt.ID)
	assert.Equal(t, int64(1), c.Nullified)
	assert.Equal(t, int64(8), c.Unallocated())
}

func TestRefundCancelledTicketTypeIsNotResold(t *testing.T) {
	f := newFixture(t)
	order, tt, row, units := paidOrder(f)
	require.NoError(t, f.repos.TicketTypes.UpdateTicketTypeStatus(f.ctx, tt.ID, models.TicketTypeStatusCancelled, f.clock.Now()))

	_, _, err := f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{ticketLine(row, units[0])}})
	require.NoError(t, err)

	unit, err := f.repos.Inventory.GetTicketInstance(f.ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketInstanceStatusNullified, unit.Status)
}

func TestRefundedHoldUnitGoesBackToTheHold(t *testing.T) {
	f := newFixture(t)
	tt := f.ticketType(10, 4000)
	h := f.hold(tt, models.HoldTypeDiscount, 3, "FRIENDS10", func(a *validation.HoldAttributes) {
		a.DiscountInCents = i64(1000)
	})
	order, items := f.buy(uuid.New(), UpdateOptions{}, codeLine(tt, 1, "friends10"))
	row := byType(items, models.OrderItemTypeTickets)[0]
	units := f.instances(row.ID)
	require.Len(t, units, 1)

	_, amount, err := f.svc.Refunds.Refund(f.ctx, order, RefundRequest{Items: []RefundLine{ticketLine(row, units[0])}})
	require.NoError(t, err)
	assert.Equal(t, int64(4000-1000+150), amount)

	unit, err := f.repos.Inventory.GetTicketInstance(f.ctx, units[0].ID)
	require.NoError(t, err)
	require.NotNil(t, unit.HoldID)
	assert.Equal(t, h.ID, *unit.HoldID)
	assert.Equal(t, models.TicketInstanceStatusAvailable, unit.Status)

	hc, err := f.repos.Inventory.HoldCounts(f.ctx, h.ID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), hc.Quantity)
	assert.Zero(t, hc.Purchased)
	assert.Equal(t, int64(3), hc.Available())
}
