package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
	"boxoffice/internal/repository/memstore"
)

func setup(t *testing.T, capacity int64) (context.Context, *repository.Repositories, *clockwork.FakeClock, *Accountant, *models.TicketType) {
	t.Helper()
	ctx := context.Background()
	repos := memstore.New().Repositories()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tt := &models.TicketType{ID: uuid.New(), EventID: uuid.New(), Name: "GA", Status: models.TicketTypeStatusPublished, Capacity: capacity}
	require.NoError(t, repos.TicketTypes.CreateTicketType(ctx, tt))
	return ctx, repos, clock, NewAccountant(repos, clock), tt
}

func ticketRow(tt *models.TicketType) *models.OrderItem {
	ttID := tt.ID
	return &models.OrderItem{ID: uuid.New(), OrderID: uuid.New(), ItemType: models.OrderItemTypeTickets, TicketTypeID: &ttID}
}

func TestReserveAndRelease(t *testing.T) {
	ctx, repos, clock, acct, tt := setup(t, 5)
	row := ticketRow(tt)

	require.NoError(t, acct.Reserve(ctx, row, nil, 3, clock.Now().Add(time.Minute)))
	c, err := acct.Counts(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Reserved)
	assert.Equal(t, int64(2), c.Unallocated())

	// A short pool claims what it can; the transaction undoes it.
	err = repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		return acct.Reserve(ctx, ticketRow(tt), nil, 3, clock.Now().Add(time.Minute))
	})
	verrs, ok := apperrors.AsValidation(err)
	require.True(t, ok)
	require.Len(t, verrs.Fields["quantity"], 1)
	assert.Equal(t, apperrors.CodeNotEnoughTickets, verrs.Fields["quantity"][0].Code)
	assert.Equal(t, int64(2), verrs.Fields["quantity"][0].Params["available"])

	require.NoError(t, acct.Release(ctx, row.ID, 2))
	c, err = acct.Counts(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Reserved)
}

func TestExpiredReservationsAreClaimable(t *testing.T) {
	ctx, _, clock, acct, tt := setup(t, 2)

	require.NoError(t, acct.Reserve(ctx, ticketRow(tt), nil, 2, clock.Now().Add(time.Minute)))
	assert.True(t, apperrors.IsValidation(acct.Reserve(ctx, ticketRow(tt), nil, 1, clock.Now().Add(time.Minute))))

	clock.Advance(2 * time.Minute)
	require.NoError(t, acct.Reserve(ctx, ticketRow(tt), nil, 2, clock.Now().Add(time.Minute)))
}

func TestMoveBetweenPools(t *testing.T) {
	ctx, repos, clock, acct, tt := setup(t, 6)
	hold := &models.Hold{ID: uuid.New(), EventID: tt.EventID, TicketTypeID: tt.ID, HoldType: models.HoldTypeComp, Quantity: 4, RedemptionCode: "COMPS001"}
	require.NoError(t, repos.Holds.CreateHold(ctx, hold))

	require.NoError(t, acct.Move(ctx, tt.ID, nil, &hold.ID, 4))
	c, err := acct.Counts(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), c.HoldQuantity)
	assert.Equal(t, int64(2), c.Unallocated())

	// General pool only has two left.
	err = repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		return acct.Reserve(ctx, ticketRow(tt), nil, 3, clock.Now().Add(time.Minute))
	})
	assert.True(t, apperrors.IsValidation(err))
	require.NoError(t, acct.Reserve(ctx, ticketRow(tt), &hold.ID, 3, clock.Now().Add(time.Minute)))

	// Reserved hold units stay put.
	require.NoError(t, acct.Move(ctx, tt.ID, &hold.ID, nil, 1))
	assert.True(t, apperrors.IsValidation(acct.Move(ctx, tt.ID, &hold.ID, nil, 1)))

	report, err := acct.Report(ctx, tt.ID)
	require.NoError(t, err)
	require.Len(t, report.Holds, 1)
	assert.Equal(t, int64(3), report.Holds[0].Counts.Quantity)
	assert.Equal(t, int64(3), report.Holds[0].Counts.Reserved)
	assert.Equal(t, int64(3), report.Unallocated)
}

func TestRedeemNeedsAPurchasedUnit(t *testing.T) {
	ctx, repos, clock, acct, tt := setup(t, 1)
	row := ticketRow(tt)
	require.NoError(t, acct.Reserve(ctx, row, nil, 1, clock.Now().Add(time.Minute)))
	units, err := repos.Inventory.ListTicketInstances(ctx, row.ID)
	require.NoError(t, err)
	require.Len(t, units, 1)

	assert.ErrorIs(t, acct.Redeem(ctx, units[0].ID), apperrors.ErrBusinessProcess)
}

func TestRedeemPurchasedUnit(t *testing.T) {
	ctx, repos, clock, acct, tt := setup(t, 1)
	row := ticketRow(tt)
	require.NoError(t, repos.Orders.CreateOrderItem(ctx, row))
	require.NoError(t, acct.Reserve(ctx, row, nil, 1, clock.Now().Add(time.Minute)))
	n, err := repos.Inventory.MarkPurchased(ctx, row.OrderID, clock.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	units, err := repos.Inventory.ListTicketInstances(ctx, row.ID)
	require.NoError(t, err)

	require.NoError(t, acct.Redeem(ctx, units[0].ID))
	assert.ErrorIs(t, acct.Redeem(ctx, units[0].ID), apperrors.ErrBusinessProcess)
	assert.True(t, apperrors.IsNotFound(acct.Redeem(ctx, uuid.New())))

	c, err := acct.Counts(ctx, tt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Purchased)
}

func TestReportUnknownTicketType(t *testing.T) {
	ctx, _, _, acct, _ := setup(t, 1)
	_, err := acct.Report(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))
}
