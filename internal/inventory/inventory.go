// Package inventory accounts for ticket units. Every unit is a row that is
// Available, Reserved by an order item, Purchased, Redeemed or Nullified,
// and may belong to a hold's sub-pool. For a ticket type
//
//	reserved + purchased + nullified + hold quantity <= allocation
//
// always holds, because each unit is counted in exactly one bucket.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

type Accountant struct {
	repos *repository.Repositories
	clock clockwork.Clock
}

func NewAccountant(repos *repository.Repositories, clock clockwork.Clock) *Accountant {
	return &Accountant{repos: repos, clock: clock}
}

// Counts returns the ticket type's counters at the current time.
func (a *Accountant) Counts(ctx context.Context, ticketTypeID uuid.UUID) (*models.InventoryCounts, error) {
	c, err := a.repos.Inventory.InventoryCounts(ctx, ticketTypeID, a.clock.Now())
	if err != nil {
		return nil, err
	}
	if c.Unallocated() < 0 {
		logger.WithContext(ctx).Error("Inventory over-allocated",
			"ticket_type_id", ticketTypeID, "allocation", c.Allocation, "unallocated", c.Unallocated())
	}
	return c, nil
}

// Reserve claims n units for item from the general pool or from holdID's
// pool until the given time. A short pool is reported as a validation
// error; the caller's transaction must roll back the partial claim.
func (a *Accountant) Reserve(ctx context.Context, item *models.OrderItem, holdID *uuid.UUID, n int64, until time.Time) error {
	if n <= 0 {
		return nil
	}
	if item.TicketTypeID == nil {
		return fmt.Errorf("order item %s has no ticket type", item.ID)
	}

	claimed, err := a.repos.Inventory.ReserveInstances(ctx, repository.ReserveParams{
		TicketTypeID: *item.TicketTypeID,
		HoldID:       holdID,
		OrderItemID:  item.ID,
		Quantity:     n,
		Until:        until,
		Now:          a.clock.Now(),
	})
	if err != nil {
		return err
	}
	if claimed < n {
		return apperrors.NewValidationErrors().Add("quantity", apperrors.CodeNotEnoughTickets,
			"not enough tickets available", map[string]any{"requested": n, "available": claimed})
	}
	return nil
}

// Release returns n reserved units of the item to their pool.
func (a *Accountant) Release(ctx context.Context, itemID uuid.UUID, n int64) error {
	if n <= 0 {
		return nil
	}
	_, err := a.repos.Inventory.ReleaseInstances(ctx, itemID, n, a.clock.Now())
	return err
}

// ReleaseOrder returns every reservation of the order.
func (a *Accountant) ReleaseOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	return a.repos.Inventory.ReleaseOrderReservations(ctx, orderID, a.clock.Now())
}

// Redeem marks a purchased unit as used at the door.
func (a *Accountant) Redeem(ctx context.Context, instanceID uuid.UUID) error {
	ok, err := a.repos.Inventory.RedeemInstance(ctx, instanceID, a.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		ti, err := a.repos.Inventory.GetTicketInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if ti == nil {
			return apperrors.NotFound("ticket instance", instanceID)
		}
		return apperrors.BusinessProcess(fmt.Sprintf("ticket instance %s is %s", instanceID, ti.Status))
	}
	return nil
}

// Move shifts n claimable units between pools, nil being the general pool.
func (a *Accountant) Move(ctx context.Context, ticketTypeID uuid.UUID, from, to *uuid.UUID, n int64) error {
	if n <= 0 {
		return nil
	}
	moved, err := a.repos.Inventory.MoveInstances(ctx, repository.MoveParams{
		TicketTypeID: ticketTypeID,
		FromHoldID:   from,
		ToHoldID:     to,
		Quantity:     n,
		Now:          a.clock.Now(),
	})
	if err != nil {
		return err
	}
	if moved < n {
		return apperrors.NewValidationErrors().Add("quantity", apperrors.CodeNotEnoughTickets,
			"not enough tickets available", map[string]any{"requested": n, "available": moved})
	}
	return nil
}

// Report is the inventory view served to operators.
type Report struct {
	Counts      models.InventoryCounts `json:"counts"`
	Unallocated int64                  `json:"unallocated"`
	Holds       []HoldReport           `json:"holds"`
}

type HoldReport struct {
	Hold   models.Hold       `json:"hold"`
	Counts models.HoldCounts `json:"counts"`
}

func (a *Accountant) Report(ctx context.Context, ticketTypeID uuid.UUID) (*Report, error) {
	tt, err := a.repos.TicketTypes.GetTicketType(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}
	if tt == nil {
		return nil, apperrors.NotFound("ticket type", ticketTypeID)
	}

	counts, err := a.Counts(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}
	holds, err := a.repos.Holds.ListHolds(ctx, ticketTypeID)
	if err != nil {
		return nil, err
	}

	report := &Report{Counts: *counts, Unallocated: counts.Unallocated()}
	now := a.clock.Now()
	for _, h := range holds {
		hc, err := a.repos.Inventory.HoldCounts(ctx, h.ID, now)
		if err != nil {
			return nil, err
		}
		report.Holds = append(report.Holds, HoldReport{Hold: h, Counts: *hc})
	}
	return report, nil
}
