package memstore

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

func compareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

func sameHold(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sold(st models.TicketInstanceStatus) bool {
	return st == models.TicketInstanceStatusPurchased || st == models.TicketInstanceStatusRedeemed
}

func liveReservation(ti models.TicketInstance, now time.Time) bool {
	return ti.Status == models.TicketInstanceStatusReserved && ti.ReservedUntil != nil && !ti.ReservedUntil.Before(now)
}

// sortedInstances returns matching instances ordered by id.
func (s *Store) sortedInstances(match func(models.TicketInstance) bool) []models.TicketInstance {
	var out []models.TicketInstance
	for _, ti := range s.st.instances {
		if match(ti) {
			out = append(out, ti)
		}
	}
	slices.SortFunc(out, func(a, b models.TicketInstance) int { return compareIDs(a.ID, b.ID) })
	return out
}

func (s *Store) orderItemIDs(orderID uuid.UUID) map[uuid.UUID]struct{} {
	ids := map[uuid.UUID]struct{}{}
	for id, it := range s.st.items {
		if it.OrderID == orderID {
			ids[id] = struct{}{}
		}
	}
	return ids
}

func (s *Store) InventoryCounts(ctx context.Context, ticketTypeID uuid.UUID, now time.Time) (*models.InventoryCounts, error) {
	defer s.lock(ctx)()
	c := models.InventoryCounts{TicketTypeID: ticketTypeID}
	for _, ti := range s.st.instances {
		if ti.TicketTypeID != ticketTypeID {
			continue
		}
		c.Allocation++
		nullified := ti.Status == models.TicketInstanceStatusNullified
		if nullified {
			c.Nullified++
		}
		if ti.HoldID == nil {
			if liveReservation(ti, now) {
				c.Reserved++
			}
			if sold(ti.Status) {
				c.Purchased++
			}
			continue
		}

		if !nullified {
			c.HoldQuantity++
		}
		if liveReservation(ti, now) {
			c.HoldReserved++
		}
		if sold(ti.Status) {
			c.HoldPurchased++
		}
		switch s.st.holds[*ti.HoldID].HoldType {
		case models.HoldTypeComp:
			if sold(ti.Status) {
				c.CompPurchased++
			}
		case models.HoldTypeAccess:
			if !nullified {
				c.AccessHoldQuantity++
			}
		case models.HoldTypeDiscount:
		}
	}
	return &c, nil
}

func (s *Store) HoldCounts(ctx context.Context, holdID uuid.UUID, now time.Time) (*models.HoldCounts, error) {
	defer s.lock(ctx)()
	c := models.HoldCounts{HoldID: holdID}
	for _, ti := range s.st.instances {
		if ti.HoldID == nil || *ti.HoldID != holdID {
			continue
		}
		if ti.Status != models.TicketInstanceStatusNullified {
			c.Quantity++
		}
		if liveReservation(ti, now) {
			c.Reserved++
		}
		if sold(ti.Status) {
			c.Purchased++
		}
	}
	return &c, nil
}

func (s *Store) ReserveInstances(ctx context.Context, p repository.ReserveParams) (int64, error) {
	defer s.lock(ctx)()
	candidates := s.sortedInstances(func(ti models.TicketInstance) bool {
		return ti.TicketTypeID == p.TicketTypeID && sameHold(ti.HoldID, p.HoldID) && ti.Claimable(p.Now)
	})

	var n int64
	for _, ti := range candidates {
		if n == p.Quantity {
			break
		}
		ti.Status = models.TicketInstanceStatusReserved
		ti.OrderItemID = &p.OrderItemID
		ti.ReservedUntil = &p.Until
		ti.UpdatedAt = p.Now
		s.st.instances[ti.ID] = ti
		n++
	}
	return n, nil
}

func (s *Store) ReleaseInstances(ctx context.Context, orderItemID uuid.UUID, n int64, now time.Time) (int64, error) {
	defer s.lock(ctx)()
	held := s.sortedInstances(func(ti models.TicketInstance) bool {
		return ti.Status == models.TicketInstanceStatusReserved && ti.OrderItemID != nil && *ti.OrderItemID == orderItemID
	})
	slices.Reverse(held)

	var released int64
	for _, ti := range held {
		if released == n {
			break
		}
		s.st.instances[ti.ID] = available(ti, now)
		released++
	}
	return released, nil
}

func available(ti models.TicketInstance, now time.Time) models.TicketInstance {
	ti.Status = models.TicketInstanceStatusAvailable
	ti.OrderItemID = nil
	ti.ReservedUntil = nil
	ti.UpdatedAt = now
	return ti
}

// forOrderReservations applies fn to every Reserved instance of the order.
func (s *Store) forOrderReservations(orderID uuid.UUID, fn func(models.TicketInstance) models.TicketInstance) int64 {
	items := s.orderItemIDs(orderID)
	var n int64
	for id, ti := range s.st.instances {
		if ti.Status != models.TicketInstanceStatusReserved || ti.OrderItemID == nil {
			continue
		}
		if _, ok := items[*ti.OrderItemID]; !ok {
			continue
		}
		s.st.instances[id] = fn(ti)
		n++
	}
	return n
}

func (s *Store) ReleaseOrderReservations(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	defer s.lock(ctx)()
	return s.forOrderReservations(orderID, func(ti models.TicketInstance) models.TicketInstance {
		return available(ti, now)
	}), nil
}

func (s *Store) ExtendReservations(ctx context.Context, orderID uuid.UUID, until, now time.Time) error {
	defer s.lock(ctx)()
	s.forOrderReservations(orderID, func(ti models.TicketInstance) models.TicketInstance {
		ti.ReservedUntil = &until
		ti.UpdatedAt = now
		return ti
	})
	return nil
}

func (s *Store) CountLiveReservations(ctx context.Context, orderItemID uuid.UUID, now time.Time) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for _, ti := range s.st.instances {
		if ti.OrderItemID != nil && *ti.OrderItemID == orderItemID && liveReservation(ti, now) {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkPurchased(ctx context.Context, orderID uuid.UUID, now time.Time) (int64, error) {
	defer s.lock(ctx)()
	return s.forOrderReservations(orderID, func(ti models.TicketInstance) models.TicketInstance {
		ti.Status = models.TicketInstanceStatusPurchased
		ti.ReservedUntil = nil
		ti.UpdatedAt = now
		return ti
	}), nil
}

func (s *Store) GetTicketInstance(ctx context.Context, id uuid.UUID) (*models.TicketInstance, error) {
	defer s.lock(ctx)()
	ti, ok := s.st.instances[id]
	if !ok {
		return nil, nil
	}
	return &ti, nil
}

func (s *Store) ListTicketInstances(ctx context.Context, orderItemID uuid.UUID) ([]models.TicketInstance, error) {
	defer s.lock(ctx)()
	return s.sortedInstances(func(ti models.TicketInstance) bool {
		return ti.OrderItemID != nil && *ti.OrderItemID == orderItemID
	}), nil
}

func (s *Store) DetachInstance(ctx context.Context, id uuid.UUID, status models.TicketInstanceStatus, now time.Time) error {
	defer s.lock(ctx)()
	ti, ok := s.st.instances[id]
	if !ok {
		return apperrors.NotFound("ticket instance", id)
	}
	ti.Status = status
	ti.OrderItemID = nil
	ti.ReservedUntil = nil
	ti.RedeemedAt = nil
	ti.UpdatedAt = now
	s.st.instances[id] = ti
	return nil
}

func (s *Store) RedeemInstance(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	defer s.lock(ctx)()
	ti, ok := s.st.instances[id]
	if !ok || ti.Status != models.TicketInstanceStatusPurchased {
		return false, nil
	}
	ti.Status = models.TicketInstanceStatusRedeemed
	ti.RedeemedAt = &now
	ti.UpdatedAt = now
	s.st.instances[id] = ti
	return true, nil
}

func (s *Store) MoveInstances(ctx context.Context, p repository.MoveParams) (int64, error) {
	defer s.lock(ctx)()
	movable := s.sortedInstances(func(ti models.TicketInstance) bool {
		return ti.TicketTypeID == p.TicketTypeID && sameHold(ti.HoldID, p.FromHoldID) && ti.Claimable(p.Now)
	})

	var n int64
	for _, ti := range movable {
		if n == p.Quantity {
			break
		}
		ti = available(ti, p.Now)
		if p.ToHoldID != nil {
			ti.HoldID = ptr(*p.ToHoldID)
		} else {
			ti.HoldID = nil
		}
		s.st.instances[ti.ID] = ti
		n++
	}
	return n, nil
}
