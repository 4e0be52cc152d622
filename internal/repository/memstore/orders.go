package memstore

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

func (s *Store) CreateOrder(ctx context.Context, o *models.Order) error {
	defer s.lock(ctx)()
	s.st.orders[o.ID] = *o
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o *models.Order, now time.Time) error {
	defer s.lock(ctx)()
	stored, ok := s.st.orders[o.ID]
	if !ok || stored.Version != o.Version {
		return fmt.Errorf("order: %w", apperrors.ErrConcurrency)
	}
	o.Version++
	o.UpdatedAt = now
	s.st.orders[o.ID] = *o
	return nil
}

func (s *Store) ListExpiredDrafts(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	defer s.lock(ctx)()
	var out []models.Order
	for _, o := range s.st.orders {
		if o.Status == models.OrderStatusDraft && o.ExpiredAt(now) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b models.Order) int {
		if c := a.ExpiresAt.Compare(*b.ExpiresAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetUserCart(ctx context.Context, userID uuid.UUID) (*models.UserCart, error) {
	defer s.lock(ctx)()
	c, ok := s.st.carts[userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) SaveUserCart(ctx context.Context, c *models.UserCart, now time.Time) error {
	defer s.lock(ctx)()
	stored, ok := s.st.carts[c.UserID]
	switch {
	case c.Version == 0 && ok:
		return fmt.Errorf("user cart: %w", apperrors.ErrConcurrency)
	case c.Version != 0 && (!ok || stored.Version != c.Version):
		return fmt.Errorf("user cart: %w", apperrors.ErrConcurrency)
	}
	c.Version++
	c.UpdatedAt = now
	s.st.carts[c.UserID] = *c
	return nil
}

func (s *Store) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	defer s.lock(ctx)()
	var out []models.OrderItem
	for _, it := range s.st.items {
		if it.OrderID == orderID {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b models.OrderItem) int {
		return int(s.st.itemSeq[a.ID] - s.st.itemSeq[b.ID])
	})
	return out, nil
}

func (s *Store) GetOrderItem(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	defer s.lock(ctx)()
	it, ok := s.st.items[id]
	if !ok {
		return nil, nil
	}
	return &it, nil
}

func (s *Store) CreateOrderItem(ctx context.Context, it *models.OrderItem) error {
	defer s.lock(ctx)()
	s.st.seq++
	s.st.itemSeq[it.ID] = s.st.seq
	s.st.items[it.ID] = *it
	return nil
}

func (s *Store) UpdateOrderItem(ctx context.Context, it *models.OrderItem) error {
	defer s.lock(ctx)()
	if _, ok := s.st.items[it.ID]; !ok {
		return apperrors.NotFound("order item", it.ID)
	}
	if it.RefundedQuantity < 0 || it.RefundedQuantity > it.Quantity {
		return fmt.Errorf("order item %s: refunded quantity %d out of range", it.ID, it.RefundedQuantity)
	}
	s.st.items[it.ID] = *it
	return nil
}

// DeleteOrderItem also removes child rows, like the ON DELETE CASCADE in SQL.
func (s *Store) DeleteOrderItem(ctx context.Context, id uuid.UUID) error {
	defer s.lock(ctx)()
	delete(s.st.items, id)
	delete(s.st.itemSeq, id)
	for childID, it := range s.st.items {
		if it.ParentID != nil && *it.ParentID == id {
			delete(s.st.items, childID)
			delete(s.st.itemSeq, childID)
		}
	}
	return nil
}

func (s *Store) PurchasedQuantity(ctx context.Context, userID uuid.UUID, f repository.PurchaseFilter) (int64, error) {
	defer s.lock(ctx)()
	var match func(models.OrderItem) bool
	switch {
	case f.CodeID != nil:
		match = func(it models.OrderItem) bool { return it.CodeID != nil && *it.CodeID == *f.CodeID }
	case f.HoldID != nil:
		match = func(it models.OrderItem) bool { return it.HoldID != nil && *it.HoldID == *f.HoldID }
	case f.TicketTypeID != nil:
		match = func(it models.OrderItem) bool { return it.TicketTypeID != nil && *it.TicketTypeID == *f.TicketTypeID }
	default:
		return 0, fmt.Errorf("purchase filter is empty")
	}

	var n int64
	for _, it := range s.st.items {
		if it.ItemType != models.OrderItemTypeTickets || !match(it) {
			continue
		}
		o := s.st.orders[it.OrderID]
		if o.UserID == userID && o.Status.Purchased() {
			n += it.Quantity - it.RefundedQuantity
		}
	}
	return n, nil
}

func (s *Store) CountCodeUses(ctx context.Context, codeID, excludeOrderID uuid.UUID, now time.Time) (int64, error) {
	defer s.lock(ctx)()
	orders := map[uuid.UUID]struct{}{}
	for _, it := range s.st.items {
		if it.ItemType != models.OrderItemTypeTickets || it.CodeID == nil || *it.CodeID != codeID {
			continue
		}
		if it.RefundedQuantity >= it.Quantity || it.OrderID == excludeOrderID {
			continue
		}
		o := s.st.orders[it.OrderID]
		liveDraft := o.Status == models.OrderStatusDraft && o.ExpiresAt != nil && o.ExpiresAt.After(now)
		if o.Status.Purchased() || liveDraft {
			orders[o.ID] = struct{}{}
		}
	}
	return int64(len(orders)), nil
}

func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	defer s.lock(ctx)()
	s.st.payments = append(s.st.payments, *p)
	return nil
}

func (s *Store) SumPayments(ctx context.Context, orderID uuid.UUID) (int64, error) {
	defer s.lock(ctx)()
	var sum int64
	for _, p := range s.st.payments {
		if p.OrderID == orderID {
			sum += p.AmountInCents
		}
	}
	return sum, nil
}
