package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/pricing"
	"boxoffice/internal/redemption"
)

type UpdateOptions struct {
	// ReplaceExisting removes every ticket row the request does not mention.
	ReplaceExisting bool
	BoxOffice       bool
}

type CartSummary struct {
	Order        models.Order       `json:"order"`
	Items        []models.OrderItem `json:"items"`
	TotalInCents int64              `json:"total_in_cents"`
}

type CartService struct {
	*deps
}

// FindOrCreateCart returns the Draft the user's cart points at, or opens a
// new one and points the cart at it.
func (s *CartService) FindOrCreateCart(ctx context.Context, userID uuid.UUID) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "cart.FindOrCreateCart")
	defer func() { finishSpan(span, "find_or_create_cart", err) }()

	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		cart, err := s.repos.Orders.GetUserCart(ctx, userID)
		if err != nil {
			return err
		}
		if cart != nil && cart.OrderID != nil {
			current, err := s.repos.Orders.GetOrder(ctx, *cart.OrderID)
			if err != nil {
				return err
			}
			if current != nil && current.Status == models.OrderStatusDraft {
				order = current
				return nil
			}
		}

		o := &models.Order{
			ID:        uuid.New(),
			UserID:    userID,
			Status:    models.OrderStatusDraft,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repos.Orders.CreateOrder(ctx, o); err != nil {
			return err
		}
		if cart == nil {
			cart = &models.UserCart{UserID: userID}
		}
		cart.OrderID = &o.ID
		if err := s.repos.Orders.SaveUserCart(ctx, cart, now); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateQuantities sets the order's ticket lines to the requested end state.
// It applies fully or not at all; on error order is left as loaded. A stale
// order version fails with errors.ErrConcurrency.
func (s *CartService) UpdateQuantities(ctx context.Context, order *models.Order, userID uuid.UUID,
	lines []models.UpdateOrderItem, opts UpdateOptions) (summary *CartSummary, err error) {

	ctx, span := tracer.Start(ctx, "cart.UpdateQuantities", trace.WithAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.Int("lines", len(lines)),
		attribute.Bool("box_office", opts.BoxOffice),
	))
	start := time.Now()
	defer func() {
		metrics.CartUpdateDuration.Observe(time.Since(start).Seconds())
		metrics.CartUpdates.WithLabelValues(updateResult(err)).Inc()
		finishSpan(span, "update_quantities", err)
	}()
	ctx = logger.ContextWithOrderID(ctx, order.ID)

	loaded := *order
	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		summary, err = s.updateQuantities(ctx, order, userID, lines, opts)
		return err
	})
	if err != nil {
		*order = loaded
		if verrs, ok := apperrors.AsValidation(err); ok {
			metrics.ObserveValidation(verrs.Codes())
		}
		return nil, err
	}
	return summary, nil
}

func updateResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperrors.IsValidation(err):
		return "invalid"
	case apperrors.IsConcurrency(err):
		return "conflict"
	case errors.Is(err, apperrors.ErrBusinessProcess):
		return "rejected"
	}
	return "error"
}

// ticketKey identifies a Tickets row: one per ticket type and code or hold.
type ticketKey struct {
	ticketTypeID uuid.UUID
	codeID       uuid.UUID
	holdID       uuid.UUID
}

func keyOf(it *models.OrderItem) ticketKey {
	return ticketKey{ticketTypeID: deref(it.TicketTypeID), codeID: deref(it.CodeID), holdID: deref(it.HoldID)}
}

func deref(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

type desiredLine struct {
	res      redemption.Resolution
	quantity int64
}

func (s *CartService) updateQuantities(ctx context.Context, order *models.Order, userID uuid.UUID,
	lines []models.UpdateOrderItem, opts UpdateOptions) (*CartSummary, error) {

	now := s.clock.Now()
	if order.UserID != userID {
		return nil, apperrors.BusinessProcess("order belongs to another user")
	}
	if order.Status != models.OrderStatusDraft {
		return nil, orderNotDraft(order)
	}

	items, err := s.repos.Orders.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if order.ExpiredAt(now) && len(items) > 0 {
		if err := s.resetExpired(ctx, order, items); err != nil {
			return nil, err
		}
		items = nil
	}

	var existing []models.OrderItem
	if !opts.ReplaceExisting {
		existing = items
	}
	resolutions, err := s.validator.Validate(ctx, redemption.Request{
		UserID:   userID,
		OrderID:  order.ID,
		Lines:    lines,
		Existing: existing,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	// Lines naming the same row add up.
	var keys []ticketKey
	desired := map[ticketKey]*desiredLine{}
	for _, res := range resolutions {
		k := ticketKey{ticketTypeID: res.TicketType.ID, codeID: deref(res.CodeID()), holdID: deref(res.HoldID())}
		if d, ok := desired[k]; ok {
			d.quantity += res.Line.Quantity
			continue
		}
		desired[k] = &desiredLine{res: res, quantity: res.Line.Quantity}
		keys = append(keys, k)
	}

	rows := map[ticketKey]*models.OrderItem{}
	for i := range items {
		if items[i].ItemType == models.OrderItemTypeTickets {
			rows[keyOf(&items[i])] = &items[i]
		}
	}

	expiresAt := now.Add(s.opts.CartTTL)
	touched := map[uuid.UUID]redemption.Resolution{}
	verrs := apperrors.NewValidationErrors()

	for _, k := range keys {
		d := desired[k]
		row := rows[k]
		switch {
		case row == nil && d.quantity == 0:
		case row == nil:
			row = newTicketRow(order.ID, d.res, d.quantity, now)
			if err := s.repos.Orders.CreateOrderItem(ctx, row); err != nil {
				return nil, err
			}
			if err := s.inventory.Reserve(ctx, row, d.res.HoldID(), d.quantity, expiresAt); err != nil {
				if !nestValidation(verrs, d.res.Index, err) {
					return nil, err
				}
				continue
			}
			rows[k] = row
			touched[row.ID] = d.res
		case d.quantity == 0:
			if err := s.removeRow(ctx, row); err != nil {
				return nil, err
			}
			delete(rows, k)
		default:
			delta := d.quantity - row.Quantity
			if delta > 0 {
				if err := s.inventory.Reserve(ctx, row, d.res.HoldID(), delta, expiresAt); err != nil {
					if !nestValidation(verrs, d.res.Index, err) {
						return nil, err
					}
					continue
				}
			} else if err := s.inventory.Release(ctx, row.ID, -delta); err != nil {
				return nil, err
			}
			row.Quantity = d.quantity
			row.UpdatedAt = now
			if err := s.repos.Orders.UpdateOrderItem(ctx, row); err != nil {
				return nil, err
			}
			touched[row.ID] = d.res
		}
	}

	if opts.ReplaceExisting {
		for k, row := range rows {
			if _, ok := desired[k]; ok {
				continue
			}
			if err := s.removeRow(ctx, row); err != nil {
				return nil, err
			}
			delete(rows, k)
		}
	}

	if !verrs.Empty() {
		return nil, verrs
	}

	if err := s.reprice(ctx, order, touched, opts.BoxOffice, now); err != nil {
		return nil, err
	}

	order.ExpiresAt = &expiresAt
	order.BoxOfficePricing = opts.BoxOffice
	if err := s.repos.Inventory.ExtendReservations(ctx, order.ID, expiresAt, now); err != nil {
		return nil, err
	}
	if err := s.repos.Orders.UpdateOrder(ctx, order, now); err != nil {
		return nil, err
	}
	return s.summarize(ctx, order)
}

func newTicketRow(orderID uuid.UUID, res redemption.Resolution, quantity int64, now time.Time) *models.OrderItem {
	ttID := res.TicketType.ID
	eventID := res.TicketType.EventID
	return &models.OrderItem{
		ID:           uuid.New(),
		OrderID:      orderID,
		ItemType:     models.OrderItemTypeTickets,
		EventID:      &eventID,
		TicketTypeID: &ttID,
		HoldID:       res.HoldID(),
		CodeID:       res.CodeID(),
		Quantity:     quantity,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// nestValidation files a shortfall under the line; false means err is not
// a validation error.
func nestValidation(verrs *apperrors.ValidationErrors, index int, err error) bool {
	v, ok := apperrors.AsValidation(err)
	if !ok {
		return false
	}
	verrs.Nest(lineField(index), v)
	return true
}

// removeRow releases a ticket row's units and deletes it with its children.
func (s *CartService) removeRow(ctx context.Context, row *models.OrderItem) error {
	if err := s.inventory.Release(ctx, row.ID, row.Quantity); err != nil {
		return err
	}
	return s.repos.Orders.DeleteOrderItem(ctx, row.ID)
}

// resetExpired empties a Draft whose reservations lapsed.
func (s *CartService) resetExpired(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	released, err := s.inventory.ReleaseOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	for i := range items {
		if items[i].ParentID != nil {
			continue
		}
		if err := s.repos.Orders.DeleteOrderItem(ctx, items[i].ID); err != nil {
			return err
		}
	}
	logger.WithContext(ctx).Info("Expired cart reset", "items", len(items), "released", released)
	return nil
}

// reprice sets unit prices and derived rows. Touched rows are always
// priced; when the pricing branch changes every row is.
func (s *CartService) reprice(ctx context.Context, order *models.Order, touched map[uuid.UUID]redemption.Resolution,
	boxOffice bool, now time.Time) error {

	items, err := s.repos.Orders.ListOrderItems(ctx, order.ID)
	if err != nil {
		return err
	}
	children := childIndex(items)
	all := order.BoxOfficePricing != boxOffice
	p := &pricer{deps: s.deps, boxOffice: boxOffice, now: now, orgs: map[uuid.UUID]*models.Organization{}}

	var tickets []*models.OrderItem
	for i := range items {
		it := &items[i]
		switch it.ItemType {
		case models.OrderItemTypeTickets:
			tickets = append(tickets, it)
		case models.OrderItemTypeCreditCardFees:
			// The card fee follows the total; the next provider payment recomputes it.
			if err := s.repos.Orders.DeleteOrderItem(ctx, it.ID); err != nil {
				return err
			}
		}
	}

	for _, row := range tickets {
		res, ok := touched[row.ID]
		if !ok && !all {
			continue
		}
		if !ok {
			if res, err = s.resolveRow(ctx, row); err != nil {
				return err
			}
		}
		if err := p.priceRow(ctx, row, res, children[row.ID]); err != nil {
			return err
		}
	}
	return p.syncEventFees(ctx, order.ID, items, tickets)
}

// resolveRow loads what a stored row refers to.
func (s *CartService) resolveRow(ctx context.Context, row *models.OrderItem) (redemption.Resolution, error) {
	var res redemption.Resolution
	tt, err := s.ticketType(ctx, deref(row.TicketTypeID))
	if err != nil {
		return res, err
	}
	res.TicketType = tt
	if row.CodeID != nil {
		if res.Code, err = s.repos.Codes.GetCode(ctx, *row.CodeID); err != nil {
			return res, err
		}
	}
	if row.HoldID != nil {
		if res.Hold, err = s.repos.Holds.GetHold(ctx, *row.HoldID); err != nil {
			return res, err
		}
	}
	return res, nil
}

func childIndex(items []models.OrderItem) map[uuid.UUID]map[models.OrderItemType]*models.OrderItem {
	idx := map[uuid.UUID]map[models.OrderItemType]*models.OrderItem{}
	for i := range items {
		it := &items[i]
		if it.ParentID == nil {
			continue
		}
		if idx[*it.ParentID] == nil {
			idx[*it.ParentID] = map[models.OrderItemType]*models.OrderItem{}
		}
		idx[*it.ParentID][it.ItemType] = it
	}
	return idx
}

type pricer struct {
	*deps
	boxOffice bool
	now       time.Time
	orgs      map[uuid.UUID]*models.Organization
}

func (p *pricer) organization(ctx context.Context, eventID uuid.UUID) (*models.Organization, error) {
	if org, ok := p.orgs[eventID]; ok {
		return org, nil
	}
	org, err := p.organizationOf(ctx, eventID)
	if err != nil {
		return nil, err
	}
	p.orgs[eventID] = org
	return org, nil
}

func (p *pricer) priceRow(ctx context.Context, row *models.OrderItem, res redemption.Resolution,
	children map[models.OrderItemType]*models.OrderItem) error {

	tt := res.TicketType
	periods, err := p.repos.TicketTypes.ListTicketPricing(ctx, tt.ID)
	if err != nil {
		return err
	}
	price, err := pricing.CurrentPrice(tt, periods, p.boxOffice, p.now)
	if err != nil {
		return err
	}
	row.UnitPriceInCents = price.AmountInCents
	row.TicketPricingID = price.PricingID
	row.UpdatedAt = p.now
	if err := p.repos.Orders.UpdateOrderItem(ctx, row); err != nil {
		return err
	}

	discount := pricing.DiscountPerUnit(price.AmountInCents, res.Code, res.Hold)
	err = p.syncChild(ctx, row, models.OrderItemTypeDiscount, children[models.OrderItemTypeDiscount], discount > 0,
		func(c *models.OrderItem) {
			c.UnitPriceInCents = -discount
			c.CodeID = row.CodeID
			c.HoldID = row.HoldID
		})
	if err != nil {
		return err
	}

	var fee pricing.UnitFee
	charge := false
	if !pricing.FeeExempt(p.boxOffice, res.Hold) {
		org, err := p.organization(ctx, tt.EventID)
		if err != nil {
			return err
		}
		schedule, err := p.feeSchedules.GetFeeSchedule(ctx, org.FeeScheduleID)
		if err != nil {
			return err
		}
		if schedule == nil {
			return apperrors.NotFound("fee schedule", org.FeeScheduleID)
		}
		fee, charge, err = pricing.PerUnitFee(schedule, price.AmountInCents-discount, tt.AdditionalFeeInCents)
		if err != nil {
			return err
		}
	}
	return p.syncChild(ctx, row, models.OrderItemTypePerUnitFees, children[models.OrderItemTypePerUnitFees], charge,
		func(c *models.OrderItem) {
			rangeID := fee.Range.ID
			c.UnitPriceInCents = fee.PriceInCents
			c.CompanyFeeInCents = fee.CompanyFee
			c.ClientFeeInCents = fee.ClientFee
			c.FeeScheduleRangeID = &rangeID
		})
}

// syncChild creates, updates or deletes the child row of parent so that it
// exists exactly when want is true.
func (p *pricer) syncChild(ctx context.Context, parent *models.OrderItem, itemType models.OrderItemType,
	existing *models.OrderItem, want bool, fill func(*models.OrderItem)) error {

	if !want {
		if existing == nil {
			return nil
		}
		return p.repos.Orders.DeleteOrderItem(ctx, existing.ID)
	}

	child := existing
	if child == nil {
		parentID := parent.ID
		child = &models.OrderItem{
			ID:           uuid.New(),
			OrderID:      parent.OrderID,
			ItemType:     itemType,
			EventID:      parent.EventID,
			TicketTypeID: parent.TicketTypeID,
			ParentID:     &parentID,
			CreatedAt:    p.now,
		}
	}
	fill(child)
	child.Quantity = parent.Quantity
	child.UpdatedAt = p.now
	if existing == nil {
		return p.repos.Orders.CreateOrderItem(ctx, child)
	}
	return p.repos.Orders.UpdateOrderItem(ctx, child)
}

// syncEventFees keeps one EventFees row per event with chargeable tickets.
// Box office orders and comp-only events carry none.
func (p *pricer) syncEventFees(ctx context.Context, orderID uuid.UUID, items []models.OrderItem, tickets []*models.OrderItem) error {
	var events []uuid.UUID
	chargeable := map[uuid.UUID]bool{}
	if !p.boxOffice {
		holds := map[uuid.UUID]*models.Hold{}
		for _, row := range tickets {
			eventID := deref(row.EventID)
			if chargeable[eventID] {
				continue
			}
			var hold *models.Hold
			if row.HoldID != nil {
				h, ok := holds[*row.HoldID]
				if !ok {
					var err error
					if h, err = p.repos.Holds.GetHold(ctx, *row.HoldID); err != nil {
						return err
					}
					holds[*row.HoldID] = h
				}
				hold = h
			}
			if pricing.FeeExempt(false, hold) {
				continue
			}
			chargeable[eventID] = true
			events = append(events, eventID)
		}
	}

	existing := map[uuid.UUID]*models.OrderItem{}
	for i := range items {
		it := &items[i]
		if it.ItemType != models.OrderItemTypeEventFees {
			continue
		}
		eventID := deref(it.EventID)
		if !chargeable[eventID] || existing[eventID] != nil {
			if err := p.repos.Orders.DeleteOrderItem(ctx, it.ID); err != nil {
				return err
			}
			continue
		}
		existing[eventID] = it
	}

	for _, eventID := range events {
		org, err := p.organization(ctx, eventID)
		if err != nil {
			return err
		}
		row := existing[eventID]
		if org.EventFeeInCents <= 0 {
			if row != nil {
				if err := p.repos.Orders.DeleteOrderItem(ctx, row.ID); err != nil {
					return err
				}
			}
			continue
		}
		if row == nil {
			id := eventID
			row = &models.OrderItem{
				ID:               uuid.New(),
				OrderID:          orderID,
				ItemType:         models.OrderItemTypeEventFees,
				EventID:          &id,
				UnitPriceInCents: org.EventFeeInCents,
				ClientFeeInCents: org.EventFeeInCents,
				Quantity:         1,
				CreatedAt:        p.now,
				UpdatedAt:        p.now,
			}
			if err := p.repos.Orders.CreateOrderItem(ctx, row); err != nil {
				return err
			}
			continue
		}
		if row.UnitPriceInCents != org.EventFeeInCents {
			row.UnitPriceInCents = org.EventFeeInCents
			row.ClientFeeInCents = org.EventFeeInCents
			row.UpdatedAt = p.now
			if err := p.repos.Orders.UpdateOrderItem(ctx, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *CartService) summarize(ctx context.Context, order *models.Order) (*CartSummary, error) {
	items, err := s.repos.Orders.ListOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &CartSummary{Order: *order, Items: items, TotalInCents: pricing.Total(items)}, nil
}

// CalculateTotal is tickets plus fees minus discounts over the order's items.
func (s *CartService) CalculateTotal(ctx context.Context, orderID uuid.UUID) (int64, error) {
	order, err := s.repos.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if order == nil {
		return 0, apperrors.NotFound("order", orderID)
	}
	items, err := s.repos.Orders.ListOrderItems(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return pricing.Total(items), nil
}

// ExpireCarts cancels up to limit lapsed Drafts. Orders changed by a
// concurrent writer are skipped and picked up by a later sweep.
func (s *CartService) ExpireCarts(ctx context.Context, limit int) (expired int, err error) {
	ctx, span := tracer.Start(ctx, "cart.ExpireCarts")
	defer func() {
		span.SetAttributes(attribute.Int("expired", expired))
		finishSpan(span, "expire_carts", err)
	}()

	drafts, err := s.repos.Orders.ListExpiredDrafts(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	for i := range drafts {
		done, err := s.expireCart(ctx, drafts[i].ID)
		switch {
		case err == nil:
			if done {
				expired++
			}
		case apperrors.IsConcurrency(err):
			logger.WithContext(ctx).Debug("Skipping cart changed during expiration", "order_id", drafts[i].ID)
		default:
			return expired, err
		}
	}

	metrics.CartsExpired.Add(float64(expired))
	if expired > 0 {
		logger.WithContext(ctx).Info("Expired carts cancelled", "count", expired)
	}
	return expired, nil
}

func (s *CartService) expireCart(ctx context.Context, orderID uuid.UUID) (done bool, err error) {
	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		order, err := s.repos.Orders.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil || order.Status != models.OrderStatusDraft || !order.ExpiredAt(now) {
			return nil
		}

		if _, err := s.inventory.ReleaseOrder(ctx, order.ID); err != nil {
			return err
		}
		order.Status = models.OrderStatusCancelled
		if err := s.repos.Orders.UpdateOrder(ctx, order, now); err != nil {
			return err
		}
		if err := s.clearCartPointer(ctx, order.UserID, order.ID, now); err != nil {
			return err
		}

		items, err := s.repos.Orders.ListOrderItems(ctx, order.ID)
		if err != nil {
			return err
		}
		orgID, err := s.orderOrganization(ctx, items)
		if err != nil {
			return err
		}
		done = true
		return s.emit(ctx, models.DomainEventOrderCancelled, models.TableOrders, order.ID, orgID,
			models.OrderCancelledPayload{OrderID: order.ID, UserID: order.UserID, Reason: "expired", Timestamp: now})
	})
	return done, err
}
