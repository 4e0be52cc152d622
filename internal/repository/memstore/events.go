package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/lease"
	"boxoffice/internal/models"
)

func (s *Store) CreateRefund(ctx context.Context, refund *models.Refund) error {
	defer s.lock(ctx)()
	for i := range refund.Items {
		if refund.Items[i].ID == uuid.Nil {
			refund.Items[i].ID = uuid.New()
		}
		refund.Items[i].RefundID = refund.ID
	}
	stored := *refund
	stored.Items = slices.Clone(refund.Items)
	s.st.refunds = append(s.st.refunds, stored)
	return nil
}

func (s *Store) GetRefundedTicket(ctx context.Context, orderItemID, ticketInstanceID uuid.UUID) (*models.RefundedTicket, error) {
	defer s.lock(ctx)()
	rt, ok := s.st.refundedTickets[pair{orderItemID, ticketInstanceID}]
	if !ok {
		return nil, nil
	}
	return &rt, nil
}

func (s *Store) SaveRefundedTicket(ctx context.Context, rt *models.RefundedTicket) error {
	defer s.lock(ctx)()
	key := pair{rt.OrderItemID, rt.TicketInstanceID}
	if existing, ok := s.st.refundedTickets[key]; ok {
		existing.FeeRefundedAt = rt.FeeRefundedAt
		existing.TicketRefundedAt = rt.TicketRefundedAt
		existing.UpdatedAt = rt.UpdatedAt
		s.st.refundedTickets[key] = existing
		return nil
	}
	s.st.refundedTickets[key] = *rt
	return nil
}

// Refunds returns every stored refund; used by tests.
func (s *Store) Refunds() []models.Refund {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.refunds)
}

func (s *Store) CreateDomainEvent(ctx context.Context, ev *models.DomainEvent) error {
	defer s.lock(ctx)()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	s.st.eventSeq++
	ev.Seq = s.st.eventSeq
	s.st.domainEvents = append(s.st.domainEvents, *ev)
	return nil
}

func (s *Store) ListDomainEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]models.DomainEvent, error) {
	defer s.lock(ctx)()
	var out []models.DomainEvent
	for _, ev := range s.st.domainEvents {
		if ev.Seq > afterSeq {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CreatePublisher(ctx context.Context, p *models.DomainEventPublisher) error {
	defer s.lock(ctx)()
	stored := *p
	stored.EventTypes = slices.Clone(p.EventTypes)
	s.st.publishers[p.ID] = stored
	return nil
}

func (s *Store) GetPublisher(ctx context.Context, id uuid.UUID) (*models.DomainEventPublisher, error) {
	defer s.lock(ctx)()
	p, ok := s.st.publishers[id]
	if !ok {
		return nil, nil
	}
	p.EventTypes = slices.Clone(p.EventTypes)
	return &p, nil
}

func (s *Store) ListPublishers(ctx context.Context) ([]models.DomainEventPublisher, error) {
	defer s.lock(ctx)()
	var out []models.DomainEventPublisher
	for _, p := range s.st.publishers {
		p.EventTypes = slices.Clone(p.EventTypes)
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b models.DomainEventPublisher) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	return out, nil
}

func storedLease(p models.DomainEventPublisher) lease.Lease {
	l := lease.Lease{Expiry: p.BlockedUntil}
	if p.LeaseHolder != nil {
		l.Holder = *p.LeaseHolder
	}
	return l
}

func setLease(p *models.DomainEventPublisher, l lease.Lease) {
	p.LeaseHolder = nil
	if l.Holder != "" {
		p.LeaseHolder = ptr(l.Holder)
	}
	p.BlockedUntil = l.Expiry
}

func (s *Store) AcquireLease(ctx context.Context, id uuid.UUID, next lease.Lease, now time.Time) (bool, error) {
	defer s.lock(ctx)()
	p, ok := s.st.publishers[id]
	if !ok || p.BlockedUntil.After(now) {
		return false, nil
	}
	setLease(&p, next)
	p.Version++
	p.UpdatedAt = now
	s.st.publishers[id] = p
	return true, nil
}

func (s *Store) SwapLease(ctx context.Context, id uuid.UUID, observed, next lease.Lease) (bool, error) {
	defer s.lock(ctx)()
	p, ok := s.st.publishers[id]
	if !ok || !storedLease(p).Equal(observed) {
		return false, nil
	}
	setLease(&p, next)
	p.Version++
	s.st.publishers[id] = p
	return true, nil
}

func (s *Store) ClaimForPublishing(ctx context.Context, publisherID, eventID uuid.UUID) (bool, error) {
	defer s.lock(ctx)()
	key := pair{publisherID, eventID}
	if _, ok := s.st.published[key]; ok {
		return false, nil
	}
	s.st.published[key] = struct{}{}
	return true, nil
}

func (s *Store) UnclaimForPublishing(ctx context.Context, publisherID, eventID uuid.UUID) error {
	defer s.lock(ctx)()
	delete(s.st.published, pair{publisherID, eventID})
	return nil
}

func (s *Store) UpdateLastDomainEventSeq(ctx context.Context, id uuid.UUID, seq int64, now time.Time) (int64, error) {
	defer s.lock(ctx)()
	p, ok := s.st.publishers[id]
	if !ok {
		return 0, apperrors.NotFound("publisher", id)
	}
	if p.LastDomainEventSeq == nil || *p.LastDomainEventSeq < seq {
		p.LastDomainEventSeq = ptr(seq)
	}
	p.Version++
	p.UpdatedAt = now
	s.st.publishers[id] = p
	return *p.LastDomainEventSeq, nil
}
