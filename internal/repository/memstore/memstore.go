// Package memstore is an in-memory implementation of every repository
// store. Transactions are serialized and roll back by restoring a snapshot,
// so it behaves like a serializable database for tests and local runs.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

type pair [2]uuid.UUID

type state struct {
	organizations   map[uuid.UUID]models.Organization
	events          map[uuid.UUID]models.Event
	feeSchedules    map[uuid.UUID]models.FeeSchedule
	ticketTypes     map[uuid.UUID]models.TicketType
	pricing         map[uuid.UUID]models.TicketPricing
	instances       map[uuid.UUID]models.TicketInstance
	holds           map[uuid.UUID]models.Hold
	codes           map[uuid.UUID]models.Code
	orders          map[uuid.UUID]models.Order
	carts           map[uuid.UUID]models.UserCart
	items           map[uuid.UUID]models.OrderItem
	itemSeq         map[uuid.UUID]int64
	payments        []models.Payment
	refunds         []models.Refund
	refundedTickets map[pair]models.RefundedTicket
	domainEvents    []models.DomainEvent
	publishers      map[uuid.UUID]models.DomainEventPublisher
	published       map[pair]struct{}
	seq             int64
	eventSeq        int64
}

func newState() state {
	return state{
		organizations:   map[uuid.UUID]models.Organization{},
		events:          map[uuid.UUID]models.Event{},
		feeSchedules:    map[uuid.UUID]models.FeeSchedule{},
		ticketTypes:     map[uuid.UUID]models.TicketType{},
		pricing:         map[uuid.UUID]models.TicketPricing{},
		instances:       map[uuid.UUID]models.TicketInstance{},
		holds:           map[uuid.UUID]models.Hold{},
		codes:           map[uuid.UUID]models.Code{},
		orders:          map[uuid.UUID]models.Order{},
		carts:           map[uuid.UUID]models.UserCart{},
		items:           map[uuid.UUID]models.OrderItem{},
		itemSeq:         map[uuid.UUID]int64{},
		refundedTickets: map[pair]models.RefundedTicket{},
		publishers:      map[uuid.UUID]models.DomainEventPublisher{},
		published:       map[pair]struct{}{},
	}
}

// clone copies every map and slice. Stored values are never mutated in
// place, so a shallow copy of each container is a full snapshot.
func (s state) clone() state {
	return state{
		organizations:   maps.Clone(s.organizations),
		events:          maps.Clone(s.events),
		feeSchedules:    maps.Clone(s.feeSchedules),
		ticketTypes:     maps.Clone(s.ticketTypes),
		pricing:         maps.Clone(s.pricing),
		instances:       maps.Clone(s.instances),
		holds:           maps.Clone(s.holds),
		codes:           maps.Clone(s.codes),
		orders:          maps.Clone(s.orders),
		carts:           maps.Clone(s.carts),
		items:           maps.Clone(s.items),
		itemSeq:         maps.Clone(s.itemSeq),
		payments:        slices.Clone(s.payments),
		refunds:         slices.Clone(s.refunds),
		refundedTickets: maps.Clone(s.refundedTickets),
		domainEvents:    slices.Clone(s.domainEvents),
		publishers:      maps.Clone(s.publishers),
		published:       maps.Clone(s.published),
		seq:             s.seq,
		eventSeq:        s.eventSeq,
	}
}

type Store struct {
	mu sync.Mutex
	st state
}

type txKey struct{ s *Store }

func New() *Store {
	return &Store{st: newState()}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		Tx:            s,
		Organizations: s,
		FeeSchedules:  s,
		TicketTypes:   s,
		Inventory:     s,
		Holds:         s,
		Codes:         s,
		Orders:        s,
		Refunds:       s,
		DomainEvents:  s,
		Publishers:    s,
	}
}

func (s *Store) inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{s}).(bool)
	return ok
}

// lock serializes a single operation unless ctx already runs inside one of
// this store's transactions.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
