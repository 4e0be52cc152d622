package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

func (s *Store) CreateOrganization(ctx context.Context, org *models.Organization) error {
	defer s.lock(ctx)()
	s.st.organizations[org.ID] = *org
	return nil
}

func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	defer s.lock(ctx)()
	org, ok := s.st.organizations[id]
	if !ok {
		return nil, nil
	}
	return &org, nil
}

func (s *Store) CreateEvent(ctx context.Context, event *models.Event) error {
	defer s.lock(ctx)()
	s.st.events[event.ID] = *event
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	defer s.lock(ctx)()
	ev, ok := s.st.events[id]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (s *Store) CreateFeeSchedule(ctx context.Context, schedule *models.FeeSchedule) error {
	defer s.lock(ctx)()
	for i := range schedule.Ranges {
		if schedule.Ranges[i].ID == uuid.Nil {
			schedule.Ranges[i].ID = uuid.New()
		}
		schedule.Ranges[i].FeeScheduleID = schedule.ID
	}
	stored := *schedule
	stored.Ranges = slices.Clone(schedule.Ranges)
	s.st.feeSchedules[schedule.ID] = stored
	return nil
}

func (s *Store) GetFeeSchedule(ctx context.Context, id uuid.UUID) (*models.FeeSchedule, error) {
	defer s.lock(ctx)()
	fs, ok := s.st.feeSchedules[id]
	if !ok {
		return nil, nil
	}
	fs.Ranges = slices.Clone(fs.Ranges)
	return &fs, nil
}

func (s *Store) CreateTicketType(ctx context.Context, tt *models.TicketType) error {
	defer s.lock(ctx)()
	s.st.ticketTypes[tt.ID] = *tt
	for i := int64(0); i < tt.Capacity; i++ {
		id := uuid.New()
		s.st.instances[id] = models.TicketInstance{
			ID:           id,
			TicketTypeID: tt.ID,
			Status:       models.TicketInstanceStatusAvailable,
			CreatedAt:    tt.CreatedAt,
			UpdatedAt:    tt.CreatedAt,
		}
	}
	return nil
}

func (s *Store) GetTicketType(ctx context.Context, id uuid.UUID) (*models.TicketType, error) {
	defer s.lock(ctx)()
	tt, ok := s.st.ticketTypes[id]
	if !ok {
		return nil, nil
	}
	return &tt, nil
}

func (s *Store) UpdateTicketTypeStatus(ctx context.Context, id uuid.UUID, status models.TicketTypeStatus, now time.Time) error {
	defer s.lock(ctx)()
	tt, ok := s.st.ticketTypes[id]
	if !ok {
		return apperrors.NotFound("ticket type", id)
	}
	tt.Status = status
	tt.UpdatedAt = now
	s.st.ticketTypes[id] = tt
	return nil
}

func (s *Store) CreateTicketPricing(ctx context.Context, p *models.TicketPricing) error {
	defer s.lock(ctx)()
	s.st.pricing[p.ID] = *p
	return nil
}

func (s *Store) ListTicketPricing(ctx context.Context, ticketTypeID uuid.UUID) ([]models.TicketPricing, error) {
	defer s.lock(ctx)()
	var out []models.TicketPricing
	for _, p := range s.st.pricing {
		if p.TicketTypeID == ticketTypeID && p.Status != models.TicketPricingStatusDeleted {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b models.TicketPricing) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	return out, nil
}
