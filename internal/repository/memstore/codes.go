package memstore

import (
	"context"
	"slices"

	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

func redemptionCodeTaken() error {
	return apperrors.Single("redemption_code", apperrors.CodeRedemptionCodeTaken, "redemption code is already in use")
}

func (s *Store) CreateHold(ctx context.Context, h *models.Hold) error {
	defer s.lock(ctx)()
	for _, other := range s.st.holds {
		if other.EventID == h.EventID && other.RedemptionCode == h.RedemptionCode {
			return redemptionCodeTaken()
		}
	}
	s.st.holds[h.ID] = *h
	return nil
}

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (*models.Hold, error) {
	defer s.lock(ctx)()
	h, ok := s.st.holds[id]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (s *Store) UpdateHold(ctx context.Context, h *models.Hold) error {
	defer s.lock(ctx)()
	stored, ok := s.st.holds[h.ID]
	if !ok {
		return apperrors.NotFound("hold", h.ID)
	}
	for _, other := range s.st.holds {
		if other.ID != h.ID && other.EventID == h.EventID && other.RedemptionCode == h.RedemptionCode {
			return redemptionCodeTaken()
		}
	}
	stored.Name = h.Name
	stored.Quantity = h.Quantity
	stored.RedemptionCode = h.RedemptionCode
	stored.MaxPerUser = h.MaxPerUser
	stored.DiscountInCents = h.DiscountInCents
	stored.EndAt = h.EndAt
	stored.UpdatedAt = h.UpdatedAt
	s.st.holds[h.ID] = stored
	return nil
}

func (s *Store) FindHoldByRedemptionCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Hold, error) {
	defer s.lock(ctx)()
	for _, h := range s.st.holds {
		if h.EventID == eventID && h.RedemptionCode == code {
			return &h, nil
		}
	}
	return nil, nil
}

func (s *Store) ListHolds(ctx context.Context, ticketTypeID uuid.UUID) ([]models.Hold, error) {
	defer s.lock(ctx)()
	var out []models.Hold
	for _, h := range s.st.holds {
		if h.TicketTypeID == ticketTypeID {
			out = append(out, h)
		}
	}
	slices.SortFunc(out, func(a, b models.Hold) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) CreateCode(ctx context.Context, c *models.Code) error {
	defer s.lock(ctx)()
	for _, other := range s.st.codes {
		if other.EventID == c.EventID && other.RedemptionCode == c.RedemptionCode {
			return redemptionCodeTaken()
		}
	}
	stored := *c
	stored.TicketTypeIDs = slices.Clone(c.TicketTypeIDs)
	s.st.codes[c.ID] = stored
	return nil
}

func (s *Store) GetCode(ctx context.Context, id uuid.UUID) (*models.Code, error) {
	defer s.lock(ctx)()
	c, ok := s.st.codes[id]
	if !ok {
		return nil, nil
	}
	c.TicketTypeIDs = slices.Clone(c.TicketTypeIDs)
	return &c, nil
}

func (s *Store) UpdateCode(ctx context.Context, c *models.Code) error {
	defer s.lock(ctx)()
	stored, ok := s.st.codes[c.ID]
	if !ok || stored.Version != c.Version {
		return apperrors.ErrConcurrency
	}
	for _, other := range s.st.codes {
		if other.ID != c.ID && other.EventID == c.EventID && other.RedemptionCode == c.RedemptionCode {
			return redemptionCodeTaken()
		}
	}
	c.Version++
	next := *c
	next.TicketTypeIDs = slices.Clone(c.TicketTypeIDs)
	s.st.codes[c.ID] = next
	return nil
}

func (s *Store) FindCodeByRedemptionCode(ctx context.Context, eventID uuid.UUID, code string) (*models.Code, error) {
	defer s.lock(ctx)()
	for _, c := range s.st.codes {
		if c.EventID == eventID && c.RedemptionCode == code {
			c.TicketTypeIDs = slices.Clone(c.TicketTypeIDs)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) AccessCodeExists(ctx context.Context, ticketTypeID uuid.UUID) (bool, error) {
	defer s.lock(ctx)()
	for _, c := range s.st.codes {
		if c.CodeType == models.CodeTypeAccess && c.AllowsTicketType(ticketTypeID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) RedemptionCodeTaken(ctx context.Context, eventID uuid.UUID, code string, exclude uuid.UUID) (bool, error) {
	defer s.lock(ctx)()
	for _, c := range s.st.codes {
		if c.ID != exclude && c.EventID == eventID && c.RedemptionCode == code {
			return true, nil
		}
	}
	for _, h := range s.st.holds {
		if h.ID != exclude && h.EventID == eventID && h.RedemptionCode == code {
			return true, nil
		}
	}
	return false, nil
}
