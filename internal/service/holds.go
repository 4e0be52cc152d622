package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/validation"
)

// HoldService manages holds: sub-pools of a ticket type set aside from the
// general pool and sold through their own redemption code.
type HoldService struct {
	*deps
}

// CreateHold sets aside attrs.Quantity units of the general pool.
func (s *HoldService) CreateHold(ctx context.Context, attrs validation.HoldAttributes) (hold *models.Hold, err error) {
	ctx, span := tracer.Start(ctx, "holds.CreateHold", trace.WithAttributes(
		attribute.String("ticket_type.id", attrs.TicketTypeID.String()),
		attribute.Int64("quantity", attrs.Quantity),
	))
	defer func() { finishSpan(span, "create_hold", err) }()

	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		hold, err = s.createHold(ctx, attrs, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx).Info("Hold created", "hold_id", hold.ID, "hold_type", hold.HoldType, "quantity", hold.Quantity)
	return hold, nil
}

// SplitHold carves a child hold out of the parent's unsold units.
func (s *HoldService) SplitHold(ctx context.Context, parentID uuid.UUID, attrs validation.HoldAttributes) (hold *models.Hold, err error) {
	ctx, span := tracer.Start(ctx, "holds.SplitHold", trace.WithAttributes(
		attribute.String("hold.parent_id", parentID.String()),
		attribute.Int64("quantity", attrs.Quantity),
	))
	defer func() { finishSpan(span, "split_hold", err) }()

	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		parent, err := s.hold(ctx, parentID)
		if err != nil {
			return err
		}
		attrs.TicketTypeID = parent.TicketTypeID
		if hold, err = s.createHold(ctx, attrs, parent); err != nil {
			return err
		}
		parent.Quantity -= hold.Quantity
		if parent.Quantity < 0 {
			parent.Quantity = 0
		}
		parent.UpdatedAt = s.clock.Now()
		return s.repos.Holds.UpdateHold(ctx, parent)
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

func (s *HoldService) createHold(ctx context.Context, attrs validation.HoldAttributes, parent *models.Hold) (*models.Hold, error) {
	now := s.clock.Now()
	attrs.RedemptionCode = validation.NormalizeRedemptionCode(attrs.RedemptionCode)
	if verrs := validation.ValidateHold(attrs); verrs != nil {
		return nil, verrs
	}

	tt, err := s.ticketType(ctx, attrs.TicketTypeID)
	if err != nil {
		return nil, err
	}
	if tt.Status == models.TicketTypeStatusCancelled {
		return nil, apperrors.Single("ticket_type_id", apperrors.CodeTicketTypeCancelled, "ticket type was cancelled")
	}
	if err := s.checkRedemptionCode(ctx, tt.EventID, attrs.RedemptionCode, uuid.Nil); err != nil {
		return nil, err
	}

	h := &models.Hold{
		ID:           uuid.New(),
		EventID:      tt.EventID,
		TicketTypeID: tt.ID,
		CreatedAt:    now,
	}
	applyHoldAttributes(h, attrs, now)
	var from *uuid.UUID
	if parent != nil {
		h.ParentHoldID = &parent.ID
		from = &parent.ID
	}
	if err := s.repos.Holds.CreateHold(ctx, h); err != nil {
		return nil, err
	}
	if err := s.inventory.Move(ctx, tt.ID, from, &h.ID, h.Quantity); err != nil {
		return nil, err
	}

	org, err := s.organizationOf(ctx, tt.EventID)
	if err != nil {
		return nil, err
	}
	err = s.emit(ctx, models.DomainEventHoldCreated, models.TableHolds, h.ID, &org.ID, models.HoldCreatedPayload{
		HoldID:       h.ID,
		TicketTypeID: h.TicketTypeID,
		HoldType:     h.HoldType,
		Quantity:     h.Quantity,
		Timestamp:    now,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// UpdateHold rewrites a hold's attributes and resizes it to attrs.Quantity.
// The ticket type and hold type are fixed at creation.
func (s *HoldService) UpdateHold(ctx context.Context, id uuid.UUID, attrs validation.HoldAttributes) (hold *models.Hold, err error) {
	ctx, span := tracer.Start(ctx, "holds.UpdateHold")
	defer func() { finishSpan(span, "update_hold", err) }()

	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		h, err := s.hold(ctx, id)
		if err != nil {
			return err
		}
		attrs.RedemptionCode = validation.NormalizeRedemptionCode(attrs.RedemptionCode)
		attrs.TicketTypeID = h.TicketTypeID
		if verrs := validation.ValidateHold(attrs); verrs != nil {
			return verrs
		}
		if attrs.HoldType != h.HoldType {
			return apperrors.Single("hold_type", apperrors.CodeInvalid, "the hold type cannot change")
		}
		if err := s.checkRedemptionCode(ctx, h.EventID, attrs.RedemptionCode, h.ID); err != nil {
			return err
		}

		if err := s.resize(ctx, h, attrs.Quantity); err != nil {
			return err
		}
		applyHoldAttributes(h, attrs, now)
		if err := s.repos.Holds.UpdateHold(ctx, h); err != nil {
			return err
		}
		hold = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

// SetHoldQuantity grows the hold from the general pool, or from its parent
// for a split hold, or gives unsold units back.
func (s *HoldService) SetHoldQuantity(ctx context.Context, id uuid.UUID, quantity int64) (hold *models.Hold, err error) {
	ctx, span := tracer.Start(ctx, "holds.SetHoldQuantity", trace.WithAttributes(
		attribute.String("hold.id", id.String()),
		attribute.Int64("quantity", quantity),
	))
	defer func() { finishSpan(span, "set_hold_quantity", err) }()

	if quantity < 0 {
		return nil, apperrors.Single("quantity", apperrors.CodeInvalid, "quantity cannot be negative")
	}

	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		h, err := s.hold(ctx, id)
		if err != nil {
			return err
		}
		if err := s.resize(ctx, h, quantity); err != nil {
			return err
		}
		h.Quantity = quantity
		h.UpdatedAt = s.clock.Now()
		if err := s.repos.Holds.UpdateHold(ctx, h); err != nil {
			return err
		}
		hold = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hold, nil
}

// resize moves units so the hold's live pool holds quantity units. Sold and
// reserved units never leave the hold.
func (s *HoldService) resize(ctx context.Context, h *models.Hold, quantity int64) error {
	counts, err := s.repos.Inventory.HoldCounts(ctx, h.ID, s.clock.Now())
	if err != nil {
		return err
	}

	delta := quantity - counts.Quantity
	switch {
	case delta > 0:
		return s.inventory.Move(ctx, h.TicketTypeID, h.ParentHoldID, &h.ID, delta)
	case delta < 0:
		if committed := counts.Reserved + counts.Purchased; quantity < committed {
			return apperrors.NewValidationErrors().Add("quantity", apperrors.CodeHoldQuantityBelowSold,
				fmt.Sprintf("hold has %d sold or reserved units", committed),
				map[string]any{"sold_or_reserved": committed})
		}
		return s.inventory.Move(ctx, h.TicketTypeID, &h.ID, h.ParentHoldID, -delta)
	}
	return nil
}

func (s *HoldService) hold(ctx context.Context, id uuid.UUID) (*models.Hold, error) {
	h, err := s.repos.Holds.GetHold(ctx, id)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, apperrors.NotFound("hold", id)
	}
	return h, nil
}

func (s *HoldService) checkRedemptionCode(ctx context.Context, eventID uuid.UUID, code string, self uuid.UUID) error {
	taken, err := s.repos.Codes.RedemptionCodeTaken(ctx, eventID, code, self)
	if err != nil {
		return err
	}
	if taken {
		return apperrors.Single("redemption_code", apperrors.CodeRedemptionCodeTaken, "redemption code is already in use")
	}
	return nil
}

func applyHoldAttributes(h *models.Hold, attrs validation.HoldAttributes, now time.Time) {
	h.Name = attrs.Name
	h.HoldType = attrs.HoldType
	h.Quantity = attrs.Quantity
	h.RedemptionCode = attrs.RedemptionCode
	h.MaxPerUser = attrs.MaxPerUser
	h.DiscountInCents = attrs.DiscountInCents
	h.EndAt = attrs.EndAt
	h.UpdatedAt = now
}
