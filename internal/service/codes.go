package service

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/validation"
)

type CodeService struct {
	*deps
}

func (s *CodeService) CreateCode(ctx context.Context, attrs validation.CodeAttributes) (code *models.Code, err error) {
	ctx, span := tracer.Start(ctx, "codes.CreateCode")
	defer func() { finishSpan(span, "create_code", err) }()

	attrs.RedemptionCode = validation.NormalizeRedemptionCode(attrs.RedemptionCode)
	if verrs := validation.ValidateCode(attrs); verrs != nil {
		return nil, verrs
	}

	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		org, err := s.checkCodeTargets(ctx, attrs, uuid.Nil)
		if err != nil {
			return err
		}

		c := &models.Code{ID: uuid.New(), Version: 1, CreatedAt: now}
		applyCodeAttributes(c, attrs, now)
		if err := s.repos.Codes.CreateCode(ctx, c); err != nil {
			return err
		}
		code = c
		return s.emit(ctx, models.DomainEventCodeCreated, models.TableCodes, c.ID, &org.ID, models.CodeCreatedPayload{
			CodeID:    c.ID,
			EventID:   c.EventID,
			CodeType:  c.CodeType,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx).Info("Code created", "code_id", code.ID, "event_id", code.EventID, "code_type", code.CodeType)
	return code, nil
}

// UpdateCode rewrites the code loaded at version. The event and the code
// type are fixed at creation.
func (s *CodeService) UpdateCode(ctx context.Context, id uuid.UUID, version int64, attrs validation.CodeAttributes) (code *models.Code, err error) {
	ctx, span := tracer.Start(ctx, "codes.UpdateCode")
	defer func() { finishSpan(span, "update_code", err) }()

	attrs.RedemptionCode = validation.NormalizeRedemptionCode(attrs.RedemptionCode)
	if verrs := validation.ValidateCode(attrs); verrs != nil {
		return nil, verrs
	}

	err = s.repos.Tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()
		c, err := s.repos.Codes.GetCode(ctx, id)
		if err != nil {
			return err
		}
		if c == nil {
			return apperrors.NotFound("code", id)
		}
		verrs := apperrors.NewValidationErrors()
		if attrs.EventID != c.EventID {
			verrs.Add("event_id", apperrors.CodeInvalid, "a code cannot move to another event", nil)
		}
		if attrs.CodeType != c.CodeType {
			verrs.Add("code_type", apperrors.CodeInvalid, "the code type cannot change", nil)
		}
		if err := verrs.Err(); err != nil {
			return err
		}
		if _, err := s.checkCodeTargets(ctx, attrs, c.ID); err != nil {
			return err
		}

		c.Version = version
		applyCodeAttributes(c, attrs, now)
		if err := s.repos.Codes.UpdateCode(ctx, c); err != nil {
			return err
		}
		code = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}

// checkCodeTargets verifies the event, its ticket types and that the
// redemption code is free, and returns the event's organization.
func (s *CodeService) checkCodeTargets(ctx context.Context, attrs validation.CodeAttributes, self uuid.UUID) (*models.Organization, error) {
	org, err := s.organizationOf(ctx, attrs.EventID)
	if err != nil {
		return nil, err
	}

	verrs := apperrors.NewValidationErrors()
	for _, ttID := range attrs.TicketTypeIDs {
		tt, err := s.repos.TicketTypes.GetTicketType(ctx, ttID)
		if err != nil {
			return nil, err
		}
		if tt == nil || tt.EventID != attrs.EventID {
			verrs.Add("ticket_type_ids", apperrors.CodeTicketTypeNotEligible, "ticket type does not belong to the event",
				map[string]any{"ticket_type_id": ttID})
		}
	}

	taken, err := s.repos.Codes.RedemptionCodeTaken(ctx, attrs.EventID, attrs.RedemptionCode, self)
	if err != nil {
		return nil, err
	}
	if taken {
		verrs.Add("redemption_code", apperrors.CodeRedemptionCodeTaken, "redemption code is already in use", nil)
	}
	if err := verrs.Err(); err != nil {
		return nil, err
	}
	return org, nil
}

func applyCodeAttributes(c *models.Code, attrs validation.CodeAttributes, now time.Time) {
	c.EventID = attrs.EventID
	c.Name = attrs.Name
	c.CodeType = attrs.CodeType
	c.RedemptionCode = attrs.RedemptionCode
	c.MaxUses = attrs.MaxUses
	c.MaxTicketsPerUser = attrs.MaxTicketsPerUser
	c.DiscountInCents = attrs.DiscountInCents
	c.DiscountAsPercentage = attrs.DiscountAsPercentage
	c.StartDate = attrs.StartDate
	c.EndDate = attrs.EndDate
	c.TicketTypeIDs = slices.Clone(attrs.TicketTypeIDs)
	c.UpdatedAt = now
}
