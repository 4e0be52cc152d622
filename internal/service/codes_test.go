package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/validation"
)

func codeAttrs(f *fixture, redemptionCode string, ttIDs ...uuid.UUID) validation.CodeAttributes {
	return validation.CodeAttributes{
		EventID:         f.event.ID,
		Name:            "Early bird",
		CodeType:        models.CodeTypeDiscount,
		RedemptionCode:  redemptionCode,
		DiscountInCents: i64(500),
		StartDate:       start,
		EndDate:         start.Add(7 * 24 * time.Hour),
		TicketTypeIDs:   ttIDs,
	}
}

func TestCreateCode(t *testing.T) {
	f := newFixture(t)
	tt := f.ticketType(10, 4000)

	code, err := f.svc.Codes.CreateCode(f.ctx, codeAttrs(f, " early2026 ", tt.ID))
	require.NoError(t, err)
	assert.Equal(t, "EARLY2026", code.RedemptionCode)
	assert.Equal(t, int64(1), code.Version)

	stored, err := f.repos.Codes.GetCode(f.ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tt.ID}, stored.TicketTypeIDs)

	events := f.domainEvents(models.DomainEventCodeCreated)
	require.Len(t, events, 1)
	assert.Equal(t, models.TableCodes, events[0].MainTable)
	assert.Equal(t, code.ID, events[0].MainID)
}

func TestCreateCodeRejectsBadTargets(t *testing.T) {
	f := newFixture(t)
	tt := f.ticketType(10, 4000)
	otherEvent := &models.Event{ID: uuid.New(), OrganizationID: f.org.ID, Name: "Autumn Gala", CreatedAt: start}
	require.NoError(t, f.repos.Organizations.CreateEvent(f.ctx, otherEvent))
	foreign := &models.TicketType{ID: uuid.New(), EventID: otherEvent.ID, Name: "GA", Status: models.TicketTypeStatusPublished, Capacity: 1}
	require.NoError(t, f.repos.TicketTypes.CreateTicketType(f.ctx, foreign))

	_, err := f.svc.Codes.CreateCode(f.ctx, codeAttrs(f, "EARLY2026", tt.ID, foreign.ID))
	requireFieldError(t, err, "ticket_type_ids", apperrors.CodeTicketTypeNotEligible)

	f.hold(tt, models.HoldTypeAccess, 2, "PRESSPASS")
	_, err = f.svc.Codes.CreateCode(f.ctx, codeAttrs(f, "presspass", tt.ID))
	requireFieldError(t, err, "redemption_code", apperrors.CodeRedemptionCodeTaken)

	attrs := codeAttrs(f, "EARLY2026", tt.ID)
	attrs.EventID = uuid.New()
	_, err = f.svc.Codes.CreateCode(f.ctx, attrs)
	assert.True(t, apperrors.IsNotFound(err))

	assert.Empty(t, f.domainEvents(models.DomainEventCodeCreated))
}

func TestCreateCodeValidatesAttributes(t *testing.T) {
	f := newFixture(t)
	tt := f.ticketType(10, 4000)

	attrs := codeAttrs(f, "SHORT", tt.ID)
	attrs.DiscountAsPercentage = i64(10)
	attrs.EndDate = attrs.StartDate
	_, err := f.svc.Codes.CreateCode(f.ctx, attrs)
	requireFieldError(t, err, "redemption_code", apperrors.CodeInvalid)
	requireFieldError(t, err, "discount", apperrors.CodeInvalidDiscountConfig)
	requireFieldError(t, err, "end_date", apperrors.CodeInvalidDateRange)
}

func TestUpdateCode(t *testing.T) {
	f := newFixture(t)
	tt := f.ticketType(10, 4000)
	vip := f.ticketType(10, 9000)
	code, err := f.svc.Codes.CreateCode(f.ctx, codeAttrs(f, "EARLY2026", tt.ID))
	require.NoError(t, err)

	attrs := codeAttrs(f, "EARLY2026", tt.ID, vip.ID)
	attrs.MaxUses = 50
	updated, err := f.svc.Codes.UpdateCode(f.ctx, code.ID, code.Version, attrs)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, int64(50), updated.MaxUses)
	assert.Len(t, updated.TicketTypeIDs, 2)

	t.Run("stale version", func(t *testing.T) {
		_, err := f.svc.Codes.UpdateCode(f.ctx, code.ID, code.Version, attrs)
		assert.True(t, apperrors.IsConcurrency(err))
	})

	t.Run("type is fixed", func(t *testing.T) {
		access := attrs
		access.CodeType = models.CodeTypeAccess
		access.DiscountInCents = nil
		_, err := f.svc.Codes.UpdateCode(f.ctx, code.ID, updated.Version, access)
		requireFieldError(t, err, "code_type", apperrors.CodeInvalid)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := f.svc.Codes.UpdateCode(f.ctx, uuid.New(), 1, attrs)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
