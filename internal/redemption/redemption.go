// Package redemption decides whether the lines of a cart update may be
// bought: it resolves redemption codes to codes or holds and applies the
// access, window, eligibility and cap rules. Only the first failing rule of
// each line is reported.
package redemption

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
	"boxoffice/internal/validation"
)

// Resolution is a validated line with everything it refers to loaded.
type Resolution struct {
	Index      int
	Line       models.UpdateOrderItem
	TicketType *models.TicketType
	Code       *models.Code
	Hold       *models.Hold
}

// HoldID and CodeID identify the pool and the code of the line.
func (r Resolution) HoldID() *uuid.UUID {
	if r.Hold == nil {
		return nil
	}
	id := r.Hold.ID
	return &id
}

func (r Resolution) CodeID() *uuid.UUID {
	if r.Code == nil {
		return nil
	}
	id := r.Code.ID
	return &id
}

type Request struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
	Lines   []models.UpdateOrderItem
	// Existing are the order's ticket rows that stay in the cart unless a
	// line names the same row. They count towards the per-user caps.
	Existing []models.OrderItem
	Now      time.Time
}

type Validator struct {
	repos *repository.Repositories
}

func NewValidator(repos *repository.Repositories) *Validator {
	return &Validator{repos: repos}
}

// Validate returns one Resolution per line. Rule violations come back as
// *errors.ValidationErrors keyed "items[i]"; unknown ticket types are
// errors.ErrNotFound.
func (v *Validator) Validate(ctx context.Context, req Request) ([]Resolution, error) {
	if verrs := validation.ValidateLines(req.Lines); verrs != nil {
		return nil, verrs
	}

	verrs := apperrors.NewValidationErrors()
	resolutions := make([]Resolution, len(req.Lines))
	passed := make([]bool, len(req.Lines))

	for i, line := range req.Lines {
		res, lineErr, err := v.resolve(ctx, i, line, req.Now)
		if err != nil {
			return nil, err
		}
		resolutions[i] = res
		if lineErr != nil {
			verrs.Add(field(i), lineErr.code, lineErr.message, lineErr.params)
			continue
		}
		passed[i] = true
	}

	// Caps see the whole request, so quantities are summed per code, hold
	// and ticket type before any line is checked.
	byCode := map[uuid.UUID]int64{}
	byHold := map[uuid.UUID]int64{}
	byTicketType := map[uuid.UUID]int64{}
	add := func(ttID uuid.UUID, codeID, holdID *uuid.UUID, n int64) {
		if codeID != nil {
			byCode[*codeID] += n
		}
		if holdID != nil {
			byHold[*holdID] += n
		}
		byTicketType[ttID] += n
	}

	named := map[rowKey]bool{}
	for i, res := range resolutions {
		if !passed[i] {
			continue
		}
		named[keyOf(res.TicketType.ID, res.CodeID(), res.HoldID())] = true
		if res.Line.Quantity > 0 {
			add(res.TicketType.ID, res.CodeID(), res.HoldID(), res.Line.Quantity)
		}
	}
	for _, it := range req.Existing {
		if it.ItemType != models.OrderItemTypeTickets || it.TicketTypeID == nil {
			continue
		}
		if named[keyOf(*it.TicketTypeID, it.CodeID, it.HoldID)] {
			continue
		}
		add(*it.TicketTypeID, it.CodeID, it.HoldID, it.Quantity-it.RefundedQuantity)
	}

	for i, res := range resolutions {
		if !passed[i] || res.Line.Quantity == 0 {
			continue
		}
		lineErr, err := v.checkCaps(ctx, req, res, byCode, byHold, byTicketType)
		if err != nil {
			return nil, err
		}
		if lineErr != nil {
			verrs.Add(field(i), lineErr.code, lineErr.message, lineErr.params)
		}
	}

	if !verrs.Empty() {
		return nil, verrs
	}
	return resolutions, nil
}

type rowKey struct {
	ticketTypeID uuid.UUID
	codeID       uuid.UUID
	holdID       uuid.UUID
}

func keyOf(ttID uuid.UUID, codeID, holdID *uuid.UUID) rowKey {
	k := rowKey{ticketTypeID: ttID}
	if codeID != nil {
		k.codeID = *codeID
	}
	if holdID != nil {
		k.holdID = *holdID
	}
	return k
}

type lineError struct {
	code    string
	message string
	params  map[string]any
}

func fail(code, message string) *lineError {
	return &lineError{code: code, message: message}
}

func field(i int) string {
	return fmt.Sprintf("items[%d]", i)
}

// resolve loads the ticket type and the code or hold of a line and applies
// the rules that need no counting.
func (v *Validator) resolve(ctx context.Context, i int, line models.UpdateOrderItem, now time.Time) (Resolution, *lineError, error) {
	res := Resolution{Index: i, Line: line}

	tt, err := v.repos.TicketTypes.GetTicketType(ctx, line.TicketTypeID)
	if err != nil {
		return res, nil, err
	}
	if tt == nil {
		return res, nil, apperrors.NotFound("ticket type", line.TicketTypeID)
	}
	res.TicketType = tt

	removal := line.Quantity == 0

	if line.RedemptionCode == nil {
		if removal {
			return res, nil, nil
		}
		if lineErr, err := v.checkTicketType(tt, now); lineErr != nil || err != nil {
			return res, lineErr, err
		}
		required, err := v.accessRequired(ctx, tt, now)
		if err != nil {
			return res, nil, err
		}
		if required {
			return res, fail(apperrors.CodeRequiresAccessCode, "this ticket type needs an access code"), nil
		}
		return res, nil, nil
	}

	if !removal {
		if lineErr, err := v.checkTicketType(tt, now); lineErr != nil || err != nil {
			return res, lineErr, err
		}
	}

	code := validation.NormalizeRedemptionCode(*line.RedemptionCode)
	c, err := v.repos.Codes.FindCodeByRedemptionCode(ctx, tt.EventID, code)
	if err != nil {
		return res, nil, err
	}
	if c == nil {
		h, err := v.repos.Holds.FindHoldByRedemptionCode(ctx, tt.EventID, code)
		if err != nil {
			return res, nil, err
		}
		if h == nil {
			return res, fail(apperrors.CodeInvalid, "redemption code is not valid"), nil
		}
		res.Hold = h
	} else {
		res.Code = c
	}
	if removal {
		return res, nil, nil
	}

	switch {
	case res.Code != nil:
		if !res.Code.ValidAt(now) {
			return res, fail(apperrors.CodeNotValidForDatetime, "code is not valid at this time"), nil
		}
		if !res.Code.AllowsTicketType(tt.ID) {
			return res, fail(apperrors.CodeTicketTypeNotEligible, "code does not apply to this ticket type"), nil
		}
		if res.Code.CodeType == models.CodeTypeDiscount {
			required, err := v.accessRequired(ctx, tt, now)
			if err != nil {
				return res, nil, err
			}
			if required {
				return res, fail(apperrors.CodeRequiresAccessCode, "this ticket type needs an access code"), nil
			}
		}
	case res.Hold != nil:
		if !res.Hold.ValidAt(now) {
			return res, fail(apperrors.CodeNotValidForDatetime, "hold is no longer valid"), nil
		}
		if res.Hold.TicketTypeID != tt.ID {
			return res, fail(apperrors.CodeTicketTypeNotEligible, "hold does not apply to this ticket type"), nil
		}
	}
	return res, nil, nil
}

func (v *Validator) checkTicketType(tt *models.TicketType, now time.Time) (*lineError, error) {
	if tt.Status == models.TicketTypeStatusCancelled {
		return fail(apperrors.CodeTicketTypeCancelled, "ticket type was cancelled"), nil
	}
	if !tt.OnSaleAt(now) {
		return fail(apperrors.CodeTicketTypeNotOnSale, "ticket type is not on sale"), nil
	}
	return nil, nil
}

// accessRequired reports whether the ticket type is gated: an access code
// lists it, or access holds cover every live unit.
func (v *Validator) accessRequired(ctx context.Context, tt *models.TicketType, now time.Time) (bool, error) {
	exists, err := v.repos.Codes.AccessCodeExists(ctx, tt.ID)
	if err != nil || exists {
		return exists, err
	}
	counts, err := v.repos.Inventory.InventoryCounts(ctx, tt.ID, now)
	if err != nil {
		return false, err
	}
	live := counts.Allocation - counts.Nullified
	return counts.AccessHoldQuantity > 0 && counts.AccessHoldQuantity >= live, nil
}

func (v *Validator) checkCaps(ctx context.Context, req Request, res Resolution,
	byCode, byHold, byTicketType map[uuid.UUID]int64) (*lineError, error) {

	orders := v.repos.Orders

	switch {
	case res.Code != nil && res.Code.MaxTicketsPerUser > 0:
		bought, err := orders.PurchasedQuantity(ctx, req.UserID, repository.PurchaseFilter{CodeID: res.CodeID()})
		if err != nil {
			return nil, err
		}
		if bought+byCode[res.Code.ID] > res.Code.MaxTicketsPerUser {
			return capError(apperrors.CodeMaxTicketsPerUserReached, res.Code.MaxTicketsPerUser, bought), nil
		}
	case res.Hold != nil && res.Hold.MaxPerUser > 0:
		bought, err := orders.PurchasedQuantity(ctx, req.UserID, repository.PurchaseFilter{HoldID: res.HoldID()})
		if err != nil {
			return nil, err
		}
		if bought+byHold[res.Hold.ID] > res.Hold.MaxPerUser {
			return capError(apperrors.CodeMaxTicketsPerUserReached, res.Hold.MaxPerUser, bought), nil
		}
	}

	if limit := res.TicketType.LimitPerPerson; limit > 0 {
		ttID := res.TicketType.ID
		bought, err := orders.PurchasedQuantity(ctx, req.UserID, repository.PurchaseFilter{TicketTypeID: &ttID})
		if err != nil {
			return nil, err
		}
		if bought+byTicketType[ttID] > limit {
			return capError(apperrors.CodeLimitPerPersonExceeded, limit, bought), nil
		}
	}

	if res.Code != nil && res.Code.MaxUses > 0 {
		uses, err := orders.CountCodeUses(ctx, res.Code.ID, req.OrderID, req.Now)
		if err != nil {
			return nil, err
		}
		if uses+1 > res.Code.MaxUses {
			return &lineError{
				code:    apperrors.CodeMaxUsesReached,
				message: "code has been used the maximum number of times",
				params:  map[string]any{"max_uses": res.Code.MaxUses, "uses": uses},
			}, nil
		}
	}

	if res.Code != nil && res.Code.CodeType == models.CodeTypeDiscount &&
		(res.Code.DiscountInCents == nil) == (res.Code.DiscountAsPercentage == nil) {
		return fail(apperrors.CodeInvalidDiscountConfig, "code has an invalid discount configuration"), nil
	}
	return nil, nil
}

func capError(code string, limit, bought int64) *lineError {
	return &lineError{
		code:    code,
		message: "purchase limit reached",
		params:  map[string]any{"limit": limit, "already_purchased": bought},
	}
}
