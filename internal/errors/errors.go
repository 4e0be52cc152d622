package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors shared by every layer. Callers compare with errors.Is.
var (
	// ErrConcurrency reports a lost optimistic write or a lease held by someone else.
	// The whole operation may be retried after reloading state.
	ErrConcurrency = errors.New("concurrent modification, reload and retry")
	// ErrNotFound reports a missing or stale reference.
	ErrNotFound = errors.New("not found")
	// ErrBusinessProcess reports an operation that is not allowed in the current state.
	ErrBusinessProcess = errors.New("business process error")

	ErrEmptyFeeSchedule  = errors.New("fee schedule has no ranges")
	ErrNoApplicableRange = errors.New("price is below every fee schedule range")
)

// Validation error codes.
const (
	CodeRequired                  = "required"
	CodeInvalid                   = "invalid"
	CodeTicketTypeCancelled       = "ticket_type_cancelled"
	CodeTicketTypeNotOnSale       = "ticket_type_not_on_sale"
	CodeRequiresAccessCode        = "ticket_type_requires_access_code"
	CodeNotValidForDatetime       = "code_not_valid_for_current_datetime"
	CodeTicketTypeNotEligible     = "ticket_type_not_eligible"
	CodeMaxTicketsPerUserReached  = "max_tickets_per_user_reached"
	CodeLimitPerPersonExceeded    = "limit_per_person_exceeded"
	CodeMaxUsesReached            = "max_uses_reached"
	CodeInvalidDiscountConfig     = "invalid_discount_configuration"
	CodeNotEnoughTickets          = "not_enough_tickets_available"
	CodeInvalidDateRange          = "invalid_date_range"
	CodeRedemptionCodeTaken       = "redemption_code_taken"
	CodeHoldQuantityBelowSold     = "hold_quantity_below_sold"
	CodeTicketInstanceNotAttached = "ticket_instance_not_attached"
	CodeTicketInstanceRequired    = "ticket_instance_required"
	CodeAlreadyRefunded           = "already_refunded"
	CodeTicketAlreadyRedeemed     = "ticket_already_redeemed"
	CodeReservationLost           = "reservation_lost"
)

// FieldError is one user-correctable problem attached to a field.
type FieldError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Params  map[string]any `json:"params,omitempty"`
}

// ValidationErrors collects field errors so that callers can render all of them at once.
type ValidationErrors struct {
	Fields map[string][]FieldError `json:"fields"`
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Fields: make(map[string][]FieldError)}
}

// Add appends an error for field and returns the receiver for chaining.
func (v *ValidationErrors) Add(field, code, message string, params map[string]any) *ValidationErrors {
	if v.Fields == nil {
		v.Fields = make(map[string][]FieldError)
	}
	v.Fields[field] = append(v.Fields[field], FieldError{Code: code, Message: message, Params: params})
	return v
}

// Merge copies every error of other into v. A nil other is ignored.
func (v *ValidationErrors) Merge(other *ValidationErrors) *ValidationErrors {
	if other == nil {
		return v
	}
	for field, errs := range other.Fields {
		for _, e := range errs {
			v.Add(field, e.Code, e.Message, e.Params)
		}
	}
	return v
}

// Nest merges other with every field prefixed, e.g. "items[2].quantity".
func (v *ValidationErrors) Nest(prefix string, other *ValidationErrors) *ValidationErrors {
	if other == nil {
		return v
	}
	for field, errs := range other.Fields {
		key := prefix
		if field != "" {
			key = prefix + "." + field
		}
		for _, e := range errs {
			v.Add(key, e.Code, e.Message, e.Params)
		}
	}
	return v
}

func (v *ValidationErrors) Empty() bool {
	return v == nil || len(v.Fields) == 0
}

// Err returns nil when no errors were collected, so it can be returned directly.
func (v *ValidationErrors) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}

// Has reports whether any field carries the given code.
func (v *ValidationErrors) Has(code string) bool {
	if v == nil {
		return false
	}
	for _, errs := range v.Fields {
		for _, e := range errs {
			if e.Code == code {
				return true
			}
		}
	}
	return false
}

// Codes returns every code once, sorted.
func (v *ValidationErrors) Codes() []string {
	seen := map[string]struct{}{}
	var out []string
	if v == nil {
		return out
	}
	for _, errs := range v.Fields {
		for _, e := range errs {
			if _, ok := seen[e.Code]; !ok {
				seen[e.Code] = struct{}{}
				out = append(out, e.Code)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (v *ValidationErrors) Error() string {
	fields := make([]string, 0, len(v.Fields))
	for f := range v.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("validation failed:")
	for _, f := range fields {
		for _, e := range v.Fields[f] {
			fmt.Fprintf(&b, " %s: %s (%s);", f, e.Message, e.Code)
		}
	}
	return b.String()
}

// Single builds a ValidationErrors holding one error.
func Single(field, code, message string) *ValidationErrors {
	return NewValidationErrors().Add(field, code, message, nil)
}

func IsValidation(err error) bool {
	var v *ValidationErrors
	return errors.As(err, &v)
}

// AsValidation unwraps err into a ValidationErrors if it is one.
func AsValidation(err error) (*ValidationErrors, bool) {
	var v *ValidationErrors
	ok := errors.As(err, &v)
	return v, ok
}

func IsConcurrency(err error) bool { return errors.Is(err, ErrConcurrency) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

// BusinessProcess wraps ErrBusinessProcess with a reason.
func BusinessProcess(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrBusinessProcess)
}
