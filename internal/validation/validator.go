// Package validation checks admin input for codes and holds and the shape
// of cart update lines. Field rules are struct tags; rules spanning fields
// are checked by hand afterwards.
package validation

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NormalizeRedemptionCode trims and upper-cases a code; lookups are case-insensitive.
func NormalizeRedemptionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type CodeAttributes struct {
	EventID              uuid.UUID       `json:"event_id" validate:"required"`
	Name                 string          `json:"name" validate:"required,max=255"`
	CodeType             models.CodeType `json:"code_type" validate:"required,oneof=Discount Access"`
	RedemptionCode       string          `json:"redemption_code" validate:"required,min=6,max=255,alphanum"`
	MaxUses              int64           `json:"max_uses" validate:"gte=0"`
	MaxTicketsPerUser    int64           `json:"max_tickets_per_user" validate:"gte=0"`
	DiscountInCents      *int64          `json:"discount_in_cents" validate:"omitempty,gte=0"`
	DiscountAsPercentage *int64          `json:"discount_as_percentage" validate:"omitempty,gte=0,lte=100"`
	StartDate            time.Time       `json:"start_date" validate:"required"`
	EndDate              time.Time       `json:"end_date" validate:"required"`
	TicketTypeIDs        []uuid.UUID     `json:"ticket_type_ids" validate:"required,min=1,dive,required"`
}

// ValidateCode returns nil when attrs describe a valid code.
func ValidateCode(attrs CodeAttributes) *apperrors.ValidationErrors {
	verrs := structErrors(attrs)

	if !attrs.StartDate.IsZero() && !attrs.EndDate.IsZero() && !attrs.StartDate.Before(attrs.EndDate) {
		verrs.Add("end_date", apperrors.CodeInvalidDateRange, "end date must be after start date", nil)
	}

	hasCents, hasPct := attrs.DiscountInCents != nil, attrs.DiscountAsPercentage != nil
	switch attrs.CodeType {
	case models.CodeTypeDiscount:
		if hasCents == hasPct {
			verrs.Add("discount", apperrors.CodeInvalidDiscountConfig,
				"a discount code needs exactly one of discount_in_cents and discount_as_percentage", nil)
		}
	case models.CodeTypeAccess:
		if hasCents || hasPct {
			verrs.Add("discount", apperrors.CodeInvalidDiscountConfig, "an access code cannot carry a discount", nil)
		}
	}

	if verrs.Empty() {
		return nil
	}
	return verrs
}

type HoldAttributes struct {
	TicketTypeID    uuid.UUID       `json:"ticket_type_id" validate:"required"`
	Name            string          `json:"name" validate:"required,max=255"`
	HoldType        models.HoldType `json:"hold_type" validate:"required,oneof=Discount Comp Access"`
	Quantity        int64           `json:"quantity" validate:"gte=1"`
	RedemptionCode  string          `json:"redemption_code" validate:"required,min=6,max=255,alphanum"`
	MaxPerUser      int64           `json:"max_per_user" validate:"gte=0"`
	DiscountInCents *int64          `json:"discount_in_cents" validate:"omitempty,gte=0"`
	EndAt           *time.Time      `json:"end_at"`
}

func ValidateHold(attrs HoldAttributes) *apperrors.ValidationErrors {
	verrs := structErrors(attrs)

	switch attrs.HoldType {
	case models.HoldTypeDiscount:
		if attrs.DiscountInCents == nil {
			verrs.Add("discount_in_cents", apperrors.CodeRequired, "a discount hold needs discount_in_cents", nil)
		}
	case models.HoldTypeComp, models.HoldTypeAccess:
		if attrs.DiscountInCents != nil {
			verrs.Add("discount_in_cents", apperrors.CodeInvalidDiscountConfig, "only discount holds carry a discount", nil)
		}
	}

	if verrs.Empty() {
		return nil
	}
	return verrs
}

type PublisherAttributes struct {
	OrganizationID       *uuid.UUID               `json:"organization_id"`
	EventTypes           []models.DomainEventType `json:"event_types" validate:"required,min=1,dive,oneof=OrderCompleted OrderRefund OrderCancelled CodeCreated HoldCreated"`
	Adapter              models.PublisherAdapter  `json:"adapter" validate:"required,oneof=Webhook NATS AMQP Elasticsearch"`
	Target               string                   `json:"target" validate:"max=1024"`
	ImportHistoricEvents bool                     `json:"import_historic_events"`
}

// ValidatePublisher requires an http(s) target for webhooks; other adapters
// fall back to their configured destination when the target is empty.
func ValidatePublisher(attrs PublisherAttributes) *apperrors.ValidationErrors {
	verrs := structErrors(attrs)

	if attrs.Adapter == models.PublisherAdapterWebhook {
		if err := validate.Var(attrs.Target, "required,http_url"); err != nil {
			verrs.Add("target", apperrors.CodeInvalid, "a webhook publisher needs an http(s) url", nil)
		}
	}

	if verrs.Empty() {
		return nil
	}
	return verrs
}

type lineShape struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id" validate:"required"`
	Quantity     int64     `json:"quantity" validate:"gte=0"`
}

// ValidateLines checks the shape of update lines, keyed by "items[i]".
func ValidateLines(lines []models.UpdateOrderItem) *apperrors.ValidationErrors {
	verrs := apperrors.NewValidationErrors()
	for i, l := range lines {
		verrs.Nest(lineField(i), structErrors(lineShape{TicketTypeID: l.TicketTypeID, Quantity: l.Quantity}))
		if l.RedemptionCode != nil && NormalizeRedemptionCode(*l.RedemptionCode) == "" {
			verrs.Add(lineField(i)+".redemption_code", apperrors.CodeInvalid, "redemption code is blank", nil)
		}
	}
	if verrs.Empty() {
		return nil
	}
	return verrs
}

func lineField(i int) string {
	return "items[" + strconv.Itoa(i) + "]"
}

func structErrors(s any) *apperrors.ValidationErrors {
	verrs := apperrors.NewValidationErrors()
	err := validate.Struct(s)
	if err == nil {
		return verrs
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verrs.Add("", apperrors.CodeInvalid, err.Error(), nil)
		return verrs
	}
	for _, fe := range fieldErrs {
		field := fe.Field()
		if fe.Tag() == "required" {
			verrs.Add(field, apperrors.CodeRequired, field+" is required", nil)
			continue
		}
		verrs.Add(field, apperrors.CodeInvalid, field+" failed "+fe.Tag()+" "+fe.Param(),
			map[string]any{"rule": fe.Tag(), "param": fe.Param()})
	}
	return verrs
}
