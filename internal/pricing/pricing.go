package pricing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

// Price is the resolved unit price of a ticket type.
type Price struct {
	AmountInCents int64
	PricingID     *uuid.UUID
}

// CurrentPrice picks the ticket type's price at now. Box office sales prefer
// a box-office-only period and fall back to regular periods; online sales
// never see box-office-only periods. With no published period the Default
// period is used, then the ticket type's own price.
func CurrentPrice(tt *models.TicketType, periods []models.TicketPricing, boxOffice bool, now time.Time) (Price, error) {
	var regular, boxOnly, defaults []models.TicketPricing
	for _, p := range periods {
		if p.TicketTypeID != tt.ID || !p.ActiveAt(now) {
			continue
		}
		switch p.Status {
		case models.TicketPricingStatusPublished:
			if p.IsBoxOfficeOnly {
				boxOnly = append(boxOnly, p)
			} else {
				regular = append(regular, p)
			}
		case models.TicketPricingStatusDefault:
			defaults = append(defaults, p)
		case models.TicketPricingStatusDeleted:
		}
	}

	candidates := regular
	if boxOffice && len(boxOnly) > 0 {
		candidates = boxOnly
	}
	if len(candidates) == 0 {
		candidates = defaults
	}

	switch len(candidates) {
	case 0:
		return Price{AmountInCents: tt.PriceInCents}, nil
	case 1:
		id := candidates[0].ID
		return Price{AmountInCents: candidates[0].PriceInCents, PricingID: &id}, nil
	default:
		return Price{}, apperrors.BusinessProcess(fmt.Sprintf("ticket type %s has %d overlapping pricing periods", tt.ID, len(candidates)))
	}
}

// DiscountPerUnit is the positive amount taken off one unit priced at price.
// It never exceeds the price.
func DiscountPerUnit(price int64, code *models.Code, hold *models.Hold) int64 {
	var discount int64
	switch {
	case hold != nil:
		switch hold.HoldType {
		case models.HoldTypeComp:
			discount = price
		case models.HoldTypeDiscount:
			if hold.DiscountInCents != nil {
				discount = *hold.DiscountInCents
			}
		case models.HoldTypeAccess:
		}
	case code != nil:
		switch code.CodeType {
		case models.CodeTypeDiscount:
			if code.DiscountAsPercentage != nil {
				discount = price * *code.DiscountAsPercentage / 100
			} else if code.DiscountInCents != nil {
				discount = *code.DiscountInCents
			}
		case models.CodeTypeAccess:
		}
	}

	if discount < 0 {
		return 0
	}
	if discount > price {
		return price
	}
	return discount
}

// Total is tickets plus fees minus discounts over every item.
func Total(items []models.OrderItem) int64 {
	var total int64
	for i := range items {
		total += items[i].Subtotal()
	}
	return total
}

// FeeExempt reports whether a ticket line carries no per-unit fee.
func FeeExempt(boxOffice bool, hold *models.Hold) bool {
	if boxOffice {
		return true
	}
	return hold != nil && hold.HoldType == models.HoldTypeComp
}
