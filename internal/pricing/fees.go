package pricing

import (
	"errors"
	"sort"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

// GetRange returns the fee range that applies to price: the last range, in
// ascending min price order, whose minimum is at or below price. Ranges with
// equal minimums keep their input order, so the later one wins.
func GetRange(ranges []models.FeeScheduleRange, price int64) (models.FeeScheduleRange, error) {
	if len(ranges) == 0 {
		return models.FeeScheduleRange{}, apperrors.ErrEmptyFeeSchedule
	}

	sorted := make([]models.FeeScheduleRange, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MinPriceInCents < sorted[j].MinPriceInCents
	})

	found := -1
	for i := range sorted {
		if sorted[i].MinPriceInCents > price {
			break
		}
		found = i
	}
	if found < 0 {
		return models.FeeScheduleRange{}, apperrors.ErrNoApplicableRange
	}
	return sorted[found], nil
}

// UnitFee is the per-unit fee of a ticket priced at discountedPrice.
// ok is false when no range applies and no fee row should exist.
type UnitFee struct {
	Range        models.FeeScheduleRange
	CompanyFee   int64
	ClientFee    int64
	PriceInCents int64
}

// PerUnitFee resolves the fee row values for one ticket unit. The ticket
// type's additional fee is charged to the client on top of the range.
func PerUnitFee(schedule *models.FeeSchedule, discountedPrice, additionalFee int64) (UnitFee, bool, error) {
	rng, err := GetRange(schedule.Ranges, discountedPrice)
	if errors.Is(err, apperrors.ErrNoApplicableRange) {
		return UnitFee{}, false, nil
	}
	if err != nil {
		return UnitFee{}, false, err
	}

	fee := UnitFee{
		Range:      rng,
		CompanyFee: rng.CompanyFeeInCents,
		ClientFee:  rng.ClientFeeInCents + additionalFee,
	}
	fee.PriceInCents = fee.CompanyFee + fee.ClientFee
	if fee.PriceInCents <= 0 {
		return UnitFee{}, false, nil
	}
	return fee, true, nil
}

// CreditCardFee applies basis points to amount, rounding half up.
func CreditCardFee(amount, basisPoints int64) int64 {
	if amount <= 0 || basisPoints <= 0 {
		return 0
	}
	return (amount*basisPoints + 5000) / 10000
}
