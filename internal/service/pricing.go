package service

import (
	"github.com/shopspring/decimal"

	"github.com/subkernel/subkernel/internal/domain/plan"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

var hundred = decimal.NewFromInt(100)

// PricingService computes the gross amount due for a billing period
type PricingService interface {
	// CalculateAmount applies the plan's pricing model to the subscription's
	// seat/usage state. The optional subscription-level discount applies
	// last, multiplicatively. Rounding happens once, on the final amount.
	CalculateAmount(price *plan.PriceConfig, seatCount int, usage decimal.Decimal, discountPercent *decimal.Decimal) (decimal.Decimal, error)
}

type pricingService struct {
	ServiceParams
}

// NewPricingService creates a new pricing service
func NewPricingService(params ServiceParams) PricingService {
	return &pricingService{ServiceParams: params}
}

func (s *pricingService) CalculateAmount(price *plan.PriceConfig, seatCount int, usage decimal.Decimal, discountPercent *decimal.Decimal) (decimal.Decimal, error) {
	if price == nil {
		return decimal.Zero, ierr.NewError("price configuration is required").
			Mark(ierr.ErrValidation)
	}
	if seatCount < 0 {
		return decimal.Zero, ierr.NewError("seat count cannot be negative").
			WithReportableDetails(map[string]any{"seat_count": seatCount}).
			Mark(ierr.ErrValidation)
	}
	if usage.IsNegative() {
		return decimal.Zero, ierr.NewError("usage cannot be negative").
			WithReportableDetails(map[string]any{"usage": usage.String()}).
			Mark(ierr.ErrValidation)
	}

	var amount decimal.Decimal
	switch price.Model {
	case types.PricingModelFlat:
		amount = price.Amount
	case types.PricingModelPerSeat:
		amount = s.perSeatAmount(price, seatCount)
	case types.PricingModelBaseSeat:
		amount = s.baseSeatAmount(price, seatCount)
	case types.PricingModelUsage:
		amount = s.usageAmount(price, usage)
	case types.PricingModelTiered:
		amount = s.tieredAmount(price, seatCount)
	default:
		return decimal.Zero, ierr.NewErrorf("unsupported pricing model: %s", price.Model).
			Mark(ierr.ErrValidation)
	}

	if discountPercent != nil && discountPercent.IsPositive() {
		amount = amount.Mul(hundred.Sub(*discountPercent)).Div(hundred)
	}

	return amount.Round(2), nil
}

// perSeatAmount charges every seat, then applies the steepest volume-discount
// tier the seat count qualifies for
func (s *pricingService) perSeatAmount(price *plan.PriceConfig, seatCount int) decimal.Decimal {
	amount := price.PricePerSeat.Mul(decimal.NewFromInt(int64(seatCount)))

	best := decimal.Zero
	for _, tier := range price.VolumeDiscounts {
		if seatCount >= tier.MinQuantity && tier.DiscountPercent.GreaterThan(best) {
			best = tier.DiscountPercent
		}
	}
	if best.IsPositive() {
		amount = amount.Mul(hundred.Sub(best)).Div(hundred)
	}
	return amount
}

// baseSeatAmount charges the base plus seats beyond the included allotment
func (s *pricingService) baseSeatAmount(price *plan.PriceConfig, seatCount int) decimal.Decimal {
	billable := seatCount - price.IncludedSeats
	if billable < 0 {
		billable = 0
	}
	return price.Amount.Add(price.PricePerSeat.Mul(decimal.NewFromInt(int64(billable))))
}

// usageAmount charges the base plus usage beyond the included allotment
func (s *pricingService) usageAmount(price *plan.PriceConfig, usage decimal.Decimal) decimal.Decimal {
	billable := usage.Sub(price.IncludedUnits)
	if billable.IsNegative() {
		billable = decimal.Zero
	}
	return price.Amount.Add(price.PricePerUnit.Mul(billable))
}

// tieredAmount charges graduated bands: each band's seats at that band's
// unit price
func (s *pricingService) tieredAmount(price *plan.PriceConfig, seatCount int) decimal.Decimal {
	amount := decimal.Zero
	remaining := int64(seatCount)
	var consumed int64

	for _, tier := range price.Tiers {
		if remaining <= 0 {
			break
		}
		units := remaining
		if tier.UpTo != nil {
			bandSize := *tier.UpTo - consumed
			if bandSize <= 0 {
				continue
			}
			if units > bandSize {
				units = bandSize
			}
		}
		amount = amount.Add(tier.UnitAmount.Mul(decimal.NewFromInt(units)))
		consumed += units
		remaining -= units
	}

	return amount
}
