package types

import (
	ierr "github.com/subkernel/subkernel/internal/errors"
)

// PricingModel selects how a plan's period amount is computed
type PricingModel string

const (
	// PricingModelFlat charges a fixed amount per period
	PricingModelFlat PricingModel = "flat"
	// PricingModelPerSeat charges per seat with optional volume discounts
	PricingModelPerSeat PricingModel = "per_seat"
	// PricingModelBaseSeat charges a base amount plus per-seat beyond an
	// included allotment
	PricingModelBaseSeat PricingModel = "base_seat"
	// PricingModelUsage charges a base amount plus per-unit beyond included
	// usage
	PricingModelUsage PricingModel = "usage"
	// PricingModelTiered charges graduated per-seat tiers
	PricingModelTiered PricingModel = "tiered"
)

func (m PricingModel) Validate() error {
	switch m {
	case PricingModelFlat, PricingModelPerSeat, PricingModelBaseSeat,
		PricingModelUsage, PricingModelTiered:
		return nil
	default:
		return ierr.NewErrorf("invalid pricing model: %s", m).
			WithHint("Pricing model must be one of flat, per_seat, base_seat, usage, tiered").
			Mark(ierr.ErrValidation)
	}
}

// UsesSeats reports whether the model bills on seat count
func (m PricingModel) UsesSeats() bool {
	switch m {
	case PricingModelPerSeat, PricingModelBaseSeat, PricingModelTiered:
		return true
	default:
		return false
	}
}
