package service

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

// ProrationParams describes a mid-period plan change
type ProrationParams struct {
	OldAmount   decimal.Decimal
	NewAmount   decimal.Decimal
	PeriodStart time.Time
	PeriodEnd   time.Time
	ChangeAt    time.Time
	Behavior    types.ProrationBehavior
}

// ProrationResult is the money outcome of a plan change. Credit is the
// unused-time value of the old plan, Charge the prorated value of the new
// one; Net is charge minus credit and can be negative.
type ProrationResult struct {
	CreditAmount      decimal.Decimal `json:"credit_amount"`
	ChargeAmount      decimal.Decimal `json:"charge_amount"`
	NetAmount         decimal.Decimal `json:"net_amount"`
	RemainingFraction decimal.Decimal `json:"remaining_fraction"`
}

// ProrationService computes the charge/credit for a mid-period plan change:
// unused-time credit on the old plan against a prorated charge on the new
// plan, by remaining-seconds fraction of the period.
type ProrationService interface {
	Calculate(params ProrationParams) (*ProrationResult, error)
}

type prorationService struct {
	ServiceParams
}

// NewProrationService creates a new proration service
func NewProrationService(params ServiceParams) ProrationService {
	return &prorationService{ServiceParams: params}
}

func (s *prorationService) Calculate(params ProrationParams) (*ProrationResult, error) {
	if !params.PeriodEnd.After(params.PeriodStart) {
		return nil, ierr.NewError("period end must be after period start").
			Mark(ierr.ErrValidation)
	}
	if params.ChangeAt.Before(params.PeriodStart) || !params.ChangeAt.Before(params.PeriodEnd) {
		return nil, ierr.NewError("change instant must fall inside the billing period").
			WithReportableDetails(map[string]any{
				"period_start": params.PeriodStart,
				"period_end":   params.PeriodEnd,
				"change_at":    params.ChangeAt,
			}).
			Mark(ierr.ErrValidation)
	}
	if params.OldAmount.IsNegative() || params.NewAmount.IsNegative() {
		return nil, ierr.NewError("amounts cannot be negative").
			Mark(ierr.ErrValidation)
	}

	periodSeconds := decimal.NewFromFloat(params.PeriodEnd.Sub(params.PeriodStart).Seconds())
	remainingSeconds := decimal.NewFromFloat(params.PeriodEnd.Sub(params.ChangeAt).Seconds())
	fraction := remainingSeconds.Div(periodSeconds)

	result := &ProrationResult{RemainingFraction: fraction}

	switch params.Behavior {
	case types.ProrationBehaviorNextCycle:
		// Nothing owed now; the new price applies from the next period
		result.CreditAmount = decimal.Zero
		result.ChargeAmount = decimal.Zero
	case types.ProrationBehaviorImmediateFull:
		result.CreditAmount = decimal.Zero
		result.ChargeAmount = params.NewAmount
	case types.ProrationBehaviorImmediateProrate, types.ProrationBehaviorCreateCredit:
		result.CreditAmount = params.OldAmount.Mul(fraction)
		result.ChargeAmount = params.NewAmount.Mul(fraction)
	default:
		return nil, ierr.NewErrorf("invalid proration behavior: %s", params.Behavior).
			Mark(ierr.ErrValidation)
	}

	// Round only the final net figure; the components are rounded for
	// display after the net is fixed
	result.NetAmount = result.ChargeAmount.Sub(result.CreditAmount).Round(2)
	result.CreditAmount = result.CreditAmount.Round(2)
	result.ChargeAmount = result.ChargeAmount.Round(2)

	return result, nil
}
