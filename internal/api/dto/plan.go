package dto

import (
	"github.com/shopspring/decimal"

	"github.com/subkernel/subkernel/internal/domain/plan"
	"github.com/subkernel/subkernel/internal/types"
	"github.com/subkernel/subkernel/internal/validator"
)

// CreatePlanRequest authors a new plan version
type CreatePlanRequest struct {
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description"`
	VendorID    string            `json:"vendor_id" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	Price              plan.PriceConfig             `json:"price"`
	BillingType        types.BillingType            `json:"billing_type" validate:"required"`
	Terms              types.PaymentTerms           `json:"terms,omitempty"`
	PlatformFeePercent *decimal.Decimal             `json:"platform_fee_percent,omitempty"`
	TrialConfigs       map[string]plan.TrialConfig  `json:"trial_configs,omitempty"`
	DefaultTrialIntent string                       `json:"default_trial_intent,omitempty"`
	Entitlements       []plan.EntitlementDefinition `json:"entitlements,omitempty"`
}

func (r *CreatePlanRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ToPlan converts the request into a domain plan, applying the configured
// default platform fee when the request does not set one
func (r *CreatePlanRequest) ToPlan(defaultFeePercent decimal.Decimal) *plan.Plan {
	fee := defaultFeePercent
	if r.PlatformFeePercent != nil {
		fee = *r.PlatformFeePercent
	}
	return &plan.Plan{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN),
		Name:               r.Name,
		Description:        r.Description,
		VendorID:           r.VendorID,
		Version:            1,
		Price:              r.Price,
		BillingType:        r.BillingType,
		Terms:              r.Terms,
		PlatformFeePercent: fee,
		TrialConfigs:       r.TrialConfigs,
		DefaultTrialIntent: r.DefaultTrialIntent,
		Entitlements:       r.Entitlements,
		Metadata:           r.Metadata,
	}
}

// PlanResponse is the API representation of a plan
type PlanResponse struct {
	*plan.Plan
}

// NewPlanResponse builds the response for a plan
func NewPlanResponse(p *plan.Plan) *PlanResponse {
	if p == nil {
		return nil
	}
	return &PlanResponse{Plan: p}
}
