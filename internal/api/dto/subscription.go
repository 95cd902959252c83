package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/subkernel/subkernel/internal/domain/subscription"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
	"github.com/subkernel/subkernel/internal/validator"
)

// CreateSubscriptionRequest starts a subscription, optionally in trial
type CreateSubscriptionRequest struct {
	CustomerID  string            `json:"customer_id" validate:"required"`
	UserID      string            `json:"user_id" validate:"required"`
	PlanID      string            `json:"plan_id" validate:"required"`
	SeatCount   int               `json:"seat_count" validate:"gte=0"`
	WithTrial   bool              `json:"with_trial"`
	TrialIntent string            `json:"trial_intent,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
}

func (r *CreateSubscriptionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.DiscountPercent != nil {
		if r.DiscountPercent.IsNegative() || r.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
			return ierr.NewError("discount_percent must be between 0 and 100").
				WithReportableDetails(map[string]any{"discount_percent": r.DiscountPercent.String()}).
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// ChangePlanRequest moves a subscription to another plan
type ChangePlanRequest struct {
	PlanID            string                  `json:"plan_id" validate:"required"`
	ProrationBehavior types.ProrationBehavior `json:"proration_behavior,omitempty"`
	// ResetPeriod restarts the billing period at the change instant
	ResetPeriod bool `json:"reset_period"`
}

func (r *ChangePlanRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.ProrationBehavior != "" {
		return r.ProrationBehavior.Validate()
	}
	return nil
}

// CancelSubscriptionRequest cancels now or at period end
type CancelSubscriptionRequest struct {
	CancellationType types.CancellationType `json:"cancellation_type" validate:"required"`
	Reason           string                 `json:"reason,omitempty"`
}

func (r *CancelSubscriptionRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return r.CancellationType.Validate()
}

// UpdateSeatsRequest changes the billable seat count
type UpdateSeatsRequest struct {
	SeatCount int `json:"seat_count" validate:"gte=0"`
}

func (r *UpdateSeatsRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// RecordUsageRequest adds metered usage to the current period
type RecordUsageRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

func (r *RecordUsageRequest) Validate() error {
	if r.Quantity.IsNegative() || r.Quantity.IsZero() {
		return ierr.NewError("usage quantity must be positive").
			WithReportableDetails(map[string]any{"quantity": r.Quantity.String()}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// AddMemberRequest adds a participant to a shared subscription
type AddMemberRequest struct {
	UserID string           `json:"user_id" validate:"required"`
	Role   types.MemberRole `json:"role" validate:"required"`
}

func (r *AddMemberRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	return r.Role.Validate()
}

// SubscriptionResponse is the API representation of a subscription
type SubscriptionResponse struct {
	*subscription.Subscription

	// TrialDaysRemaining drives trial nudges in downstream UIs
	TrialDaysRemaining int `json:"trial_days_remaining,omitempty"`
}

// NewSubscriptionResponse builds the response for a subscription
func NewSubscriptionResponse(sub *subscription.Subscription) *SubscriptionResponse {
	if sub == nil {
		return nil
	}
	return &SubscriptionResponse{
		Subscription:       sub,
		TrialDaysRemaining: sub.TrialDaysRemaining(time.Now().UTC()),
	}
}
