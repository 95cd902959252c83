package subscription

import (
	"time"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
	"github.com/shopspring/decimal"
)

// Subscription is the mutable aggregate root tracking one customer's
// relationship with one plan version. All mutations go through the lifecycle
// service, serialized per subscription id.
type Subscription struct {
	ID          string `json:"id"`
	CustomerID  string `json:"customer_id"`
	UserID      string `json:"user_id"`
	VendorID    string `json:"vendor_id"`
	PlanID      string `json:"plan_id"`
	PlanVersion int    `json:"plan_version"`

	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	BillingType        types.BillingType        `json:"billing_type"`

	// Current billing period, [start, end)
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`

	TrialStart  *time.Time `json:"trial_start,omitempty"`
	TrialEnd    *time.Time `json:"trial_end,omitempty"`
	TrialIntent string     `json:"trial_intent,omitempty"`

	SeatCount       int              `json:"seat_count"`
	UsageCount      decimal.Decimal  `json:"usage_count"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`

	DunningStatus      types.DunningStatus `json:"dunning_status"`
	FailedPaymentCount int                 `json:"failed_payment_count"`

	// LastTransactionID keys idempotent payment-success processing
	LastTransactionID string `json:"last_transaction_id,omitempty"`

	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	PausedAt          *time.Time `json:"paused_at,omitempty"`

	// StatusBeforeSuspension restores the prior status on unsuspend
	StatusBeforeSuspension types.SubscriptionStatus `json:"status_before_suspension,omitempty"`

	// Metadata recognized keys: "signup_source", "sales_owner", "notes",
	// "billing_email", "trial_notice_sent"
	Metadata map[string]string `json:"metadata,omitempty"`

	// Version is the optimistic-concurrency counter checked by Repository.Update
	Version int `json:"version"`

	types.BaseModel
}

// Seat is a per-user license on a subscription
type Seat struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	AssignedAt     time.Time `json:"assigned_at"`

	types.BaseModel
}

// Member is a family/team participant on a subscription
type Member struct {
	ID             string           `json:"id"`
	SubscriptionID string           `json:"subscription_id"`
	UserID         string           `json:"user_id"`
	Role           types.MemberRole `json:"role"`
	JoinedAt       time.Time        `json:"joined_at"`

	types.BaseModel
}

// Validate checks aggregate invariants
func (s *Subscription) Validate() error {
	if s.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			WithHint("Provide the owning customer id").
			Mark(ierr.ErrValidation)
	}
	if s.PlanID == "" {
		return ierr.NewError("plan_id is required").
			WithHint("Provide the plan id").
			Mark(ierr.ErrValidation)
	}
	if err := s.SubscriptionStatus.Validate(); err != nil {
		return err
	}
	if !s.CurrentPeriodEnd.After(s.CurrentPeriodStart) {
		return ierr.NewError("current period end must be after period start").
			WithReportableDetails(map[string]any{
				"current_period_start": s.CurrentPeriodStart,
				"current_period_end":   s.CurrentPeriodEnd,
			}).
			Mark(ierr.ErrValidation)
	}
	if s.SeatCount < 0 {
		return ierr.NewError("seat_count cannot be negative").
			Mark(ierr.ErrValidation)
	}
	if s.FailedPaymentCount < 0 {
		return ierr.NewError("failed_payment_count cannot be negative").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsTrialing reports whether the subscription is inside its trial window
func (s *Subscription) IsTrialing() bool {
	return s.SubscriptionStatus == types.SubscriptionStatusTrialing
}

// TrialDaysRemaining returns whole days left in the trial as of now, used to
// drive trial nudges. Zero when not trialing.
func (s *Subscription) TrialDaysRemaining(now time.Time) int {
	if !s.IsTrialing() || s.TrialEnd == nil {
		return 0
	}
	remaining := s.TrialEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}
