package types

import (
	ierr "github.com/subkernel/subkernel/internal/errors"
)

// SubscriptionStatus is the lifecycle status of a subscription. Exactly one
// status holds at a time.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCanceled  SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid    SubscriptionStatus = "unpaid"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

func (s SubscriptionStatus) Validate() error {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusPaused, SubscriptionStatusCanceled, SubscriptionStatusUnpaid,
		SubscriptionStatusExpired, SubscriptionStatusSuspended:
		return nil
	default:
		return ierr.NewErrorf("invalid subscription status: %s", s).
			Mark(ierr.ErrValidation)
	}
}

// IsTerminal reports whether no further lifecycle transitions are possible.
// unpaid is deliberately not terminal: a successful retry re-activates.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusExpired
}

// HasAccess reports whether the status preserves entitlement access. Access
// survives dunning up to and including final_notice.
func (s SubscriptionStatus) HasAccess() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// DunningStatus is the escalation stage of payment-failure handling
type DunningStatus string

const (
	DunningStatusNone        DunningStatus = "none"
	DunningStatusPastDue     DunningStatus = "past_due"
	DunningStatusGracePeriod DunningStatus = "grace_period"
	DunningStatusFinalNotice DunningStatus = "final_notice"
	DunningStatusTerminated  DunningStatus = "terminated"
)

// BillingType selects how a period's amount is collected
type BillingType string

const (
	// BillingTypeImmediate charges the payment gateway at period start
	BillingTypeImmediate BillingType = "immediate"
	// BillingTypeInvoice issues an invoice payable within the plan's terms
	BillingTypeInvoice BillingType = "invoice"
)

func (b BillingType) Validate() error {
	switch b {
	case BillingTypeImmediate, BillingTypeInvoice:
		return nil
	default:
		return ierr.NewErrorf("invalid billing type: %s", b).
			WithHint("Billing type must be immediate or invoice").
			Mark(ierr.ErrValidation)
	}
}

// CancellationType selects when a cancellation takes effect
type CancellationType string

const (
	CancellationTypeImmediate   CancellationType = "immediate"
	CancellationTypeEndOfPeriod CancellationType = "end_of_period"
)

func (c CancellationType) Validate() error {
	switch c {
	case CancellationTypeImmediate, CancellationTypeEndOfPeriod:
		return nil
	default:
		return ierr.NewErrorf("invalid cancellation type: %s", c).
			WithHint("Cancellation type must be immediate or end_of_period").
			Mark(ierr.ErrValidation)
	}
}

// ProrationBehavior selects how a mid-period plan change is billed
type ProrationBehavior string

const (
	ProrationBehaviorImmediateProrate ProrationBehavior = "immediate_prorate"
	ProrationBehaviorImmediateFull    ProrationBehavior = "immediate_full"
	ProrationBehaviorNextCycle        ProrationBehavior = "next_cycle"
	ProrationBehaviorCreateCredit     ProrationBehavior = "create_credit"
)

func (p ProrationBehavior) Validate() error {
	switch p {
	case ProrationBehaviorImmediateProrate, ProrationBehaviorImmediateFull,
		ProrationBehaviorNextCycle, ProrationBehaviorCreateCredit:
		return nil
	default:
		return ierr.NewErrorf("invalid proration behavior: %s", p).
			Mark(ierr.ErrValidation)
	}
}

// MemberRole is the role of a member on a shared subscription
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleMember MemberRole = "member"
	MemberRoleViewer MemberRole = "viewer"
)

func (r MemberRole) Validate() error {
	switch r {
	case MemberRoleOwner, MemberRoleMember, MemberRoleViewer:
		return nil
	default:
		return ierr.NewErrorf("invalid member role: %s", r).
			Mark(ierr.ErrValidation)
	}
}
