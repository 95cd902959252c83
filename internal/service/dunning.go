package service

import (
	"github.com/subkernel/subkernel/internal/types"
)

// DunningStep is one escalation decision. Steps are pure data executed by
// the lifecycle orchestrator under the per-subscription lock, keeping the
// lock discipline auditable.
type DunningStep struct {
	FailedCount        int
	DunningStatus      types.DunningStatus
	SubscriptionStatus types.SubscriptionStatus
	// RevokeEntitlements is true only on the terminal step; every earlier
	// step is a warning that preserves access
	RevokeEntitlements bool
	// EmailTemplate names the notification for this step, empty for none
	EmailTemplate string
	Terminal      bool
}

// DunningService decides, per failed payment, whether to warn or terminate
// access. Escalation is driven solely by the failed-payment counter.
type DunningService interface {
	// NextStep returns the escalation for a failure that brings the counter
	// to failedCount
	NextStep(failedCount int) DunningStep
	// ResetStep returns the recovery applied on any successful payment
	ResetStep() DunningStep
	// MaxAttempts returns the configured termination threshold
	MaxAttempts() int
}

type dunningService struct {
	ServiceParams
}

// NewDunningService creates a new dunning service
func NewDunningService(params ServiceParams) DunningService {
	return &dunningService{ServiceParams: params}
}

func (s *dunningService) MaxAttempts() int {
	return s.Config.Dunning.MaxRetryAttempts
}

func (s *dunningService) NextStep(failedCount int) DunningStep {
	maxAttempts := s.MaxAttempts()

	switch {
	case failedCount >= maxAttempts:
		return DunningStep{
			FailedCount:        failedCount,
			DunningStatus:      types.DunningStatusTerminated,
			SubscriptionStatus: types.SubscriptionStatusUnpaid,
			RevokeEntitlements: true,
			Terminal:           true,
		}
	case failedCount == maxAttempts-1:
		return DunningStep{
			FailedCount:        failedCount,
			DunningStatus:      types.DunningStatusFinalNotice,
			SubscriptionStatus: types.SubscriptionStatusPastDue,
			EmailTemplate:      "dunning-final-notice.html",
		}
	case failedCount == 1:
		return DunningStep{
			FailedCount:        failedCount,
			DunningStatus:      types.DunningStatusPastDue,
			SubscriptionStatus: types.SubscriptionStatusPastDue,
			EmailTemplate:      "dunning-warning.html",
		}
	default:
		return DunningStep{
			FailedCount:        failedCount,
			DunningStatus:      types.DunningStatusGracePeriod,
			SubscriptionStatus: types.SubscriptionStatusPastDue,
			EmailTemplate:      "dunning-warning.html",
		}
	}
}

func (s *dunningService) ResetStep() DunningStep {
	return DunningStep{
		FailedCount:        0,
		DunningStatus:      types.DunningStatusNone,
		SubscriptionStatus: types.SubscriptionStatusActive,
	}
}
