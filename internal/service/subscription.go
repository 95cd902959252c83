package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/subkernel/subkernel/internal/api/dto"
	"github.com/subkernel/subkernel/internal/domain/invoice"
	"github.com/subkernel/subkernel/internal/domain/payment"
	"github.com/subkernel/subkernel/internal/domain/plan"
	"github.com/subkernel/subkernel/internal/domain/revenueshare"
	"github.com/subkernel/subkernel/internal/domain/subscription"
	"github.com/subkernel/subkernel/internal/email"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

const (
	sweepConcurrency    = 8
	trialNoticeLeadDays = 3

	metadataTrialNoticeSent = "trial_notice_sent"
)

// SubscriptionService is the lifecycle state machine. Every mutation runs
// under the per-subscription lock; the only work done outside it is the
// gateway charge, which is retried with backoff and committed on re-entry.
type SubscriptionService interface {
	Create(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error)
	Get(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*dto.SubscriptionResponse, error)

	// ConvertTrial ends the trial immediately and starts a paid period
	ConvertTrial(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	ChangePlan(ctx context.Context, id string, req *dto.ChangePlanRequest) (*dto.SubscriptionResponse, error)
	Cancel(ctx context.Context, id string, req *dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error)
	Pause(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	Resume(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	Suspend(ctx context.Context, id string) (*dto.SubscriptionResponse, error)
	Unsuspend(ctx context.Context, id string) (*dto.SubscriptionResponse, error)

	UpdateSeats(ctx context.Context, id string, req *dto.UpdateSeatsRequest) (*dto.SubscriptionResponse, error)
	RecordUsage(ctx context.Context, id string, req *dto.RecordUsageRequest) (*dto.SubscriptionResponse, error)
	AddMember(ctx context.Context, id string, req *dto.AddMemberRequest) (*subscription.Member, error)
	RemoveMember(ctx context.Context, id string, userID string) error
	ListMembers(ctx context.Context, id string) ([]*subscription.Member, error)

	// ProcessRenewal bills the elapsed period and rolls the subscription
	// into the next one
	ProcessRenewal(ctx context.Context, id string, asOf time.Time) error
	// ProcessPaymentSuccess is idempotent per transaction id: replays of the
	// same settlement never double-reset dunning or double-advance a period
	ProcessPaymentSuccess(ctx context.Context, id string, transactionID string, advancePeriod bool) error
	ProcessPaymentFailure(ctx context.Context, id string, errorCode string) error

	RenewalSweep(ctx context.Context, asOf time.Time) (int, error)
	ExpirySweep(ctx context.Context, asOf time.Time) (int, error)
	// TrialNoticeSweep emails customers whose trial ends within the notice
	// window, at most once per trial
	TrialNoticeSweep(ctx context.Context, asOf time.Time) (int, error)
}

type subscriptionService struct {
	ServiceParams
	pricing     PricingService
	proration   ProrationService
	dunning     DunningService
	entitlement EntitlementService
}

// NewSubscriptionService creates a new subscription lifecycle service
func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
		pricing:       NewPricingService(params),
		proration:     NewProrationService(params),
		dunning:       NewDunningService(params),
		entitlement:   NewEntitlementService(params),
	}
}

func (s *subscriptionService) Create(ctx context.Context, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := s.PlanRepo.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &subscription.Subscription{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		CustomerID:    req.CustomerID,
		UserID:        req.UserID,
		VendorID:      p.VendorID,
		PlanID:        p.ID,
		PlanVersion:   p.Version,
		BillingType:   p.BillingType,
		SeatCount:     req.SeatCount,
		UsageCount:    decimal.Zero,
		DunningStatus: types.DunningStatusNone,
		Metadata:      req.Metadata,
		BaseModel:     types.GetDefaultBaseModel(ctx),
	}
	if req.DiscountPercent != nil {
		sub.DiscountPercent = req.DiscountPercent
	}

	if req.WithTrial {
		return s.createWithTrial(ctx, sub, p, req.TrialIntent, now)
	}
	return s.createDirect(ctx, sub, p, now)
}

func (s *subscriptionService) createWithTrial(ctx context.Context, sub *subscription.Subscription, p *plan.Plan, intent string, now time.Time) (*dto.SubscriptionResponse, error) {
	cfg := p.TrialConfigFor(intent)
	if cfg == nil {
		return nil, ierr.NewError("plan does not offer a trial").
			WithHint("Subscribe without a trial or pick a plan with trial support").
			WithReportableDetails(map[string]any{"plan_id": p.ID, "trial_intent": intent}).
			Mark(ierr.ErrInvalidOperation)
	}

	trialEnd := now.AddDate(0, 0, cfg.DurationDays)
	sub.SubscriptionStatus = types.SubscriptionStatusTrialing
	sub.TrialStart = &now
	sub.TrialEnd = &trialEnd
	sub.TrialIntent = cfg.Intent
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = trialEnd
	if cfg.SeatLimit > 0 && sub.SeatCount > cfg.SeatLimit {
		sub.SeatCount = cfg.SeatLimit
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}
	created, err := s.SubRepo.Create(ctx, sub)
	if err != nil {
		return nil, err
	}

	if _, err := s.entitlement.GrantForPlan(ctx, created, p, p.TrialEntitlements(cfg), true); err != nil {
		return nil, err
	}

	s.publish(ctx, types.EventSubscriptionCreated, created.ID, map[string]any{
		"customer_id": created.CustomerID,
		"plan_id":     created.PlanID,
	})
	s.publish(ctx, types.EventTrialStarted, created.ID, map[string]any{
		"trial_intent": created.TrialIntent,
		"trial_end":    trialEnd,
	})

	return dto.NewSubscriptionResponse(created), nil
}

func (s *subscriptionService) createDirect(ctx context.Context, sub *subscription.Subscription, p *plan.Plan, now time.Time) (*dto.SubscriptionResponse, error) {
	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = types.NextBillingDate(now, p.Price.BillingPeriod, p.Price.BillingPeriodCount)

	amount, err := s.pricing.CalculateAmount(&p.Price, sub.SeatCount, sub.UsageCount, sub.DiscountPercent)
	if err != nil {
		return nil, err
	}

	if sub.BillingType == types.BillingTypeImmediate && amount.IsPositive() {
		result, err := s.chargeWithRetry(ctx, &payment.ChargeRequest{
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			Amount:         amount,
			Currency:       p.Price.Currency,
			IdempotencyKey: chargeIdempotencyKey(sub.ID, sub.CurrentPeriodStart),
		})
		if err != nil {
			return nil, err
		}
		if !result.Success {
			return nil, ierr.NewError("initial payment was declined").
				WithHint("Use a different payment method and try again").
				WithReportableDetails(map[string]any{
					"error_code": result.ErrorCode,
					"amount":     amount.String(),
				}).
				Mark(ierr.ErrInvalidOperation)
		}
		sub.LastTransactionID = result.TransactionID
	}

	if err := sub.Validate(); err != nil {
		return nil, err
	}
	created, err := s.SubRepo.Create(ctx, sub)
	if err != nil {
		return nil, err
	}

	if created.LastTransactionID != "" {
		if err := s.recordCardCapture(ctx, created, p, amount, created.LastTransactionID); err != nil {
			return nil, err
		}
	}
	if created.BillingType == types.BillingTypeInvoice {
		invoiceService := NewInvoiceService(s.ServiceParams)
		if _, err := invoiceService.CreateForPeriod(ctx, CreateInvoiceParams{
			Subscription: created,
			Plan:         p,
			Amount:       amount,
			PeriodStart:  created.CurrentPeriodStart,
			PeriodEnd:    created.CurrentPeriodEnd,
		}); err != nil {
			return nil, err
		}
	}

	if _, err := s.entitlement.GrantForPlan(ctx, created, p, p.Entitlements, false); err != nil {
		return nil, err
	}

	s.publish(ctx, types.EventSubscriptionCreated, created.ID, map[string]any{
		"customer_id": created.CustomerID,
		"plan_id":     created.PlanID,
	})
	s.publish(ctx, types.EventSubscriptionActivated, created.ID, map[string]any{
		"period_end": created.CurrentPeriodEnd,
	})

	return dto.NewSubscriptionResponse(created), nil
}

func (s *subscriptionService) Get(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) ListByCustomer(ctx context.Context, customerID string) ([]*dto.SubscriptionResponse, error) {
	subs, err := s.SubRepo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.SubscriptionResponse, len(subs))
	for i, sub := range subs {
		out[i] = dto.NewSubscriptionResponse(sub)
	}
	return out, nil
}

// conversionDecision carries the pricing snapshot from the trial check to
// the post-charge commit.
type conversionDecision struct {
	planSnap *plan.Plan
	amount   decimal.Decimal
	at       time.Time
	charge   *payment.ChargeRequest
}

func (s *subscriptionService) ConvertTrial(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	var converted *subscription.Subscription
	var decision conversionDecision

	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !sub.IsTrialing() {
			return ierr.NewErrorf("subscription is %s, only trials can convert", sub.SubscriptionStatus).
				WithReportableDetails(map[string]any{"subscription_id": id}).
				Mark(ierr.ErrInvalidOperation)
		}

		p, err := s.PlanRepo.GetVersion(ctx, sub.PlanID, sub.PlanVersion)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		amount, err := s.pricing.CalculateAmount(&p.Price, sub.SeatCount, decimal.Zero, sub.DiscountPercent)
		if err != nil {
			return err
		}

		if sub.BillingType == types.BillingTypeImmediate && amount.IsPositive() {
			decision = conversionDecision{
				planSnap: p,
				amount:   amount,
				at:       now,
				charge: &payment.ChargeRequest{
					SubscriptionID: sub.ID,
					CustomerID:     sub.CustomerID,
					Amount:         amount,
					Currency:       p.Price.Currency,
					IdempotencyKey: chargeIdempotencyKey(sub.ID, now),
				},
			}
			return nil
		}

		converted, err = s.commitTrialConversion(ctx, id, p, amount, now, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	if decision.charge == nil {
		return dto.NewSubscriptionResponse(converted), nil
	}

	// Gateway round-trip outside the lock, committed on re-entry
	result, err := s.chargeWithRetry(ctx, decision.charge)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, ierr.NewError("conversion payment was declined").
			WithHint("Use a different payment method and try again").
			WithReportableDetails(map[string]any{"error_code": result.ErrorCode}).
			Mark(ierr.ErrInvalidOperation)
	}

	err = s.SubLocks.WithLock(id, func() error {
		var commitErr error
		converted, commitErr = s.commitTrialConversion(ctx, id, decision.planSnap, decision.amount, decision.at, result.TransactionID)
		return commitErr
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(converted), nil
}

// commitTrialConversion rolls the trial into its first paid period. Caller
// holds the lock. Reloads the subscription because the charge may have
// happened outside it.
func (s *subscriptionService) commitTrialConversion(ctx context.Context, id string, p *plan.Plan, amount decimal.Decimal, at time.Time, transactionID string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if transactionID != "" && sub.LastTransactionID == transactionID {
		s.Logger.Infow("conversion already committed for transaction, skipping",
			"subscription_id", id,
			"transaction_id", transactionID,
		)
		return sub, nil
	}
	if !sub.IsTrialing() {
		return nil, ierr.NewErrorf("subscription is %s, only trials can convert", sub.SubscriptionStatus).
			WithReportableDetails(map[string]any{"subscription_id": id}).
			Mark(ierr.ErrInvalidOperation)
	}

	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.TrialEnd = &at
	sub.CurrentPeriodStart = at
	sub.CurrentPeriodEnd = types.NextBillingDate(at, p.Price.BillingPeriod, p.Price.BillingPeriodCount)
	sub.UsageCount = decimal.Zero
	if transactionID != "" {
		sub.LastTransactionID = transactionID
	}

	updated, err := s.SubRepo.Update(ctx, sub)
	if err != nil {
		return nil, err
	}

	if transactionID != "" {
		if err := s.recordCardCapture(ctx, updated, p, amount, transactionID); err != nil {
			return nil, err
		}
	}
	if updated.BillingType == types.BillingTypeInvoice {
		invoiceService := NewInvoiceService(s.ServiceParams)
		if _, err := invoiceService.CreateForPeriod(ctx, CreateInvoiceParams{
			Subscription: updated,
			Plan:         p,
			Amount:       amount,
			PeriodStart:  updated.CurrentPeriodStart,
			PeriodEnd:    updated.CurrentPeriodEnd,
		}); err != nil {
			return nil, err
		}
	}

	// Widen from the trial's entitlement subset to the full plan set
	if _, err := s.entitlement.GrantForPlan(ctx, updated, p, p.Entitlements, false); err != nil {
		return nil, err
	}

	s.publish(ctx, types.EventTrialConverted, updated.ID, map[string]any{
		"trial_intent": updated.TrialIntent,
	})
	s.publish(ctx, types.EventSubscriptionActivated, updated.ID, map[string]any{
		"period_end": updated.CurrentPeriodEnd,
	})
	return updated, nil
}

func (s *subscriptionService) ChangePlan(ctx context.Context, id string, req *dto.ChangePlanRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var changed *subscription.Subscription
	var decision *planChangeDecision

	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !sub.SubscriptionStatus.HasAccess() || sub.IsTrialing() {
			return ierr.NewErrorf("subscription is %s and cannot change plans", sub.SubscriptionStatus).
				WithHint("Convert the trial or recover the subscription first").
				Mark(ierr.ErrInvalidOperation)
		}

		oldPlan, err := s.PlanRepo.GetVersion(ctx, sub.PlanID, sub.PlanVersion)
		if err != nil {
			return err
		}
		newPlan, err := s.PlanRepo.Get(ctx, req.PlanID)
		if err != nil {
			return err
		}
		if newPlan.ID == oldPlan.ID && newPlan.Version == oldPlan.Version {
			changed = sub
			return nil
		}
		if newPlan.Price.Currency != oldPlan.Price.Currency {
			return ierr.NewError("plans must share a currency to change between them").
				WithReportableDetails(map[string]any{
					"old_currency": oldPlan.Price.Currency,
					"new_currency": newPlan.Price.Currency,
				}).
				Mark(ierr.ErrInvalidOperation)
		}

		oldAmount, err := s.pricing.CalculateAmount(&oldPlan.Price, sub.SeatCount, sub.UsageCount, sub.DiscountPercent)
		if err != nil {
			return err
		}
		newAmount, err := s.pricing.CalculateAmount(&newPlan.Price, sub.SeatCount, sub.UsageCount, sub.DiscountPercent)
		if err != nil {
			return err
		}

		behavior := req.ProrationBehavior
		if behavior == "" {
			behavior = types.ProrationBehaviorImmediateProrate
		}
		now := time.Now().UTC()
		result, err := s.proration.Calculate(ProrationParams{
			OldAmount:   oldAmount,
			NewAmount:   newAmount,
			PeriodStart: sub.CurrentPeriodStart,
			PeriodEnd:   sub.CurrentPeriodEnd,
			ChangeAt:    now,
			Behavior:    behavior,
		})
		if err != nil {
			return err
		}

		oldKeys := entitlementKeys(oldPlan)
		var toRevoke []string
		for _, key := range oldKeys {
			if newPlan.EntitlementByKey(key) == nil {
				toRevoke = append(toRevoke, key)
			}
		}

		d := &planChangeDecision{
			oldPlan:     oldPlan,
			newPlan:     newPlan,
			result:      result,
			behavior:    behavior,
			at:          now,
			resetPeriod: req.ResetPeriod,
			toRevoke:    toRevoke,
		}
		if newPlan.BillingType != types.BillingTypeInvoice && result.NetAmount.IsPositive() {
			d.charge = &payment.ChargeRequest{
				SubscriptionID: sub.ID,
				CustomerID:     sub.CustomerID,
				Amount:         result.NetAmount,
				Currency:       newPlan.Price.Currency,
				IdempotencyKey: chargeIdempotencyKey(sub.ID, now),
			}
			decision = d
			return nil
		}

		changed, err = s.commitPlanChange(ctx, id, d, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return dto.NewSubscriptionResponse(changed), nil
	}

	// Gateway round-trip outside the lock, committed on re-entry
	chargeResult, err := s.chargeWithRetry(ctx, decision.charge)
	if err != nil {
		return nil, err
	}
	if !chargeResult.Success {
		return nil, ierr.NewError("plan change payment was declined").
			WithHint("Use a different payment method and try again").
			WithReportableDetails(map[string]any{"error_code": chargeResult.ErrorCode}).
			Mark(ierr.ErrInvalidOperation)
	}

	err = s.SubLocks.WithLock(id, func() error {
		var commitErr error
		changed, commitErr = s.commitPlanChange(ctx, id, decision, chargeResult.TransactionID)
		return commitErr
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(changed), nil
}

// planChangeDecision carries the proration snapshot from validation to the
// post-charge commit.
type planChangeDecision struct {
	oldPlan     *plan.Plan
	newPlan     *plan.Plan
	result      *ProrationResult
	behavior    types.ProrationBehavior
	at          time.Time
	resetPeriod bool
	toRevoke    []string
	charge      *payment.ChargeRequest
}

// commitPlanChange applies the plan switch and its settlement. Caller holds
// the lock. Reloads the subscription because a charge may have happened
// outside it.
func (s *subscriptionService) commitPlanChange(ctx context.Context, id string, d *planChangeDecision, transactionID string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if transactionID != "" && sub.LastTransactionID == transactionID {
		s.Logger.Infow("plan change already committed for transaction, skipping",
			"subscription_id", id,
			"transaction_id", transactionID,
		)
		return sub, nil
	}
	if !sub.SubscriptionStatus.HasAccess() || sub.IsTrialing() {
		return nil, ierr.NewErrorf("subscription is %s and cannot change plans", sub.SubscriptionStatus).
			WithHint("Convert the trial or recover the subscription first").
			Mark(ierr.ErrInvalidOperation)
	}

	sub.PlanID = d.newPlan.ID
	sub.PlanVersion = d.newPlan.Version
	sub.BillingType = d.newPlan.BillingType
	if d.resetPeriod {
		sub.CurrentPeriodStart = d.at
		sub.CurrentPeriodEnd = types.NextBillingDate(d.at, d.newPlan.Price.BillingPeriod, d.newPlan.Price.BillingPeriodCount)
		sub.UsageCount = decimal.Zero
	}

	if transactionID != "" {
		sub.LastTransactionID = transactionID
	} else if err := s.settlePlanChange(ctx, sub, d.newPlan, d.result, d.at); err != nil {
		return nil, err
	}

	updated, err := s.SubRepo.Update(ctx, sub)
	if err != nil {
		return nil, err
	}

	if transactionID != "" {
		if err := s.recordCardCapture(ctx, updated, d.newPlan, d.result.NetAmount, transactionID); err != nil {
			return nil, err
		}
	}

	if len(d.toRevoke) > 0 {
		if err := s.entitlement.RevokeKeys(ctx, updated.ID, d.toRevoke); err != nil {
			return nil, err
		}
	}
	if _, err := s.entitlement.GrantForPlan(ctx, updated, d.newPlan, d.newPlan.Entitlements, false); err != nil {
		return nil, err
	}

	s.publish(ctx, types.EventPlanChanged, updated.ID, map[string]any{
		"old_plan_id": d.oldPlan.ID,
		"new_plan_id": d.newPlan.ID,
		"net_amount":  d.result.NetAmount.String(),
		"behavior":    string(d.behavior),
	})
	return updated, nil
}

// settlePlanChange books the proration net for paths that settle without a
// card capture. Invoice-billed subscriptions get the charge and credit as
// invoice lines; a negative net on a card-billed subscription is refunded
// against the last capture. Positive card nets are charged outside the lock
// and committed with their transaction id instead. Caller holds the lock.
func (s *subscriptionService) settlePlanChange(ctx context.Context, sub *subscription.Subscription, newPlan *plan.Plan, result *ProrationResult, now time.Time) error {
	if result.NetAmount.IsZero() {
		return nil
	}

	if sub.BillingType == types.BillingTypeInvoice {
		var lines []*invoice.LineItem
		if result.ChargeAmount.IsPositive() {
			lines = append(lines, prorationLine(ctx, sub, "Plan change: prorated charge", result.ChargeAmount, newPlan.Price.Currency, now, sub.CurrentPeriodEnd))
		}
		if result.CreditAmount.IsPositive() {
			lines = append(lines, prorationLine(ctx, sub, "Plan change: unused time credit", result.CreditAmount.Neg(), newPlan.Price.Currency, now, sub.CurrentPeriodEnd))
		}
		if len(lines) == 0 {
			return nil
		}
		first := lines[0]
		rest := lines[1:]
		invoiceService := NewInvoiceService(s.ServiceParams)
		_, err := invoiceService.CreateForPeriod(ctx, CreateInvoiceParams{
			Subscription: sub,
			Plan:         newPlan,
			Amount:       first.Amount,
			PeriodStart:  now,
			PeriodEnd:    sub.CurrentPeriodEnd,
			Description:  first.Description,
			ExtraLines:   rest,
		})
		return err
	}

	if result.NetAmount.IsPositive() {
		return nil
	}

	// Negative net: return the difference against the last capture
	if sub.LastTransactionID == "" {
		s.Logger.Warnw("no prior transaction to refund plan-change credit against",
			"subscription_id", sub.ID,
			"credit", result.NetAmount.Abs().String(),
		)
		return nil
	}
	refundAmount := result.NetAmount.Abs()
	refund, err := s.PaymentGateway.Refund(ctx, sub.LastTransactionID, &refundAmount)
	if err != nil {
		return err
	}
	if refund.Success {
		s.publish(ctx, types.EventPaymentRefunded, sub.ID, map[string]any{
			"transaction_id": sub.LastTransactionID,
			"amount":         refundAmount.String(),
		})
	}
	return nil
}

func (s *subscriptionService) Cancel(ctx context.Context, id string, req *dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var canceled *subscription.Subscription
	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if sub.SubscriptionStatus.IsTerminal() || sub.SubscriptionStatus == types.SubscriptionStatusCanceled {
			return ierr.NewErrorf("subscription is already %s", sub.SubscriptionStatus).
				Mark(ierr.ErrInvalidOperation)
		}

		now := time.Now().UTC()
		sub.CanceledAt = &now

		if req.CancellationType == types.CancellationTypeImmediate {
			sub.SubscriptionStatus = types.SubscriptionStatusCanceled
			sub.EndedAt = &now
			sub.CancelAtPeriodEnd = false
		} else {
			// Access continues until the period lapses; the expiry sweep
			// finishes the job
			sub.CancelAtPeriodEnd = true
		}

		updated, err := s.SubRepo.Update(ctx, sub)
		if err != nil {
			return err
		}

		if req.CancellationType == types.CancellationTypeImmediate {
			if err := s.entitlement.RevokeForSubscription(ctx, updated.ID); err != nil {
				return err
			}
		}

		s.publish(ctx, types.EventSubscriptionCanceled, updated.ID, map[string]any{
			"cancellation_type": string(req.CancellationType),
			"reason":            req.Reason,
			"effective_at":      cancellationEffectiveAt(updated, req.CancellationType),
		})

		canceled = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(canceled), nil
}

func (s *subscriptionService) Pause(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	var paused *subscription.Subscription
	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if sub.SubscriptionStatus != types.SubscriptionStatusActive {
			return ierr.NewErrorf("only active subscriptions can pause, got %s", sub.SubscriptionStatus).
				Mark(ierr.ErrInvalidOperation)
		}

		now := time.Now().UTC()
		sub.SubscriptionStatus = types.SubscriptionStatusPaused
		sub.PausedAt = &now

		updated, err := s.SubRepo.Update(ctx, sub)
		if err != nil {
			return err
		}
		if err := s.entitlement.RevokeForSubscription(ctx, updated.ID); err != nil {
			return err
		}

		s.publish(ctx, types.EventSubscriptionPaused, updated.ID, nil)
		paused = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(paused), nil
}

func (s *subscriptionService) Resume(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	var resumed *subscription.Subscription
	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if sub.SubscriptionStatus != types.SubscriptionStatusPaused || sub.PausedAt == nil {
			return ierr.NewErrorf("subscription is %s, not paused", sub.SubscriptionStatus).
				Mark(ierr.ErrInvalidOperation)
		}

		// The customer already paid for the full period, so the pause
		// duration extends it
		now := time.Now().UTC()
		pausedFor := now.Sub(*sub.PausedAt)
		sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.Add(pausedFor)
		sub.SubscriptionStatus = types.SubscriptionStatusActive
		sub.PausedAt = nil

		updated, err := s.SubRepo.Update(ctx, sub)
		if err != nil {
			return err
		}

		p, err := s.PlanRepo.GetVersion(ctx, updated.PlanID, updated.PlanVersion)
		if err != nil {
			return err
		}
		if _, err := s.entitlement.GrantForPlan(ctx, updated, p, p.Entitlements, false); err != nil {
			return err
		}

		s.publish(ctx, types.EventSubscriptionResumed, updated.ID, map[string]any{
			"paused_for_seconds": int64(pausedFor.Seconds()),
			"period_end":         updated.CurrentPeriodEnd,
		})
		resumed = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(resumed), nil
}

func (s *subscriptionService) Suspend(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	var suspended *subscription.Subscription
	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if sub.SubscriptionStatus.IsTerminal() || sub.SubscriptionStatus == types.SubscriptionStatusSuspended {
			return ierr.NewErrorf("subscription is %s and cannot be suspended", sub.SubscriptionStatus).
				Mark(ierr.ErrInvalidOperation)
		}

		sub.StatusBeforeSuspension = sub.SubscriptionStatus
		sub.SubscriptionStatus = types.SubscriptionStatusSuspended

		updated, err := s.SubRepo.Update(ctx, sub)
		if err != nil {
			return err
		}
		if err := s.entitlement.RevokeForSubscription(ctx, updated.ID); err != nil {
			return err
		}

		s.publish(ctx, types.EventSubscriptionSuspended, updated.ID, map[string]any{
			"previous_status": string(updated.StatusBeforeSuspension),
		})
		suspended = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(suspended), nil
}

func (s *subscriptionService) Unsuspend(ctx context.Context, id string) (*dto.SubscriptionResponse, error) {
	var restored *subscription.Subscription
	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if sub.SubscriptionStatus != types.SubscriptionStatusSuspended {
			return ierr.NewErrorf("subscription is %s, not suspended", sub.SubscriptionStatus).
				Mark(ierr.ErrInvalidOperation)
		}

		previous := sub.StatusBeforeSuspension
		if previous == "" {
			previous = types.SubscriptionStatusActive
		}
		sub.SubscriptionStatus = previous
		sub.StatusBeforeSuspension = ""

		updated, err := s.SubRepo.Update(ctx, sub)
		if err != nil {
			return err
		}

		if updated.SubscriptionStatus.HasAccess() {
			p, err := s.PlanRepo.GetVersion(ctx, updated.PlanID, updated.PlanVersion)
			if err != nil {
				return err
			}
			defs := p.Entitlements
			trialScoped := false
			if updated.IsTrialing() {
				defs = p.TrialEntitlements(p.TrialConfigFor(updated.TrialIntent))
				trialScoped = true
			}
			if _, err := s.entitlement.GrantForPlan(ctx, updated, p, defs, trialScoped); err != nil {
				return err
			}
		}

		s.publish(ctx, types.EventSubscriptionUpdated, updated.ID, map[string]any{
			"subscription_status": string(updated.SubscriptionStatus),
		})
		restored = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(restored), nil
}

func (s *subscriptionService) UpdateSeats(ctx context.Context, id string, req *dto.UpdateSeatsRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var updated *subscription.Subscription
	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !sub.SubscriptionStatus.HasAccess() {
			return ierr.NewErrorf("subscription is %s and cannot change seats", sub.SubscriptionStatus).
				Mark(ierr.ErrInvalidOperation)
		}

		if sub.IsTrialing() {
			p, err := s.PlanRepo.GetVersion(ctx, sub.PlanID, sub.PlanVersion)
			if err != nil {
				return err
			}
			if cfg := p.TrialConfigFor(sub.TrialIntent); cfg != nil && cfg.SeatLimit > 0 && req.SeatCount > cfg.SeatLimit {
				return ierr.NewErrorf("trial is limited to %d seats", cfg.SeatLimit).
					WithReportableDetails(map[string]any{"requested": req.SeatCount}).
					Mark(ierr.ErrInvalidOperation)
			}
		}

		seats, err := s.SubRepo.ListSeats(ctx, sub.ID)
		if err != nil {
			return err
		}
		if len(seats) > req.SeatCount {
			return ierr.NewErrorf("%d seats are assigned, cannot reduce to %d", len(seats), req.SeatCount).
				WithHint("Unassign seats before reducing the seat count").
				Mark(ierr.ErrInvalidOperation)
		}

		// The new count is billed from the next period
		sub.SeatCount = req.SeatCount
		updated, err = s.SubRepo.Update(ctx, sub)
		if err != nil {
			return err
		}

		s.publish(ctx, types.EventSubscriptionUpdated, updated.ID, map[string]any{
			"seat_count": updated.SeatCount,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(updated), nil
}

func (s *subscriptionService) RecordUsage(ctx context.Context, id string, req *dto.RecordUsageRequest) (*dto.SubscriptionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var updated *subscription.Subscription
	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !sub.SubscriptionStatus.HasAccess() {
			return ierr.NewErrorf("subscription is %s and cannot record usage", sub.SubscriptionStatus).
				Mark(ierr.ErrInvalidOperation)
		}

		sub.UsageCount = sub.UsageCount.Add(req.Quantity)
		updated, err = s.SubRepo.Update(ctx, sub)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(updated), nil
}

func (s *subscriptionService) AddMember(ctx context.Context, id string, req *dto.AddMemberRequest) (*subscription.Member, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.SubscriptionStatus.HasAccess() {
		return nil, ierr.NewErrorf("subscription is %s and cannot add members", sub.SubscriptionStatus).
			Mark(ierr.ErrInvalidOperation)
	}

	members, err := s.SubRepo.ListMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.SeatCount > 0 && len(members) >= sub.SeatCount {
		return nil, ierr.NewErrorf("subscription has %d seats and they are all taken", sub.SeatCount).
			WithHint("Increase the seat count to add more members").
			Mark(ierr.ErrInvalidOperation)
	}

	member := &subscription.Member{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_MEMBER),
		SubscriptionID: id,
		UserID:         req.UserID,
		Role:           req.Role,
		JoinedAt:       time.Now().UTC(),
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
	return s.SubRepo.AddMember(ctx, member)
}

func (s *subscriptionService) RemoveMember(ctx context.Context, id string, userID string) error {
	return s.SubRepo.RemoveMember(ctx, id, userID)
}

func (s *subscriptionService) ListMembers(ctx context.Context, id string) ([]*subscription.Member, error) {
	return s.SubRepo.ListMembers(ctx, id)
}

// renewalDecision is what the pre-charge lock section hands to the charge
// loop outside it
type renewalDecision struct {
	skip     bool
	charge   *payment.ChargeRequest
	planSnap *plan.Plan
	amount   decimal.Decimal
}

func (s *subscriptionService) ProcessRenewal(ctx context.Context, id string, asOf time.Time) error {
	var decision renewalDecision

	err := s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}

		switch {
		case sub.CurrentPeriodEnd.After(asOf):
			decision.skip = true
			return nil
		case sub.CancelAtPeriodEnd:
			return s.expire(ctx, sub, types.EventSubscriptionExpired)
		case sub.IsTrialing():
			// Unconverted trials lapse rather than silently becoming paid
			return s.expire(ctx, sub, types.EventTrialExpired)
		case sub.SubscriptionStatus != types.SubscriptionStatusActive &&
			sub.SubscriptionStatus != types.SubscriptionStatusPastDue:
			decision.skip = true
			return nil
		}

		p, err := s.PlanRepo.GetVersion(ctx, sub.PlanID, sub.PlanVersion)
		if err != nil {
			return err
		}
		amount, err := s.pricing.CalculateAmount(&p.Price, sub.SeatCount, sub.UsageCount, sub.DiscountPercent)
		if err != nil {
			return err
		}

		if sub.BillingType == types.BillingTypeInvoice {
			return s.renewOnInvoice(ctx, sub, p, amount)
		}
		if amount.IsZero() {
			return s.commitRenewalSuccess(ctx, sub.ID, p, amount, "")
		}

		decision.planSnap = p
		decision.amount = amount
		decision.charge = &payment.ChargeRequest{
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			Amount:         amount,
			Currency:       p.Price.Currency,
			IdempotencyKey: chargeIdempotencyKey(sub.ID, sub.CurrentPeriodEnd),
		}
		return nil
	})
	if err != nil || decision.skip || decision.charge == nil {
		return err
	}

	// The gateway round-trip happens outside the lock so a slow rail never
	// serializes unrelated operations on this subscription behind it
	result, err := s.chargeWithRetry(ctx, decision.charge)
	if err != nil {
		s.Logger.Errorw("renewal charge failed after retries",
			"subscription_id", id,
			"error", err,
		)
		return err
	}

	if result.Success {
		return s.SubLocks.WithLock(id, func() error {
			return s.commitRenewalSuccess(ctx, id, decision.planSnap, decision.amount, result.TransactionID)
		})
	}
	return s.ProcessPaymentFailure(ctx, id, result.ErrorCode)
}

// renewOnInvoice advances the period and bills it with an invoice; access
// continues while the invoice is within terms. Caller holds the lock.
func (s *subscriptionService) renewOnInvoice(ctx context.Context, sub *subscription.Subscription, p *plan.Plan, amount decimal.Decimal) error {
	start := sub.CurrentPeriodEnd
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = types.NextBillingDate(start, p.Price.BillingPeriod, p.Price.BillingPeriodCount)
	sub.UsageCount = decimal.Zero

	updated, err := s.SubRepo.Update(ctx, sub)
	if err != nil {
		return err
	}

	invoiceService := NewInvoiceService(s.ServiceParams)
	if _, err := invoiceService.CreateForPeriod(ctx, CreateInvoiceParams{
		Subscription: updated,
		Plan:         p,
		Amount:       amount,
		PeriodStart:  updated.CurrentPeriodStart,
		PeriodEnd:    updated.CurrentPeriodEnd,
	}); err != nil {
		return err
	}

	s.publish(ctx, types.EventSubscriptionUpdated, updated.ID, map[string]any{
		"period_start": updated.CurrentPeriodStart,
		"period_end":   updated.CurrentPeriodEnd,
	})
	return nil
}

// commitRenewalSuccess rolls the period forward after a settled capture.
// Caller holds the lock. Reloads the subscription because the charge
// happened outside it.
func (s *subscriptionService) commitRenewalSuccess(ctx context.Context, id string, p *plan.Plan, amount decimal.Decimal, transactionID string) error {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	if transactionID != "" && sub.LastTransactionID == transactionID {
		s.Logger.Infow("renewal already committed for transaction, skipping",
			"subscription_id", id,
			"transaction_id", transactionID,
		)
		return nil
	}

	wasInDunning := sub.DunningStatus != types.DunningStatusNone
	start := sub.CurrentPeriodEnd
	sub.CurrentPeriodStart = start
	sub.CurrentPeriodEnd = types.NextBillingDate(start, p.Price.BillingPeriod, p.Price.BillingPeriodCount)
	sub.UsageCount = decimal.Zero
	sub.SubscriptionStatus = types.SubscriptionStatusActive
	sub.DunningStatus = types.DunningStatusNone
	sub.FailedPaymentCount = 0
	if transactionID != "" {
		sub.LastTransactionID = transactionID
	}

	updated, err := s.SubRepo.Update(ctx, sub)
	if err != nil {
		return err
	}

	if transactionID != "" {
		if err := s.recordCardCapture(ctx, updated, p, amount, transactionID); err != nil {
			return err
		}
		s.publish(ctx, types.EventPaymentSucceeded, updated.ID, map[string]any{
			"transaction_id": transactionID,
			"amount":         amount.String(),
		})
	}
	if wasInDunning {
		if _, err := s.entitlement.GrantForPlan(ctx, updated, p, p.Entitlements, false); err != nil {
			return err
		}
		s.publish(ctx, types.EventDunningRecovered, updated.ID, nil)
	}

	s.publish(ctx, types.EventSubscriptionUpdated, updated.ID, map[string]any{
		"period_start": updated.CurrentPeriodStart,
		"period_end":   updated.CurrentPeriodEnd,
	})
	return nil
}

func (s *subscriptionService) ProcessPaymentSuccess(ctx context.Context, id string, transactionID string, advancePeriod bool) error {
	return s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if transactionID != "" && sub.LastTransactionID == transactionID {
			s.Logger.Infow("payment success already processed, skipping",
				"subscription_id", id,
				"transaction_id", transactionID,
			)
			return nil
		}

		p, err := s.PlanRepo.GetVersion(ctx, sub.PlanID, sub.PlanVersion)
		if err != nil {
			return err
		}

		wasInDunning := sub.DunningStatus != types.DunningStatusNone ||
			sub.SubscriptionStatus == types.SubscriptionStatusPastDue ||
			sub.SubscriptionStatus == types.SubscriptionStatusUnpaid

		reset := s.dunning.ResetStep()
		sub.DunningStatus = reset.DunningStatus
		sub.FailedPaymentCount = reset.FailedCount
		if sub.SubscriptionStatus == types.SubscriptionStatusPastDue ||
			sub.SubscriptionStatus == types.SubscriptionStatusUnpaid {
			sub.SubscriptionStatus = reset.SubscriptionStatus
		}
		if advancePeriod {
			start := sub.CurrentPeriodEnd
			sub.CurrentPeriodStart = start
			sub.CurrentPeriodEnd = types.NextBillingDate(start, p.Price.BillingPeriod, p.Price.BillingPeriodCount)
			sub.UsageCount = decimal.Zero
		}
		sub.LastTransactionID = transactionID

		updated, err := s.SubRepo.Update(ctx, sub)
		if err != nil {
			return err
		}

		s.publish(ctx, types.EventPaymentSucceeded, updated.ID, map[string]any{
			"transaction_id": transactionID,
		})
		if wasInDunning {
			if _, err := s.entitlement.GrantForPlan(ctx, updated, p, p.Entitlements, false); err != nil {
				return err
			}
			s.publish(ctx, types.EventDunningRecovered, updated.ID, nil)
			s.publish(ctx, types.EventSubscriptionActivated, updated.ID, nil)
		}
		return nil
	})
}

func (s *subscriptionService) ProcessPaymentFailure(ctx context.Context, id string, errorCode string) error {
	return s.SubLocks.WithLock(id, func() error {
		sub, err := s.SubRepo.Get(ctx, id)
		if err != nil {
			return err
		}
		if sub.SubscriptionStatus.IsTerminal() {
			return nil
		}

		step := s.dunning.NextStep(sub.FailedPaymentCount + 1)
		sub.FailedPaymentCount = step.FailedCount
		sub.DunningStatus = step.DunningStatus
		sub.SubscriptionStatus = step.SubscriptionStatus

		updated, err := s.SubRepo.Update(ctx, sub)
		if err != nil {
			return err
		}

		if step.RevokeEntitlements {
			if err := s.entitlement.RevokeForSubscription(ctx, updated.ID); err != nil {
				return err
			}
		}

		s.publish(ctx, types.EventPaymentFailed, updated.ID, map[string]any{
			"error_code":   errorCode,
			"failed_count": updated.FailedPaymentCount,
		})
		if step.Terminal {
			s.publish(ctx, types.EventDunningTerminated, updated.ID, map[string]any{
				"failed_count": updated.FailedPaymentCount,
			})
		} else {
			s.publish(ctx, types.EventDunningEscalated, updated.ID, map[string]any{
				"dunning_status": string(updated.DunningStatus),
				"failed_count":   updated.FailedPaymentCount,
			})
		}

		s.sendDunningEmail(ctx, updated, step)
		return nil
	})
}

func (s *subscriptionService) sendDunningEmail(ctx context.Context, sub *subscription.Subscription, step DunningStep) {
	if step.EmailTemplate == "" || s.EmailService == nil {
		return
	}
	to := sub.Metadata["billing_email"]
	if to == "" {
		return
	}
	subject := "Payment failed: action required"
	if step.Terminal {
		subject = "Your subscription has been suspended"
	}
	if _, err := s.EmailService.SendTemplate(ctx, email.SendTemplateRequest{
		ToAddress:    to,
		Subject:      subject,
		TemplateName: step.EmailTemplate,
		Data: map[string]any{
			"subscription_id": sub.ID,
			"attempt":         sub.FailedPaymentCount,
			"max_attempts":    s.dunning.MaxAttempts(),
		},
	}); err != nil {
		s.Logger.Warnw("dunning email send failed",
			"subscription_id", sub.ID,
			"template", step.EmailTemplate,
			"error", err,
		)
	}
}

// expire finishes a subscription. Caller holds the lock.
func (s *subscriptionService) expire(ctx context.Context, sub *subscription.Subscription, event types.EventName) error {
	now := time.Now().UTC()
	sub.SubscriptionStatus = types.SubscriptionStatusExpired
	if sub.EndedAt == nil {
		sub.EndedAt = &now
	}

	updated, err := s.SubRepo.Update(ctx, sub)
	if err != nil {
		return err
	}
	if err := s.entitlement.RevokeForSubscription(ctx, updated.ID); err != nil {
		return err
	}

	s.publish(ctx, event, updated.ID, map[string]any{
		"ended_at": now,
	})
	return nil
}

func (s *subscriptionService) RenewalSweep(ctx context.Context, asOf time.Time) (int, error) {
	due, err := s.SubRepo.ListDueForRenewal(ctx, asOf)
	if err != nil {
		return 0, err
	}

	var processed atomic.Int64
	workers := pool.New().WithMaxGoroutines(sweepConcurrency)
	for _, sub := range due {
		id := sub.ID
		workers.Go(func() {
			if err := s.ProcessRenewal(ctx, id, asOf); err != nil {
				s.Logger.Errorw("renewal failed",
					"subscription_id", id,
					"error", err,
				)
				return
			}
			processed.Add(1)
		})
	}
	workers.Wait()

	s.Logger.Infow("renewal sweep finished",
		"due", len(due),
		"processed", processed.Load(),
	)
	return int(processed.Load()), nil
}

func (s *subscriptionService) ExpirySweep(ctx context.Context, asOf time.Time) (int, error) {
	pending, err := s.SubRepo.ListPendingExpiry(ctx, asOf)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range pending {
		id := sub.ID
		err := s.SubLocks.WithLock(id, func() error {
			current, err := s.SubRepo.Get(ctx, id)
			if err != nil {
				return err
			}
			if current.SubscriptionStatus.IsTerminal() || current.CurrentPeriodEnd.After(asOf) {
				return nil
			}
			if !current.CancelAtPeriodEnd && current.SubscriptionStatus != types.SubscriptionStatusCanceled {
				return nil
			}
			return s.expire(ctx, current, types.EventSubscriptionExpired)
		})
		if err != nil {
			s.Logger.Errorw("expiry failed",
				"subscription_id", id,
				"error", err,
			)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *subscriptionService) TrialNoticeSweep(ctx context.Context, asOf time.Time) (int, error) {
	if s.EmailService == nil {
		return 0, nil
	}
	ending, err := s.SubRepo.ListTrialsEndingBy(ctx, asOf, asOf.AddDate(0, 0, trialNoticeLeadDays))
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, sub := range ending {
		id := sub.ID
		err := s.SubLocks.WithLock(id, func() error {
			current, err := s.SubRepo.Get(ctx, id)
			if err != nil {
				return err
			}
			if !current.IsTrialing() || current.Metadata[metadataTrialNoticeSent] == "true" {
				return nil
			}
			to := current.Metadata["billing_email"]
			if to == "" {
				return nil
			}

			if _, err := s.EmailService.SendTemplate(ctx, email.SendTemplateRequest{
				ToAddress:    to,
				Subject:      "Your trial is ending soon",
				TemplateName: "trial-ending.html",
				Data: map[string]any{
					"subscription_id": current.ID,
					"days_remaining":  current.TrialDaysRemaining(asOf),
				},
			}); err != nil {
				return err
			}

			if current.Metadata == nil {
				current.Metadata = map[string]string{}
			}
			current.Metadata[metadataTrialNoticeSent] = "true"
			if _, err := s.SubRepo.Update(ctx, current); err != nil {
				return err
			}
			notified++
			return nil
		})
		if err != nil {
			s.Logger.Warnw("trial notice failed",
				"subscription_id", id,
				"error", err,
			)
		}
	}
	return notified, nil
}

// recordCardCapture writes the revenue-share split for a gateway capture.
// Duplicate transaction ids are tolerated so a replayed commit cannot create
// a second split.
func (s *subscriptionService) recordCardCapture(ctx context.Context, sub *subscription.Subscription, p *plan.Plan, gross decimal.Decimal, transactionID string) error {
	if _, err := s.RevenueShareRepo.GetByTransactionID(ctx, transactionID); err == nil {
		return nil
	} else if !ierr.IsNotFound(err) {
		return err
	}

	share := revenueshare.New(sub.ID, "", transactionID, sub.VendorID,
		p.Price.Currency, gross, p.PlatformFeePercent, revenueshare.SourceCardCapture)
	share.BaseModel = types.GetDefaultBaseModel(ctx)
	if err := share.Validate(); err != nil {
		return err
	}
	if _, err := s.RevenueShareRepo.Create(ctx, share); err != nil && !ierr.IsAlreadyExists(err) {
		return err
	}

	s.publish(ctx, types.EventRevenueShareCreated, share.ID, map[string]any{
		"gross_amount":  share.GrossAmount.String(),
		"platform_fee":  share.PlatformFee.String(),
		"vendor_amount": share.VendorAmount.String(),
	})
	return nil
}

// chargeWithRetry retries transport failures with exponential backoff.
// Declines come back as a non-success result and are never retried here.
func (s *subscriptionService) chargeWithRetry(ctx context.Context, req *payment.ChargeRequest) (*payment.ChargeResult, error) {
	operation := func() (*payment.ChargeResult, error) {
		return s.PaymentGateway.Charge(ctx, req)
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.Config.Billing.GatewayMaxRetries),
		ctx,
	)
	return backoff.RetryWithData(operation, policy)
}

func chargeIdempotencyKey(subscriptionID string, periodStart time.Time) string {
	return fmt.Sprintf("%s-%d", subscriptionID, periodStart.Unix())
}

func prorationLine(ctx context.Context, sub *subscription.Subscription, description string, amount decimal.Decimal, currency string, start, end time.Time) *invoice.LineItem {
	return &invoice.LineItem{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM),
		SubscriptionID: sub.ID,
		Description:    description,
		Quantity:       decimal.NewFromInt(1),
		UnitPrice:      amount,
		Amount:         amount,
		Currency:       currency,
		Proration:      true,
		PeriodStart:    &start,
		PeriodEnd:      &end,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}
}

func cancellationEffectiveAt(sub *subscription.Subscription, ct types.CancellationType) time.Time {
	if ct == types.CancellationTypeImmediate && sub.EndedAt != nil {
		return *sub.EndedAt
	}
	return sub.CurrentPeriodEnd
}

func entitlementKeys(p *plan.Plan) []string {
	keys := make([]string, 0, len(p.Entitlements))
	for _, def := range p.Entitlements {
		keys = append(keys, def.Key)
	}
	return keys
}
