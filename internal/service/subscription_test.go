package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/subkernel/subkernel/internal/api/dto"
	"github.com/subkernel/subkernel/internal/domain/plan"
	"github.com/subkernel/subkernel/internal/domain/subscription"
	"github.com/subkernel/subkernel/internal/email"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/testutil"
	"github.com/subkernel/subkernel/internal/types"
)

type SubscriptionServiceSuite struct {
	testutil.BaseServiceTestSuite
	service SubscriptionService
	params  ServiceParams

	proPlan     *plan.Plan
	premiumPlan *plan.Plan
}

func TestSubscriptionService(t *testing.T) {
	suite.Run(t, new(SubscriptionServiceSuite))
}

func (s *SubscriptionServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.params = ServiceParams{
		Logger:           s.GetLogger(),
		Config:           s.GetConfig(),
		PlanRepo:         s.GetStores().Plans,
		SubRepo:          s.GetStores().Subscriptions,
		EntitlementRepo:  s.GetStores().Entitlements,
		InvoiceRepo:      s.GetStores().Invoices,
		RevenueShareRepo: s.GetStores().RevenueShares,
		PaymentGateway:   s.GetGateway(),
		CredentialLookup: s.GetLookup(),
		EventPublisher:   s.GetPublisher(),
		Cache:            s.GetCache(),
		SubLocks:         s.GetSubscriptionLocks(),
	}
	s.service = NewSubscriptionService(s.params)
	s.seedPlans()
}

func (s *SubscriptionServiceSuite) seedPlans() {
	ctx := s.GetContext()

	pro := &plan.Plan{
		ID:       "plan_pro",
		Name:     "Pro",
		VendorID: "vendor_1",
		Version:  1,
		Price: plan.PriceConfig{
			Model:              types.PricingModelFlat,
			Currency:           "USD",
			Amount:             decimal.NewFromInt(30),
			BillingPeriod:      types.BILLING_PERIOD_MONTHLY,
			BillingPeriodCount: 1,
		},
		BillingType:        types.BillingTypeImmediate,
		PlatformFeePercent: decimal.NewFromInt(10),
		TrialConfigs: map[string]plan.TrialConfig{
			"standard": {
				Intent:          "standard",
				DurationDays:    14,
				EntitlementKeys: []string{"reports"},
				SeatLimit:       2,
			},
		},
		DefaultTrialIntent: "standard",
		Entitlements: []plan.EntitlementDefinition{
			{Key: "reports", Type: types.EntitlementTypeFeature},
			{Key: "analytics", Type: types.EntitlementTypeFeature},
		},
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	created, err := s.GetStores().Plans.Create(ctx, pro)
	s.Require().NoError(err)
	s.proPlan = created

	premium := &plan.Plan{
		ID:       "plan_premium",
		Name:     "Premium",
		VendorID: "vendor_1",
		Version:  1,
		Price: plan.PriceConfig{
			Model:              types.PricingModelFlat,
			Currency:           "USD",
			Amount:             decimal.NewFromInt(60),
			BillingPeriod:      types.BILLING_PERIOD_MONTHLY,
			BillingPeriodCount: 1,
		},
		BillingType:        types.BillingTypeImmediate,
		PlatformFeePercent: decimal.NewFromInt(10),
		Entitlements: []plan.EntitlementDefinition{
			{Key: "reports", Type: types.EntitlementTypeFeature},
			{Key: "premium_support", Type: types.EntitlementTypeFeature},
		},
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	created, err = s.GetStores().Plans.Create(ctx, premium)
	s.Require().NoError(err)
	s.premiumPlan = created
}

func (s *SubscriptionServiceSuite) createDirect() *dto.SubscriptionResponse {
	resp, err := s.service.Create(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.proPlan.ID,
	})
	s.Require().NoError(err)
	return resp
}

// rewindPeriod moves the current period end into the past so renewal and
// expiry sweeps consider the subscription due
func (s *SubscriptionServiceSuite) rewindPeriod(id string, by time.Duration) {
	ctx := s.GetContext()
	sub, err := s.GetStores().Subscriptions.Get(ctx, id)
	s.Require().NoError(err)
	sub.CurrentPeriodStart = sub.CurrentPeriodStart.Add(-by)
	sub.CurrentPeriodEnd = sub.CurrentPeriodEnd.Add(-by)
	if sub.TrialEnd != nil {
		shifted := sub.TrialEnd.Add(-by)
		sub.TrialEnd = &shifted
	}
	_, err = s.GetStores().Subscriptions.Update(ctx, sub)
	s.Require().NoError(err)
}

func (s *SubscriptionServiceSuite) hasEntitlement(userID, key string) bool {
	grant, err := s.GetStores().Entitlements.GetByUserAndKey(s.GetContext(), userID, key)
	if err != nil {
		return false
	}
	return grant.IsActive
}

func (s *SubscriptionServiceSuite) TestCreateDirect() {
	resp := s.createDirect()

	s.Equal(types.SubscriptionStatusActive, resp.SubscriptionStatus)
	s.Equal(1, s.GetGateway().ChargeCount())
	s.NotEmpty(resp.LastTransactionID)
	s.True(resp.CurrentPeriodEnd.After(resp.CurrentPeriodStart))

	s.True(s.hasEntitlement("user_1", "reports"))
	s.True(s.hasEntitlement("user_1", "analytics"))

	shares, err := s.GetStores().RevenueShares.List(s.GetContext())
	s.NoError(err)
	s.Require().Len(shares, 1)
	s.True(shares[0].GrossAmount.Equal(decimal.NewFromInt(30)))
	s.True(shares[0].PlatformFee.Equal(decimal.NewFromInt(3)))
	s.True(shares[0].VendorAmount.Equal(decimal.NewFromInt(27)))

	s.Len(s.GetPublisher().EventsNamed(types.EventSubscriptionActivated), 1)
}

func (s *SubscriptionServiceSuite) TestCreateDeclined() {
	s.GetGateway().DeclineCode = "card_declined"

	_, err := s.service.Create(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.proPlan.ID,
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))

	// Nothing persisted on a declined first charge
	subs, err := s.service.ListByCustomer(s.GetContext(), "cust_1")
	s.NoError(err)
	s.Empty(subs)
}

func (s *SubscriptionServiceSuite) TestCreateWithTrial() {
	resp, err := s.service.Create(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.proPlan.ID,
		SeatCount:  5,
		WithTrial:  true,
	})
	s.Require().NoError(err)

	s.Equal(types.SubscriptionStatusTrialing, resp.SubscriptionStatus)
	s.Equal(0, s.GetGateway().ChargeCount())
	s.Equal(2, resp.SeatCount, "seat count clamps to the trial limit")
	s.Require().NotNil(resp.TrialEnd)
	s.Equal(14, resp.TrialDaysRemaining)

	// Only the trial-scoped subset is granted
	s.True(s.hasEntitlement("user_1", "reports"))
	s.False(s.hasEntitlement("user_1", "analytics"))

	s.Len(s.GetPublisher().EventsNamed(types.EventTrialStarted), 1)
}

func (s *SubscriptionServiceSuite) TestConvertTrial() {
	resp, err := s.service.Create(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.proPlan.ID,
		WithTrial:  true,
	})
	s.Require().NoError(err)

	s.Run("Early Conversion Charges And Widens Entitlements", func() {
		converted, err := s.service.ConvertTrial(s.GetContext(), resp.ID)
		s.NoError(err)
		s.Equal(types.SubscriptionStatusActive, converted.SubscriptionStatus)
		s.Equal(1, s.GetGateway().ChargeCount())
		s.True(s.hasEntitlement("user_1", "analytics"))

		shares, err := s.GetStores().RevenueShares.List(s.GetContext())
		s.NoError(err)
		s.Len(shares, 1)
		s.Len(s.GetPublisher().EventsNamed(types.EventTrialConverted), 1)
	})

	s.Run("Second Conversion Is Rejected", func() {
		_, err := s.service.ConvertTrial(s.GetContext(), resp.ID)
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})
}

func (s *SubscriptionServiceSuite) TestTrialLapsesOnRenewal() {
	resp, err := s.service.Create(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.proPlan.ID,
		WithTrial:  true,
	})
	s.Require().NoError(err)

	s.rewindPeriod(resp.ID, 15*24*time.Hour)
	s.NoError(s.service.ProcessRenewal(s.GetContext(), resp.ID, time.Now().UTC()))

	after, err := s.service.Get(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusExpired, after.SubscriptionStatus)
	s.Equal(0, s.GetGateway().ChargeCount(), "a lapsed trial is never silently charged")
	s.False(s.hasEntitlement("user_1", "reports"))
	s.Len(s.GetPublisher().EventsNamed(types.EventTrialExpired), 1)
}

func (s *SubscriptionServiceSuite) TestProcessRenewal() {
	resp := s.createDirect()
	s.rewindPeriod(resp.ID, 32*24*time.Hour)

	s.Run("Due Subscription Renews", func() {
		s.NoError(s.service.ProcessRenewal(s.GetContext(), resp.ID, time.Now().UTC()))

		after, err := s.service.Get(s.GetContext(), resp.ID)
		s.NoError(err)
		s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
		s.True(after.CurrentPeriodEnd.After(time.Now().UTC()))
		s.True(after.UsageCount.IsZero())
		s.Equal(2, s.GetGateway().ChargeCount())

		shares, err := s.GetStores().RevenueShares.List(s.GetContext())
		s.NoError(err)
		s.Len(shares, 2)
	})

	s.Run("Not Yet Due Is A Noop", func() {
		s.NoError(s.service.ProcessRenewal(s.GetContext(), resp.ID, time.Now().UTC()))
		s.Equal(2, s.GetGateway().ChargeCount())
	})
}

func (s *SubscriptionServiceSuite) TestRenewalDeclineEscalatesDunning() {
	resp := s.createDirect()
	s.GetGateway().DeclineCode = "insufficient_funds"
	s.rewindPeriod(resp.ID, 32*24*time.Hour)

	s.NoError(s.service.ProcessRenewal(s.GetContext(), resp.ID, time.Now().UTC()))

	after, err := s.service.Get(s.GetContext(), resp.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, after.SubscriptionStatus)
	s.Equal(types.DunningStatusPastDue, after.DunningStatus)
	s.Equal(1, after.FailedPaymentCount)

	// Access survives the warning stages
	s.True(s.hasEntitlement("user_1", "reports"))
	s.Len(s.GetPublisher().EventsNamed(types.EventDunningEscalated), 1)
}

func (s *SubscriptionServiceSuite) TestDunningTerminatesAtMaxAttempts() {
	resp := s.createDirect()
	ctx := s.GetContext()

	for i := 0; i < 4; i++ {
		s.NoError(s.service.ProcessPaymentFailure(ctx, resp.ID, "card_declined"))
	}

	after, err := s.service.Get(ctx, resp.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusUnpaid, after.SubscriptionStatus)
	s.Equal(types.DunningStatusTerminated, after.DunningStatus)
	s.Equal(4, after.FailedPaymentCount)

	s.False(s.hasEntitlement("user_1", "reports"))
	s.False(s.hasEntitlement("user_1", "analytics"))
	s.Len(s.GetPublisher().EventsNamed(types.EventDunningTerminated), 1)
}

func (s *SubscriptionServiceSuite) TestProcessPaymentSuccessIsIdempotent() {
	resp := s.createDirect()
	ctx := s.GetContext()

	s.NoError(s.service.ProcessPaymentFailure(ctx, resp.ID, "card_declined"))
	s.NoError(s.service.ProcessPaymentFailure(ctx, resp.ID, "card_declined"))

	s.Run("Recovery Resets Dunning And Regrants", func() {
		s.NoError(s.service.ProcessPaymentSuccess(ctx, resp.ID, "txn_recover", false))

		after, err := s.service.Get(ctx, resp.ID)
		s.NoError(err)
		s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
		s.Equal(types.DunningStatusNone, after.DunningStatus)
		s.Equal(0, after.FailedPaymentCount)
		s.True(s.hasEntitlement("user_1", "reports"))
		s.Len(s.GetPublisher().EventsNamed(types.EventDunningRecovered), 1)
	})

	s.Run("Replay Of The Same Transaction Is A Noop", func() {
		s.NoError(s.service.ProcessPaymentSuccess(ctx, resp.ID, "txn_recover", false))
		s.Len(s.GetPublisher().EventsNamed(types.EventDunningRecovered), 1)
		s.Len(s.GetPublisher().EventsNamed(types.EventPaymentSucceeded), 1)
	})
}

func (s *SubscriptionServiceSuite) TestPauseAndResume() {
	resp := s.createDirect()
	ctx := s.GetContext()
	originalEnd := resp.CurrentPeriodEnd

	s.Run("Pause Revokes Access", func() {
		paused, err := s.service.Pause(ctx, resp.ID)
		s.NoError(err)
		s.Equal(types.SubscriptionStatusPaused, paused.SubscriptionStatus)
		s.NotNil(paused.PausedAt)
		s.False(s.hasEntitlement("user_1", "reports"))
	})

	s.Run("Pausing A Paused Subscription Fails", func() {
		_, err := s.service.Pause(ctx, resp.ID)
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})

	s.Run("Resume Extends The Period By The Pause Duration", func() {
		resumed, err := s.service.Resume(ctx, resp.ID)
		s.NoError(err)
		s.Equal(types.SubscriptionStatusActive, resumed.SubscriptionStatus)
		s.Nil(resumed.PausedAt)
		s.False(resumed.CurrentPeriodEnd.Before(originalEnd))
		s.True(s.hasEntitlement("user_1", "reports"))
	})
}

func (s *SubscriptionServiceSuite) TestSuspendRoundTrip() {
	resp := s.createDirect()
	ctx := s.GetContext()

	suspended, err := s.service.Suspend(ctx, resp.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusSuspended, suspended.SubscriptionStatus)
	s.False(s.hasEntitlement("user_1", "reports"))

	restored, err := s.service.Unsuspend(ctx, resp.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, restored.SubscriptionStatus)
	s.True(s.hasEntitlement("user_1", "reports"))
}

func (s *SubscriptionServiceSuite) TestCancelImmediate() {
	resp := s.createDirect()

	canceled, err := s.service.Cancel(s.GetContext(), resp.ID, &dto.CancelSubscriptionRequest{
		CancellationType: types.CancellationTypeImmediate,
		Reason:           "too expensive",
	})
	s.NoError(err)
	s.Equal(types.SubscriptionStatusCanceled, canceled.SubscriptionStatus)
	s.NotNil(canceled.EndedAt)
	s.False(s.hasEntitlement("user_1", "reports"))
}

func (s *SubscriptionServiceSuite) TestCancelAtPeriodEnd() {
	resp := s.createDirect()
	ctx := s.GetContext()

	s.Run("Access Continues Until The Period Lapses", func() {
		canceled, err := s.service.Cancel(ctx, resp.ID, &dto.CancelSubscriptionRequest{
			CancellationType: types.CancellationTypeEndOfPeriod,
		})
		s.NoError(err)
		s.Equal(types.SubscriptionStatusActive, canceled.SubscriptionStatus)
		s.True(canceled.CancelAtPeriodEnd)
		s.True(s.hasEntitlement("user_1", "reports"))
	})

	s.Run("Expiry Sweep Finishes The Cancellation", func() {
		s.rewindPeriod(resp.ID, 32*24*time.Hour)

		expired, err := s.service.ExpirySweep(ctx, time.Now().UTC())
		s.NoError(err)
		s.Equal(1, expired)

		after, err := s.service.Get(ctx, resp.ID)
		s.NoError(err)
		s.Equal(types.SubscriptionStatusExpired, after.SubscriptionStatus)
		s.False(s.hasEntitlement("user_1", "reports"))
		s.Len(s.GetPublisher().EventsNamed(types.EventSubscriptionExpired), 1)
	})
}

func (s *SubscriptionServiceSuite) TestChangePlan() {
	resp := s.createDirect()
	ctx := s.GetContext()

	s.Run("Upgrade Charges Net And Diffs Entitlements", func() {
		changed, err := s.service.ChangePlan(ctx, resp.ID, &dto.ChangePlanRequest{
			PlanID: s.premiumPlan.ID,
		})
		s.NoError(err)
		s.Equal(s.premiumPlan.ID, changed.PlanID)
		s.Equal(2, s.GetGateway().ChargeCount())

		s.True(s.hasEntitlement("user_1", "reports"))
		s.True(s.hasEntitlement("user_1", "premium_support"))
		s.False(s.hasEntitlement("user_1", "analytics"), "entitlement unique to the old plan is revoked")

		shares, err := s.GetStores().RevenueShares.List(ctx)
		s.NoError(err)
		s.Len(shares, 2)
		s.Len(s.GetPublisher().EventsNamed(types.EventPlanChanged), 1)
	})

	s.Run("Same Plan Is A Noop", func() {
		_, err := s.service.ChangePlan(ctx, resp.ID, &dto.ChangePlanRequest{
			PlanID: s.premiumPlan.ID,
		})
		s.NoError(err)
		s.Equal(2, s.GetGateway().ChargeCount())
	})

	s.Run("Downgrade Refunds Against The Last Capture", func() {
		changed, err := s.service.ChangePlan(ctx, resp.ID, &dto.ChangePlanRequest{
			PlanID: s.proPlan.ID,
		})
		s.NoError(err)
		s.Equal(s.proPlan.ID, changed.PlanID)
		s.Len(s.GetGateway().Refunds, 1)
		s.Len(s.GetPublisher().EventsNamed(types.EventPaymentRefunded), 1)
	})
}

func (s *SubscriptionServiceSuite) TestChangePlanRejectedWhileTrialing() {
	resp, err := s.service.Create(s.GetContext(), &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.proPlan.ID,
		WithTrial:  true,
	})
	s.Require().NoError(err)

	_, err = s.service.ChangePlan(s.GetContext(), resp.ID, &dto.ChangePlanRequest{
		PlanID: s.premiumPlan.ID,
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))
}

func (s *SubscriptionServiceSuite) TestUpdateSeats() {
	resp := s.createDirect()
	ctx := s.GetContext()

	s.Run("Seat Change Takes Effect Without A Charge", func() {
		updated, err := s.service.UpdateSeats(ctx, resp.ID, &dto.UpdateSeatsRequest{SeatCount: 10})
		s.NoError(err)
		s.Equal(10, updated.SeatCount)
		s.Equal(1, s.GetGateway().ChargeCount(), "seat changes bill at the next renewal")
	})

	s.Run("Cannot Reduce Below Assigned Seats", func() {
		for _, userID := range []string{"user_a", "user_b"} {
			_, err := s.GetStores().Subscriptions.AddSeat(ctx, &subscription.Seat{
				ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SEAT),
				SubscriptionID: resp.ID,
				UserID:         userID,
				AssignedAt:     time.Now().UTC(),
				BaseModel:      types.GetDefaultBaseModel(ctx),
			})
			s.Require().NoError(err)
		}

		_, err := s.service.UpdateSeats(ctx, resp.ID, &dto.UpdateSeatsRequest{SeatCount: 1})
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})

	s.Run("Trial Seat Limit Is Enforced", func() {
		trial, err := s.service.Create(ctx, &dto.CreateSubscriptionRequest{
			CustomerID: "cust_2",
			UserID:     "user_2",
			PlanID:     s.proPlan.ID,
			WithTrial:  true,
		})
		s.Require().NoError(err)

		_, err = s.service.UpdateSeats(ctx, trial.ID, &dto.UpdateSeatsRequest{SeatCount: 3})
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})
}

func (s *SubscriptionServiceSuite) TestMembers() {
	ctx := s.GetContext()
	resp, err := s.service.Create(ctx, &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.proPlan.ID,
		SeatCount:  2,
	})
	s.Require().NoError(err)

	s.Run("Members Fill Up To The Seat Count", func() {
		_, err := s.service.AddMember(ctx, resp.ID, &dto.AddMemberRequest{UserID: "user_1", Role: types.MemberRoleOwner})
		s.NoError(err)
		_, err = s.service.AddMember(ctx, resp.ID, &dto.AddMemberRequest{UserID: "user_2", Role: types.MemberRoleMember})
		s.NoError(err)

		_, err = s.service.AddMember(ctx, resp.ID, &dto.AddMemberRequest{UserID: "user_3", Role: types.MemberRoleViewer})
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})

	s.Run("Duplicate Member Is Rejected", func() {
		s.NoError(s.service.RemoveMember(ctx, resp.ID, "user_2"))
		_, err := s.service.AddMember(ctx, resp.ID, &dto.AddMemberRequest{UserID: "user_1", Role: types.MemberRoleMember})
		s.Error(err)
		s.True(ierr.IsAlreadyExists(err))
	})

	s.Run("List Reflects Removals", func() {
		members, err := s.service.ListMembers(ctx, resp.ID)
		s.NoError(err)
		s.Len(members, 1)
		s.Equal("user_1", members[0].UserID)
	})
}

func (s *SubscriptionServiceSuite) TestRecordUsage() {
	resp := s.createDirect()
	ctx := s.GetContext()

	updated, err := s.service.RecordUsage(ctx, resp.ID, &dto.RecordUsageRequest{Quantity: decimal.NewFromInt(100)})
	s.NoError(err)
	updated, err = s.service.RecordUsage(ctx, resp.ID, &dto.RecordUsageRequest{Quantity: decimal.NewFromFloat(20.5)})
	s.NoError(err)
	s.True(updated.UsageCount.Equal(decimal.NewFromFloat(120.5)))

	_, err = s.service.RecordUsage(ctx, resp.ID, &dto.RecordUsageRequest{Quantity: decimal.NewFromInt(-1)})
	s.Error(err)
	s.True(ierr.IsValidation(err))
}

func (s *SubscriptionServiceSuite) TestRenewalSweep() {
	ctx := s.GetContext()
	first := s.createDirect()
	second, err := s.service.Create(ctx, &dto.CreateSubscriptionRequest{
		CustomerID: "cust_2",
		UserID:     "user_2",
		PlanID:     s.proPlan.ID,
	})
	s.Require().NoError(err)

	s.rewindPeriod(first.ID, 32*24*time.Hour)
	s.rewindPeriod(second.ID, 32*24*time.Hour)

	processed, err := s.service.RenewalSweep(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(2, processed)
	s.Equal(4, s.GetGateway().ChargeCount())

	for _, id := range []string{first.ID, second.ID} {
		sub, err := s.service.Get(ctx, id)
		s.NoError(err)
		s.True(sub.CurrentPeriodEnd.After(time.Now().UTC()))
	}
}

func (s *SubscriptionServiceSuite) TestImmediateCancelExpiresAfterPeriodEnd() {
	ctx := s.GetContext()
	resp := s.createDirect()

	_, err := s.service.Cancel(ctx, resp.ID, &dto.CancelSubscriptionRequest{
		CancellationType: types.CancellationTypeImmediate,
		Reason:           "switching providers",
	})
	s.Require().NoError(err)

	expired, err := s.service.ExpirySweep(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(0, expired, "the canceled period has not lapsed yet")

	s.rewindPeriod(resp.ID, 60*24*time.Hour)

	expired, err = s.service.ExpirySweep(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(1, expired)

	sub, err := s.GetStores().Subscriptions.Get(ctx, resp.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusExpired, sub.SubscriptionStatus)
	s.True(sub.SubscriptionStatus.IsTerminal())
	s.NotNil(sub.EndedAt)
}

func (s *SubscriptionServiceSuite) TestConvertTrialDeclineKeepsTrial() {
	ctx := s.GetContext()
	resp, err := s.service.Create(ctx, &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.proPlan.ID,
		WithTrial:  true,
	})
	s.Require().NoError(err)

	s.GetGateway().DeclineCode = "card_declined"
	_, err = s.service.ConvertTrial(ctx, resp.ID)
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))

	sub, err := s.GetStores().Subscriptions.Get(ctx, resp.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusTrialing, sub.SubscriptionStatus)
	s.Empty(sub.LastTransactionID)
	s.Empty(s.GetPublisher().EventsNamed(types.EventTrialConverted))

	s.GetGateway().DeclineCode = ""
	converted, err := s.service.ConvertTrial(ctx, resp.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, converted.SubscriptionStatus)
}

func (s *SubscriptionServiceSuite) TestChangePlanDeclineKeepsCurrentPlan() {
	ctx := s.GetContext()
	resp := s.createDirect()
	before, err := s.GetStores().Subscriptions.Get(ctx, resp.ID)
	s.Require().NoError(err)

	s.GetGateway().DeclineCode = "card_declined"
	_, err = s.service.ChangePlan(ctx, resp.ID, &dto.ChangePlanRequest{
		PlanID: s.premiumPlan.ID,
	})
	s.Error(err)
	s.True(ierr.IsInvalidOperation(err))

	after, err := s.GetStores().Subscriptions.Get(ctx, resp.ID)
	s.Require().NoError(err)
	s.Equal(s.proPlan.ID, after.PlanID)
	s.Equal(before.Version, after.Version, "nothing is written for a declined change")
	s.Equal(before.LastTransactionID, after.LastTransactionID)
	s.True(s.hasEntitlement("user_1", "analytics"))
	s.False(s.hasEntitlement("user_1", "premium_support"))
	s.Empty(s.GetPublisher().EventsNamed(types.EventPlanChanged))
}

func (s *SubscriptionServiceSuite) TestTrialNoticeSweep() {
	ctx := s.GetContext()
	params := s.params
	params.EmailService = email.NewService(email.NewClient(s.GetConfig()), s.GetLogger())
	svc := NewSubscriptionService(params)

	soon, err := svc.Create(ctx, &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.proPlan.ID,
		WithTrial:  true,
		Metadata:   map[string]string{"billing_email": "cust_1@example.com"},
	})
	s.Require().NoError(err)
	// The 14-day trial ends in 2 days after the rewind
	s.rewindPeriod(soon.ID, 12*24*time.Hour)

	far, err := svc.Create(ctx, &dto.CreateSubscriptionRequest{
		CustomerID: "cust_2",
		UserID:     "user_2",
		PlanID:     s.proPlan.ID,
		WithTrial:  true,
		Metadata:   map[string]string{"billing_email": "cust_2@example.com"},
	})
	s.Require().NoError(err)

	notified, err := svc.TrialNoticeSweep(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(1, notified)

	stored, err := s.GetStores().Subscriptions.Get(ctx, soon.ID)
	s.Require().NoError(err)
	s.Equal("true", stored.Metadata["trial_notice_sent"])

	untouched, err := s.GetStores().Subscriptions.Get(ctx, far.ID)
	s.Require().NoError(err)
	s.NotEqual("true", untouched.Metadata["trial_notice_sent"])

	notified, err = svc.TrialNoticeSweep(ctx, time.Now().UTC())
	s.NoError(err)
	s.Equal(0, notified, "a trial is nudged at most once")
}
