package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/subkernel/subkernel/internal/domain/credential"
	"github.com/subkernel/subkernel/internal/domain/plan"
	"github.com/subkernel/subkernel/internal/domain/subscription"
	"github.com/subkernel/subkernel/internal/testutil"
	"github.com/subkernel/subkernel/internal/types"
)

const credMedicalLicense = types.CredentialType("medical_license")

type EntitlementServiceSuite struct {
	testutil.BaseServiceTestSuite
	service EntitlementService
	params  ServiceParams

	plan *plan.Plan
	sub  *subscription.Subscription
}

func TestEntitlementService(t *testing.T) {
	suite.Run(t, new(EntitlementServiceSuite))
}

func (s *EntitlementServiceSuite) SetupTest() {
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
	s.service = NewEntitlementService(s.params)
	s.seedFixtures()
}

func (s *EntitlementServiceSuite) seedFixtures() {
	ctx := s.GetContext()
	now := time.Now().UTC()

	p := &plan.Plan{
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
		Entitlements: []plan.EntitlementDefinition{
			{Key: "reports", Type: types.EntitlementTypeFeature},
			{Key: "storage_gb", Type: types.EntitlementTypeQuota, Value: "100"},
			{
				Key:                "telehealth",
				Type:               types.EntitlementTypeModuleAccess,
				RequiredCredential: credMedicalLicense,
				MustBeValid:        true,
			},
		},
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	created, err := s.GetStores().Plans.Create(ctx, p)
	s.Require().NoError(err)
	s.plan = created

	sub := &subscription.Subscription{
		ID:                 "sub_1",
		CustomerID:         "cust_1",
		UserID:             "user_1",
		VendorID:           "vendor_1",
		PlanID:             p.ID,
		PlanVersion:        1,
		SubscriptionStatus: types.SubscriptionStatusActive,
		BillingType:        types.BillingTypeImmediate,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		UsageCount:         decimal.Zero,
		DunningStatus:      types.DunningStatusNone,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}
	createdSub, err := s.GetStores().Subscriptions.Create(ctx, sub)
	s.Require().NoError(err)
	s.sub = createdSub
}

func (s *EntitlementServiceSuite) TestGrantForPlan() {
	ctx := s.GetContext()

	s.Run("Credential Gate Blocks One Grant Not The Batch", func() {
		// No license on file: telehealth blocks, the rest go through
		resp, err := s.service.GrantForPlan(ctx, s.sub, s.plan, s.plan.Entitlements, false)
		s.NoError(err)
		s.Equal(2, resp.Granted())
		s.Equal(1, resp.Blocked())

		check, err := s.service.CheckEntitlement(ctx, "user_1", "reports")
		s.NoError(err)
		s.True(check.HasEntitlement)

		check, err = s.service.CheckEntitlement(ctx, "user_1", "telehealth")
		s.NoError(err)
		s.False(check.HasEntitlement)

		// The blocked grant is persisted inactive, not dropped
		grant, err := s.GetStores().Entitlements.GetByUserAndKey(ctx, "user_1", "telehealth")
		s.NoError(err)
		s.False(grant.IsActive)
		s.Len(s.GetPublisher().EventsNamed(types.EventEntitlementBlocked), 1)
	})

	s.Run("Regrant Is A Noop", func() {
		resp, err := s.service.GrantForPlan(ctx, s.sub, s.plan, s.plan.Entitlements, false)
		s.NoError(err)
		s.Equal(0, resp.Granted())
		s.Equal(1, resp.Blocked())
		// No second granted event for the already-active keys
		s.Len(s.GetPublisher().EventsNamed(types.EventEntitlementGranted), 2)
	})

	s.Run("Valid Credential Grants Gated Entitlement", func() {
		s.GetLookup().SetStatus("user_1", credMedicalLicense, types.CredentialStatusValid)
		resp, err := s.service.GrantForPlan(ctx, s.sub, s.plan, s.plan.Entitlements, false)
		s.NoError(err)
		s.Equal(1, resp.Granted())
		s.Equal(0, resp.Blocked())

		check, err := s.service.CheckEntitlement(ctx, "user_1", "telehealth")
		s.NoError(err)
		s.True(check.HasEntitlement)
	})

	s.Run("Lookup Failure Blocks Instead Of Failing", func() {
		lookup := testutil.NewStubCredentialLookup()
		lookup.Err = errors.New("credhub unreachable")
		params := s.params
		params.CredentialLookup = lookup
		service := NewEntitlementService(params)

		sub := *s.sub
		sub.UserID = "user_2"
		sub.ID = "sub_2"
		resp, err := service.GrantForPlan(ctx, &sub, s.plan, s.plan.Entitlements, false)
		s.NoError(err)
		s.Equal(2, resp.Granted())
		s.Equal(1, resp.Blocked())
	})
}

func (s *EntitlementServiceSuite) TestCredentialChangeReactivation() {
	ctx := s.GetContext()

	_, err := s.service.GrantForPlan(ctx, s.sub, s.plan, s.plan.Entitlements, false)
	s.Require().NoError(err)

	event := &credential.ChangeEvent{
		UserID:         "user_1",
		CredentialType: credMedicalLicense,
		NewStatus:      types.CredentialStatusValid,
		OccurredAt:     time.Now().UTC(),
	}

	s.Run("Validation Activates The Blocked Grant", func() {
		s.NoError(s.service.HandleCredentialChange(ctx, event))

		check, err := s.service.CheckEntitlement(ctx, "user_1", "telehealth")
		s.NoError(err)
		s.True(check.HasEntitlement)
	})

	s.Run("Replayed Event Is A Noop", func() {
		before := len(s.GetPublisher().Events())
		s.NoError(s.service.HandleCredentialChange(ctx, event))
		s.Len(s.GetPublisher().Events(), before)
	})

	s.Run("Expiry Deactivates Only The Gated Grant", func() {
		expired := *event
		expired.NewStatus = types.CredentialStatusExpired
		s.NoError(s.service.HandleCredentialChange(ctx, &expired))

		check, err := s.service.CheckEntitlement(ctx, "user_1", "telehealth")
		s.NoError(err)
		s.False(check.HasEntitlement)

		check, err = s.service.CheckEntitlement(ctx, "user_1", "reports")
		s.NoError(err)
		s.True(check.HasEntitlement)
	})

	s.Run("Subscription Without Access Stays Revoked", func() {
		sub, err := s.GetStores().Subscriptions.Get(ctx, s.sub.ID)
		s.Require().NoError(err)
		sub.SubscriptionStatus = types.SubscriptionStatusUnpaid
		_, err = s.GetStores().Subscriptions.Update(ctx, sub)
		s.Require().NoError(err)

		s.NoError(s.service.HandleCredentialChange(ctx, event))

		check, err := s.service.CheckEntitlement(ctx, "user_1", "telehealth")
		s.NoError(err)
		s.False(check.HasEntitlement)
	})
}

func (s *EntitlementServiceSuite) TestRevocation() {
	ctx := s.GetContext()

	_, err := s.service.GrantForPlan(ctx, s.sub, s.plan, s.plan.Entitlements, false)
	s.Require().NoError(err)

	s.Run("RevokeKeys Deactivates Named Keys Only", func() {
		s.NoError(s.service.RevokeKeys(ctx, s.sub.ID, []string{"reports"}))

		check, err := s.service.CheckEntitlement(ctx, "user_1", "reports")
		s.NoError(err)
		s.False(check.HasEntitlement)

		check, err = s.service.CheckEntitlement(ctx, "user_1", "storage_gb")
		s.NoError(err)
		s.True(check.HasEntitlement)
		s.Equal("100", check.Value)
	})

	s.Run("RevokeForSubscription Deactivates Everything", func() {
		s.NoError(s.service.RevokeForSubscription(ctx, s.sub.ID))

		grants, err := s.service.ListForUser(ctx, "user_1")
		s.NoError(err)
		for _, g := range grants {
			s.False(g.IsActive, "grant %s should be inactive", g.Key)
		}
	})

	s.Run("Double Revoke Publishes Nothing New", func() {
		before := len(s.GetPublisher().Events())
		s.NoError(s.service.RevokeForSubscription(ctx, s.sub.ID))
		s.Len(s.GetPublisher().Events(), before)
	})
}

func (s *EntitlementServiceSuite) TestCheckEntitlementUnknownKey() {
	check, err := s.service.CheckEntitlement(s.GetContext(), "user_1", "nonexistent")
	s.NoError(err)
	s.False(check.HasEntitlement)
}
