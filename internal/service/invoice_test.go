package service

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/subkernel/subkernel/internal/api/dto"
	"github.com/subkernel/subkernel/internal/domain/plan"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/testutil"
	"github.com/subkernel/subkernel/internal/types"
)

type InvoiceServiceSuite struct {
	testutil.BaseServiceTestSuite
	service      InvoiceService
	subscription SubscriptionService
	params       ServiceParams

	plan *plan.Plan
}

func TestInvoiceService(t *testing.T) {
	suite.Run(t, new(InvoiceServiceSuite))
}

func (s *InvoiceServiceSuite) SetupTest() {
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
	s.service = NewInvoiceService(s.params)
	s.subscription = NewSubscriptionService(s.params)

	ctx := s.GetContext()
	p := &plan.Plan{
		ID:       "plan_enterprise",
		Name:     "Enterprise",
		VendorID: "vendor_1",
		Version:  1,
		Price: plan.PriceConfig{
			Model:              types.PricingModelFlat,
			Currency:           "USD",
			Amount:             decimal.NewFromInt(500),
			BillingPeriod:      types.BILLING_PERIOD_MONTHLY,
			BillingPeriodCount: 1,
		},
		BillingType:        types.BillingTypeInvoice,
		Terms:              types.PaymentTermsNet30,
		PlatformFeePercent: decimal.NewFromInt(10),
		Entitlements: []plan.EntitlementDefinition{
			{Key: "reports", Type: types.EntitlementTypeFeature},
		},
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	created, err := s.GetStores().Plans.Create(ctx, p)
	s.Require().NoError(err)
	s.plan = created
}

// createInvoiced creates an invoice-billed subscription and returns it with
// the invoice issued for its first period
func (s *InvoiceServiceSuite) createInvoiced() (*dto.SubscriptionResponse, *dto.InvoiceResponse) {
	ctx := s.GetContext()
	sub, err := s.subscription.Create(ctx, &dto.CreateSubscriptionRequest{
		CustomerID: "cust_1",
		UserID:     "user_1",
		PlanID:     s.plan.ID,
	})
	s.Require().NoError(err)

	invoices, err := s.service.ListBySubscription(ctx, sub.ID)
	s.Require().NoError(err)
	s.Require().Len(invoices, 1)
	return sub, invoices[0]
}

func (s *InvoiceServiceSuite) TestInvoiceIssuedForFirstPeriod() {
	_, inv := s.createInvoiced()

	s.Equal(types.InvoiceStatusSent, inv.InvoiceStatus)
	s.True(strings.HasPrefix(inv.InvoiceNumber, "INV-"))
	s.True(inv.Total.Equal(decimal.NewFromInt(500)))
	s.True(inv.AmountDue.Equal(decimal.NewFromInt(500)))
	s.Len(inv.LineItems, 1)

	// Net 30 terms
	s.WithinDuration(inv.IssueDate.AddDate(0, 0, 30), inv.DueDate, time.Second)

	// No gateway involvement for invoice billing
	s.Equal(0, s.GetGateway().ChargeCount())
	s.Len(s.GetPublisher().EventsNamed(types.EventInvoiceCreated), 1)
}

func (s *InvoiceServiceSuite) TestRecordPayment() {
	sub, inv := s.createInvoiced()
	ctx := s.GetContext()

	s.Run("Partial Payment Does Not Settle", func() {
		updated, err := s.service.RecordPayment(ctx, inv.ID, &dto.RecordInvoicePaymentRequest{
			Amount:           decimal.NewFromInt(200),
			PaymentReference: "wire_001",
		})
		s.NoError(err)
		s.Equal(types.InvoiceStatusPartiallyPaid, updated.InvoiceStatus)
		s.True(updated.AmountDue.Equal(decimal.NewFromInt(300)))

		shares, err := s.GetStores().RevenueShares.List(ctx)
		s.NoError(err)
		s.Empty(shares, "revenue splits only on the transition into paid")
	})

	s.Run("Final Payment Settles Exactly Once", func() {
		updated, err := s.service.RecordPayment(ctx, inv.ID, &dto.RecordInvoicePaymentRequest{
			Amount:           decimal.NewFromInt(300),
			PaymentReference: "wire_002",
		})
		s.NoError(err)
		s.Equal(types.InvoiceStatusPaid, updated.InvoiceStatus)
		s.NotNil(updated.PaidAt)
		s.True(updated.AmountDue.IsZero())

		shares, err := s.GetStores().RevenueShares.List(ctx)
		s.NoError(err)
		s.Require().Len(shares, 1)
		s.Equal("wire_002", shares[0].TransactionID)

		// The split conserves the gross amount
		s.True(shares[0].GrossAmount.Equal(decimal.NewFromInt(500)))
		s.True(shares[0].PlatformFee.Add(shares[0].VendorAmount).Equal(shares[0].GrossAmount))
		s.True(shares[0].PlatformFee.Equal(decimal.NewFromInt(50)))

		s.Len(s.GetPublisher().EventsNamed(types.EventInvoicePaid), 1)
	})

	s.Run("Replayed Payment Reference Is A Noop", func() {
		updated, err := s.service.RecordPayment(ctx, inv.ID, &dto.RecordInvoicePaymentRequest{
			Amount:           decimal.NewFromInt(300),
			PaymentReference: "wire_002",
		})
		s.NoError(err)
		s.True(updated.AmountPaid.Equal(decimal.NewFromInt(500)), "replay must not double-count")

		shares, err := s.GetStores().RevenueShares.List(ctx)
		s.NoError(err)
		s.Len(shares, 1)
	})

	s.Run("Paid Invoice Rejects Further Payments", func() {
		_, err := s.service.RecordPayment(ctx, inv.ID, &dto.RecordInvoicePaymentRequest{
			Amount:           decimal.NewFromInt(10),
			PaymentReference: "wire_003",
		})
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))
	})

	s.Run("Settlement Restored The Subscription Standing", func() {
		after, err := s.subscription.Get(ctx, sub.ID)
		s.NoError(err)
		s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
		s.Equal(types.DunningStatusNone, after.DunningStatus)
		s.Equal("wire_002", after.LastTransactionID)
	})
}

func (s *InvoiceServiceSuite) TestPaymentClearsDunning() {
	sub, inv := s.createInvoiced()
	ctx := s.GetContext()

	// Two missed attempts while the invoice sat unpaid
	s.NoError(s.subscription.ProcessPaymentFailure(ctx, sub.ID, "invoice_overdue"))
	s.NoError(s.subscription.ProcessPaymentFailure(ctx, sub.ID, "invoice_overdue"))

	before, err := s.subscription.Get(ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal(types.SubscriptionStatusPastDue, before.SubscriptionStatus)

	_, err = s.service.RecordPayment(ctx, inv.ID, &dto.RecordInvoicePaymentRequest{
		Amount:           decimal.NewFromInt(500),
		PaymentReference: "wire_late",
	})
	s.NoError(err)

	after, err := s.subscription.Get(ctx, sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus)
	s.Equal(0, after.FailedPaymentCount)
	s.Len(s.GetPublisher().EventsNamed(types.EventDunningRecovered), 1)
}

func (s *InvoiceServiceSuite) TestVoid() {
	_, inv := s.createInvoiced()
	ctx := s.GetContext()

	voided, err := s.service.Void(ctx, inv.ID)
	s.NoError(err)
	s.Equal(types.InvoiceStatusVoid, voided.InvoiceStatus)
	s.NotNil(voided.VoidedAt)

	s.Run("Voided Invoice Is Terminal", func() {
		_, err := s.service.Void(ctx, inv.ID)
		s.Error(err)
		s.True(ierr.IsInvalidOperation(err))

		_, err = s.service.RecordPayment(ctx, inv.ID, &dto.RecordInvoicePaymentRequest{
			Amount:           decimal.NewFromInt(500),
			PaymentReference: "wire_void",
		})
		s.Error(err)
	})
}

func (s *InvoiceServiceSuite) TestMarkOverdueSweep() {
	_, inv := s.createInvoiced()
	ctx := s.GetContext()

	s.Run("Within Terms Nothing Is Flagged", func() {
		flagged, err := s.service.MarkOverdueSweep(ctx, time.Now().UTC())
		s.NoError(err)
		s.Equal(0, flagged)
	})

	s.Run("Past Due Date Flags The Invoice", func() {
		flagged, err := s.service.MarkOverdueSweep(ctx, time.Now().UTC().AddDate(0, 0, 31))
		s.NoError(err)
		s.Equal(1, flagged)

		after, err := s.service.Get(ctx, inv.ID)
		s.NoError(err)
		s.Equal(types.InvoiceStatusOverdue, after.InvoiceStatus)
		s.Len(s.GetPublisher().EventsNamed(types.EventInvoiceOverdue), 1)
	})

	s.Run("Already Flagged Invoices Are Skipped", func() {
		flagged, err := s.service.MarkOverdueSweep(ctx, time.Now().UTC().AddDate(0, 0, 31))
		s.NoError(err)
		s.Equal(0, flagged)
	})
}

func (s *InvoiceServiceSuite) TestRenewalIssuesNextInvoice() {
	sub, _ := s.createInvoiced()
	ctx := s.GetContext()

	// Rewind the period so the renewal sweep picks the subscription up
	stored, err := s.GetStores().Subscriptions.Get(ctx, sub.ID)
	s.Require().NoError(err)
	stored.CurrentPeriodStart = stored.CurrentPeriodStart.AddDate(0, 0, -32)
	stored.CurrentPeriodEnd = stored.CurrentPeriodEnd.AddDate(0, 0, -32)
	_, err = s.GetStores().Subscriptions.Update(ctx, stored)
	s.Require().NoError(err)

	s.NoError(s.subscription.ProcessRenewal(ctx, sub.ID, time.Now().UTC()))

	invoices, err := s.service.ListBySubscription(ctx, sub.ID)
	s.NoError(err)
	s.Len(invoices, 2, "each period gets its own invoice")

	after, err := s.subscription.Get(ctx, sub.ID)
	s.NoError(err)
	s.Equal(types.SubscriptionStatusActive, after.SubscriptionStatus, "access continues while the invoice is within terms")
	s.Equal(0, s.GetGateway().ChargeCount())
}
