package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/teris-io/shortid"

	"github.com/subkernel/subkernel/internal/api/dto"
	"github.com/subkernel/subkernel/internal/domain/invoice"
	"github.com/subkernel/subkernel/internal/domain/plan"
	"github.com/subkernel/subkernel/internal/domain/revenueshare"
	"github.com/subkernel/subkernel/internal/domain/subscription"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

// CreateInvoiceParams describes one billing period to invoice
type CreateInvoiceParams struct {
	Subscription *subscription.Subscription
	Plan         *plan.Plan
	Amount       decimal.Decimal
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Description  string
	// ExtraLines carries proration charges/credits from a plan change
	ExtraLines []*invoice.LineItem
}

// InvoiceService issues invoices for invoice-billed subscriptions and
// settles them into the revenue-share ledger
type InvoiceService interface {
	CreateForPeriod(ctx context.Context, params CreateInvoiceParams) (*invoice.Invoice, error)
	Get(ctx context.Context, id string) (*dto.InvoiceResponse, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*dto.InvoiceResponse, error)
	// RecordPayment accumulates a payment. Only the transition into paid
	// creates the revenue share; repeated partials never do.
	RecordPayment(ctx context.Context, invoiceID string, req *dto.RecordInvoicePaymentRequest) (*dto.InvoiceResponse, error)
	Void(ctx context.Context, invoiceID string) (*dto.InvoiceResponse, error)
	// MarkOverdueSweep flags sent or partially paid invoices past their due
	// date; returns how many were flagged
	MarkOverdueSweep(ctx context.Context, asOf time.Time) (int, error)
}

type invoiceService struct {
	ServiceParams
}

// NewInvoiceService creates a new invoice service
func NewInvoiceService(params ServiceParams) InvoiceService {
	return &invoiceService{ServiceParams: params}
}

func (s *invoiceService) CreateForPeriod(ctx context.Context, params CreateInvoiceParams) (*invoice.Invoice, error) {
	if params.Subscription == nil || params.Plan == nil {
		return nil, ierr.NewError("subscription and plan are required").
			Mark(ierr.ErrValidation)
	}

	now := time.Now().UTC()
	sub := params.Subscription
	description := params.Description
	if description == "" {
		description = fmt.Sprintf("%s (%s - %s)", params.Plan.Name,
			params.PeriodStart.Format("2006-01-02"), params.PeriodEnd.Format("2006-01-02"))
	}

	inv := &invoice.Invoice{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
		InvoiceNumber:  generateInvoiceNumber(now),
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		VendorID:       sub.VendorID,
		Currency:       params.Plan.Price.Currency,
		TaxPercent:     decimal.NewFromFloat(s.Config.Billing.DefaultTaxPercent),
		AmountPaid:     decimal.Zero,
		InvoiceStatus:  types.InvoiceStatusSent,
		PaymentTerms:   params.Plan.Terms,
		IssueDate:      now,
		DueDate:        now.AddDate(0, 0, params.Plan.Terms.DueDays()),
		BaseModel:      types.GetDefaultBaseModel(ctx),
	}

	periodStart := params.PeriodStart
	periodEnd := params.PeriodEnd
	inv.LineItems = append(inv.LineItems, &invoice.LineItem{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM),
		InvoiceID:      inv.ID,
		SubscriptionID: sub.ID,
		Description:    description,
		Quantity:       decimal.NewFromInt(1),
		UnitPrice:      params.Amount,
		Amount:         params.Amount,
		Currency:       inv.Currency,
		PeriodStart:    &periodStart,
		PeriodEnd:      &periodEnd,
		BaseModel:      types.GetDefaultBaseModel(ctx),
	})
	for _, line := range params.ExtraLines {
		line.InvoiceID = inv.ID
		inv.LineItems = append(inv.LineItems, line)
	}

	inv.Recalculate()

	if err := inv.Validate(); err != nil {
		return nil, err
	}

	created, err := s.InvoiceRepo.Create(ctx, inv)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, types.EventInvoiceCreated, created.ID, map[string]any{
		"subscription_id": sub.ID,
		"total":           created.Total.String(),
		"due_date":        created.DueDate,
	})

	return created, nil
}

func (s *invoiceService) Get(ctx context.Context, id string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewInvoiceResponse(inv), nil
}

func (s *invoiceService) ListBySubscription(ctx context.Context, subscriptionID string) ([]*dto.InvoiceResponse, error) {
	invoices, err := s.InvoiceRepo.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.InvoiceResponse, len(invoices))
	for i, inv := range invoices {
		out[i] = dto.NewInvoiceResponse(inv)
	}
	return out, nil
}

func (s *invoiceService) RecordPayment(ctx context.Context, invoiceID string, req *dto.RecordInvoicePaymentRequest) (*dto.InvoiceResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	// At-least-once delivery: a replayed payment reference is a no-op
	if inv.HasPaymentReference(req.PaymentReference) {
		s.Logger.Infow("payment reference already applied, skipping",
			"invoice_id", invoiceID,
			"payment_reference", req.PaymentReference,
		)
		return dto.NewInvoiceResponse(inv), nil
	}

	if inv.InvoiceStatus.IsTerminal() {
		return nil, ierr.NewErrorf("invoice is %s and cannot accept payments", inv.InvoiceStatus).
			WithHint("The invoice is already settled or voided").
			WithReportableDetails(map[string]any{"invoice_id": invoiceID}).
			Mark(ierr.ErrInvalidOperation)
	}

	wasPaid := inv.InvoiceStatus == types.InvoiceStatusPaid

	inv.AmountPaid = inv.AmountPaid.Add(req.Amount)
	inv.AppliedPaymentIDs = append(inv.AppliedPaymentIDs, req.PaymentReference)
	inv.Recalculate()

	if inv.IsFullyPaid() {
		now := time.Now().UTC()
		inv.InvoiceStatus = types.InvoiceStatusPaid
		inv.PaidAt = &now
	} else {
		inv.InvoiceStatus = types.InvoiceStatusPartiallyPaid
	}
	inv.UpdatedAt = time.Now().UTC()
	inv.UpdatedBy = types.GetUserID(ctx)

	updated, err := s.InvoiceRepo.Update(ctx, inv)
	if err != nil {
		return nil, err
	}

	if updated.InvoiceStatus == types.InvoiceStatusPaid && !wasPaid {
		if err := s.settle(ctx, updated, req.PaymentReference); err != nil {
			return nil, err
		}
		s.publish(ctx, types.EventInvoicePaid, updated.ID, map[string]any{
			"subscription_id": updated.SubscriptionID,
			"total":           updated.Total.String(),
		})
	} else {
		s.publish(ctx, types.EventInvoicePartiallyPaid, updated.ID, map[string]any{
			"subscription_id": updated.SubscriptionID,
			"amount_paid":     updated.AmountPaid.String(),
			"amount_due":      updated.AmountDue.String(),
		})
	}

	return dto.NewInvoiceResponse(updated), nil
}

// settle writes the revenue-share record and restores the subscription's
// paid standing. Both halves are idempotent so a replayed settlement cannot
// double-apply.
func (s *invoiceService) settle(ctx context.Context, inv *invoice.Invoice, paymentReference string) error {
	sub, err := s.SubRepo.Get(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	p, err := s.PlanRepo.GetVersion(ctx, sub.PlanID, sub.PlanVersion)
	if err != nil {
		return err
	}

	if _, err := s.RevenueShareRepo.GetByTransactionID(ctx, paymentReference); err == nil {
		s.Logger.Infow("revenue share already recorded for payment, skipping",
			"payment_reference", paymentReference,
		)
	} else if !ierr.IsNotFound(err) {
		return err
	} else {
		share := revenueshare.New(sub.ID, inv.ID, paymentReference, inv.VendorID,
			inv.Currency, inv.Total, p.PlatformFeePercent, revenueshare.SourceInvoicePayment)
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
	}

	lifecycleService := NewSubscriptionService(s.ServiceParams)
	return lifecycleService.ProcessPaymentSuccess(ctx, sub.ID, paymentReference, false)
}

func (s *invoiceService) Void(ctx context.Context, invoiceID string) (*dto.InvoiceResponse, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.InvoiceStatus.IsTerminal() {
		return nil, ierr.NewErrorf("invoice is %s and cannot be voided", inv.InvoiceStatus).
			Mark(ierr.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	inv.InvoiceStatus = types.InvoiceStatusVoid
	inv.VoidedAt = &now
	inv.UpdatedAt = now
	inv.UpdatedBy = types.GetUserID(ctx)

	updated, err := s.InvoiceRepo.Update(ctx, inv)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, types.EventInvoiceVoided, updated.ID, map[string]any{
		"subscription_id": updated.SubscriptionID,
	})
	return dto.NewInvoiceResponse(updated), nil
}

func (s *invoiceService) MarkOverdueSweep(ctx context.Context, asOf time.Time) (int, error) {
	overdue, err := s.InvoiceRepo.ListOverdue(ctx, asOf)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, inv := range overdue {
		inv.InvoiceStatus = types.InvoiceStatusOverdue
		inv.UpdatedAt = time.Now().UTC()
		inv.UpdatedBy = types.DefaultUserID
		if _, err := s.InvoiceRepo.Update(ctx, inv); err != nil {
			s.Logger.Errorw("failed to flag overdue invoice",
				"invoice_id", inv.ID,
				"error", err,
			)
			continue
		}
		flagged++
		s.publish(ctx, types.EventInvoiceOverdue, inv.ID, map[string]any{
			"subscription_id": inv.SubscriptionID,
			"amount_due":      inv.AmountDue.String(),
		})
	}

	return flagged, nil
}

// generateInvoiceNumber builds a human-scannable number like
// INV-202608-h4x9dQ2f. Falls back to a ULID suffix if shortid is exhausted.
func generateInvoiceNumber(now time.Time) string {
	suffix, err := shortid.Generate()
	if err != nil {
		suffix = types.GenerateUUID()[:9]
	}
	return fmt.Sprintf("INV-%s-%s", now.Format("200601"), suffix)
}
