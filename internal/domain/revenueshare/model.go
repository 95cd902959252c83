package revenueshare

import (
	"context"
	"time"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
	"github.com/shopspring/decimal"
)

// Source identifies which settlement path produced a revenue share
type Source string

const (
	SourceCardCapture    Source = "card_capture"
	SourceInvoicePayment Source = "invoice_payment"
)

// RevenueShare is the immutable settlement record created the moment a gross
// amount clears. The ledger is append-only; the invariant
// PlatformFee + VendorAmount == GrossAmount is enforced at creation.
type RevenueShare struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id,omitempty"`
	// TransactionID is the gateway transaction or payment reference that
	// settled the amount; unique per record for idempotence
	TransactionID string `json:"transaction_id"`
	VendorID      string `json:"vendor_id"`

	Currency           string          `json:"currency"`
	GrossAmount        decimal.Decimal `json:"gross_amount"`
	PlatformFeePercent decimal.Decimal `json:"platform_fee_percent"`
	PlatformFee        decimal.Decimal `json:"platform_fee"`
	VendorAmount       decimal.Decimal `json:"vendor_amount"`

	Source    Source    `json:"source"`
	SettledAt time.Time `json:"settled_at"`

	types.BaseModel
}

// New computes the split for a settled gross amount. The platform fee is
// rounded to the cent; the vendor amount is the exact remainder so the two
// always sum back to gross.
func New(subscriptionID, invoiceID, transactionID, vendorID, currency string, gross, feePercent decimal.Decimal, source Source) *RevenueShare {
	fee := gross.Mul(feePercent).Div(decimal.NewFromInt(100)).Round(2)
	return &RevenueShare{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REVENUE_SHARE),
		SubscriptionID:     subscriptionID,
		InvoiceID:          invoiceID,
		TransactionID:      transactionID,
		VendorID:           vendorID,
		Currency:           currency,
		GrossAmount:        gross,
		PlatformFeePercent: feePercent,
		PlatformFee:        fee,
		VendorAmount:       gross.Sub(fee),
		Source:             source,
		SettledAt:          time.Now().UTC(),
	}
}

// Validate validates the revenue share record
func (r *RevenueShare) Validate() error {
	if r.TransactionID == "" {
		return ierr.NewError("transaction_id is required").
			Mark(ierr.ErrValidation)
	}
	if r.GrossAmount.IsNegative() {
		return ierr.NewError("gross_amount cannot be negative").
			Mark(ierr.ErrValidation)
	}
	if !r.PlatformFee.Add(r.VendorAmount).Equal(r.GrossAmount) {
		return ierr.NewError("revenue share does not reconcile").
			WithHint("platform_fee + vendor_amount must equal gross_amount").
			WithReportableDetails(map[string]any{
				"gross_amount":  r.GrossAmount.String(),
				"platform_fee":  r.PlatformFee.String(),
				"vendor_amount": r.VendorAmount.String(),
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Repository is the append-only persistence contract for the revenue ledger.
// Create must reject a duplicate TransactionID with ierr.ErrAlreadyExists.
type Repository interface {
	Create(ctx context.Context, r *RevenueShare) (*RevenueShare, error)
	Get(ctx context.Context, id string) (*RevenueShare, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*RevenueShare, error)
	ListByVendor(ctx context.Context, vendorID string) ([]*RevenueShare, error)
	List(ctx context.Context) ([]*RevenueShare, error)
}
