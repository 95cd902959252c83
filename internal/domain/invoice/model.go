package invoice

import (
	"time"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Invoice collects line items for one billing period of an invoice-billed
// subscription. Terminal once paid or void.
type Invoice struct {
	ID             string `json:"id"`
	InvoiceNumber  string `json:"invoice_number"`
	SubscriptionID string `json:"subscription_id"`
	CustomerID     string `json:"customer_id"`
	VendorID       string `json:"vendor_id"`

	Currency   string          `json:"currency"`
	LineItems  []*LineItem     `json:"line_items,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TaxPercent decimal.Decimal `json:"tax_percent"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	Total      decimal.Decimal `json:"total"`

	AmountPaid decimal.Decimal `json:"amount_paid"`
	AmountDue  decimal.Decimal `json:"amount_due"`

	InvoiceStatus types.InvoiceStatus `json:"invoice_status"`
	PaymentTerms  types.PaymentTerms  `json:"payment_terms"`

	IssueDate time.Time  `json:"issue_date"`
	DueDate   time.Time  `json:"due_date"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
	VoidedAt  *time.Time `json:"voided_at,omitempty"`

	// AppliedPaymentIDs keys idempotent payment recording: a reference that
	// already appears here is a no-op on replay
	AppliedPaymentIDs []string `json:"applied_payment_ids,omitempty"`

	types.BaseModel
}

// Recalculate derives subtotal, tax, total and amount due from the line
// items and the accumulated payments
func (i *Invoice) Recalculate() {
	subtotal := decimal.Zero
	for _, li := range i.LineItems {
		subtotal = subtotal.Add(li.Amount)
	}
	i.Subtotal = subtotal
	i.TaxAmount = subtotal.Mul(i.TaxPercent).Div(decimal.NewFromInt(100)).Round(2)
	i.Total = subtotal.Add(i.TaxAmount)
	i.AmountDue = decimal.Max(i.Total.Sub(i.AmountPaid), decimal.Zero)
}

// HasPaymentReference reports whether a payment reference was already applied
func (i *Invoice) HasPaymentReference(ref string) bool {
	return lo.Contains(i.AppliedPaymentIDs, ref)
}

// IsFullyPaid reports whether accumulated payments cover the total
func (i *Invoice) IsFullyPaid() bool {
	return i.AmountPaid.GreaterThanOrEqual(i.Total)
}

// Validate validates the invoice
func (i *Invoice) Validate() error {
	if i.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			Mark(ierr.ErrValidation)
	}
	if i.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			Mark(ierr.ErrValidation)
	}
	if len(i.Currency) != 3 {
		return ierr.NewError("currency must be a 3-letter code").
			WithReportableDetails(map[string]any{"currency": i.Currency}).
			Mark(ierr.ErrValidation)
	}
	if err := i.InvoiceStatus.Validate(); err != nil {
		return err
	}
	if err := i.PaymentTerms.Validate(); err != nil {
		return err
	}
	if i.TaxPercent.IsNegative() {
		return ierr.NewError("tax_percent cannot be negative").
			Mark(ierr.ErrValidation)
	}
	for _, li := range i.LineItems {
		if err := li.Validate(); err != nil {
			return err
		}
	}
	return nil
}
