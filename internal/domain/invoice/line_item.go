package invoice

import (
	"time"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
	"github.com/shopspring/decimal"
)

// LineItem is a single line on an invoice. Proration credits carry a
// negative amount.
type LineItem struct {
	ID             string          `json:"id"`
	InvoiceID      string          `json:"invoice_id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PeriodStart    *time.Time      `json:"period_start,omitempty"`
	PeriodEnd      *time.Time      `json:"period_end,omitempty"`
	Proration      bool            `json:"proration"`

	types.BaseModel
}

// Validate validates the invoice line item
func (i *LineItem) Validate() error {
	if i.Description == "" {
		return ierr.NewError("invoice line item validation failed").
			WithHint("description is required").
			Mark(ierr.ErrValidation)
	}

	if i.Quantity.IsNegative() {
		return ierr.NewError("invoice line item validation failed").
			WithHint("quantity must be non negative").
			Mark(ierr.ErrValidation)
	}

	// Only proration credits may go negative
	if i.Amount.IsNegative() && !i.Proration {
		return ierr.NewError("invoice line item validation failed").
			WithHint("amount must be non negative").
			WithReportableDetails(map[string]any{
				"amount": i.Amount.String(),
			}).
			Mark(ierr.ErrValidation)
	}

	if i.PeriodStart != nil && i.PeriodEnd != nil {
		if i.PeriodEnd.Before(*i.PeriodStart) {
			return ierr.NewError("invoice line item validation failed").
				WithHint("period_end must be after period_start").
				Mark(ierr.ErrValidation)
		}
	}

	return nil
}
