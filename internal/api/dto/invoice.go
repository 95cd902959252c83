package dto

import (
	"github.com/shopspring/decimal"

	"github.com/subkernel/subkernel/internal/domain/invoice"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/validator"
)

// RecordInvoicePaymentRequest applies a payment against an invoice.
// PaymentReference keys idempotence: replaying the same reference is a no-op.
type RecordInvoicePaymentRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference" validate:"required"`
}

func (r *RecordInvoicePaymentRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if r.Amount.IsZero() || r.Amount.IsNegative() {
		return ierr.NewError("payment amount must be positive").
			WithReportableDetails(map[string]any{"amount": r.Amount.String()}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// InvoiceResponse is the API representation of an invoice
type InvoiceResponse struct {
	*invoice.Invoice
}

// NewInvoiceResponse builds the response for an invoice
func NewInvoiceResponse(inv *invoice.Invoice) *InvoiceResponse {
	if inv == nil {
		return nil
	}
	return &InvoiceResponse{Invoice: inv}
}
