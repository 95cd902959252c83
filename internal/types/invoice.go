package types

import (
	ierr "github.com/subkernel/subkernel/internal/errors"
)

// InvoiceStatus is the collection state of an invoice. paid and void are
// terminal.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusVoid          InvoiceStatus = "void"
)

func (s InvoiceStatus) Validate() error {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartiallyPaid,
		InvoiceStatusPaid, InvoiceStatusOverdue, InvoiceStatusVoid:
		return nil
	default:
		return ierr.NewErrorf("invalid invoice status: %s", s).
			Mark(ierr.ErrValidation)
	}
}

// IsTerminal reports whether the invoice can no longer change
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusVoid
}

// PaymentTerms determines an invoice's due date relative to its issue date
type PaymentTerms string

const (
	PaymentTermsDueOnReceipt PaymentTerms = "due_on_receipt"
	PaymentTermsNet15        PaymentTerms = "net_15"
	PaymentTermsNet30        PaymentTerms = "net_30"
	PaymentTermsNet60        PaymentTerms = "net_60"
)

func (t PaymentTerms) Validate() error {
	switch t {
	case PaymentTermsDueOnReceipt, PaymentTermsNet15, PaymentTermsNet30, PaymentTermsNet60:
		return nil
	default:
		return ierr.NewErrorf("invalid payment terms: %s", t).
			WithHint("Payment terms must be one of due_on_receipt, net_15, net_30, net_60").
			Mark(ierr.ErrValidation)
	}
}

// DueDays returns the offset in days from issue date to due date
func (t PaymentTerms) DueDays() int {
	switch t {
	case PaymentTermsNet15:
		return 15
	case PaymentTermsNet30:
		return 30
	case PaymentTermsNet60:
		return 60
	default:
		return 0
	}
}
