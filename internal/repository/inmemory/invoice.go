package inmemory

import (
	"context"
	"time"

	"github.com/subkernel/subkernel/internal/domain/invoice"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

// InvoiceStore implements invoice.Repository
type InvoiceStore struct {
	store *store[*invoice.Invoice]
}

// NewInvoiceStore creates a new in-memory invoice store
func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{store: newStore[*invoice.Invoice]()}
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	if inv == nil {
		return nil
	}
	copied := *inv
	copied.PaidAt = copyTime(inv.PaidAt)
	copied.VoidedAt = copyTime(inv.VoidedAt)
	copied.AppliedPaymentIDs = append([]string(nil), inv.AppliedPaymentIDs...)
	copied.LineItems = make([]*invoice.LineItem, len(inv.LineItems))
	for i, line := range inv.LineItems {
		l := *line
		l.PeriodStart = copyTime(line.PeriodStart)
		l.PeriodEnd = copyTime(line.PeriodEnd)
		copied.LineItems[i] = &l
	}
	return &copied
}

func (s *InvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	if inv == nil {
		return nil, ierr.NewError("invoice cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := s.store.create(inv.ID, copyInvoice(inv)); err != nil {
		return nil, err
	}
	return copyInvoice(inv), nil
}

func (s *InvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	inv, err := s.store.get(id)
	if err != nil {
		return nil, ierr.NewError("invoice not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyInvoice(inv), nil
}

func (s *InvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	if inv == nil {
		return nil, ierr.NewError("invoice cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := s.store.update(inv.ID, copyInvoice(inv)); err != nil {
		return nil, err
	}
	return copyInvoice(inv), nil
}

func (s *InvoiceStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*invoice.Invoice, error) {
	invoices := s.store.list(func(inv *invoice.Invoice) bool {
		return inv.SubscriptionID == subscriptionID
	})
	out := make([]*invoice.Invoice, len(invoices))
	for i, inv := range invoices {
		out[i] = copyInvoice(inv)
	}
	return out, nil
}

func (s *InvoiceStore) ListOverdue(ctx context.Context, asOf time.Time) ([]*invoice.Invoice, error) {
	invoices := s.store.list(func(inv *invoice.Invoice) bool {
		switch inv.InvoiceStatus {
		case types.InvoiceStatusSent, types.InvoiceStatusPartiallyPaid:
			return inv.DueDate.Before(asOf)
		default:
			return false
		}
	})
	out := make([]*invoice.Invoice, len(invoices))
	for i, inv := range invoices {
		out[i] = copyInvoice(inv)
	}
	return out, nil
}
