package inmemory

import (
	"context"

	"github.com/subkernel/subkernel/internal/domain/revenueshare"
	ierr "github.com/subkernel/subkernel/internal/errors"
)

// RevenueShareStore implements revenueshare.Repository. The transaction id
// is unique across the ledger, which is what makes settlement idempotent.
type RevenueShareStore struct {
	store *store[*revenueshare.RevenueShare]
}

// NewRevenueShareStore creates a new in-memory revenue share store
func NewRevenueShareStore() *RevenueShareStore {
	return &RevenueShareStore{store: newStore[*revenueshare.RevenueShare]()}
}

func copyShare(r *revenueshare.RevenueShare) *revenueshare.RevenueShare {
	if r == nil {
		return nil
	}
	copied := *r
	return &copied
}

func (s *RevenueShareStore) Create(ctx context.Context, r *revenueshare.RevenueShare) (*revenueshare.RevenueShare, error) {
	if r == nil {
		return nil, ierr.NewError("revenue share cannot be nil").
			Mark(ierr.ErrValidation)
	}
	for _, existing := range s.store.list(nil) {
		if existing.TransactionID == r.TransactionID {
			return nil, ierr.NewError("revenue share already recorded for transaction").
				WithReportableDetails(map[string]any{"transaction_id": r.TransactionID}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	if err := s.store.create(r.ID, copyShare(r)); err != nil {
		return nil, err
	}
	return copyShare(r), nil
}

func (s *RevenueShareStore) Get(ctx context.Context, id string) (*revenueshare.RevenueShare, error) {
	r, err := s.store.get(id)
	if err != nil {
		return nil, ierr.NewError("revenue share not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyShare(r), nil
}

func (s *RevenueShareStore) GetByTransactionID(ctx context.Context, transactionID string) (*revenueshare.RevenueShare, error) {
	for _, r := range s.store.list(nil) {
		if r.TransactionID == transactionID {
			return copyShare(r), nil
		}
	}
	return nil, ierr.NewError("revenue share not found for transaction").
		WithReportableDetails(map[string]any{"transaction_id": transactionID}).
		Mark(ierr.ErrNotFound)
}

func (s *RevenueShareStore) ListByVendor(ctx context.Context, vendorID string) ([]*revenueshare.RevenueShare, error) {
	return s.copyAll(func(r *revenueshare.RevenueShare) bool {
		return r.VendorID == vendorID
	}), nil
}

func (s *RevenueShareStore) List(ctx context.Context) ([]*revenueshare.RevenueShare, error) {
	return s.copyAll(nil), nil
}

func (s *RevenueShareStore) copyAll(match func(*revenueshare.RevenueShare) bool) []*revenueshare.RevenueShare {
	shares := s.store.list(match)
	out := make([]*revenueshare.RevenueShare, len(shares))
	for i, r := range shares {
		out[i] = copyShare(r)
	}
	return out
}
