package subscription

import (
	"context"
	"time"
)

// Repository is the persistence contract for subscriptions and their
// sub-resources. Update must compare-and-swap on Subscription.Version and
// return ierr.ErrVersionConflict on a stale write.
type Repository interface {
	Create(ctx context.Context, s *Subscription) (*Subscription, error)
	Get(ctx context.Context, id string) (*Subscription, error)
	Update(ctx context.Context, s *Subscription) (*Subscription, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*Subscription, error)
	// ListByVendor returns every subscription on the vendor's plans; an
	// empty vendorID returns all subscriptions in the environment
	ListByVendor(ctx context.Context, vendorID string) ([]*Subscription, error)
	// ListActiveByUser returns the user's subscriptions whose status still
	// grants access, used by credential-change re-evaluation
	ListActiveByUser(ctx context.Context, userID string) ([]*Subscription, error)
	// ListDueForRenewal returns non-terminal subscriptions whose current
	// period ends at or before asOf
	ListDueForRenewal(ctx context.Context, asOf time.Time) ([]*Subscription, error)
	// ListPendingExpiry returns subscriptions whose period has elapsed as
	// of asOf and that are flagged cancel-at-period-end or already canceled
	ListPendingExpiry(ctx context.Context, asOf time.Time) ([]*Subscription, error)
	// ListTrialsEndingBy returns trialing subscriptions whose trial ends
	// after from and at or before to
	ListTrialsEndingBy(ctx context.Context, from, to time.Time) ([]*Subscription, error)

	AddSeat(ctx context.Context, seat *Seat) (*Seat, error)
	RemoveSeat(ctx context.Context, subscriptionID, userID string) error
	ListSeats(ctx context.Context, subscriptionID string) ([]*Seat, error)

	AddMember(ctx context.Context, member *Member) (*Member, error)
	RemoveMember(ctx context.Context, subscriptionID, userID string) error
	ListMembers(ctx context.Context, subscriptionID string) ([]*Member, error)
}
