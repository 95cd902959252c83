package inmemory

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/subkernel/subkernel/internal/domain/subscription"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

// SubscriptionStore implements subscription.Repository. Update enforces
// optimistic concurrency on Subscription.Version.
type SubscriptionStore struct {
	subs    *store[*subscription.Subscription]
	seats   *store[*subscription.Seat]
	members *store[*subscription.Member]
}

// NewSubscriptionStore creates a new in-memory subscription store
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		subs:    newStore[*subscription.Subscription](),
		seats:   newStore[*subscription.Seat](),
		members: newStore[*subscription.Member](),
	}
}

func copySubscription(s *subscription.Subscription) *subscription.Subscription {
	if s == nil {
		return nil
	}
	copied := *s
	copied.Metadata = lo.Assign(map[string]string{}, s.Metadata)
	copied.TrialStart = copyTime(s.TrialStart)
	copied.TrialEnd = copyTime(s.TrialEnd)
	copied.CanceledAt = copyTime(s.CanceledAt)
	copied.EndedAt = copyTime(s.EndedAt)
	copied.PausedAt = copyTime(s.PausedAt)
	return &copied
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, error) {
	if sub == nil {
		return nil, ierr.NewError("subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}
	sub.Version = 1
	if err := s.subs.create(sub.ID, copySubscription(sub)); err != nil {
		return nil, err
	}
	return copySubscription(sub), nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.subs.get(id)
	if err != nil {
		return nil, ierr.NewError("subscription not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copySubscription(sub), nil
}

// Update compares the caller's Version against the stored one and bumps it
// on success; a mismatch means a concurrent writer won.
func (s *SubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, error) {
	if sub == nil {
		return nil, ierr.NewError("subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}

	var updated *subscription.Subscription
	err := s.subs.withLock(func(items map[string]*subscription.Subscription) error {
		current, ok := items[sub.ID]
		if !ok {
			return ierr.NewError("subscription not found").
				WithReportableDetails(map[string]any{"id": sub.ID}).
				Mark(ierr.ErrNotFound)
		}
		if current.Version != sub.Version {
			return ierr.NewError("subscription was modified concurrently").
				WithHint("Reload the subscription and retry the operation").
				WithReportableDetails(map[string]any{
					"id":               sub.ID,
					"expected_version": sub.Version,
					"actual_version":   current.Version,
				}).
				Mark(ierr.ErrVersionConflict)
		}
		next := copySubscription(sub)
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()
		items[sub.ID] = next
		updated = copySubscription(next)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SubscriptionStore) ListByCustomer(ctx context.Context, customerID string) ([]*subscription.Subscription, error) {
	return s.copyAll(func(sub *subscription.Subscription) bool {
		return sub.CustomerID == customerID
	}), nil
}

func (s *SubscriptionStore) ListByVendor(ctx context.Context, vendorID string) ([]*subscription.Subscription, error) {
	return s.copyAll(func(sub *subscription.Subscription) bool {
		return vendorID == "" || sub.VendorID == vendorID
	}), nil
}

func (s *SubscriptionStore) ListActiveByUser(ctx context.Context, userID string) ([]*subscription.Subscription, error) {
	return s.copyAll(func(sub *subscription.Subscription) bool {
		return sub.UserID == userID && sub.SubscriptionStatus.HasAccess()
	}), nil
}

func (s *SubscriptionStore) ListDueForRenewal(ctx context.Context, asOf time.Time) ([]*subscription.Subscription, error) {
	return s.copyAll(func(sub *subscription.Subscription) bool {
		if sub.SubscriptionStatus.IsTerminal() {
			return false
		}
		switch sub.SubscriptionStatus {
		case types.SubscriptionStatusActive, types.SubscriptionStatusPastDue, types.SubscriptionStatusTrialing:
			return !sub.CurrentPeriodEnd.After(asOf)
		default:
			return false
		}
	}), nil
}

func (s *SubscriptionStore) ListPendingExpiry(ctx context.Context, asOf time.Time) ([]*subscription.Subscription, error) {
	return s.copyAll(func(sub *subscription.Subscription) bool {
		if sub.SubscriptionStatus.IsTerminal() || sub.CurrentPeriodEnd.After(asOf) {
			return false
		}
		return sub.CancelAtPeriodEnd || sub.SubscriptionStatus == types.SubscriptionStatusCanceled
	}), nil
}

func (s *SubscriptionStore) ListTrialsEndingBy(ctx context.Context, from, to time.Time) ([]*subscription.Subscription, error) {
	return s.copyAll(func(sub *subscription.Subscription) bool {
		if sub.SubscriptionStatus != types.SubscriptionStatusTrialing || sub.TrialEnd == nil {
			return false
		}
		return sub.TrialEnd.After(from) && !sub.TrialEnd.After(to)
	}), nil
}

func (s *SubscriptionStore) copyAll(match func(*subscription.Subscription) bool) []*subscription.Subscription {
	subs := s.subs.list(match)
	out := make([]*subscription.Subscription, len(subs))
	for i, sub := range subs {
		out[i] = copySubscription(sub)
	}
	return out
}

func (s *SubscriptionStore) AddSeat(ctx context.Context, seat *subscription.Seat) (*subscription.Seat, error) {
	for _, existing := range s.seats.list(nil) {
		if existing.SubscriptionID == seat.SubscriptionID && existing.UserID == seat.UserID {
			return nil, ierr.NewError("user already holds a seat on this subscription").
				WithReportableDetails(map[string]any{"user_id": seat.UserID}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	copied := *seat
	if err := s.seats.create(seat.ID, &copied); err != nil {
		return nil, err
	}
	out := *seat
	return &out, nil
}

func (s *SubscriptionStore) RemoveSeat(ctx context.Context, subscriptionID, userID string) error {
	for _, seat := range s.seats.list(nil) {
		if seat.SubscriptionID == subscriptionID && seat.UserID == userID {
			return s.seats.delete(seat.ID)
		}
	}
	return ierr.NewError("seat not found").
		WithReportableDetails(map[string]any{
			"subscription_id": subscriptionID,
			"user_id":         userID,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *SubscriptionStore) ListSeats(ctx context.Context, subscriptionID string) ([]*subscription.Seat, error) {
	seats := s.seats.list(func(seat *subscription.Seat) bool {
		return seat.SubscriptionID == subscriptionID
	})
	out := make([]*subscription.Seat, len(seats))
	for i, seat := range seats {
		copied := *seat
		out[i] = &copied
	}
	return out, nil
}

func (s *SubscriptionStore) AddMember(ctx context.Context, member *subscription.Member) (*subscription.Member, error) {
	for _, existing := range s.members.list(nil) {
		if existing.SubscriptionID == member.SubscriptionID && existing.UserID == member.UserID {
			return nil, ierr.NewError("user is already a member of this subscription").
				WithReportableDetails(map[string]any{"user_id": member.UserID}).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	copied := *member
	if err := s.members.create(member.ID, &copied); err != nil {
		return nil, err
	}
	out := *member
	return &out, nil
}

func (s *SubscriptionStore) RemoveMember(ctx context.Context, subscriptionID, userID string) error {
	for _, member := range s.members.list(nil) {
		if member.SubscriptionID == subscriptionID && member.UserID == userID {
			return s.members.delete(member.ID)
		}
	}
	return ierr.NewError("member not found").
		WithReportableDetails(map[string]any{
			"subscription_id": subscriptionID,
			"user_id":         userID,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *SubscriptionStore) ListMembers(ctx context.Context, subscriptionID string) ([]*subscription.Member, error) {
	members := s.members.list(func(member *subscription.Member) bool {
		return member.SubscriptionID == subscriptionID
	})
	out := make([]*subscription.Member, len(members))
	for i, member := range members {
		copied := *member
		out[i] = &copied
	}
	return out, nil
}
