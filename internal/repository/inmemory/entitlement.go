package inmemory

import (
	"context"
	"time"

	"github.com/subkernel/subkernel/internal/domain/entitlement"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

// EntitlementStore implements entitlement.Repository
type EntitlementStore struct {
	store *store[*entitlement.GrantedEntitlement]
}

// NewEntitlementStore creates a new in-memory entitlement store
func NewEntitlementStore() *EntitlementStore {
	return &EntitlementStore{store: newStore[*entitlement.GrantedEntitlement]()}
}

func copyGrant(g *entitlement.GrantedEntitlement) *entitlement.GrantedEntitlement {
	if g == nil {
		return nil
	}
	copied := *g
	copied.RevokedAt = copyTime(g.RevokedAt)
	return &copied
}

func (s *EntitlementStore) Create(ctx context.Context, g *entitlement.GrantedEntitlement) (*entitlement.GrantedEntitlement, error) {
	if g == nil {
		return nil, ierr.NewError("entitlement cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := s.store.create(g.ID, copyGrant(g)); err != nil {
		return nil, err
	}
	return copyGrant(g), nil
}

func (s *EntitlementStore) Get(ctx context.Context, id string) (*entitlement.GrantedEntitlement, error) {
	g, err := s.store.get(id)
	if err != nil {
		return nil, ierr.NewError("entitlement not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyGrant(g), nil
}

func (s *EntitlementStore) Update(ctx context.Context, g *entitlement.GrantedEntitlement) (*entitlement.GrantedEntitlement, error) {
	if g == nil {
		return nil, ierr.NewError("entitlement cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := s.store.update(g.ID, copyGrant(g)); err != nil {
		return nil, err
	}
	return copyGrant(g), nil
}

func (s *EntitlementStore) GetByUserAndKey(ctx context.Context, userID, key string) (*entitlement.GrantedEntitlement, error) {
	for _, g := range s.store.list(nil) {
		if g.UserID == userID && g.Key == key {
			return copyGrant(g), nil
		}
	}
	return nil, ierr.NewError("entitlement not found").
		WithReportableDetails(map[string]any{"user_id": userID, "key": key}).
		Mark(ierr.ErrNotFound)
}

func (s *EntitlementStore) ListByUser(ctx context.Context, userID string) ([]*entitlement.GrantedEntitlement, error) {
	return s.copyAll(func(g *entitlement.GrantedEntitlement) bool {
		return g.UserID == userID
	}), nil
}

func (s *EntitlementStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*entitlement.GrantedEntitlement, error) {
	return s.copyAll(func(g *entitlement.GrantedEntitlement) bool {
		return g.SubscriptionID == subscriptionID
	}), nil
}

func (s *EntitlementStore) ListByCredential(ctx context.Context, userID string, credType types.CredentialType) ([]*entitlement.GrantedEntitlement, error) {
	return s.copyAll(func(g *entitlement.GrantedEntitlement) bool {
		return g.UserID == userID && g.RequiredCredential == credType
	}), nil
}

// SetActive flips the active flag only when it currently matches expected
func (s *EntitlementStore) SetActive(ctx context.Context, id string, expected, desired bool) (bool, error) {
	changed := false
	err := s.store.withLock(func(items map[string]*entitlement.GrantedEntitlement) error {
		g, ok := items[id]
		if !ok {
			return ierr.NewError("entitlement not found").
				WithReportableDetails(map[string]any{"id": id}).
				Mark(ierr.ErrNotFound)
		}
		if g.IsActive != expected {
			return nil
		}
		next := copyGrant(g)
		next.IsActive = desired
		if !desired {
			now := time.Now().UTC()
			next.RevokedAt = &now
		} else {
			next.RevokedAt = nil
		}
		items[id] = next
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *EntitlementStore) Delete(ctx context.Context, id string) error {
	return s.store.delete(id)
}

func (s *EntitlementStore) copyAll(match func(*entitlement.GrantedEntitlement) bool) []*entitlement.GrantedEntitlement {
	grants := s.store.list(match)
	out := make([]*entitlement.GrantedEntitlement, len(grants))
	for i, g := range grants {
		out[i] = copyGrant(g)
	}
	return out
}
