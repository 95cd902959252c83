package entitlement

import (
	"context"
	"time"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

// GrantedEntitlement is the runtime fact that a user holds a capability, with
// provenance back to the granting subscription. IsActive is the single source
// of truth other modules gate on; it is only ever flipped via the
// repository's compare-and-set.
type GrantedEntitlement struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	SubscriptionID string `json:"subscription_id"`
	PlanID         string `json:"plan_id"`

	Key   string                `json:"key"`
	Type  types.EntitlementType `json:"type"`
	Value string                `json:"value,omitempty"`

	RequiredCredential types.CredentialType `json:"required_credential,omitempty"`
	MustBeValid        bool                 `json:"must_be_valid,omitempty"`

	IsActive    bool       `json:"is_active"`
	TrialScoped bool       `json:"trial_scoped"`
	GrantedAt   time.Time  `json:"granted_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`

	types.BaseModel
}

// Validate validates the granted entitlement
func (g *GrantedEntitlement) Validate() error {
	if g.UserID == "" {
		return ierr.NewError("user_id is required").
			Mark(ierr.ErrValidation)
	}
	if g.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			Mark(ierr.ErrValidation)
	}
	if g.Key == "" {
		return ierr.NewError("entitlement key is required").
			Mark(ierr.ErrValidation)
	}
	return g.Type.Validate()
}

// Repository is the persistence contract for granted entitlements
type Repository interface {
	Create(ctx context.Context, g *GrantedEntitlement) (*GrantedEntitlement, error)
	Get(ctx context.Context, id string) (*GrantedEntitlement, error)
	Update(ctx context.Context, g *GrantedEntitlement) (*GrantedEntitlement, error)
	// GetByUserAndKey returns the user's grant for a key regardless of the
	// active flag; ierr.ErrNotFound when the user never held it
	GetByUserAndKey(ctx context.Context, userID, key string) (*GrantedEntitlement, error)
	ListByUser(ctx context.Context, userID string) ([]*GrantedEntitlement, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*GrantedEntitlement, error)
	// ListByCredential returns the user's grants gated on the given
	// credential type, across all subscriptions
	ListByCredential(ctx context.Context, userID string, credType types.CredentialType) ([]*GrantedEntitlement, error)
	// SetActive flips IsActive from expected to desired. Returns false with
	// no error when the current value does not match expected, which makes
	// concurrent credential and billing mutations safe without blind
	// overwrites.
	SetActive(ctx context.Context, id string, expected, desired bool) (bool, error)
	Delete(ctx context.Context, id string) error
}
