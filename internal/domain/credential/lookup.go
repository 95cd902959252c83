package credential

import (
	"context"
	"time"

	"github.com/subkernel/subkernel/internal/types"
)

// Status is the verification state of one credential for one user, as
// reported by the external identity-verification pipeline
type Status struct {
	Status     types.CredentialStatus `json:"status"`
	VerifiedAt *time.Time             `json:"verified_at,omitempty"`
	ExpiresAt  *time.Time             `json:"expires_at,omitempty"`
}

// StatusLookup is the consumed credential/KYC contract. Implementations own
// their timeouts; a not_found status is a modeled answer, not an error.
type StatusLookup interface {
	GetStatus(ctx context.Context, tenantID, userID string, credType types.CredentialType) (*Status, error)
}

// ChangeEvent is the inbound notification that a credential's status changed.
// Delivery is at-least-once; handlers must be idempotent.
type ChangeEvent struct {
	TenantID       string                 `json:"tenant_id"`
	EnvironmentID  string                 `json:"environment_id"`
	UserID         string                 `json:"user_id"`
	CredentialType types.CredentialType   `json:"credential_type"`
	NewStatus      types.CredentialStatus `json:"new_status"`
	OccurredAt     time.Time              `json:"occurred_at"`
}
