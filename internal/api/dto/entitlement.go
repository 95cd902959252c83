package dto

import (
	"github.com/subkernel/subkernel/internal/domain/entitlement"
	"github.com/subkernel/subkernel/internal/types"
)

// CheckEntitlementResponse answers the produced checkEntitlement contract
type CheckEntitlementResponse struct {
	HasEntitlement bool   `json:"has_entitlement"`
	Value          string `json:"value,omitempty"`
}

// GrantResult is the per-definition outcome of a grant batch. A blocked
// outcome names the credential that gated it.
type GrantResult struct {
	Key                 string               `json:"key"`
	Outcome             types.GrantOutcome   `json:"outcome"`
	BlockedOnCredential types.CredentialType `json:"blocked_on_credential,omitempty"`
}

// GrantBatchResponse summarizes an entitlement grant batch
type GrantBatchResponse struct {
	Results []GrantResult `json:"results"`
}

// Granted returns how many definitions were actually granted
func (r *GrantBatchResponse) Granted() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == types.GrantOutcomeGranted {
			n++
		}
	}
	return n
}

// Blocked returns how many definitions were blocked on a credential
func (r *GrantBatchResponse) Blocked() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == types.GrantOutcomeBlocked {
			n++
		}
	}
	return n
}

// EntitlementResponse is the API representation of a granted entitlement
type EntitlementResponse struct {
	*entitlement.GrantedEntitlement
}

// NewEntitlementResponse builds the response for a granted entitlement
func NewEntitlementResponse(g *entitlement.GrantedEntitlement) *EntitlementResponse {
	if g == nil {
		return nil
	}
	return &EntitlementResponse{GrantedEntitlement: g}
}
