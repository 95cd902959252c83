package types

import (
	ierr "github.com/subkernel/subkernel/internal/errors"
)

// EntitlementType is the kind of capability an entitlement grants
type EntitlementType string

const (
	EntitlementTypeFeature      EntitlementType = "feature"
	EntitlementTypeQuota        EntitlementType = "quota"
	EntitlementTypeDiscount     EntitlementType = "discount"
	EntitlementTypeModuleAccess EntitlementType = "module_access"
)

func (t EntitlementType) Validate() error {
	switch t {
	case EntitlementTypeFeature, EntitlementTypeQuota, EntitlementTypeDiscount,
		EntitlementTypeModuleAccess:
		return nil
	default:
		return ierr.NewErrorf("invalid entitlement type: %s", t).
			WithHint("Entitlement type must be one of feature, quota, discount, module_access").
			Mark(ierr.ErrValidation)
	}
}

// CredentialType identifies an externally verified credential, e.g. a
// professional license or KYC check, that can gate an entitlement
type CredentialType string

// CredentialStatus is the verification state reported by the external
// credential pipeline
type CredentialStatus string

const (
	CredentialStatusValid    CredentialStatus = "valid"
	CredentialStatusExpired  CredentialStatus = "expired"
	CredentialStatusRevoked  CredentialStatus = "revoked"
	CredentialStatusPending  CredentialStatus = "pending"
	CredentialStatusNotFound CredentialStatus = "not_found"
)

// IsValid reports whether the credential currently satisfies a mustBeValid
// gate
func (s CredentialStatus) IsValid() bool {
	return s == CredentialStatusValid
}

// GrantOutcome is the per-definition result of an entitlement grant batch.
// blocked is a modeled state, not an error: the rest of the batch still runs.
type GrantOutcome string

const (
	GrantOutcomeGranted GrantOutcome = "granted"
	GrantOutcomeBlocked GrantOutcome = "blocked"
	GrantOutcomeNoop    GrantOutcome = "noop"
)
