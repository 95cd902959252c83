package service

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/subkernel/subkernel/internal/api/dto"
	"github.com/subkernel/subkernel/internal/domain/credential"
	"github.com/subkernel/subkernel/internal/domain/entitlement"
	"github.com/subkernel/subkernel/internal/domain/plan"
	"github.com/subkernel/subkernel/internal/domain/subscription"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

// EntitlementService decides which entitlements a user may hold and applies
// grant/revoke side effects. Grants are evaluated independently per
// definition: a credential gate blocks one entitlement, never the batch.
type EntitlementService interface {
	GrantForPlan(ctx context.Context, sub *subscription.Subscription, p *plan.Plan, defs []plan.EntitlementDefinition, trialScoped bool) (*dto.GrantBatchResponse, error)
	RevokeForSubscription(ctx context.Context, subscriptionID string) error
	RevokeKeys(ctx context.Context, subscriptionID string, keys []string) error
	HandleCredentialChange(ctx context.Context, event *credential.ChangeEvent) error
	CheckEntitlement(ctx context.Context, userID, key string) (*dto.CheckEntitlementResponse, error)
	ListForUser(ctx context.Context, userID string) ([]*entitlement.GrantedEntitlement, error)
}

type entitlementService struct {
	ServiceParams
}

// NewEntitlementService creates a new entitlement service
func NewEntitlementService(params ServiceParams) EntitlementService {
	return &entitlementService{ServiceParams: params}
}

// GrantForPlan evaluates every definition in the batch. Blocked definitions
// are persisted as inactive grants so a later credential validation can
// activate them without a manual retrigger.
func (s *entitlementService) GrantForPlan(ctx context.Context, sub *subscription.Subscription, p *plan.Plan, defs []plan.EntitlementDefinition, trialScoped bool) (*dto.GrantBatchResponse, error) {
	if sub == nil || p == nil {
		return nil, ierr.NewError("subscription and plan are required").
			Mark(ierr.ErrValidation)
	}

	resp := &dto.GrantBatchResponse{}
	for _, def := range defs {
		result, err := s.grantOne(ctx, sub, p, def, trialScoped)
		if err != nil {
			// A single failed definition must not abort the batch
			s.Logger.Errorw("entitlement grant failed",
				"subscription_id", sub.ID,
				"key", def.Key,
				"error", err,
			)
			continue
		}
		resp.Results = append(resp.Results, *result)
	}
	return resp, nil
}

func (s *entitlementService) grantOne(ctx context.Context, sub *subscription.Subscription, p *plan.Plan, def plan.EntitlementDefinition, trialScoped bool) (*dto.GrantResult, error) {
	blocked := false
	if def.RequiredCredential != "" {
		status, err := s.CredentialLookup.GetStatus(ctx, types.GetTenantID(ctx), sub.UserID, def.RequiredCredential)
		if err != nil {
			// A lookup failure blocks this grant; the credential-change
			// handler will activate it once the pipeline reports in
			s.Logger.Warnw("credential lookup failed, blocking grant",
				"user_id", sub.UserID,
				"credential_type", def.RequiredCredential,
				"error", err,
			)
			blocked = true
		} else if status.Status == types.CredentialStatusNotFound {
			blocked = true
		} else if def.MustBeValid && !status.Status.IsValid() {
			blocked = true
		}
	}

	existing, err := s.EntitlementRepo.GetByUserAndKey(ctx, sub.UserID, def.Key)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}

	if existing == nil {
		grant := &entitlement.GrantedEntitlement{
			ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT),
			UserID:             sub.UserID,
			SubscriptionID:     sub.ID,
			PlanID:             p.ID,
			Key:                def.Key,
			Type:               def.Type,
			Value:              def.Value,
			RequiredCredential: def.RequiredCredential,
			MustBeValid:        def.MustBeValid,
			IsActive:           !blocked,
			TrialScoped:        trialScoped,
			GrantedAt:          time.Now().UTC(),
			BaseModel:          types.GetDefaultBaseModel(ctx),
		}
		if _, err := s.EntitlementRepo.Create(ctx, grant); err != nil {
			return nil, err
		}
		return s.finishGrant(ctx, grant, def, blocked)
	}

	// Keep provenance and scope current when the grant moves between
	// subscriptions or out of trial
	if existing.SubscriptionID != sub.ID || existing.TrialScoped != trialScoped {
		existing.SubscriptionID = sub.ID
		existing.PlanID = p.ID
		existing.TrialScoped = trialScoped
		if _, err := s.EntitlementRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
	}

	if blocked {
		// Compare-and-set: a no-op when already inactive
		if _, err := s.EntitlementRepo.SetActive(ctx, existing.ID, true, false); err != nil {
			return nil, err
		}
		return s.finishGrant(ctx, existing, def, true)
	}

	changed, err := s.EntitlementRepo.SetActive(ctx, existing.ID, false, true)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Already active: idempotent no-op
		return &dto.GrantResult{Key: def.Key, Outcome: types.GrantOutcomeNoop}, nil
	}
	return s.finishGrant(ctx, existing, def, false)
}

func (s *entitlementService) finishGrant(ctx context.Context, grant *entitlement.GrantedEntitlement, def plan.EntitlementDefinition, blocked bool) (*dto.GrantResult, error) {
	if blocked {
		s.publish(ctx, types.EventEntitlementBlocked, grant.ID, map[string]any{
			"user_id":         grant.UserID,
			"key":             grant.Key,
			"credential_type": def.RequiredCredential,
		})
		return &dto.GrantResult{
			Key:                 def.Key,
			Outcome:             types.GrantOutcomeBlocked,
			BlockedOnCredential: def.RequiredCredential,
		}, nil
	}

	s.publish(ctx, types.EventEntitlementGranted, grant.ID, map[string]any{
		"user_id": grant.UserID,
		"key":     grant.Key,
	})
	return &dto.GrantResult{Key: def.Key, Outcome: types.GrantOutcomeGranted}, nil
}

// RevokeForSubscription deactivates every grant the subscription provides
func (s *entitlementService) RevokeForSubscription(ctx context.Context, subscriptionID string) error {
	grants, err := s.EntitlementRepo.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	for _, grant := range grants {
		if err := s.revokeGrant(ctx, grant); err != nil {
			return err
		}
	}
	return nil
}

// RevokeKeys deactivates the subscription's grants for the named keys only,
// used on plan change to drop entitlements unique to the old plan
func (s *entitlementService) RevokeKeys(ctx context.Context, subscriptionID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	grants, err := s.EntitlementRepo.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	for _, grant := range grants {
		if lo.Contains(keys, grant.Key) {
			if err := s.revokeGrant(ctx, grant); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *entitlementService) revokeGrant(ctx context.Context, grant *entitlement.GrantedEntitlement) error {
	changed, err := s.EntitlementRepo.SetActive(ctx, grant.ID, true, false)
	if err != nil {
		return err
	}
	if changed {
		s.publish(ctx, types.EventEntitlementRevoked, grant.ID, map[string]any{
			"user_id": grant.UserID,
			"key":     grant.Key,
		})
	}
	return nil
}

// HandleCredentialChange re-evaluates only the grants gated on the changed
// credential type, across all of the user's subscriptions. Idempotent: the
// compare-and-set makes replayed events no-ops.
func (s *entitlementService) HandleCredentialChange(ctx context.Context, event *credential.ChangeEvent) error {
	if event == nil {
		return ierr.NewError("credential change event is required").
			Mark(ierr.ErrValidation)
	}

	grants, err := s.EntitlementRepo.ListByCredential(ctx, event.UserID, event.CredentialType)
	if err != nil {
		return err
	}
	if len(grants) == 0 {
		return nil
	}

	// One lookup per subscription: a grant only activates while its
	// subscription still has access
	access := make(map[string]bool)
	for _, grant := range grants {
		if _, ok := access[grant.SubscriptionID]; ok {
			continue
		}
		sub, err := s.SubRepo.Get(ctx, grant.SubscriptionID)
		if err != nil {
			if ierr.IsNotFound(err) {
				access[grant.SubscriptionID] = false
				continue
			}
			return err
		}
		access[grant.SubscriptionID] = sub.SubscriptionStatus.HasAccess()
	}

	for _, grant := range grants {
		credentialOK := event.NewStatus != types.CredentialStatusNotFound
		if grant.MustBeValid {
			credentialOK = event.NewStatus.IsValid()
		}
		desired := credentialOK && access[grant.SubscriptionID]

		changed, err := s.EntitlementRepo.SetActive(ctx, grant.ID, !desired, desired)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}
		name := types.EventEntitlementRevoked
		if desired {
			name = types.EventEntitlementGranted
		}
		s.publish(ctx, name, grant.ID, map[string]any{
			"user_id":         grant.UserID,
			"key":             grant.Key,
			"credential_type": event.CredentialType,
		})
	}

	return nil
}

// CheckEntitlement answers the produced contract other modules gate on
func (s *entitlementService) CheckEntitlement(ctx context.Context, userID, key string) (*dto.CheckEntitlementResponse, error) {
	grant, err := s.EntitlementRepo.GetByUserAndKey(ctx, userID, key)
	if err != nil {
		if ierr.IsNotFound(err) {
			return &dto.CheckEntitlementResponse{HasEntitlement: false}, nil
		}
		return nil, err
	}
	if !grant.IsActive {
		return &dto.CheckEntitlementResponse{HasEntitlement: false}, nil
	}
	return &dto.CheckEntitlementResponse{
		HasEntitlement: true,
		Value:          grant.Value,
	}, nil
}

func (s *entitlementService) ListForUser(ctx context.Context, userID string) ([]*entitlement.GrantedEntitlement, error) {
	return s.EntitlementRepo.ListByUser(ctx, userID)
}
