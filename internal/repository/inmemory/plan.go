package inmemory

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/subkernel/subkernel/internal/domain/plan"
	ierr "github.com/subkernel/subkernel/internal/errors"
)

// PlanStore implements plan.Repository. Versions are immutable rows keyed by
// id and version; Get resolves the highest version.
type PlanStore struct {
	store *store[*plan.Plan]
}

// NewPlanStore creates a new in-memory plan store
func NewPlanStore() *PlanStore {
	return &PlanStore{store: newStore[*plan.Plan]()}
}

func versionKey(id string, version int) string {
	return fmt.Sprintf("%s:%d", id, version)
}

func copyPlan(p *plan.Plan) *plan.Plan {
	if p == nil {
		return nil
	}
	copied := *p
	copied.Metadata = lo.Assign(map[string]string{}, p.Metadata)
	copied.TrialConfigs = lo.Assign(map[string]plan.TrialConfig{}, p.TrialConfigs)
	copied.Entitlements = append([]plan.EntitlementDefinition(nil), p.Entitlements...)
	copied.Price.VolumeDiscounts = append([]plan.VolumeDiscountTier(nil), p.Price.VolumeDiscounts...)
	copied.Price.Tiers = append([]plan.PriceTier(nil), p.Price.Tiers...)
	return &copied
}

func (s *PlanStore) Create(ctx context.Context, p *plan.Plan) (*plan.Plan, error) {
	if p == nil {
		return nil, ierr.NewError("plan cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := s.store.create(versionKey(p.ID, p.Version), copyPlan(p)); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create plan").
			WithReportableDetails(map[string]any{"id": p.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	return copyPlan(p), nil
}

func (s *PlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	var latest *plan.Plan
	for _, p := range s.store.list(func(p *plan.Plan) bool { return p.ID == id }) {
		if latest == nil || p.Version > latest.Version {
			latest = p
		}
	}
	if latest == nil {
		return nil, ierr.NewError("plan not found").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}
	return copyPlan(latest), nil
}

func (s *PlanStore) GetVersion(ctx context.Context, id string, version int) (*plan.Plan, error) {
	p, err := s.store.get(versionKey(id, version))
	if err != nil {
		return nil, ierr.NewError("plan version not found").
			WithReportableDetails(map[string]any{"id": id, "version": version}).
			Mark(ierr.ErrNotFound)
	}
	return copyPlan(p), nil
}

func (s *PlanStore) List(ctx context.Context, vendorID string) ([]*plan.Plan, error) {
	latest := make(map[string]*plan.Plan)
	for _, p := range s.store.list(func(p *plan.Plan) bool {
		return vendorID == "" || p.VendorID == vendorID
	}) {
		if cur, ok := latest[p.ID]; !ok || p.Version > cur.Version {
			latest[p.ID] = p
		}
	}
	out := make([]*plan.Plan, 0, len(latest))
	for _, p := range latest {
		out = append(out, copyPlan(p))
	}
	return out, nil
}

func (s *PlanStore) CreateVersion(ctx context.Context, p *plan.Plan) (*plan.Plan, error) {
	if p == nil {
		return nil, ierr.NewError("plan cannot be nil").
			Mark(ierr.ErrValidation)
	}
	current, err := s.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if p.Version != current.Version+1 {
		return nil, ierr.NewErrorf("expected version %d, got %d", current.Version+1, p.Version).
			Mark(ierr.ErrVersionConflict)
	}
	if err := s.store.create(versionKey(p.ID, p.Version), copyPlan(p)); err != nil {
		return nil, err
	}
	return copyPlan(p), nil
}
