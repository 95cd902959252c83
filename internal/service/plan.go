package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/subkernel/subkernel/internal/api/dto"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

// PlanService manages the vendor plan catalog. Plan versions are immutable:
// a pricing change appends a version, and running subscriptions stay pinned
// to the version they subscribed on.
type PlanService interface {
	Create(ctx context.Context, req *dto.CreatePlanRequest) (*dto.PlanResponse, error)
	Get(ctx context.Context, id string) (*dto.PlanResponse, error)
	GetVersion(ctx context.Context, id string, version int) (*dto.PlanResponse, error)
	List(ctx context.Context, vendorID string) ([]*dto.PlanResponse, error)
	// CreateVersion publishes a new version with the given configuration
	CreateVersion(ctx context.Context, id string, req *dto.CreatePlanRequest) (*dto.PlanResponse, error)
}

type planService struct {
	ServiceParams
}

// NewPlanService creates a new plan service
func NewPlanService(params ServiceParams) PlanService {
	return &planService{ServiceParams: params}
}

func (s *planService) Create(ctx context.Context, req *dto.CreatePlanRequest) (*dto.PlanResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p := req.ToPlan(s.defaultFeePercent())
	p.BaseModel = types.GetDefaultBaseModel(ctx)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	created, err := s.PlanRepo.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	return dto.NewPlanResponse(created), nil
}

func (s *planService) Get(ctx context.Context, id string) (*dto.PlanResponse, error) {
	p, err := s.PlanRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return dto.NewPlanResponse(p), nil
}

func (s *planService) GetVersion(ctx context.Context, id string, version int) (*dto.PlanResponse, error) {
	p, err := s.PlanRepo.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}
	return dto.NewPlanResponse(p), nil
}

func (s *planService) List(ctx context.Context, vendorID string) ([]*dto.PlanResponse, error) {
	plans, err := s.PlanRepo.List(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.PlanResponse, len(plans))
	for i, p := range plans {
		out[i] = dto.NewPlanResponse(p)
	}
	return out, nil
}

func (s *planService) CreateVersion(ctx context.Context, id string, req *dto.CreatePlanRequest) (*dto.PlanResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	current, err := s.PlanRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.VendorID != req.VendorID {
		return nil, ierr.NewError("plan belongs to a different vendor").
			WithReportableDetails(map[string]any{
				"plan_id":   id,
				"vendor_id": req.VendorID,
			}).
			Mark(ierr.ErrPermissionDenied)
	}

	next := req.ToPlan(s.defaultFeePercent())
	next.ID = current.ID
	next.Version = current.Version + 1
	next.BaseModel = types.GetDefaultBaseModel(ctx)
	if err := next.Validate(); err != nil {
		return nil, err
	}

	created, err := s.PlanRepo.CreateVersion(ctx, next)
	if err != nil {
		return nil, err
	}
	return dto.NewPlanResponse(created), nil
}

func (s *planService) defaultFeePercent() decimal.Decimal {
	return decimal.NewFromFloat(s.Config.Billing.DefaultPlatformFeePercent)
}
