package plan

import (
	"context"
)

// Repository is the persistence contract for plans. Implemented elsewhere;
// the engine only depends on this narrow interface.
type Repository interface {
	Create(ctx context.Context, p *Plan) (*Plan, error)
	// Get returns the latest published version of the plan
	Get(ctx context.Context, id string) (*Plan, error)
	// GetVersion returns a specific plan version
	GetVersion(ctx context.Context, id string, version int) (*Plan, error)
	// List returns plans for the tenant, optionally filtered by vendor
	List(ctx context.Context, vendorID string) ([]*Plan, error)
	// CreateVersion appends a new immutable version of an existing plan
	CreateVersion(ctx context.Context, p *Plan) (*Plan, error)
}
