package invoice

import (
	"context"
	"time"
)

// Repository is the persistence contract for invoices
type Repository interface {
	Create(ctx context.Context, inv *Invoice) (*Invoice, error)
	Get(ctx context.Context, id string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) (*Invoice, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*Invoice, error)
	// ListOverdue returns sent or partially paid invoices whose due date has
	// passed as of asOf
	ListOverdue(ctx context.Context, asOf time.Time) ([]*Invoice, error)
}
