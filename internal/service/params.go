package service

import (
	"context"
	"fmt"

	"github.com/subkernel/subkernel/internal/cache"
	"github.com/subkernel/subkernel/internal/config"
	"github.com/subkernel/subkernel/internal/domain/credential"
	"github.com/subkernel/subkernel/internal/domain/entitlement"
	"github.com/subkernel/subkernel/internal/domain/invoice"
	"github.com/subkernel/subkernel/internal/domain/payment"
	"github.com/subkernel/subkernel/internal/domain/plan"
	"github.com/subkernel/subkernel/internal/domain/revenueshare"
	"github.com/subkernel/subkernel/internal/domain/subscription"
	"github.com/subkernel/subkernel/internal/email"
	"github.com/subkernel/subkernel/internal/locks"
	"github.com/subkernel/subkernel/internal/logger"
	"github.com/subkernel/subkernel/internal/publisher"
	"github.com/subkernel/subkernel/internal/types"
)

// ServiceParams bundles the repositories, collaborators and configuration
// every service is built from
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration

	PlanRepo         plan.Repository
	SubRepo          subscription.Repository
	EntitlementRepo  entitlement.Repository
	InvoiceRepo      invoice.Repository
	RevenueShareRepo revenueshare.Repository

	PaymentGateway   payment.Gateway
	CredentialLookup credential.StatusLookup
	EventPublisher   publisher.Publisher
	Cache            cache.Cache
	EmailService     *email.Service

	// SubLocks serializes mutating operations per subscription id
	SubLocks *locks.KeyedMutex
}

// publish emits an event on the bus. Publishing is fire-and-forget: a bus
// failure is logged, never propagated into the business operation.
func (p ServiceParams) publish(ctx context.Context, name types.EventName, entityID string, payload map[string]any) {
	event := types.NewEvent(name, types.GetTenantID(ctx), types.GetEnvironmentID(ctx), entityID, payload)
	if err := p.EventPublisher.Publish(ctx, event); err != nil {
		p.Logger.Warnw("event publish failed",
			"event_name", name,
			"entity_id", entityID,
			"error", err,
		)
	}
}

func getCacheKey(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
