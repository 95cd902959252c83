package types

import "time"

// EventName is the topic-qualified name of a published event
type EventName string

const (
	EventSubscriptionCreated   EventName = "subscription.created"
	EventSubscriptionActivated EventName = "subscription.activated"
	EventSubscriptionUpdated   EventName = "subscription.updated"
	EventSubscriptionPaused    EventName = "subscription.paused"
	EventSubscriptionResumed   EventName = "subscription.resumed"
	EventSubscriptionCanceled  EventName = "subscription.canceled"
	EventSubscriptionExpired   EventName = "subscription.expired"
	EventSubscriptionSuspended EventName = "subscription.suspended"
	EventTrialStarted          EventName = "subscription.trial_started"
	EventTrialConverted        EventName = "subscription.trial_converted"
	EventTrialExpired          EventName = "subscription.trial_expired"
	EventPlanChanged           EventName = "subscription.plan_changed"

	EventPaymentSucceeded EventName = "payment.succeeded"
	EventPaymentFailed    EventName = "payment.failed"
	EventPaymentRefunded  EventName = "payment.refunded"

	EventInvoiceCreated       EventName = "invoice.created"
	EventInvoicePaid          EventName = "invoice.paid"
	EventInvoicePartiallyPaid EventName = "invoice.partially_paid"
	EventInvoiceOverdue       EventName = "invoice.overdue"
	EventInvoiceVoided        EventName = "invoice.voided"

	EventEntitlementGranted EventName = "entitlement.granted"
	EventEntitlementRevoked EventName = "entitlement.revoked"
	EventEntitlementBlocked EventName = "entitlement.blocked"

	EventDunningEscalated  EventName = "dunning.escalated"
	EventDunningRecovered  EventName = "dunning.recovered"
	EventDunningTerminated EventName = "dunning.terminated"

	EventCredentialChanged EventName = "credential.status_changed"

	EventRevenueShareCreated EventName = "revenue_share.created"
)

// Topic returns the bus topic, i.e. the segment before the first dot
func (e EventName) Topic() string {
	for i := 0; i < len(e); i++ {
		if e[i] == '.' {
			return string(e[:i])
		}
	}
	return string(e)
}

// Event is the envelope published to the bus. Delivery is at-least-once, so
// consumers key idempotence off ID.
type Event struct {
	ID            string         `json:"id"`
	Name          EventName      `json:"name"`
	TenantID      string         `json:"tenant_id"`
	EnvironmentID string         `json:"environment_id"`
	EntityID      string         `json:"entity_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NewEvent builds an event envelope with a fresh id and UTC timestamp
func NewEvent(name EventName, tenantID, environmentID, entityID string, payload map[string]any) *Event {
	return &Event{
		ID:            GenerateUUIDWithPrefix(UUID_PREFIX_EVENT),
		Name:          name,
		TenantID:      tenantID,
		EnvironmentID: environmentID,
		EntityID:      entityID,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}
}
