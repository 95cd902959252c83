package testutil

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/subkernel/subkernel/internal/domain/credential"
	"github.com/subkernel/subkernel/internal/domain/payment"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/types"
)

// StubGateway is a programmable payment gateway. By default every charge
// succeeds with a generated transaction id.
type StubGateway struct {
	mu sync.Mutex

	// DeclineCode, when set, makes charges come back declined with this code
	DeclineCode string
	// Err, when set, is returned as a transport error from every call
	Err error

	Charges []payment.ChargeRequest
	Refunds []string
}

// NewStubGateway creates a gateway stub that approves everything
func NewStubGateway() *StubGateway {
	return &StubGateway{}
}

func (g *StubGateway) Charge(ctx context.Context, req *payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	g.Charges = append(g.Charges, *req)
	if g.DeclineCode != "" {
		return &payment.ChargeResult{
			Success:   false,
			ErrorCode: g.DeclineCode,
		}, nil
	}
	return &payment.ChargeResult{
		Success:       true,
		TransactionID: types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT_TRANSACTION),
	}, nil
}

func (g *StubGateway) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*payment.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	g.Refunds = append(g.Refunds, transactionID)
	return &payment.RefundResult{
		Success:  true,
		RefundID: types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT_TRANSACTION),
	}, nil
}

// ChargeCount returns how many charges the gateway has seen
func (g *StubGateway) ChargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Charges)
}

// StubCredentialLookup serves credential statuses from a fixed map keyed by
// userID and credential type. Unknown pairs come back as not_found.
type StubCredentialLookup struct {
	mu       sync.Mutex
	statuses map[string]types.CredentialStatus

	// Err, when set, is returned from every lookup
	Err error
}

// NewStubCredentialLookup creates an empty credential lookup stub
func NewStubCredentialLookup() *StubCredentialLookup {
	return &StubCredentialLookup{statuses: make(map[string]types.CredentialStatus)}
}

func credentialKey(userID string, credType types.CredentialType) string {
	return userID + ":" + string(credType)
}

// SetStatus programs the status returned for a user and credential type
func (l *StubCredentialLookup) SetStatus(userID string, credType types.CredentialType, status types.CredentialStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[credentialKey(userID, credType)] = status
}

func (l *StubCredentialLookup) GetStatus(ctx context.Context, tenantID, userID string, credType types.CredentialType) (*credential.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, ierr.WithError(l.Err).
			WithHint("credential lookup failed").
			Mark(ierr.ErrHTTPClient)
	}
	status, ok := l.statuses[credentialKey(userID, credType)]
	if !ok {
		status = types.CredentialStatusNotFound
	}
	return &credential.Status{Status: status}, nil
}

// RecordingPublisher captures published events for assertions
type RecordingPublisher struct {
	mu     sync.Mutex
	events []*types.Event
}

// NewRecordingPublisher creates an empty recording publisher
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(ctx context.Context, event *types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

// Events returns a snapshot of everything published so far
func (p *RecordingPublisher) Events() []*types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Event(nil), p.events...)
}

// EventsNamed returns published events with the given name
func (p *RecordingPublisher) EventsNamed(name types.EventName) []*types.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*types.Event
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
