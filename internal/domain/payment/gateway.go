package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest asks the gateway to capture an amount for a subscription
type ChargeRequest struct {
	SubscriptionID string          `json:"subscription_id"`
	CustomerID     string          `json:"customer_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	// IdempotencyKey lets the gateway dedupe retried captures
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ChargeResult is the gateway outcome. A decline is Success=false with a
// code, not an error; errors are reserved for transport failures the caller
// retries with backoff.
type ChargeResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// RefundResult is the gateway outcome of a refund
type RefundResult struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refund_id,omitempty"`
}

// Gateway is the consumed payment-rail contract. Timeouts are the gateway
// implementation's responsibility.
type Gateway interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
	// Refund refunds a prior transaction; a nil amount refunds in full
	Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*RefundResult, error)
}
