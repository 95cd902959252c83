package stripecharge

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/subkernel/subkernel/internal/config"
	"github.com/subkernel/subkernel/internal/domain/payment"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/logger"
)

// Gateway implements payment.Gateway on Stripe PaymentIntents. Declines come
// back as modeled failures; transport problems surface as errors for the
// caller's backoff loop.
type Gateway struct {
	api    *client.API
	logger *logger.Logger
}

// NewGateway creates a Stripe-backed payment gateway
func NewGateway(cfg *config.Configuration, log *logger.Logger) (*Gateway, error) {
	if cfg.Stripe.APIKey == "" {
		return nil, ierr.NewError("stripe api key is not configured").
			WithHint("Set the stripe.api_key configuration value").
			Mark(ierr.ErrValidation)
	}

	api := &client.API{}
	api.Init(cfg.Stripe.APIKey, nil)

	return &Gateway{
		api:    api,
		logger: log,
	}, nil
}

// Charge captures the amount off-session against the customer's default
// payment method
func (g *Gateway) Charge(ctx context.Context, req *payment.ChargeRequest) (*payment.ChargeResult, error) {
	if req.Amount.IsNegative() || req.Amount.IsZero() {
		return nil, ierr.NewError("charge amount must be positive").
			WithReportableDetails(map[string]any{"amount": req.Amount.String()}).
			Mark(ierr.ErrValidation)
	}

	// Round to the smallest currency unit to avoid truncation errors
	amountInCents := req.Amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()

	params := &stripe.PaymentIntentParams{
		Amount:     stripe.Int64(amountInCents),
		Currency:   stripe.String(req.Currency),
		Customer:   stripe.String(req.CustomerID),
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("subscription_id", req.SubscriptionID)

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.Type == stripe.ErrorTypeCard {
			// A decline is a modeled outcome, not an error
			g.logger.Warnw("charge declined",
				"subscription_id", req.SubscriptionID,
				"decline_code", stripeErr.Code,
			)
			return &payment.ChargeResult{
				Success:      false,
				ErrorCode:    string(stripeErr.Code),
				ErrorMessage: stripeErr.Msg,
			}, nil
		}
		return nil, ierr.WithError(err).
			WithHint("Payment gateway request failed").
			WithReportableDetails(map[string]any{"subscription_id": req.SubscriptionID}).
			Mark(ierr.ErrHTTPClient)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return &payment.ChargeResult{
			Success:      false,
			ErrorCode:    string(pi.Status),
			ErrorMessage: "payment intent did not reach succeeded status",
		}, nil
	}

	return &payment.ChargeResult{
		Success:       true,
		TransactionID: pi.ID,
	}, nil
}

// Refund refunds a prior payment intent; a nil amount refunds in full
func (g *Gateway) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*payment.RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
	}
	params.Context = ctx
	if amount != nil {
		params.Amount = stripe.Int64(amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart())
	}

	refund, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Refund request failed").
			WithReportableDetails(map[string]any{"transaction_id": transactionID}).
			Mark(ierr.ErrHTTPClient)
	}

	return &payment.RefundResult{
		Success:  true,
		RefundID: refund.ID,
	}, nil
}
