package dto

import (
	"github.com/shopspring/decimal"
)

// GetAnalyticsRequest scopes the analytics snapshot; VendorID is optional
type GetAnalyticsRequest struct {
	VendorID string `json:"vendor_id,omitempty"`
}

// AnalyticsResponse is the revenue and lifecycle snapshot for a tenant or a
// single vendor within it
type AnalyticsResponse struct {
	MRR decimal.Decimal `json:"mrr"`
	ARR decimal.Decimal `json:"arr"`

	// ChurnRate is canceled-or-expired over subscriptions active at the
	// start of the trailing 30-day window, as a fraction
	ChurnRate decimal.Decimal `json:"churn_rate"`
	// TrialConversionRate is conversions over concluded trials, as a fraction
	TrialConversionRate decimal.Decimal `json:"trial_conversion_rate"`

	ActiveCount   int `json:"active_count"`
	TrialingCount int `json:"trialing_count"`
	PastDueCount  int `json:"past_due_count"`

	// TotalRevenue and PlatformRevenue come from the revenue-share ledger
	TotalRevenue    decimal.Decimal `json:"total_revenue"`
	PlatformRevenue decimal.Decimal `json:"platform_revenue"`
	VendorRevenue   decimal.Decimal `json:"vendor_revenue"`

	Currency string `json:"currency"`
}
