package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/subkernel/subkernel/internal/api/dto"
	"github.com/subkernel/subkernel/internal/cache"
	"github.com/subkernel/subkernel/internal/domain/revenueshare"
	"github.com/subkernel/subkernel/internal/domain/subscription"
	"github.com/subkernel/subkernel/internal/types"
)

const (
	analyticsCacheTTL = 5 * time.Minute
	churnWindow       = 30 * 24 * time.Hour
	daysPerMonth      = 30
)

// AnalyticsService aggregates recurring-revenue and lifecycle metrics from
// live subscriptions and the revenue-share ledger. Snapshots are cached
// briefly; the numbers move slowly enough that staleness is acceptable.
type AnalyticsService interface {
	GetSnapshot(ctx context.Context, req *dto.GetAnalyticsRequest) (*dto.AnalyticsResponse, error)
}

type analyticsService struct {
	ServiceParams
	pricing PricingService
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(params ServiceParams) AnalyticsService {
	return &analyticsService{
		ServiceParams: params,
		pricing:       NewPricingService(params),
	}
}

func (s *analyticsService) GetSnapshot(ctx context.Context, req *dto.GetAnalyticsRequest) (*dto.AnalyticsResponse, error) {
	cacheKey := getCacheKey("analytics:%s:%s:%s",
		types.GetTenantID(ctx), types.GetEnvironmentID(ctx), req.VendorID)
	if cached, ok := s.Cache.Get(ctx, cacheKey); ok {
		if resp, ok := cache.UnmarshalCacheValue[dto.AnalyticsResponse](cached); ok {
			return resp, nil
		}
	}

	subs, err := s.SubRepo.ListByVendor(ctx, req.VendorID)
	if err != nil {
		return nil, err
	}

	resp := &dto.AnalyticsResponse{
		MRR:                 decimal.Zero,
		ARR:                 decimal.Zero,
		ChurnRate:           decimal.Zero,
		TrialConversionRate: decimal.Zero,
		TotalRevenue:        decimal.Zero,
		PlatformRevenue:     decimal.Zero,
		VendorRevenue:       decimal.Zero,
	}

	now := time.Now().UTC()
	windowStart := now.Add(-churnWindow)
	var (
		churned         int
		activeAtWindow  int
		trialsConcluded int
		trialsConverted int
	)

	for _, sub := range subs {
		switch sub.SubscriptionStatus {
		case types.SubscriptionStatusActive:
			resp.ActiveCount++
		case types.SubscriptionStatusTrialing:
			resp.TrialingCount++
		case types.SubscriptionStatusPastDue:
			resp.PastDueCount++
		}

		if sub.SubscriptionStatus == types.SubscriptionStatusActive ||
			sub.SubscriptionStatus == types.SubscriptionStatusPastDue {
			monthly, currency, err := s.monthlyAmount(ctx, sub)
			if err != nil {
				s.Logger.Warnw("skipping subscription in revenue rollup",
					"subscription_id", sub.ID,
					"error", err,
				)
			} else {
				resp.MRR = resp.MRR.Add(monthly)
				if resp.Currency == "" {
					resp.Currency = currency
				}
			}
		}

		// Churn counts exits inside the trailing window against everything
		// that was alive when the window opened
		exited := sub.EndedAt != nil && !sub.EndedAt.Before(windowStart)
		aliveAtWindow := sub.CreatedAt.Before(windowStart) &&
			(sub.EndedAt == nil || !sub.EndedAt.Before(windowStart))
		if aliveAtWindow {
			activeAtWindow++
			if exited {
				churned++
			}
		}

		if sub.TrialStart != nil && !sub.IsTrialing() {
			trialsConcluded++
			if sub.SubscriptionStatus != types.SubscriptionStatusExpired {
				trialsConverted++
			}
		}
	}

	resp.MRR = resp.MRR.Round(2)
	resp.ARR = resp.MRR.Mul(decimal.NewFromInt(12)).Round(2)
	if activeAtWindow > 0 {
		resp.ChurnRate = decimal.NewFromInt(int64(churned)).
			Div(decimal.NewFromInt(int64(activeAtWindow))).Round(4)
	}
	if trialsConcluded > 0 {
		resp.TrialConversionRate = decimal.NewFromInt(int64(trialsConverted)).
			Div(decimal.NewFromInt(int64(trialsConcluded))).Round(4)
	}

	if err := s.addRevenueTotals(ctx, req.VendorID, resp); err != nil {
		return nil, err
	}

	s.Cache.Set(ctx, cacheKey, resp, analyticsCacheTTL)
	return resp, nil
}

// monthlyAmount normalizes one subscription's recurring amount to a calendar
// month. Sub-month periods scale by a 30-day month.
func (s *analyticsService) monthlyAmount(ctx context.Context, sub *subscription.Subscription) (decimal.Decimal, string, error) {
	p, err := s.PlanRepo.GetVersion(ctx, sub.PlanID, sub.PlanVersion)
	if err != nil {
		return decimal.Zero, "", err
	}

	// Usage is excluded: MRR tracks committed recurring revenue only
	amount, err := s.pricing.CalculateAmount(&p.Price, sub.SeatCount, decimal.Zero, sub.DiscountPercent)
	if err != nil {
		return decimal.Zero, "", err
	}

	count := p.Price.BillingPeriodCount
	if count < 1 {
		count = 1
	}
	months := p.Price.BillingPeriod.MonthsPerPeriod() * count
	if months > 0 {
		return amount.Div(decimal.NewFromInt(int64(months))), p.Price.Currency, nil
	}

	var periodDays int64
	switch p.Price.BillingPeriod {
	case types.BILLING_PERIOD_DAILY:
		periodDays = int64(count)
	case types.BILLING_PERIOD_WEEKLY:
		periodDays = int64(7 * count)
	default:
		periodDays = daysPerMonth
	}
	return amount.Mul(decimal.NewFromInt(daysPerMonth)).Div(decimal.NewFromInt(periodDays)), p.Price.Currency, nil
}

func (s *analyticsService) addRevenueTotals(ctx context.Context, vendorID string, resp *dto.AnalyticsResponse) error {
	shares, err := s.listShares(ctx, vendorID)
	if err != nil {
		return err
	}
	for _, share := range shares {
		resp.TotalRevenue = resp.TotalRevenue.Add(share.GrossAmount)
		resp.PlatformRevenue = resp.PlatformRevenue.Add(share.PlatformFee)
		resp.VendorRevenue = resp.VendorRevenue.Add(share.VendorAmount)
		if resp.Currency == "" {
			resp.Currency = share.Currency
		}
	}
	return nil
}

func (s *analyticsService) listShares(ctx context.Context, vendorID string) ([]*revenueshare.RevenueShare, error) {
	if vendorID != "" {
		return s.RevenueShareRepo.ListByVendor(ctx, vendorID)
	}
	return s.RevenueShareRepo.List(ctx)
}
