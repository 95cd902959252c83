package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/subkernel/subkernel/internal/domain/plan"
	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/testutil"
	"github.com/subkernel/subkernel/internal/types"
)

type PricingServiceSuite struct {
	testutil.BaseServiceTestSuite
	service PricingService
}

func TestPricingService(t *testing.T) {
	suite.Run(t, new(PricingServiceSuite))
}

func (s *PricingServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewPricingService(ServiceParams{
		Logger: s.GetLogger(),
		Config: s.GetConfig(),
	})
}

func (s *PricingServiceSuite) TestFlatModel() {
	price := &plan.PriceConfig{
		Model:              types.PricingModelFlat,
		Currency:           "USD",
		Amount:             decimal.NewFromFloat(29.99),
		BillingPeriod:      types.BILLING_PERIOD_MONTHLY,
		BillingPeriodCount: 1,
	}

	s.Run("Ignores Seats And Usage", func() {
		amount, err := s.service.CalculateAmount(price, 50, decimal.NewFromInt(1000), nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromFloat(29.99)), "got %s", amount)
	})

	s.Run("Applies Subscription Discount Last", func() {
		discount := decimal.NewFromInt(10)
		amount, err := s.service.CalculateAmount(price, 0, decimal.Zero, &discount)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromFloat(26.99)), "got %s", amount)
	})
}

func (s *PricingServiceSuite) TestPerSeatModel() {
	price := &plan.PriceConfig{
		Model:              types.PricingModelPerSeat,
		Currency:           "USD",
		PricePerSeat:       decimal.NewFromInt(10),
		BillingPeriod:      types.BILLING_PERIOD_MONTHLY,
		BillingPeriodCount: 1,
		VolumeDiscounts: []plan.VolumeDiscountTier{
			{MinQuantity: 20, DiscountPercent: decimal.NewFromInt(10)},
			{MinQuantity: 50, DiscountPercent: decimal.NewFromInt(20)},
		},
	}

	s.Run("Below Discount Threshold", func() {
		amount, err := s.service.CalculateAmount(price, 10, decimal.Zero, nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(100)), "got %s", amount)
	})

	s.Run("Discount Applies To Whole Amount", func() {
		// 25 seats at 10 with the 10% tier: 250 less 25
		amount, err := s.service.CalculateAmount(price, 25, decimal.Zero, nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(225)), "got %s", amount)
	})

	s.Run("Steepest Qualifying Tier Wins", func() {
		amount, err := s.service.CalculateAmount(price, 50, decimal.Zero, nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(400)), "got %s", amount)
	})

	s.Run("Discount Stacks With Subscription Discount", func() {
		discount := decimal.NewFromInt(50)
		amount, err := s.service.CalculateAmount(price, 25, decimal.Zero, &discount)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromFloat(112.50)), "got %s", amount)
	})
}

func (s *PricingServiceSuite) TestBaseSeatModel() {
	price := &plan.PriceConfig{
		Model:              types.PricingModelBaseSeat,
		Currency:           "USD",
		Amount:             decimal.NewFromInt(50),
		PricePerSeat:       decimal.NewFromInt(8),
		IncludedSeats:      5,
		BillingPeriod:      types.BILLING_PERIOD_MONTHLY,
		BillingPeriodCount: 1,
	}

	s.Run("Within Included Seats", func() {
		amount, err := s.service.CalculateAmount(price, 3, decimal.Zero, nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(50)), "got %s", amount)
	})

	s.Run("Beyond Included Seats", func() {
		amount, err := s.service.CalculateAmount(price, 8, decimal.Zero, nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(74)), "got %s", amount)
	})
}

func (s *PricingServiceSuite) TestUsageModel() {
	price := &plan.PriceConfig{
		Model:              types.PricingModelUsage,
		Currency:           "USD",
		Amount:             decimal.NewFromInt(20),
		PricePerUnit:       decimal.NewFromFloat(0.05),
		IncludedUnits:      decimal.NewFromInt(1000),
		BillingPeriod:      types.BILLING_PERIOD_MONTHLY,
		BillingPeriodCount: 1,
	}

	s.Run("Within Included Units", func() {
		amount, err := s.service.CalculateAmount(price, 0, decimal.NewFromInt(800), nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(20)), "got %s", amount)
	})

	s.Run("Overage Billed Per Unit", func() {
		amount, err := s.service.CalculateAmount(price, 0, decimal.NewFromInt(1500), nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(45)), "got %s", amount)
	})
}

func (s *PricingServiceSuite) TestTieredModel() {
	upTo := func(n int64) *int64 { return &n }
	price := &plan.PriceConfig{
		Model:              types.PricingModelTiered,
		Currency:           "USD",
		BillingPeriod:      types.BILLING_PERIOD_MONTHLY,
		BillingPeriodCount: 1,
		Tiers: []plan.PriceTier{
			{UpTo: upTo(10), UnitAmount: decimal.NewFromInt(12)},
			{UpTo: upTo(25), UnitAmount: decimal.NewFromInt(10)},
			{UnitAmount: decimal.NewFromInt(8)},
		},
	}

	s.Run("Single Band", func() {
		amount, err := s.service.CalculateAmount(price, 7, decimal.Zero, nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(84)), "got %s", amount)
	})

	s.Run("Graduated Across Bands", func() {
		// 10 at 12, 15 at 10, 5 at 8
		amount, err := s.service.CalculateAmount(price, 30, decimal.Zero, nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(310)), "got %s", amount)
	})

	s.Run("Exactly On Band Boundary", func() {
		amount, err := s.service.CalculateAmount(price, 25, decimal.Zero, nil)
		s.NoError(err)
		s.True(amount.Equal(decimal.NewFromInt(270)), "got %s", amount)
	})
}

func (s *PricingServiceSuite) TestValidation() {
	price := &plan.PriceConfig{
		Model:              types.PricingModelFlat,
		Currency:           "USD",
		Amount:             decimal.NewFromInt(10),
		BillingPeriod:      types.BILLING_PERIOD_MONTHLY,
		BillingPeriodCount: 1,
	}

	s.Run("Nil Price Config", func() {
		_, err := s.service.CalculateAmount(nil, 1, decimal.Zero, nil)
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("Negative Seat Count", func() {
		_, err := s.service.CalculateAmount(price, -1, decimal.Zero, nil)
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("Negative Usage", func() {
		_, err := s.service.CalculateAmount(price, 0, decimal.NewFromInt(-5), nil)
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("Unknown Model", func() {
		bad := *price
		bad.Model = "per_request"
		_, err := s.service.CalculateAmount(&bad, 0, decimal.Zero, nil)
		s.Error(err)
	})
}
