package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	ierr "github.com/subkernel/subkernel/internal/errors"
	"github.com/subkernel/subkernel/internal/testutil"
	"github.com/subkernel/subkernel/internal/types"
)

type ProrationServiceSuite struct {
	testutil.BaseServiceTestSuite
	service ProrationService
}

func TestProrationService(t *testing.T) {
	suite.Run(t, new(ProrationServiceSuite))
}

func (s *ProrationServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.service = NewProrationService(ServiceParams{
		Logger: s.GetLogger(),
		Config: s.GetConfig(),
	})
}

func (s *ProrationServiceSuite) periodOf(days int) (time.Time, time.Time) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, days)
}

func (s *ProrationServiceSuite) TestImmediateProrate() {
	start, end := s.periodOf(10)

	s.Run("Upgrade At Midpoint", func() {
		result, err := s.service.Calculate(ProrationParams{
			OldAmount:   decimal.NewFromInt(100),
			NewAmount:   decimal.NewFromInt(200),
			PeriodStart: start,
			PeriodEnd:   end,
			ChangeAt:    start.AddDate(0, 0, 5),
			Behavior:    types.ProrationBehaviorImmediateProrate,
		})
		s.NoError(err)
		s.True(result.CreditAmount.Equal(decimal.NewFromInt(50)), "credit %s", result.CreditAmount)
		s.True(result.ChargeAmount.Equal(decimal.NewFromInt(100)), "charge %s", result.ChargeAmount)
		s.True(result.NetAmount.Equal(decimal.NewFromInt(50)), "net %s", result.NetAmount)
	})

	s.Run("Downgrade Produces Negative Net", func() {
		result, err := s.service.Calculate(ProrationParams{
			OldAmount:   decimal.NewFromInt(200),
			NewAmount:   decimal.NewFromInt(100),
			PeriodStart: start,
			PeriodEnd:   end,
			ChangeAt:    start.AddDate(0, 0, 5),
			Behavior:    types.ProrationBehaviorImmediateProrate,
		})
		s.NoError(err)
		s.True(result.NetAmount.Equal(decimal.NewFromInt(-50)), "net %s", result.NetAmount)
	})

	s.Run("Change At Period Start Prorates Fully", func() {
		result, err := s.service.Calculate(ProrationParams{
			OldAmount:   decimal.NewFromInt(100),
			NewAmount:   decimal.NewFromInt(300),
			PeriodStart: start,
			PeriodEnd:   end,
			ChangeAt:    start,
			Behavior:    types.ProrationBehaviorImmediateProrate,
		})
		s.NoError(err)
		s.True(result.CreditAmount.Equal(decimal.NewFromInt(100)))
		s.True(result.ChargeAmount.Equal(decimal.NewFromInt(300)))
		s.True(result.NetAmount.Equal(decimal.NewFromInt(200)))
	})
}

func (s *ProrationServiceSuite) TestOtherBehaviors() {
	start, end := s.periodOf(10)
	params := ProrationParams{
		OldAmount:   decimal.NewFromInt(100),
		NewAmount:   decimal.NewFromInt(200),
		PeriodStart: start,
		PeriodEnd:   end,
		ChangeAt:    start.AddDate(0, 0, 5),
	}

	s.Run("Next Cycle Owes Nothing Now", func() {
		p := params
		p.Behavior = types.ProrationBehaviorNextCycle
		result, err := s.service.Calculate(p)
		s.NoError(err)
		s.True(result.NetAmount.IsZero())
		s.True(result.CreditAmount.IsZero())
		s.True(result.ChargeAmount.IsZero())
	})

	s.Run("Immediate Full Charges New Price Without Credit", func() {
		p := params
		p.Behavior = types.ProrationBehaviorImmediateFull
		result, err := s.service.Calculate(p)
		s.NoError(err)
		s.True(result.ChargeAmount.Equal(decimal.NewFromInt(200)))
		s.True(result.CreditAmount.IsZero())
		s.True(result.NetAmount.Equal(decimal.NewFromInt(200)))
	})
}

func (s *ProrationServiceSuite) TestRoundingOnNet() {
	// A third of the period remains; components round to cents but the net
	// is fixed before they do
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 3)
	result, err := s.service.Calculate(ProrationParams{
		OldAmount:   decimal.NewFromInt(10),
		NewAmount:   decimal.NewFromInt(20),
		PeriodStart: start,
		PeriodEnd:   end,
		ChangeAt:    start.AddDate(0, 0, 2),
		Behavior:    types.ProrationBehaviorImmediateProrate,
	})
	s.NoError(err)
	s.True(result.CreditAmount.Equal(decimal.NewFromFloat(3.33)), "credit %s", result.CreditAmount)
	s.True(result.ChargeAmount.Equal(decimal.NewFromFloat(6.67)), "charge %s", result.ChargeAmount)
	s.True(result.NetAmount.Equal(decimal.NewFromFloat(3.33)), "net %s", result.NetAmount)
}

func (s *ProrationServiceSuite) TestValidation() {
	start, end := s.periodOf(10)

	s.Run("Change Before Period Start", func() {
		_, err := s.service.Calculate(ProrationParams{
			OldAmount:   decimal.NewFromInt(10),
			NewAmount:   decimal.NewFromInt(20),
			PeriodStart: start,
			PeriodEnd:   end,
			ChangeAt:    start.AddDate(0, 0, -1),
			Behavior:    types.ProrationBehaviorImmediateProrate,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("Change At Period End", func() {
		_, err := s.service.Calculate(ProrationParams{
			OldAmount:   decimal.NewFromInt(10),
			NewAmount:   decimal.NewFromInt(20),
			PeriodStart: start,
			PeriodEnd:   end,
			ChangeAt:    end,
			Behavior:    types.ProrationBehaviorImmediateProrate,
		})
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.Run("Inverted Period", func() {
		_, err := s.service.Calculate(ProrationParams{
			OldAmount:   decimal.NewFromInt(10),
			NewAmount:   decimal.NewFromInt(20),
			PeriodStart: end,
			PeriodEnd:   start,
			ChangeAt:    start,
			Behavior:    types.ProrationBehaviorImmediateProrate,
		})
		s.Error(err)
	})
}
