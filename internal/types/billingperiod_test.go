package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBillingDate_MonthEndClamping(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		unit     BillingPeriod
		count    int
		expected time.Time
	}{
		{
			name:     "Jan31_PlusOneMonth_ClampsToFeb28",
			start:    time.Date(2026, 1, 31, 10, 30, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_MONTHLY,
			count:    1,
			expected: time.Date(2026, 2, 28, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "Jan31_LeapYear_ClampsToFeb29",
			start:    time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_MONTHLY,
			count:    1,
			expected: time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "May31_PlusOneMonth_ClampsToJun30",
			start:    time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_MONTHLY,
			count:    1,
			expected: time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "MidMonth_PlusOneMonth_KeepsDay",
			start:    time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_MONTHLY,
			count:    1,
			expected: time.Date(2026, 4, 15, 8, 0, 0, 0, time.UTC),
		},
		{
			name:     "Nov30_Quarterly_CrossesYearBoundary",
			start:    time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_QUARTERLY,
			count:    1,
			expected: time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Feb29_Annual_ClampsToFeb28",
			start:    time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_ANNUAL,
			count:    1,
			expected: time.Date(2029, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Monthly_CountThree_SpansQuarter",
			start:    time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_MONTHLY,
			count:    3,
			expected: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Daily_AddsDays",
			start:    time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_DAILY,
			count:    5,
			expected: time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC),
		},
		{
			name:     "Weekly_AddsSevenDaysPerCount",
			start:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_WEEKLY,
			count:    2,
			expected: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "ZeroCount_TreatedAsOne",
			start:    time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			unit:     BILLING_PERIOD_MONTHLY,
			count:    0,
			expected: time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBillingDate(tt.start, tt.unit, tt.count)
			assert.True(t, got.Equal(tt.expected), "got %s, want %s", got, tt.expected)
		})
	}
}

func TestNextBillingDate_ConsecutivePeriodsDoNotDrift(t *testing.T) {
	// Once a month-end start clamps, later periods anchor on the clamped
	// day rather than oscillating
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	first := NextBillingDate(start, BILLING_PERIOD_MONTHLY, 1)
	assert.Equal(t, 28, first.Day())

	second := NextBillingDate(first, BILLING_PERIOD_MONTHLY, 1)
	assert.Equal(t, time.March, second.Month())
	assert.Equal(t, 28, second.Day())
}

func TestBillingPeriod_MonthsPerPeriod(t *testing.T) {
	assert.Equal(t, 1, BILLING_PERIOD_MONTHLY.MonthsPerPeriod())
	assert.Equal(t, 3, BILLING_PERIOD_QUARTERLY.MonthsPerPeriod())
	assert.Equal(t, 12, BILLING_PERIOD_ANNUAL.MonthsPerPeriod())
	assert.Equal(t, 0, BILLING_PERIOD_WEEKLY.MonthsPerPeriod())
	assert.Equal(t, 0, BILLING_PERIOD_DAILY.MonthsPerPeriod())
}

func TestBillingPeriod_Validate(t *testing.T) {
	assert.NoError(t, BILLING_PERIOD_MONTHLY.Validate())
	assert.Error(t, BillingPeriod("FORTNIGHTLY").Validate())
}
