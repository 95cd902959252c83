package types

import (
	"time"

	ierr "github.com/subkernel/subkernel/internal/errors"
)

// BillingPeriod is the unit of a subscription's billing interval
type BillingPeriod string

const (
	BILLING_PERIOD_DAILY     BillingPeriod = "DAILY"
	BILLING_PERIOD_WEEKLY    BillingPeriod = "WEEKLY"
	BILLING_PERIOD_MONTHLY   BillingPeriod = "MONTHLY"
	BILLING_PERIOD_QUARTERLY BillingPeriod = "QUARTERLY"
	BILLING_PERIOD_ANNUAL    BillingPeriod = "ANNUAL"
)

func (p BillingPeriod) Validate() error {
	switch p {
	case BILLING_PERIOD_DAILY, BILLING_PERIOD_WEEKLY, BILLING_PERIOD_MONTHLY,
		BILLING_PERIOD_QUARTERLY, BILLING_PERIOD_ANNUAL:
		return nil
	default:
		return ierr.NewErrorf("invalid billing period: %s", p).
			WithHint("Billing period must be one of DAILY, WEEKLY, MONTHLY, QUARTERLY, ANNUAL").
			Mark(ierr.ErrValidation)
	}
}

// MonthsPerPeriod returns how many calendar months one period spans, or 0 for
// sub-month periods
func (p BillingPeriod) MonthsPerPeriod() int {
	switch p {
	case BILLING_PERIOD_MONTHLY:
		return 1
	case BILLING_PERIOD_QUARTERLY:
		return 3
	case BILLING_PERIOD_ANNUAL:
		return 12
	default:
		return 0
	}
}

// NextBillingDate computes the end of a billing period that starts at start.
// Month-based periods follow calendar semantics: the day-of-month is clamped
// to the length of the target month, so Jan 31 + 1 month yields Feb 28 (or 29
// in a leap year). The time of day is preserved. count values below 1 are
// treated as 1.
func NextBillingDate(start time.Time, unit BillingPeriod, count int) time.Time {
	if count < 1 {
		count = 1
	}

	switch unit {
	case BILLING_PERIOD_DAILY:
		return start.AddDate(0, 0, count)
	case BILLING_PERIOD_WEEKLY:
		return start.AddDate(0, 0, 7*count)
	case BILLING_PERIOD_MONTHLY:
		return addMonthsClamped(start, count)
	case BILLING_PERIOD_QUARTERLY:
		return addMonthsClamped(start, 3*count)
	case BILLING_PERIOD_ANNUAL:
		return addMonthsClamped(start, 12*count)
	default:
		return addMonthsClamped(start, count)
	}
}

// addMonthsClamped adds months without the normalization behavior of
// time.AddDate, which rolls Jan 31 + 1 month over into March.
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	totalMonths := int(month) - 1 + months
	targetYear := year + totalMonths/12
	targetMonth := time.Month(totalMonths%12 + 1)
	if totalMonths < 0 && totalMonths%12 != 0 {
		targetYear--
		targetMonth = time.Month(totalMonths%12 + 13)
	}

	if max := daysInMonth(targetYear, targetMonth); day > max {
		day = max
	}

	hour, min, sec := t.Clock()
	return time.Date(targetYear, targetMonth, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
