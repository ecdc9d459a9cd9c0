package utils

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/segyhp/vault-engine/internal/domain"
)

const day = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// NextOccurrence returns the first occurrence of rec strictly after now,
// stepping from reference. A reference already in the future is returned
// unchanged. ok is false when a specific-date schedule has already elapsed.
func NextOccurrence(rec domain.Recurrence, reference, now time.Time) (next time.Time, ok bool, err error) {
	if rec.Frequency == domain.FrequencySpecificDate {
		if rec.SpecificDate == nil {
			return time.Time{}, false, fmt.Errorf("specific-date frequency requires a date")
		}
		if rec.SpecificDate.After(now) {
			return *rec.SpecificDate, true, nil
		}
		return time.Time{}, false, nil
	}

	if err := ValidateRecurrence(rec); err != nil {
		return time.Time{}, false, err
	}

	if reference.After(now) {
		return reference, true, nil
	}

	// Jump close to now first so long-idle schedules do not loop step by step.
	k := 1
	if rec.Frequency != domain.FrequencyMonthly {
		stepDays := StepDays(rec)
		elapsed := int(now.Sub(reference) / day)
		if elapsed > stepDays {
			k = elapsed / stepDays
		}
	} else {
		months := (now.Year()-reference.Year())*12 + int(now.Month()-reference.Month())
		if months > 1 {
			k = months - 1
		}
	}

	for {
		next = Advance(rec, reference, k)
		if next.After(now) {
			return next, true, nil
		}
		k++
	}
}

// ValidateRecurrence checks the frequency-specific fields.
func ValidateRecurrence(rec domain.Recurrence) error {
	if !rec.Frequency.Valid() {
		return fmt.Errorf("unknown frequency %q", rec.Frequency)
	}
	if rec.Frequency == domain.FrequencyCustom && rec.CustomIntervalDays < 1 {
		return fmt.Errorf("custom interval must be at least 1 day, got %d", rec.CustomIntervalDays)
	}
	if rec.Frequency == domain.FrequencySpecificDate && rec.SpecificDate == nil {
		return fmt.Errorf("specific-date frequency requires a date")
	}
	return nil
}

// StepDays is the fixed day step of a non-monthly frequency.
func StepDays(rec domain.Recurrence) int {
	switch rec.Frequency {
	case domain.FrequencyDaily:
		return 1
	case domain.FrequencyWeekly:
		return 7
	case domain.FrequencyBiweekly:
		return 14
	case domain.FrequencyCustom:
		return rec.CustomIntervalDays
	}
	return 0
}

// Advance returns reference moved forward by k steps of rec. Monthly steps
// clamp to the last day of shorter months instead of spilling over.
func Advance(rec domain.Recurrence, reference time.Time, k int) time.Time {
	if rec.Frequency == domain.FrequencyMonthly {
		return addMonthsClamped(reference, k)
	}
	return reference.AddDate(0, 0, StepDays(rec)*k)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// CountOccurrences counts the occurrences of rec from start up to and
// including end.
func CountOccurrences(rec domain.Recurrence, start, end time.Time) (int, error) {
	if rec.Frequency == domain.FrequencySpecificDate {
		return 1, nil
	}
	if err := ValidateRecurrence(rec); err != nil {
		return 0, err
	}
	count := 0
	for k := 0; ; k++ {
		if Advance(rec, start, k).After(end) {
			return count, nil
		}
		count++
	}
}

// DaysRemaining is the ceiling of the days between now and target. Negative
// values mean target has passed.
func DaysRemaining(target, now time.Time) int {
	return int(math.Ceil(target.Sub(now).Hours() / 24))
}

// CalculateTotalRepayment returns principal * (1 + ratePct/100).
func CalculateTotalRepayment(principal, ratePct decimal.Decimal) decimal.Decimal {
	return principal.Add(principal.Mul(ratePct).Div(hundred))
}

// CalculateShare returns pct percent of base.
func CalculateShare(base decimal.Decimal, pct int) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(int64(pct))).Div(hundred)
}

// FrequencyLabel renders a frequency for approval messages.
func FrequencyLabel(rec domain.Recurrence) string {
	switch rec.Frequency {
	case domain.FrequencyDaily:
		return "Daily"
	case domain.FrequencyWeekly:
		return "Weekly"
	case domain.FrequencyBiweekly:
		return "Every 2 weeks"
	case domain.FrequencyMonthly:
		return "Monthly"
	case domain.FrequencyCustom:
		return fmt.Sprintf("Every %d days", rec.CustomIntervalDays)
	case domain.FrequencySpecificDate:
		return "One-time payment"
	}
	return string(rec.Frequency)
}
