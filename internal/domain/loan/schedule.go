package loan

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var monthsPerYearPercent = decimal.NewFromInt(1200)

type Schedule struct {
	Interest          decimal.Decimal
	TotalPayable      decimal.Decimal
	InstallmentAmount decimal.Decimal
	Installments      []Installment
}

// GenerateSchedule builds a flat-rate equal-installment plan. Interest is
// charged on the full principal for the whole term and rounded to cents; the
// last installment absorbs rounding so the amounts sum to TotalPayable.
func GenerateSchedule(principal, annualRatePercent decimal.Decimal, durationMonths int, startDate time.Time) (Schedule, error) {
	if durationMonths <= 0 {
		return Schedule{}, fmt.Errorf("%w: %d months", ErrInvalidDuration, durationMonths)
	}
	if !principal.IsPositive() {
		return Schedule{}, fmt.Errorf("%w: principal must be positive", ErrAmountOutOfRange)
	}

	months := decimal.NewFromInt(int64(durationMonths))
	interest := principal.Mul(annualRatePercent).Mul(months).Div(monthsPerYearPercent).Round(2)
	total := principal.Add(interest)
	installment := total.Div(months).Round(2)

	plan := make([]Installment, 0, durationMonths)
	allocated := decimal.Zero
	for i := 1; i <= durationMonths; i++ {
		amount := installment
		if i == durationMonths {
			amount = total.Sub(allocated)
		}
		plan = append(plan, Installment{
			Index:   i,
			DueDate: addMonths(startDate, i),
			Amount:  amount,
		})
		allocated = allocated.Add(amount)
	}

	return Schedule{
		Interest:          interest,
		TotalPayable:      total,
		InstallmentAmount: installment,
		Installments:      plan,
	}, nil
}

// addMonths moves t forward n calendar months, clamping the day to the end
// of the target month (Jan 31 + 1 month = Feb 28/29).
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfTarget.AddDate(0, 1, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
