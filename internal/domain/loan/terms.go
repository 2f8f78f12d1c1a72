package loan

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type Terms struct {
	MinAmount        decimal.Decimal
	MaxAmount        decimal.Decimal
	AllowedDurations []int
}

// Policy drives penalty accrual and automatic default classification.
type Policy struct {
	AnnualPenaltyRate decimal.Decimal
	GraceDays         int
	// DefaultAfterDays of zero disables automatic default.
	DefaultAfterDays  int
	MaxPenaltyPercent decimal.Decimal
}

// Settings is the active loan configuration snapshot.
type Settings struct {
	Terms
	Policy
	AnnualInterestRate decimal.Decimal
	UpdatedBy          string
	UpdatedAt          time.Time
}

func ValidateTerms(amount decimal.Decimal, durationMonths int, terms Terms) error {
	if !amount.IsPositive() || amount.LessThan(terms.MinAmount) || amount.GreaterThan(terms.MaxAmount) {
		return fmt.Errorf("%w: %s not within [%s, %s]", ErrAmountOutOfRange,
			amount.StringFixed(2), terms.MinAmount.StringFixed(2), terms.MaxAmount.StringFixed(2))
	}
	if !slices.Contains(terms.AllowedDurations, durationMonths) {
		return fmt.Errorf("%w: %d months not in %v", ErrInvalidDuration, durationMonths, terms.AllowedDurations)
	}
	return nil
}

func (s Settings) Validate() error {
	switch {
	case !s.MinAmount.IsPositive():
		return fmt.Errorf("%w: minAmount must be positive", ErrInvalidSettings)
	case s.MaxAmount.LessThan(s.MinAmount):
		return fmt.Errorf("%w: maxAmount must not be below minAmount", ErrInvalidSettings)
	case len(s.AllowedDurations) == 0:
		return fmt.Errorf("%w: at least one duration is required", ErrInvalidSettings)
	case s.AnnualInterestRate.IsNegative(), s.AnnualPenaltyRate.IsNegative(), s.MaxPenaltyPercent.IsNegative():
		return fmt.Errorf("%w: rates must not be negative", ErrInvalidSettings)
	case s.GraceDays < 0, s.DefaultAfterDays < 0:
		return fmt.Errorf("%w: day thresholds must not be negative", ErrInvalidSettings)
	}
	for _, d := range s.AllowedDurations {
		if d <= 0 {
			return fmt.Errorf("%w: duration %d must be positive", ErrInvalidSettings, d)
		}
	}
	return nil
}
