package loan_test

import (
	"testing"

	"trucash/internal/domain/loan"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var testTerms = loan.Terms{
	MinAmount:        d("1000"),
	MaxAmount:        d("500000"),
	AllowedDurations: []int{3, 6, 12},
}

func TestValidateTerms(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		duration int
		wantErr  error
	}{
		{"lower bound inclusive", "1000", 6, nil},
		{"upper bound inclusive", "500000", 12, nil},
		{"below minimum", "999.99", 6, loan.ErrAmountOutOfRange},
		{"above maximum", "500000.01", 6, loan.ErrAmountOutOfRange},
		{"negative amount", "-5", 6, loan.ErrAmountOutOfRange},
		{"duration not allowed", "5000", 9, loan.ErrInvalidDuration},
		{"zero duration", "5000", 0, loan.ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loan.ValidateTerms(d(tt.amount), tt.duration, testTerms)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateTerms_AmountCheckedFirst(t *testing.T) {
	err := loan.ValidateTerms(d("1"), 9, testTerms)
	assert.ErrorIs(t, err, loan.ErrAmountOutOfRange)
}

func TestSettingsValidate(t *testing.T) {
	valid := loan.Settings{
		Terms:              testTerms,
		Policy:             loan.Policy{AnnualPenaltyRate: d("24"), GraceDays: 3, DefaultAfterDays: 90, MaxPenaltyPercent: d("25")},
		AnnualInterestRate: d("15"),
	}
	assert.NoError(t, valid.Validate())

	mutations := map[string]func(s *loan.Settings){
		"zero minimum":      func(s *loan.Settings) { s.MinAmount = decimal.Zero },
		"max below min":     func(s *loan.Settings) { s.MaxAmount = d("10") },
		"no durations":      func(s *loan.Settings) { s.AllowedDurations = nil },
		"negative duration": func(s *loan.Settings) { s.AllowedDurations = []int{6, -1} },
		"negative interest": func(s *loan.Settings) { s.AnnualInterestRate = d("-1") },
		"negative grace":    func(s *loan.Settings) { s.GraceDays = -1 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			s := valid
			s.AllowedDurations = append([]int(nil), valid.AllowedDurations...)
			mutate(&s)
			assert.ErrorIs(t, s.Validate(), loan.ErrInvalidSettings)
		})
	}
}
