package dto

import (
	"time"

	"trucash/internal/domain/loan"
)

type LoanSettingsRequest struct {
	MinAmount          string `json:"minAmount"`
	MaxAmount          string `json:"maxAmount"`
	AllowedDurations   []int  `json:"allowedDurations"`
	AnnualInterestRate string `json:"annualInterestRate"`
	AnnualPenaltyRate  string `json:"annualPenaltyRate"`
	GraceDays          int    `json:"graceDays"`
	DefaultAfterDays   int    `json:"defaultAfterDays"`
	MaxPenaltyPercent  string `json:"maxPenaltyPercent"`
}

// ToSettings parses the request. Range checks are left to loan.Settings.Validate.
func (r *LoanSettingsRequest) ToSettings() (loan.Settings, error) {
	minAmount, err := parseMoney("minAmount", r.MinAmount)
	if err != nil {
		return loan.Settings{}, err
	}
	maxAmount, err := parseMoney("maxAmount", r.MaxAmount)
	if err != nil {
		return loan.Settings{}, err
	}
	interest, err := parseRate("annualInterestRate", r.AnnualInterestRate)
	if err != nil {
		return loan.Settings{}, err
	}
	penalty, err := parseRate("annualPenaltyRate", r.AnnualPenaltyRate)
	if err != nil {
		return loan.Settings{}, err
	}
	maxPenalty, err := parseRate("maxPenaltyPercent", r.MaxPenaltyPercent)
	if err != nil {
		return loan.Settings{}, err
	}

	return loan.Settings{
		Terms: loan.Terms{
			MinAmount:        minAmount,
			MaxAmount:        maxAmount,
			AllowedDurations: append([]int(nil), r.AllowedDurations...),
		},
		Policy: loan.Policy{
			AnnualPenaltyRate: penalty,
			GraceDays:         r.GraceDays,
			DefaultAfterDays:  r.DefaultAfterDays,
			MaxPenaltyPercent: maxPenalty,
		},
		AnnualInterestRate: interest,
	}, nil
}

type LoanSettingsResponse struct {
	MinAmount          string     `json:"minAmount"`
	MaxAmount          string     `json:"maxAmount"`
	AllowedDurations   []int      `json:"allowedDurations"`
	AnnualInterestRate string     `json:"annualInterestRate"`
	AnnualPenaltyRate  string     `json:"annualPenaltyRate"`
	GraceDays          int        `json:"graceDays"`
	DefaultAfterDays   int        `json:"defaultAfterDays"`
	MaxPenaltyPercent  string     `json:"maxPenaltyPercent"`
	UpdatedBy          string     `json:"updatedBy,omitempty"`
	UpdatedAt          *time.Time `json:"updatedAt,omitempty"`
}

func NewLoanSettingsResponse(s loan.Settings) LoanSettingsResponse {
	resp := LoanSettingsResponse{
		MinAmount:          money(s.MinAmount),
		MaxAmount:          money(s.MaxAmount),
		AllowedDurations:   s.AllowedDurations,
		AnnualInterestRate: s.AnnualInterestRate.String(),
		AnnualPenaltyRate:  s.AnnualPenaltyRate.String(),
		GraceDays:          s.GraceDays,
		DefaultAfterDays:   s.DefaultAfterDays,
		MaxPenaltyPercent:  s.MaxPenaltyPercent.String(),
		UpdatedBy:          s.UpdatedBy,
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}
