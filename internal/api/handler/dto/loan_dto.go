package dto

import (
	"strings"
	"time"

	"trucash/internal/domain/loan"
	"trucash/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

type ApplyLoanRequest struct {
	CustomerID     string `json:"customerId"`
	Principal      string `json:"principal"`
	DurationMonths int    `json:"durationMonths"`
	CollateralURL  string `json:"collateralUrl,omitempty"`
	// StartDate is optional, YYYY-MM-DD. Defaults to today.
	StartDate string `json:"startDate,omitempty"`
}

func (r *ApplyLoanRequest) Validate() error {
	_, err := r.ToApplyRequest()
	return err
}

func (r *ApplyLoanRequest) ToApplyRequest() (loan.ApplyRequest, error) {
	if strings.TrimSpace(r.CustomerID) == "" {
		return loan.ApplyRequest{}, apperrors.NewValidationError("customerId", "customerId is required")
	}
	principal, err := parseMoney("principal", r.Principal)
	if err != nil {
		return loan.ApplyRequest{}, err
	}
	start, err := parseDate("startDate", r.StartDate)
	if err != nil {
		return loan.ApplyRequest{}, err
	}
	return loan.ApplyRequest{
		CustomerID:     strings.TrimSpace(r.CustomerID),
		Principal:      principal,
		DurationMonths: r.DurationMonths,
		CollateralURL:  strings.TrimSpace(r.CollateralURL),
		StartDate:      start,
	}, nil
}

type TransitionRequest struct {
	Notes string `json:"notes,omitempty"`
}

type SubmitRepaymentRequest struct {
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

func (r *SubmitRepaymentRequest) Validate() error {
	_, err := r.ParseAmount()
	return err
}

type InstallmentResponse struct {
	Index   int        `json:"index"`
	DueDate string     `json:"dueDate"`
	Amount  string     `json:"amount"`
	Penalty string     `json:"penalty"`
	Paid    bool       `json:"paid"`
	PaidAt  *time.Time `json:"paidAt,omitempty"`
}

type StatusChangeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	ChangedBy string    `json:"changedBy"`
	Notes     string    `json:"notes,omitempty"`
}

type LoanResponse struct {
	ID                    string                 `json:"id"`
	CustomerID            string                 `json:"customerId"`
	Principal             string                 `json:"principal"`
	DurationMonths        int                    `json:"durationMonths"`
	AnnualInterestRate    string                 `json:"annualInterestRate"`
	Status                string                 `json:"status"`
	TotalPayable          string                 `json:"totalPayable"`
	MonthlyInstallment    string                 `json:"monthlyInstallment"`
	Balance               string                 `json:"balance"`
	TotalRepaid           string                 `json:"totalRepaid"`
	PenaltyAccrued        string                 `json:"penaltyAccrued"`
	CollateralDocumentURL string                 `json:"collateralDocumentUrl,omitempty"`
	StartDate             string                 `json:"startDate"`
	CreatedBy             string                 `json:"createdBy"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
	Schedule              []InstallmentResponse  `json:"schedule,omitempty"`
	History               []StatusChangeResponse `json:"history,omitempty"`
}

func NewLoanResponse(l *loan.Loan, includeSchedule, includeHistory bool) LoanResponse {
	resp := LoanResponse{
		ID:                    l.ID,
		CustomerID:            l.CustomerID,
		Principal:             money(l.Principal),
		DurationMonths:        l.DurationMonths,
		AnnualInterestRate:    l.AnnualInterestRate.String(),
		Status:                string(l.Status),
		TotalPayable:          money(l.TotalPayable),
		MonthlyInstallment:    money(l.MonthlyInstallment),
		Balance:               money(l.Balance),
		TotalRepaid:           money(l.TotalRepaid),
		PenaltyAccrued:        money(l.PenaltyAccrued),
		CollateralDocumentURL: l.CollateralDocumentURL,
		StartDate:             l.StartDate.Format(dateLayout),
		CreatedBy:             l.CreatedBy,
		CreatedAt:             l.CreatedAt,
		UpdatedAt:             l.UpdatedAt,
	}

	if includeSchedule && len(l.RepaymentPlan) > 0 {
		resp.Schedule = make([]InstallmentResponse, len(l.RepaymentPlan))
		for i, inst := range l.RepaymentPlan {
			resp.Schedule[i] = InstallmentResponse{
				Index:   inst.Index,
				DueDate: inst.DueDate.Format(dateLayout),
				Amount:  money(inst.Amount),
				Penalty: money(inst.Penalty),
				Paid:    inst.Paid,
				PaidAt:  inst.PaidAt,
			}
		}
	}

	if includeHistory && len(l.StatusHistory) > 0 {
		resp.History = make([]StatusChangeResponse, len(l.StatusHistory))
		for i, h := range l.StatusHistory {
			resp.History[i] = StatusChangeResponse{
				Status:    string(h.Status),
				Timestamp: h.Timestamp,
				ChangedBy: h.ChangedBy,
				Notes:     h.Notes,
			}
		}
	}

	return resp
}

func NewLoanListResponse(loans []*loan.Loan) []LoanResponse {
	out := make([]LoanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, NewLoanResponse(l, false, false))
	}
	return out
}

type RepaymentResponse struct {
	ID                  string     `json:"id"`
	LoanID              string     `json:"loanId"`
	Amount              string     `json:"amount"`
	DueInstallmentIndex int        `json:"dueInstallmentIndex"`
	Reference           string     `json:"reference,omitempty"`
	SubmittedBy         string     `json:"submittedBy"`
	Verified            bool       `json:"verified"`
	VerifiedBy          string     `json:"verifiedBy,omitempty"`
	VerifiedAt          *time.Time `json:"verifiedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

func NewRepaymentResponse(r *loan.Repayment) RepaymentResponse {
	return RepaymentResponse{
		ID:                  r.ID,
		LoanID:              r.LoanID,
		Amount:              money(r.Amount),
		DueInstallmentIndex: r.DueInstallmentIndex,
		Reference:           r.Reference,
		SubmittedBy:         r.SubmittedBy,
		Verified:            r.Verified,
		VerifiedBy:          r.VerifiedBy,
		VerifiedAt:          r.VerifiedAt,
		CreatedAt:           r.CreatedAt,
	}
}

func NewRepaymentListResponse(reps []*loan.Repayment) []RepaymentResponse {
	out := make([]RepaymentResponse, 0, len(reps))
	for _, r := range reps {
		out = append(out, NewRepaymentResponse(r))
	}
	return out
}

type VerifyRepaymentResponse struct {
	Loan      LoanResponse      `json:"loan"`
	Repayment RepaymentResponse `json:"repayment"`
}

type PenaltyResponse struct {
	LoanID              string    `json:"loanId"`
	Accrued             string    `json:"accrued"`
	Current             string    `json:"current"`
	OverdueInstallments int       `json:"overdueInstallments"`
	AsOf                time.Time `json:"asOf"`
}

func NewPenaltyResponse(q *loan.PenaltyQuote) PenaltyResponse {
	return PenaltyResponse{
		LoanID:              q.LoanID,
		Accrued:             money(q.Accrued),
		Current:             money(q.Current),
		OverdueInstallments: q.OverdueInstallments,
		AsOf:                q.AsOf,
	}
}

type SummaryResponse struct {
	CountByStatus  map[string]int `json:"countByStatus"`
	TotalDisbursed string         `json:"totalDisbursed"`
	TotalRepaid    string         `json:"totalRepaid"`
	Outstanding    string         `json:"outstanding"`
	PenaltyAccrued string         `json:"penaltyAccrued"`
}

func NewSummaryResponse(s *loan.PortfolioSummary) SummaryResponse {
	counts := make(map[string]int, len(s.CountByStatus))
	for status, n := range s.CountByStatus {
		counts[string(status)] = n
	}
	return SummaryResponse{
		CountByStatus:  counts,
		TotalDisbursed: money(s.TotalDisbursed),
		TotalRepaid:    money(s.TotalRepaid),
		Outstanding:    money(s.Outstanding),
		PenaltyAccrued: money(s.PenaltyAccrued),
	}
}

func (r *SubmitRepaymentRequest) ParseAmount() (decimal.Decimal, error) {
	return parseMoney("amount", r.Amount)
}
