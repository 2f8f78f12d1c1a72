package loan

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusActive    Status = "active"
	StatusOverdue   Status = "overdue"
	StatusDefaulted Status = "defaulted"
	StatusRejected  Status = "rejected"
	StatusRepaid    Status = "repaid"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusActive, StatusOverdue,
		StatusDefaulted, StatusRejected, StatusRepaid:
		return st, nil
	default:
		return "", fmt.Errorf("unknown loan status %q", s)
	}
}

// IsTerminal reports whether no further status transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusRepaid || s == StatusRejected || s == StatusDefaulted
}

// Installment carries the penalty charged against it so far. Once the
// installment is paid its Penalty is settled and never recomputed.
type Installment struct {
	Index   int
	DueDate time.Time
	Amount  decimal.Decimal
	Penalty decimal.Decimal
	Paid    bool
	PaidAt  *time.Time
}

type StatusChange struct {
	Status    Status
	Timestamp time.Time
	ChangedBy string
	Notes     string
}

type Loan struct {
	ID                    string
	CustomerID            string
	Principal             decimal.Decimal
	DurationMonths        int
	AnnualInterestRate    decimal.Decimal
	Status                Status
	TotalPayable          decimal.Decimal
	MonthlyInstallment    decimal.Decimal
	Balance               decimal.Decimal
	TotalRepaid           decimal.Decimal
	PenaltyAccrued        decimal.Decimal
	CollateralDocumentURL string
	StartDate             time.Time
	RepaymentPlan         []Installment
	StatusHistory         []StatusChange
	CreatedBy             string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewLoan builds a pending loan from an application. The interest rate is
// copied from settings and never changes afterwards.
func NewLoan(customerID string, principal decimal.Decimal, durationMonths int, settings Settings,
	startDate time.Time, collateralURL, createdBy string, now time.Time) (*Loan, error) {
	if err := ValidateTerms(principal, durationMonths, settings.Terms); err != nil {
		return nil, err
	}
	if startDate.IsZero() {
		startDate = now.Truncate(24 * time.Hour)
	}

	schedule, err := GenerateSchedule(principal, settings.AnnualInterestRate, durationMonths, startDate)
	if err != nil {
		return nil, err
	}

	return &Loan{
		CustomerID:            customerID,
		Principal:             principal,
		DurationMonths:        durationMonths,
		AnnualInterestRate:    settings.AnnualInterestRate,
		Status:                StatusPending,
		TotalPayable:          schedule.TotalPayable,
		MonthlyInstallment:    schedule.InstallmentAmount,
		Balance:               schedule.TotalPayable,
		TotalRepaid:           decimal.Zero,
		PenaltyAccrued:        decimal.Zero,
		CollateralDocumentURL: collateralURL,
		StartDate:             startDate,
		RepaymentPlan:         schedule.Installments,
		StatusHistory: []StatusChange{{
			Status:    StatusPending,
			Timestamp: now,
			ChangedBy: createdBy,
			Notes:     "loan application submitted",
		}},
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Clone returns a deep copy so callers can derive a new state without
// touching the original.
func (l *Loan) Clone() *Loan {
	c := *l
	c.RepaymentPlan = make([]Installment, len(l.RepaymentPlan))
	for i, inst := range l.RepaymentPlan {
		c.RepaymentPlan[i] = inst
		if inst.PaidAt != nil {
			t := *inst.PaidAt
			c.RepaymentPlan[i].PaidAt = &t
		}
	}
	c.StatusHistory = append([]StatusChange(nil), l.StatusHistory...)
	return &c
}

// FirstUnpaid returns the position in RepaymentPlan of the earliest unpaid
// installment, or -1 when every installment is paid.
func (l *Loan) FirstUnpaid() int {
	for i, inst := range l.RepaymentPlan {
		if !inst.Paid {
			return i
		}
	}
	return -1
}

// OldestPastDue returns the earliest unpaid installment whose due date is before now.
func (l *Loan) OldestPastDue(now time.Time) (Installment, bool) {
	for _, inst := range l.RepaymentPlan {
		if !inst.Paid && now.After(inst.DueDate) {
			return inst, true
		}
	}
	return Installment{}, false
}

// HistorySince returns the history entries appended after the first n.
func (l *Loan) HistorySince(n int) []StatusChange {
	if n >= len(l.StatusHistory) {
		return nil
	}
	return l.StatusHistory[n:]
}

func daysLate(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / (24 * time.Hour))
}
