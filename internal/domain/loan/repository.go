package loan

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ListFilter narrows ListLoans. Zero values match everything.
type ListFilter struct {
	Status     Status
	CustomerID string
	Limit      int
	Offset     int
}

type PortfolioSummary struct {
	CountByStatus  map[Status]int
	TotalDisbursed decimal.Decimal
	TotalRepaid    decimal.Decimal
	Outstanding    decimal.Decimal
	PenaltyAccrued decimal.Decimal
}

type Repository interface {
	// CreateLoan stores the loan with its repayment plan and initial history
	// and returns it with the store-assigned ID.
	CreateLoan(ctx context.Context, l *Loan) (*Loan, error)

	// GetLoanByID loads the loan with its repayment plan and status history.
	GetLoanByID(ctx context.Context, loanID string) (*Loan, error)

	// GetLoanForUpdateInTx locks the loan row for the rest of tx.
	GetLoanForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID string) (*Loan, error)

	// UpdateLoanInTx writes the mutable loan fields and installment flags and
	// appends the given history entries.
	UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *Loan, appended []StatusChange) error

	ListLoans(ctx context.Context, filter ListFilter) ([]*Loan, error)

	ListLoanIDsByStatus(ctx context.Context, statuses ...Status) ([]string, error)

	// HasOpenLoan reports whether the customer holds a loan in a non-terminal status.
	HasOpenLoan(ctx context.Context, customerID string) (bool, error)

	CreateRepayment(ctx context.Context, r *Repayment) (*Repayment, error)

	GetRepaymentForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID, repaymentID string) (*Repayment, error)

	MarkRepaymentVerifiedInTx(ctx context.Context, tx pgx.Tx, r *Repayment) error

	ListRepayments(ctx context.Context, loanID string) ([]*Repayment, error)

	GetPortfolioSummary(ctx context.Context) (*PortfolioSummary, error)

	BeginTx(ctx context.Context) (pgx.Tx, error)

	CommitTx(ctx context.Context, tx pgx.Tx) error

	RollbackTx(ctx context.Context, tx pgx.Tx) error
}

type SettingsRepository interface {
	// GetActiveSettings returns apperrors.ErrNotFound when nothing was stored yet.
	GetActiveSettings(ctx context.Context) (*Settings, error)

	SaveSettings(ctx context.Context, s *Settings) error
}
