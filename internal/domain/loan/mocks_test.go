package loan

import (
	"context"

	"trucash/internal/domain/customer"
	"trucash/internal/pkg/identity"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

var _ Repository = (*MockRepository)(nil)

func loanOrNil(v any) *Loan {
	if l, ok := v.(*Loan); ok {
		return l
	}
	return nil
}

func repaymentOrNil(v any) *Repayment {
	if r, ok := v.(*Repayment); ok {
		return r
	}
	return nil
}

func (m *MockRepository) CreateLoan(ctx context.Context, l *Loan) (*Loan, error) {
	args := m.Called(ctx, l)
	if fn, ok := args.Get(0).(func(*Loan) *Loan); ok {
		return fn(l), args.Error(1)
	}
	return loanOrNil(args.Get(0)), args.Error(1)
}

func (m *MockRepository) GetLoanByID(ctx context.Context, loanID string) (*Loan, error) {
	args := m.Called(ctx, loanID)
	return loanOrNil(args.Get(0)), args.Error(1)
}

func (m *MockRepository) GetLoanForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID string) (*Loan, error) {
	args := m.Called(ctx, tx, loanID)
	return loanOrNil(args.Get(0)), args.Error(1)
}

func (m *MockRepository) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *Loan, appended []StatusChange) error {
	return m.Called(ctx, tx, l, appended).Error(0)
}

func (m *MockRepository) ListLoans(ctx context.Context, filter ListFilter) ([]*Loan, error) {
	args := m.Called(ctx, filter)
	loans, _ := args.Get(0).([]*Loan)
	return loans, args.Error(1)
}

func (m *MockRepository) ListLoanIDsByStatus(ctx context.Context, statuses ...Status) ([]string, error) {
	args := m.Called(ctx, statuses)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *MockRepository) HasOpenLoan(ctx context.Context, customerID string) (bool, error) {
	args := m.Called(ctx, customerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CreateRepayment(ctx context.Context, r *Repayment) (*Repayment, error) {
	args := m.Called(ctx, r)
	if fn, ok := args.Get(0).(func(*Repayment) *Repayment); ok {
		return fn(r), args.Error(1)
	}
	return repaymentOrNil(args.Get(0)), args.Error(1)
}

func (m *MockRepository) GetRepaymentForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID, repaymentID string) (*Repayment, error) {
	args := m.Called(ctx, tx, loanID, repaymentID)
	return repaymentOrNil(args.Get(0)), args.Error(1)
}

func (m *MockRepository) MarkRepaymentVerifiedInTx(ctx context.Context, tx pgx.Tx, r *Repayment) error {
	return m.Called(ctx, tx, r).Error(0)
}

func (m *MockRepository) ListRepayments(ctx context.Context, loanID string) ([]*Repayment, error) {
	args := m.Called(ctx, loanID)
	rs, _ := args.Get(0).([]*Repayment)
	return rs, args.Error(1)
}

func (m *MockRepository) GetPortfolioSummary(ctx context.Context) (*PortfolioSummary, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*PortfolioSummary)
	return s, args.Error(1)
}

func (m *MockRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	tx, _ := args.Get(0).(pgx.Tx)
	return tx, args.Error(1)
}

func (m *MockRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	return m.Called(ctx, tx).Error(0)
}

type MockSettingsRepository struct {
	mock.Mock
}

func (m *MockSettingsRepository) GetActiveSettings(ctx context.Context) (*Settings, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*Settings)
	return s, args.Error(1)
}

func (m *MockSettingsRepository) SaveSettings(ctx context.Context, s *Settings) error {
	return m.Called(ctx, s).Error(0)
}

type MockCustomerDirectory struct {
	mock.Mock
}

func (m *MockCustomerDirectory) GetCustomer(ctx context.Context, actor identity.Actor, customerID string) (*customer.Customer, error) {
	args := m.Called(ctx, actor, customerID)
	c, _ := args.Get(0).(*customer.Customer)
	return c, args.Error(1)
}
