package handler

import (
	"context"

	"trucash/internal/domain/customer"
	"trucash/internal/domain/loan"
	"trucash/internal/pkg/identity"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockLoanService struct {
	mock.Mock
}

func loanResult(args mock.Arguments) (*loan.Loan, error) {
	l, _ := args.Get(0).(*loan.Loan)
	return l, args.Error(1)
}

func (m *MockLoanService) Apply(ctx context.Context, actor identity.Actor, req loan.ApplyRequest) (*loan.Loan, error) {
	return loanResult(m.Called(ctx, actor, req))
}

func (m *MockLoanService) Approve(ctx context.Context, actor identity.Actor, loanID, notes string) (*loan.Loan, error) {
	return loanResult(m.Called(ctx, actor, loanID, notes))
}

func (m *MockLoanService) Reject(ctx context.Context, actor identity.Actor, loanID, notes string) (*loan.Loan, error) {
	return loanResult(m.Called(ctx, actor, loanID, notes))
}

func (m *MockLoanService) Disburse(ctx context.Context, actor identity.Actor, loanID, notes string) (*loan.Loan, error) {
	return loanResult(m.Called(ctx, actor, loanID, notes))
}

func (m *MockLoanService) MarkDefaulted(ctx context.Context, actor identity.Actor, loanID, notes string) (*loan.Loan, error) {
	return loanResult(m.Called(ctx, actor, loanID, notes))
}

func (m *MockLoanService) SubmitRepayment(ctx context.Context, actor identity.Actor, loanID string, amount decimal.Decimal, reference string) (*loan.Repayment, error) {
	args := m.Called(ctx, actor, loanID, amount.String(), reference)
	r, _ := args.Get(0).(*loan.Repayment)
	return r, args.Error(1)
}

func (m *MockLoanService) VerifyRepayment(ctx context.Context, actor identity.Actor, loanID, repaymentID string) (*loan.Loan, *loan.Repayment, error) {
	args := m.Called(ctx, actor, loanID, repaymentID)
	l, _ := args.Get(0).(*loan.Loan)
	r, _ := args.Get(1).(*loan.Repayment)
	return l, r, args.Error(2)
}

func (m *MockLoanService) GetLoan(ctx context.Context, actor identity.Actor, loanID string) (*loan.Loan, error) {
	return loanResult(m.Called(ctx, actor, loanID))
}

func (m *MockLoanService) ListLoans(ctx context.Context, actor identity.Actor, filter loan.ListFilter) ([]*loan.Loan, error) {
	args := m.Called(ctx, actor, filter)
	ls, _ := args.Get(0).([]*loan.Loan)
	return ls, args.Error(1)
}

func (m *MockLoanService) ListRepayments(ctx context.Context, actor identity.Actor, loanID string) ([]*loan.Repayment, error) {
	args := m.Called(ctx, actor, loanID)
	rs, _ := args.Get(0).([]*loan.Repayment)
	return rs, args.Error(1)
}

func (m *MockLoanService) CurrentPenalty(ctx context.Context, actor identity.Actor, loanID string) (*loan.PenaltyQuote, error) {
	args := m.Called(ctx, actor, loanID)
	q, _ := args.Get(0).(*loan.PenaltyQuote)
	return q, args.Error(1)
}

func (m *MockLoanService) Summary(ctx context.Context, actor identity.Actor) (*loan.PortfolioSummary, error) {
	args := m.Called(ctx, actor)
	s, _ := args.Get(0).(*loan.PortfolioSummary)
	return s, args.Error(1)
}

func (m *MockLoanService) SweepLoan(ctx context.Context, loanID string, policy loan.Policy) (bool, error) {
	args := m.Called(ctx, loanID, policy)
	return args.Bool(0), args.Error(1)
}

type MockCustomerService struct {
	mock.Mock
}

func (m *MockCustomerService) Onboard(ctx context.Context, actor identity.Actor, req customer.OnboardRequest) (*customer.Customer, error) {
	args := m.Called(ctx, actor, req)
	c, _ := args.Get(0).(*customer.Customer)
	return c, args.Error(1)
}

func (m *MockCustomerService) GetCustomer(ctx context.Context, actor identity.Actor, customerID string) (*customer.Customer, error) {
	args := m.Called(ctx, actor, customerID)
	c, _ := args.Get(0).(*customer.Customer)
	return c, args.Error(1)
}

func (m *MockCustomerService) ListCustomers(ctx context.Context, actor identity.Actor, agentID string) ([]*customer.Customer, error) {
	args := m.Called(ctx, actor, agentID)
	cs, _ := args.Get(0).([]*customer.Customer)
	return cs, args.Error(1)
}

func (m *MockCustomerService) AttachDocument(ctx context.Context, actor identity.Actor, customerID, documentURL string) (*customer.Customer, error) {
	args := m.Called(ctx, actor, customerID, documentURL)
	c, _ := args.Get(0).(*customer.Customer)
	return c, args.Error(1)
}

func (m *MockCustomerService) DeactivateCustomer(ctx context.Context, actor identity.Actor, customerID string) error {
	return m.Called(ctx, actor, customerID).Error(0)
}

func (m *MockCustomerService) ReactivateCustomer(ctx context.Context, actor identity.Actor, customerID string) error {
	return m.Called(ctx, actor, customerID).Error(0)
}

type MockSettingsService struct {
	mock.Mock
}

func (m *MockSettingsService) Active(ctx context.Context) (loan.Settings, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(loan.Settings)
	return s, args.Error(1)
}

func (m *MockSettingsService) Update(ctx context.Context, actor identity.Actor, s loan.Settings) (loan.Settings, error) {
	args := m.Called(ctx, actor, s)
	out, _ := args.Get(0).(loan.Settings)
	return out, args.Error(1)
}
