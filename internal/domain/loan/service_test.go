package loan

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"trucash/internal/domain/customer"
	"trucash/internal/event"
	"trucash/internal/pkg/apperrors"
	"trucash/internal/pkg/identity"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	svcStart = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	adminActor    = identity.Actor{UserID: "admin-1", Role: identity.RoleAdmin}
	agentActor    = identity.Actor{UserID: "agent-1", Role: identity.RoleAgent}
	borrowerActor = identity.Actor{UserID: "user-1", Role: identity.RoleCustomer}

	defaultSettings = Settings{
		Terms:              Terms{MinAmount: decimal.NewFromInt(1000), MaxAmount: decimal.NewFromInt(500000), AllowedDurations: []int{3, 6, 12}},
		Policy:             Policy{AnnualPenaltyRate: decimal.NewFromInt(24), GraceDays: 3, DefaultAfterDays: 90, MaxPenaltyPercent: decimal.NewFromInt(25)},
		AnnualInterestRate: decimal.NewFromInt(15),
	}

	activeCustomer = &customer.Customer{ID: "cust-1", UserID: "user-1", AgentID: "agent-1", Active: true}
)

type recordingPublisher struct {
	event.NopPublisher
	applied   []event.LoanAppliedEvent
	changed   []event.LoanStatusChangedEvent
	submitted []event.RepaymentEvent
	verified  []event.RepaymentEvent
}

func (p *recordingPublisher) PublishLoanApplied(_ context.Context, e event.LoanAppliedEvent) error {
	p.applied = append(p.applied, e)
	return nil
}

func (p *recordingPublisher) PublishLoanStatusChanged(_ context.Context, e event.LoanStatusChangedEvent) error {
	p.changed = append(p.changed, e)
	return nil
}

func (p *recordingPublisher) PublishRepaymentSubmitted(_ context.Context, e event.RepaymentEvent) error {
	p.submitted = append(p.submitted, e)
	return nil
}

func (p *recordingPublisher) PublishRepaymentVerified(_ context.Context, e event.RepaymentEvent) error {
	p.verified = append(p.verified, e)
	return nil
}

type serviceFixture struct {
	svc       *loanServiceImpl
	repo      *MockRepository
	settings  *MockSettingsRepository
	customers *MockCustomerDirectory
	pub       *recordingPublisher
}

func newServiceFixture(now time.Time) *serviceFixture {
	f := &serviceFixture{
		repo:      new(MockRepository),
		settings:  new(MockSettingsRepository),
		customers: new(MockCustomerDirectory),
		pub:       &recordingPublisher{},
	}
	f.settings.On("GetActiveSettings", mock.Anything).Return(nil, apperrors.ErrNotFound).Maybe()
	settingsSvc := NewSettingsService(f.settings, defaultSettings, logger)
	f.svc = NewLoanService(f.repo, f.customers, settingsSvc, f.pub, logger).(*loanServiceImpl)
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *serviceFixture) expectLockedLoan(l *Loan) {
	f.repo.On("BeginTx", mock.Anything).Return(nil, nil).Once()
	f.repo.On("GetLoanForUpdateInTx", mock.Anything, mock.Anything, l.ID).Return(l, nil).Once()
	f.repo.On("RollbackTx", mock.Anything, mock.Anything).Return(nil).Maybe()
}

func fixtureLoan(t *testing.T, status Status) *Loan {
	t.Helper()
	l, err := NewLoan("cust-1", decimal.NewFromInt(10000), 6, defaultSettings, svcStart, "", "agent-1", svcStart)
	require.NoError(t, err)
	l.ID = "loan-1"
	steps := map[Status][]Status{
		StatusPending: nil,
		StatusActive:  {StatusApproved, StatusActive},
		StatusOverdue: {StatusApproved, StatusActive, StatusOverdue},
	}[status]
	for _, to := range steps {
		l, err = Transition(l, to, "admin-1", "", svcStart)
		require.NoError(t, err)
	}
	return l
}

func TestLoanService_Apply(t *testing.T) {
	ctx := context.Background()
	req := ApplyRequest{CustomerID: "cust-1", Principal: decimal.NewFromInt(10000), DurationMonths: 6, StartDate: svcStart}

	t.Run("success", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.customers.On("GetCustomer", ctx, agentActor, "cust-1").Return(activeCustomer, nil).Once()
		f.repo.On("HasOpenLoan", ctx, "cust-1").Return(false, nil).Once()
		f.repo.On("CreateLoan", ctx, mock.MatchedBy(func(l *Loan) bool {
			return l.Status == StatusPending && l.TotalPayable.Equal(decimal.NewFromInt(10750)) && len(l.RepaymentPlan) == 6
		})).Return(func(l *Loan) *Loan {
			created := l.Clone()
			created.ID = "loan-1"
			return created
		}, nil).Once()

		created, err := f.svc.Apply(ctx, agentActor, req)

		require.NoError(t, err)
		assert.Equal(t, "loan-1", created.ID)
		assert.Equal(t, StatusPending, created.Status)
		require.Len(t, f.pub.applied, 1)
		assert.Equal(t, "10750.00", f.pub.applied[0].TotalPayable)
		f.repo.AssertExpectations(t)
	})

	t.Run("inactive customer", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.customers.On("GetCustomer", ctx, agentActor, "cust-1").Return(&customer.Customer{ID: "cust-1"}, nil).Once()

		_, err := f.svc.Apply(ctx, agentActor, req)
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.ErrorIs(t, err, customer.ErrCustomerInactive)
	})

	t.Run("customer already holds an open loan", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.customers.On("GetCustomer", ctx, agentActor, "cust-1").Return(activeCustomer, nil).Once()
		f.repo.On("HasOpenLoan", ctx, "cust-1").Return(true, nil).Once()

		_, err := f.svc.Apply(ctx, agentActor, req)
		assert.ErrorIs(t, err, ErrCustomerHasOpenLoan)
		f.repo.AssertNotCalled(t, "CreateLoan", mock.Anything, mock.Anything)
	})

	t.Run("terms outside settings", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.customers.On("GetCustomer", ctx, agentActor, "cust-1").Return(activeCustomer, nil).Once()
		f.repo.On("HasOpenLoan", ctx, "cust-1").Return(false, nil).Once()

		bad := req
		bad.DurationMonths = 9
		_, err := f.svc.Apply(ctx, agentActor, bad)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	})

	t.Run("concurrent application loses on unique index", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.customers.On("GetCustomer", ctx, agentActor, "cust-1").Return(activeCustomer, nil).Once()
		f.repo.On("HasOpenLoan", ctx, "cust-1").Return(false, nil).Once()
		f.repo.On("CreateLoan", ctx, mock.Anything).Return(nil, apperrors.ErrAlreadyExists).Once()

		_, err := f.svc.Apply(ctx, agentActor, req)
		assert.ErrorIs(t, err, ErrCustomerHasOpenLoan)
	})

	t.Run("customer applying for someone else", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.customers.On("GetCustomer", ctx, borrowerActor, "cust-9").Return(nil, apperrors.ErrForbidden).Once()

		other := req
		other.CustomerID = "cust-9"
		_, err := f.svc.Apply(ctx, borrowerActor, other)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})
}

func TestLoanService_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("success appends history and publishes", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		l := fixtureLoan(t, StatusPending)
		f.expectLockedLoan(l)
		f.repo.On("UpdateLoanInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(n *Loan) bool {
			return n.Status == StatusApproved
		}), mock.MatchedBy(func(appended []StatusChange) bool {
			return len(appended) == 1 && appended[0].Status == StatusApproved && appended[0].ChangedBy == "admin-1"
		})).Return(nil).Once()
		f.repo.On("CommitTx", mock.Anything, mock.Anything).Return(nil).Once()

		next, err := f.svc.Approve(ctx, adminActor, "loan-1", "ok")

		require.NoError(t, err)
		assert.Equal(t, StatusApproved, next.Status)
		require.Len(t, f.pub.changed, 1)
		assert.Equal(t, "pending", f.pub.changed[0].OldStatus)
		assert.Equal(t, "approved", f.pub.changed[0].NewStatus)
		f.repo.AssertNotCalled(t, "RollbackTx", mock.Anything, mock.Anything)
		f.repo.AssertExpectations(t)
	})

	t.Run("agents cannot approve", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		_, err := f.svc.Approve(ctx, agentActor, "loan-1", "")
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
		f.repo.AssertNotCalled(t, "BeginTx", mock.Anything)
	})

	t.Run("loan not found rolls back", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.repo.On("BeginTx", mock.Anything).Return(nil, nil).Once()
		f.repo.On("GetLoanForUpdateInTx", mock.Anything, mock.Anything, "missing").Return(nil, apperrors.ErrNotFound).Once()
		f.repo.On("RollbackTx", mock.Anything, mock.Anything).Return(nil).Once()

		_, err := f.svc.Approve(ctx, adminActor, "missing", "")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
		f.repo.AssertExpectations(t)
	})
}

func TestLoanService_DisbursePendingIsIllegal(t *testing.T) {
	f := newServiceFixture(svcStart)
	f.expectLockedLoan(fixtureLoan(t, StatusPending))

	_, err := f.svc.Disburse(context.Background(), adminActor, "loan-1", "")

	assert.ErrorIs(t, err, ErrIllegalTransition)
	f.repo.AssertCalled(t, "RollbackTx", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "UpdateLoanInTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.pub.changed)
}

func TestLoanService_MarkDefaulted(t *testing.T) {
	ctx := context.Background()
	l := fixtureLoan(t, StatusOverdue)

	t.Run("before threshold", func(t *testing.T) {
		f := newServiceFixture(l.RepaymentPlan[0].DueDate.AddDate(0, 0, 10))
		f.expectLockedLoan(l)

		_, err := f.svc.MarkDefaulted(ctx, adminActor, "loan-1", "")
		assert.ErrorIs(t, err, ErrDefaultThresholdNotReached)
	})

	t.Run("after threshold", func(t *testing.T) {
		f := newServiceFixture(l.RepaymentPlan[0].DueDate.AddDate(0, 0, 120))
		f.expectLockedLoan(l)
		f.repo.On("UpdateLoanInTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		f.repo.On("CommitTx", mock.Anything, mock.Anything).Return(nil).Once()

		next, err := f.svc.MarkDefaulted(ctx, adminActor, "loan-1", "customer unreachable")
		require.NoError(t, err)
		assert.Equal(t, StatusDefaulted, next.Status)
	})
}

func TestLoanService_SubmitRepayment(t *testing.T) {
	ctx := context.Background()

	t.Run("stores unverified repayment without touching the loan", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		l := fixtureLoan(t, StatusActive)
		f.repo.On("GetLoanByID", ctx, "loan-1").Return(l, nil).Once()
		f.customers.On("GetCustomer", ctx, borrowerActor, "cust-1").Return(activeCustomer, nil).Once()
		f.repo.On("CreateRepayment", ctx, mock.MatchedBy(func(r *Repayment) bool {
			return !r.Verified && r.DueInstallmentIndex == 1 && r.SubmittedBy == "user-1"
		})).Return(func(r *Repayment) *Repayment {
			c := *r
			c.ID = "rep-1"
			return &c
		}, nil).Once()

		r, err := f.svc.SubmitRepayment(ctx, borrowerActor, "loan-1", decimal.RequireFromString("1791.67"), " MPESA-1 ")

		require.NoError(t, err)
		assert.Equal(t, "rep-1", r.ID)
		assert.Equal(t, "MPESA-1", r.Reference)
		assert.True(t, decimal.NewFromInt(10750).Equal(l.Balance))
		assert.Len(t, f.pub.submitted, 1)
		f.repo.AssertNotCalled(t, "BeginTx", mock.Anything)
	})

	t.Run("pending loan cannot be repaid", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.repo.On("GetLoanByID", ctx, "loan-1").Return(fixtureLoan(t, StatusPending), nil).Once()

		_, err := f.svc.SubmitRepayment(ctx, adminActor, "loan-1", decimal.NewFromInt(100), "")
		assert.ErrorIs(t, err, ErrRepaymentNotAllowed)
	})

	t.Run("other customer's loan", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.repo.On("GetLoanByID", ctx, "loan-1").Return(fixtureLoan(t, StatusActive), nil).Once()
		f.customers.On("GetCustomer", ctx, borrowerActor, "cust-1").Return(nil, apperrors.ErrForbidden).Once()

		_, err := f.svc.SubmitRepayment(ctx, borrowerActor, "loan-1", decimal.NewFromInt(100), "")
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})
}

func TestLoanService_VerifyRepayment(t *testing.T) {
	ctx := context.Background()

	t.Run("final repayment clears the loan", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		l := fixtureLoan(t, StatusActive)
		for _, inst := range l.RepaymentPlan[:5] {
			var err error
			l, err = ApplyRepayment(l, Repayment{LoanID: l.ID, Amount: inst.Amount, Verified: true}, svcStart)
			require.NoError(t, err)
		}
		require.True(t, decimal.RequireFromString("1791.65").Equal(l.Balance))

		f.expectLockedLoan(l)
		pending := &Repayment{ID: "rep-6", LoanID: "loan-1", Amount: decimal.RequireFromString("1791.65"), CreatedAt: svcStart}
		f.repo.On("GetRepaymentForUpdateInTx", mock.Anything, mock.Anything, "loan-1", "rep-6").Return(pending, nil).Once()
		f.repo.On("MarkRepaymentVerifiedInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(r *Repayment) bool {
			return r.Verified && r.VerifiedBy == "admin-1" && r.VerifiedAt != nil
		})).Return(nil).Once()
		f.repo.On("UpdateLoanInTx", mock.Anything, mock.Anything, mock.Anything, mock.MatchedBy(func(appended []StatusChange) bool {
			return len(appended) == 1 && appended[0].Status == StatusRepaid
		})).Return(nil).Once()
		f.repo.On("CommitTx", mock.Anything, mock.Anything).Return(nil).Once()

		next, r, err := f.svc.VerifyRepayment(ctx, adminActor, "loan-1", "rep-6")

		require.NoError(t, err)
		assert.True(t, next.Balance.IsZero())
		assert.Equal(t, StatusRepaid, next.Status)
		assert.True(t, r.Verified)
		require.Len(t, f.pub.verified, 1)
		assert.Equal(t, "0.00", f.pub.verified[0].Balance)
		require.Len(t, f.pub.changed, 1)
		assert.Equal(t, "repaid", f.pub.changed[0].NewStatus)
		f.repo.AssertExpectations(t)
	})

	t.Run("double verification conflicts", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.expectLockedLoan(fixtureLoan(t, StatusActive))
		done := &Repayment{ID: "rep-1", LoanID: "loan-1", Amount: decimal.NewFromInt(100), Verified: true}
		f.repo.On("GetRepaymentForUpdateInTx", mock.Anything, mock.Anything, "loan-1", "rep-1").Return(done, nil).Once()

		_, _, err := f.svc.VerifyRepayment(ctx, adminActor, "loan-1", "rep-1")
		assert.ErrorIs(t, err, ErrRepaymentAlreadyVerified)
		f.repo.AssertCalled(t, "RollbackTx", mock.Anything, mock.Anything)
		f.repo.AssertNotCalled(t, "UpdateLoanInTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown repayment", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		f.expectLockedLoan(fixtureLoan(t, StatusActive))
		f.repo.On("GetRepaymentForUpdateInTx", mock.Anything, mock.Anything, "loan-1", "nope").Return(nil, apperrors.ErrNotFound).Once()

		_, _, err := f.svc.VerifyRepayment(ctx, adminActor, "loan-1", "nope")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("customers cannot verify", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		_, _, err := f.svc.VerifyRepayment(ctx, borrowerActor, "loan-1", "rep-1")
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})
}

func TestLoanService_SweepLoan(t *testing.T) {
	ctx := context.Background()
	l := fixtureLoan(t, StatusActive)

	t.Run("past-due active loan becomes overdue", func(t *testing.T) {
		f := newServiceFixture(l.RepaymentPlan[0].DueDate.AddDate(0, 0, 5))
		f.expectLockedLoan(l)
		f.repo.On("UpdateLoanInTx", mock.Anything, mock.Anything, mock.MatchedBy(func(n *Loan) bool {
			return n.Status == StatusOverdue && n.PenaltyAccrued.IsPositive()
		}), mock.Anything).Return(nil).Once()
		f.repo.On("CommitTx", mock.Anything, mock.Anything).Return(nil).Once()

		changed, err := f.svc.SweepLoan(ctx, "loan-1", defaultSettings.Policy)
		require.NoError(t, err)
		assert.True(t, changed)
		require.Len(t, f.pub.changed, 1)
		assert.Equal(t, "system", f.pub.changed[0].ChangedBy)
	})

	t.Run("loan already repaid is a no-op", func(t *testing.T) {
		f := newServiceFixture(l.RepaymentPlan[0].DueDate.AddDate(0, 0, 5))
		repaid := l.Clone()
		repaid.Status = StatusRepaid
		repaid.Balance = decimal.Zero
		f.expectLockedLoan(repaid)

		changed, err := f.svc.SweepLoan(ctx, "loan-1", defaultSettings.Policy)
		require.NoError(t, err)
		assert.False(t, changed)
		f.repo.AssertNotCalled(t, "UpdateLoanInTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.repo.AssertCalled(t, "RollbackTx", mock.Anything, mock.Anything)
	})
}

func TestLoanService_CurrentPenalty(t *testing.T) {
	ctx := context.Background()
	l := fixtureLoan(t, StatusOverdue)
	now := l.RepaymentPlan[0].DueDate.AddDate(0, 0, 13)

	f := newServiceFixture(now)
	f.repo.On("GetLoanByID", ctx, "loan-1").Return(l, nil).Once()

	quote, err := f.svc.CurrentPenalty(ctx, adminActor, "loan-1")
	require.NoError(t, err)

	// 13 days late, 3 grace: 1791.67 * 24 * 10 / 3000
	assert.True(t, decimal.RequireFromString("143.33").Equal(quote.Current), "got %s", quote.Current)
	assert.True(t, quote.Accrued.IsZero())
	assert.Equal(t, 1, quote.OverdueInstallments)
	assert.Equal(t, now, quote.AsOf)
}

func TestLoanService_ListAndSummaryAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("customer must filter by own customer", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		_, err := f.svc.ListLoans(ctx, borrowerActor, ListFilter{})
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("staff lists with filter", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		filter := ListFilter{Status: StatusActive}
		f.repo.On("ListLoans", ctx, filter).Return([]*Loan{fixtureLoan(t, StatusActive)}, nil).Once()

		loans, err := f.svc.ListLoans(ctx, agentActor, filter)
		require.NoError(t, err)
		assert.Len(t, loans, 1)
	})

	t.Run("summary is staff only", func(t *testing.T) {
		f := newServiceFixture(svcStart)
		_, err := f.svc.Summary(ctx, borrowerActor)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)

		f.repo.On("GetPortfolioSummary", ctx).Return(&PortfolioSummary{CountByStatus: map[Status]int{StatusActive: 2}}, nil).Once()
		s, err := f.svc.Summary(ctx, agentActor)
		require.NoError(t, err)
		assert.Equal(t, 2, s.CountByStatus[StatusActive])
	})
}

func TestSettingsService(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults until stored", func(t *testing.T) {
		repo := new(MockSettingsRepository)
		repo.On("GetActiveSettings", ctx).Return(nil, apperrors.ErrNotFound).Once()
		svc := NewSettingsService(repo, defaultSettings, logger)

		got, err := svc.Active(ctx)
		require.NoError(t, err)
		assert.Equal(t, defaultSettings.AllowedDurations, got.AllowedDurations)
	})

	t.Run("stored settings win", func(t *testing.T) {
		repo := new(MockSettingsRepository)
		stored := defaultSettings
		stored.AnnualInterestRate = decimal.NewFromInt(18)
		repo.On("GetActiveSettings", ctx).Return(&stored, nil).Once()
		svc := NewSettingsService(repo, defaultSettings, logger)

		got, err := svc.Active(ctx)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(18).Equal(got.AnnualInterestRate))
	})

	t.Run("update normalizes durations and stamps author", func(t *testing.T) {
		repo := new(MockSettingsRepository)
		repo.On("SaveSettings", ctx, mock.MatchedBy(func(s *Settings) bool {
			return assert.ObjectsAreEqual([]int{3, 6, 12}, s.AllowedDurations) && s.UpdatedBy == "admin-1"
		})).Return(nil).Once()
		svc := NewSettingsService(repo, defaultSettings, logger)

		next := defaultSettings
		next.AllowedDurations = []int{12, 3, 6, 6}
		got, err := svc.Update(ctx, adminActor, next)
		require.NoError(t, err)
		assert.Equal(t, "admin-1", got.UpdatedBy)
		repo.AssertExpectations(t)
	})

	t.Run("agents cannot update", func(t *testing.T) {
		svc := NewSettingsService(new(MockSettingsRepository), defaultSettings, logger)
		_, err := svc.Update(ctx, agentActor, defaultSettings)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("invalid settings rejected", func(t *testing.T) {
		svc := NewSettingsService(new(MockSettingsRepository), defaultSettings, logger)
		bad := defaultSettings
		bad.MaxAmount = decimal.NewFromInt(1)
		_, err := svc.Update(ctx, adminActor, bad)
		assert.ErrorIs(t, err, ErrInvalidSettings)
	})
}
