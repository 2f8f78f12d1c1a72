package loan_test

import (
	"testing"
	"time"

	"trucash/internal/domain/loan"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start = time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	testSettings = loan.Settings{
		Terms:              loan.Terms{MinAmount: d("1000"), MaxAmount: d("500000"), AllowedDurations: []int{3, 6, 12}},
		Policy:             loan.Policy{AnnualPenaltyRate: d("24"), GraceDays: 3, DefaultAfterDays: 90, MaxPenaltyPercent: d("25")},
		AnnualInterestRate: d("15"),
	}
)

func newTestLoan(t *testing.T, status loan.Status) *loan.Loan {
	t.Helper()
	l, err := loan.NewLoan("cust-1", d("10000"), 6, testSettings, start, "https://media.example.com/c.pdf", "agent-1", start)
	require.NoError(t, err)
	l.ID = "loan-1"

	path := map[loan.Status][]loan.Status{
		loan.StatusPending:  nil,
		loan.StatusApproved: {loan.StatusApproved},
		loan.StatusActive:   {loan.StatusApproved, loan.StatusActive},
		loan.StatusOverdue:  {loan.StatusApproved, loan.StatusActive, loan.StatusOverdue},
		loan.StatusRejected: {loan.StatusRejected},
	}[status]
	for _, to := range path {
		l, err = loan.Transition(l, to, "admin-1", "", start)
		require.NoError(t, err)
	}
	return l
}

func verified(l *loan.Loan, amount string) loan.Repayment {
	at := start
	return loan.Repayment{ID: "rep-1", LoanID: l.ID, Amount: d(amount), Verified: true, VerifiedBy: "admin-1", VerifiedAt: &at}
}

func TestNewLoan(t *testing.T) {
	l := newTestLoan(t, loan.StatusPending)

	assert.Equal(t, loan.StatusPending, l.Status)
	assert.True(t, d("10750").Equal(l.TotalPayable))
	assert.True(t, d("10750").Equal(l.Balance))
	assert.True(t, d("1791.67").Equal(l.MonthlyInstallment))
	assert.True(t, d("15").Equal(l.AnnualInterestRate))
	assert.True(t, l.TotalRepaid.IsZero())
	require.Len(t, l.StatusHistory, 1)
	assert.Equal(t, loan.StatusPending, l.StatusHistory[0].Status)
	assert.Equal(t, "agent-1", l.StatusHistory[0].ChangedBy)
}

func TestNewLoan_RejectsInvalidTerms(t *testing.T) {
	_, err := loan.NewLoan("cust-1", d("10000"), 9, testSettings, start, "", "agent-1", start)
	assert.ErrorIs(t, err, loan.ErrInvalidDuration)

	_, err = loan.NewLoan("cust-1", d("100"), 6, testSettings, start, "", "agent-1", start)
	assert.ErrorIs(t, err, loan.ErrAmountOutOfRange)
}

func TestTransitionTable(t *testing.T) {
	all := []loan.Status{
		loan.StatusPending, loan.StatusApproved, loan.StatusActive, loan.StatusOverdue,
		loan.StatusDefaulted, loan.StatusRejected, loan.StatusRepaid,
	}
	allowed := map[[2]loan.Status]bool{
		{loan.StatusPending, loan.StatusApproved}:  true,
		{loan.StatusPending, loan.StatusRejected}:  true,
		{loan.StatusApproved, loan.StatusActive}:   true,
		{loan.StatusActive, loan.StatusOverdue}:    true,
		{loan.StatusActive, loan.StatusRepaid}:     true,
		{loan.StatusOverdue, loan.StatusActive}:    true,
		{loan.StatusOverdue, loan.StatusDefaulted}: true,
		{loan.StatusOverdue, loan.StatusRepaid}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]loan.Status{from, to}], loan.CanTransition(from, to), "%s -> %s", from, to)
		}
		if from.IsTerminal() {
			for _, to := range all {
				assert.False(t, loan.CanTransition(from, to), "terminal %s must not move to %s", from, to)
			}
		}
	}
}

func TestTransition_PendingToActiveIsIllegal(t *testing.T) {
	l := newTestLoan(t, loan.StatusPending)

	_, err := loan.Transition(l, loan.StatusActive, "admin-1", "", start)

	assert.ErrorIs(t, err, loan.ErrIllegalTransition)
	assert.Equal(t, loan.StatusPending, l.Status)
	assert.Len(t, l.StatusHistory, 1)
}

func TestTransition_AppendsOneHistoryEntry(t *testing.T) {
	l := newTestLoan(t, loan.StatusPending)
	at := start.Add(time.Hour)

	next, err := loan.Transition(l, loan.StatusApproved, "admin-1", "documents checked", at)
	require.NoError(t, err)

	assert.Equal(t, loan.StatusApproved, next.Status)
	require.Len(t, next.StatusHistory, 2)
	last := next.StatusHistory[1]
	assert.Equal(t, loan.StatusApproved, last.Status)
	assert.Equal(t, "admin-1", last.ChangedBy)
	assert.Equal(t, "documents checked", last.Notes)
	assert.Equal(t, at, last.Timestamp)

	assert.Equal(t, loan.StatusPending, l.Status, "input must not be modified")
	assert.Len(t, l.StatusHistory, 1)
}

func TestTransition_RepaidRequiresClearedBalance(t *testing.T) {
	l := newTestLoan(t, loan.StatusActive)

	_, err := loan.Transition(l, loan.StatusRepaid, "admin-1", "", start)
	assert.ErrorIs(t, err, loan.ErrBalanceNotCleared)
}

func TestApplyRepayment_FinalInstallmentRepaysLoan(t *testing.T) {
	due := start.AddDate(0, 1, 0)
	l := &loan.Loan{
		ID:            "loan-1",
		Status:        loan.StatusActive,
		TotalPayable:  d("1791.67"),
		Balance:       d("1791.67"),
		TotalRepaid:   decimal.Zero,
		RepaymentPlan: []loan.Installment{{Index: 1, DueDate: due, Amount: d("1791.67")}},
		StatusHistory: []loan.StatusChange{{Status: loan.StatusActive, Timestamp: start}},
	}

	next, err := loan.ApplyRepayment(l, verified(l, "1791.67"), start)
	require.NoError(t, err)

	assert.True(t, next.Balance.IsZero())
	assert.Equal(t, loan.StatusRepaid, next.Status)
	assert.True(t, next.RepaymentPlan[0].Paid)
	assert.Equal(t, loan.StatusRepaid, next.StatusHistory[len(next.StatusHistory)-1].Status)
	assert.Equal(t, "admin-1", next.StatusHistory[len(next.StatusHistory)-1].ChangedBy)
}

func TestApplyRepayment_UnverifiedLeavesBalance(t *testing.T) {
	l := newTestLoan(t, loan.StatusActive)
	r := loan.Repayment{LoanID: l.ID, Amount: d("1791.67")}

	next, err := loan.ApplyRepayment(l, r, start)
	require.NoError(t, err)

	assert.True(t, l.Balance.Equal(next.Balance))
	assert.True(t, next.TotalRepaid.IsZero())
	assert.False(t, next.RepaymentPlan[0].Paid)
	assert.Equal(t, l.Status, next.Status)
}

func TestApplyRepayment_FullScheduleRepaysLoan(t *testing.T) {
	l := newTestLoan(t, loan.StatusActive)

	for _, inst := range l.RepaymentPlan {
		var err error
		l, err = loan.ApplyRepayment(l, verified(l, inst.Amount.String()), start)
		require.NoError(t, err)
	}

	assert.True(t, l.Balance.IsZero())
	assert.True(t, d("10750").Equal(l.TotalRepaid))
	assert.Equal(t, loan.StatusRepaid, l.Status)
	for _, inst := range l.RepaymentPlan {
		assert.True(t, inst.Paid)
	}
}

func TestApplyRepayment_PartialPaymentOnlyFlipsCoveredInstallments(t *testing.T) {
	l := newTestLoan(t, loan.StatusActive)

	next, err := loan.ApplyRepayment(l, verified(l, "1000"), start)
	require.NoError(t, err)
	assert.False(t, next.RepaymentPlan[0].Paid, "partially paid installment stays unpaid")
	assert.True(t, d("9750").Equal(next.Balance))

	next, err = loan.ApplyRepayment(next, verified(next, "3000"), start)
	require.NoError(t, err)
	assert.True(t, next.RepaymentPlan[0].Paid)
	assert.True(t, next.RepaymentPlan[1].Paid, "4000 covers 2 x 1791.67")
	assert.False(t, next.RepaymentPlan[2].Paid)
	assert.Equal(t, loan.StatusActive, next.Status)

	assert.False(t, l.RepaymentPlan[0].Paid, "input must not be modified")
	assert.True(t, d("10750").Equal(l.Balance))
}

func TestApplyRepayment_Rejections(t *testing.T) {
	active := newTestLoan(t, loan.StatusActive)
	pending := newTestLoan(t, loan.StatusPending)

	_, err := loan.ApplyRepayment(active, verified(active, "10750.01"), start)
	assert.ErrorIs(t, err, loan.ErrInvalidRepaymentAmount)

	_, err = loan.ApplyRepayment(active, verified(active, "0"), start)
	assert.ErrorIs(t, err, loan.ErrInvalidRepaymentAmount)

	_, err = loan.ApplyRepayment(pending, verified(pending, "100"), start)
	assert.ErrorIs(t, err, loan.ErrRepaymentNotAllowed)
}

func TestApplyRepayment_CatchUpReturnsOverdueLoanToActive(t *testing.T) {
	l := newTestLoan(t, loan.StatusOverdue)
	now := l.RepaymentPlan[0].DueDate.AddDate(0, 0, 10)

	next, err := loan.ApplyRepayment(l, verified(l, "1791.67"), now)
	require.NoError(t, err)

	assert.Equal(t, loan.StatusActive, next.Status)
	assert.Equal(t, loan.StatusActive, next.StatusHistory[len(next.StatusHistory)-1].Status)
}

func TestApplyRepayment_OverdueStaysOverdueWhilePastDueRemains(t *testing.T) {
	l := newTestLoan(t, loan.StatusOverdue)
	now := l.RepaymentPlan[1].DueDate.AddDate(0, 0, 1)

	next, err := loan.ApplyRepayment(l, verified(l, "1791.67"), now)
	require.NoError(t, err)

	assert.Equal(t, loan.StatusOverdue, next.Status)
	assert.Len(t, next.StatusHistory, len(l.StatusHistory))
}

func TestNewRepayment(t *testing.T) {
	l := newTestLoan(t, loan.StatusActive)

	r, err := loan.NewRepayment(l, d("500"), "user-1", "MPESA-123", start)
	require.NoError(t, err)
	assert.False(t, r.Verified)
	assert.Equal(t, 1, r.DueInstallmentIndex)
	assert.Equal(t, "loan-1", r.LoanID)

	v, err := r.Verify("admin-1", start)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.False(t, r.Verified, "Verify returns a copy")

	_, err = v.Verify("admin-2", start)
	assert.ErrorIs(t, err, loan.ErrRepaymentAlreadyVerified)

	_, err = loan.NewRepayment(newTestLoan(t, loan.StatusApproved), d("500"), "user-1", "", start)
	assert.ErrorIs(t, err, loan.ErrRepaymentNotAllowed)
}

func TestEvaluateOverdue(t *testing.T) {
	policy := testSettings.Policy

	t.Run("active loan with past-due installment becomes overdue", func(t *testing.T) {
		l := newTestLoan(t, loan.StatusActive)
		now := l.RepaymentPlan[0].DueDate.AddDate(0, 0, 5)

		next, changed, err := loan.EvaluateOverdue(l, policy, now)
		require.NoError(t, err)

		assert.True(t, changed)
		assert.Equal(t, loan.StatusOverdue, next.Status)
		last := next.StatusHistory[len(next.StatusHistory)-1]
		assert.Equal(t, "system", last.ChangedBy)
		// 5 days late, 3 grace: 1791.67 * 24 * 2 / 3000
		assert.True(t, d("28.67").Equal(next.PenaltyAccrued), "got %s", next.PenaltyAccrued)
	})

	t.Run("active loan on time is unchanged", func(t *testing.T) {
		l := newTestLoan(t, loan.StatusActive)

		next, changed, err := loan.EvaluateOverdue(l, policy, l.RepaymentPlan[0].DueDate)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, loan.StatusActive, next.Status)
	})

	t.Run("overdue beyond threshold defaults", func(t *testing.T) {
		l := newTestLoan(t, loan.StatusOverdue)
		now := l.RepaymentPlan[0].DueDate.AddDate(0, 0, 91)

		next, changed, err := loan.EvaluateOverdue(l, policy, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, loan.StatusDefaulted, next.Status)
		assert.True(t, next.PenaltyAccrued.IsPositive())
	})

	t.Run("overdue at threshold does not default", func(t *testing.T) {
		l := newTestLoan(t, loan.StatusOverdue)
		now := l.RepaymentPlan[0].DueDate.AddDate(0, 0, 90)

		next, _, err := loan.EvaluateOverdue(l, policy, now)
		require.NoError(t, err)
		assert.Equal(t, loan.StatusOverdue, next.Status)
	})

	t.Run("zero threshold never defaults automatically", func(t *testing.T) {
		l := newTestLoan(t, loan.StatusOverdue)
		noAuto := policy
		noAuto.DefaultAfterDays = 0

		next, _, err := loan.EvaluateOverdue(l, noAuto, l.RepaymentPlan[0].DueDate.AddDate(2, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, loan.StatusOverdue, next.Status)
	})

	t.Run("overdue with nothing past due returns to active", func(t *testing.T) {
		l := newTestLoan(t, loan.StatusOverdue)

		next, changed, err := loan.EvaluateOverdue(l, policy, start.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, loan.StatusActive, next.Status)
	})

	t.Run("accrued penalty never decreases", func(t *testing.T) {
		l := newTestLoan(t, loan.StatusOverdue)
		l.PenaltyAccrued = d("999")
		now := l.RepaymentPlan[0].DueDate.AddDate(0, 0, 10)

		next, changed, err := loan.EvaluateOverdue(l, policy, now)
		require.NoError(t, err)
		assert.True(t, changed, "installment penalty is still recorded")
		assert.True(t, d("999").Equal(next.PenaltyAccrued))
		// 10 days late, 3 grace: 1791.67 * 24 * 7 / 3000
		assert.True(t, d("100.33").Equal(next.RepaymentPlan[0].Penalty), "got %s", next.RepaymentPlan[0].Penalty)

		again, changed, err := loan.EvaluateOverdue(next, policy, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.True(t, d("999").Equal(again.PenaltyAccrued))
	})

	t.Run("penalty charged before a catch-up is kept", func(t *testing.T) {
		noGrace := loan.Policy{AnnualPenaltyRate: d("30"), DefaultAfterDays: 90}
		l := newTestLoan(t, loan.StatusActive)

		firstLate := l.RepaymentPlan[0].DueDate.AddDate(0, 0, 20)
		overdue, changed, err := loan.EvaluateOverdue(l, noGrace, firstLate)
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, loan.StatusOverdue, overdue.Status)
		// 1791.67 * 30 * 20 / 3000
		require.True(t, d("358.33").Equal(overdue.PenaltyAccrued), "got %s", overdue.PenaltyAccrued)

		caughtUp, err := loan.ApplyRepayment(overdue, verified(overdue, "1791.67"), firstLate)
		require.NoError(t, err)
		require.Equal(t, loan.StatusActive, caughtUp.Status)
		assert.True(t, d("358.33").Equal(caughtUp.RepaymentPlan[0].Penalty))

		secondLate := caughtUp.RepaymentPlan[1].DueDate.AddDate(0, 0, 25)
		next, changed, err := loan.EvaluateOverdue(caughtUp, noGrace, secondLate)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, loan.StatusOverdue, next.Status)
		// 358.33 settled on installment 1 plus 1791.67 * 30 * 25 / 3000 on installment 2
		assert.True(t, d("447.92").Equal(next.RepaymentPlan[1].Penalty), "got %s", next.RepaymentPlan[1].Penalty)
		assert.True(t, d("806.25").Equal(next.PenaltyAccrued), "got %s", next.PenaltyAccrued)
	})

	t.Run("defaulted loan keeps accruing", func(t *testing.T) {
		l := newTestLoan(t, loan.StatusOverdue)
		l, err := loan.Transition(l, loan.StatusDefaulted, "admin-1", "", start)
		require.NoError(t, err)

		next, changed, err := loan.EvaluateOverdue(l, policy, l.RepaymentPlan[2].DueDate.AddDate(0, 0, 20))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, loan.StatusDefaulted, next.Status)
		assert.Len(t, next.StatusHistory, len(l.StatusHistory))
		assert.True(t, next.PenaltyAccrued.IsPositive())
	})

	t.Run("terminal and early states are skipped", func(t *testing.T) {
		for _, st := range []loan.Status{loan.StatusPending, loan.StatusApproved, loan.StatusRejected} {
			l := newTestLoan(t, st)
			next, changed, err := loan.EvaluateOverdue(l, policy, start.AddDate(1, 0, 0))
			require.NoError(t, err)
			assert.False(t, changed, st)
			assert.Equal(t, st, next.Status)
		}
	})
}

func TestMarkDefaulted(t *testing.T) {
	policy := testSettings.Policy
	l := newTestLoan(t, loan.StatusOverdue)

	_, err := loan.MarkDefaulted(l, policy, "admin-1", "", l.RepaymentPlan[0].DueDate.AddDate(0, 0, 30))
	assert.ErrorIs(t, err, loan.ErrDefaultThresholdNotReached)

	next, err := loan.MarkDefaulted(l, policy, "admin-1", "unreachable", l.RepaymentPlan[0].DueDate.AddDate(0, 0, 100))
	require.NoError(t, err)
	assert.Equal(t, loan.StatusDefaulted, next.Status)

	_, err = loan.MarkDefaulted(newTestLoan(t, loan.StatusActive), policy, "admin-1", "", start.AddDate(1, 0, 0))
	assert.ErrorIs(t, err, loan.ErrIllegalTransition)
}
