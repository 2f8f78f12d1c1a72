package loan

import (
	"fmt"
	"slices"
	"time"

	"trucash/internal/pkg/apperrors"
	"trucash/internal/pkg/identity"

	"github.com/shopspring/decimal"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusActive},
	StatusActive:   {StatusOverdue, StatusRepaid},
	StatusOverdue:  {StatusActive, StatusDefaulted, StatusRepaid},
}

func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Transition returns a copy of l moved to status to, with one history entry
// appended. l itself is never modified.
func Transition(l *Loan, to Status, actor, notes string, now time.Time) (*Loan, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: loan is nil", apperrors.ErrInvalidArgument)
	}
	if !CanTransition(l.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, l.Status, to)
	}
	if to == StatusRepaid && !l.Balance.IsZero() {
		return nil, fmt.Errorf("%w: outstanding %s", ErrBalanceNotCleared, l.Balance.StringFixed(2))
	}

	next := l.Clone()
	next.Status = to
	next.StatusHistory = append(next.StatusHistory, StatusChange{
		Status:    to,
		Timestamp: now,
		ChangedBy: actor,
		Notes:     notes,
	})
	next.UpdatedAt = now
	return next, nil
}

// ApplyRepayment folds a verified repayment into the loan. Unverified
// repayments leave the loan unchanged. Installments flip to paid only when
// the cumulative repaid amount covers them in full.
func ApplyRepayment(l *Loan, r Repayment, now time.Time) (*Loan, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: loan is nil", apperrors.ErrInvalidArgument)
	}
	if !r.Verified {
		return l.Clone(), nil
	}
	if r.LoanID != "" && r.LoanID != l.ID {
		return nil, fmt.Errorf("%w: repayment %s belongs to loan %s", apperrors.ErrInvalidArgument, r.ID, r.LoanID)
	}
	if err := checkRepayable(l, r.Amount); err != nil {
		return nil, err
	}

	next := l.Clone()
	next.Balance = next.Balance.Sub(r.Amount)
	next.TotalRepaid = next.TotalRepaid.Add(r.Amount)
	next.UpdatedAt = now
	markCoveredInstallments(next, now)

	if next.Balance.IsZero() {
		return Transition(next, StatusRepaid, r.VerifiedBy, "balance cleared", now)
	}
	if next.Status == StatusOverdue {
		if _, pastDue := next.OldestPastDue(now); !pastDue {
			return Transition(next, StatusActive, r.VerifiedBy, "overdue installments caught up", now)
		}
	}
	return next, nil
}

func markCoveredInstallments(l *Loan, now time.Time) {
	covered := l.TotalRepaid
	for i := range l.RepaymentPlan {
		inst := &l.RepaymentPlan[i]
		if covered.LessThan(inst.Amount) {
			return
		}
		covered = covered.Sub(inst.Amount)
		if !inst.Paid {
			paidAt := now
			inst.Paid = true
			inst.PaidAt = &paidAt
		}
	}
}

// MarkDefaulted moves an overdue loan to defaulted on an explicit decision.
// When the policy sets DefaultAfterDays the oldest past-due installment must
// be later than that threshold.
func MarkDefaulted(l *Loan, policy Policy, actor, notes string, now time.Time) (*Loan, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: loan is nil", apperrors.ErrInvalidArgument)
	}
	if l.Status != StatusOverdue {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, l.Status, StatusDefaulted)
	}
	if policy.DefaultAfterDays > 0 {
		oldest, pastDue := l.OldestPastDue(now)
		if !pastDue || daysLate(oldest.DueDate, now) <= policy.DefaultAfterDays {
			return nil, fmt.Errorf("%w: oldest installment is not more than %d days late",
				ErrDefaultThresholdNotReached, policy.DefaultAfterDays)
		}
	}
	return Transition(l, StatusDefaulted, actor, notes, now)
}

// EvaluateOverdue derives the status the periodic sweep should apply and
// refreshes the accrued penalty. It reports whether anything changed; loans
// in any other state are returned unchanged.
func EvaluateOverdue(l *Loan, policy Policy, now time.Time) (*Loan, bool, error) {
	if l == nil {
		return nil, false, fmt.Errorf("%w: loan is nil", apperrors.ErrInvalidArgument)
	}

	next := l.Clone()
	var err error
	oldest, pastDue := l.OldestPastDue(now)
	actor := identity.SystemActor.UserID

	switch l.Status {
	case StatusActive:
		if pastDue {
			next, err = Transition(next, StatusOverdue, actor,
				fmt.Sprintf("installment %d past due since %s", oldest.Index, oldest.DueDate.Format(time.DateOnly)), now)
		}
	case StatusOverdue:
		switch {
		case !pastDue:
			next, err = Transition(next, StatusActive, actor, "no installment past due", now)
		case policy.DefaultAfterDays > 0 && daysLate(oldest.DueDate, now) > policy.DefaultAfterDays:
			next, err = Transition(next, StatusDefaulted, actor,
				fmt.Sprintf("installment %d overdue more than %d days", oldest.Index, policy.DefaultAfterDays), now)
		}
	case StatusDefaulted:
	default:
		return next, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	changed := next.Status != l.Status
	if next.Status == StatusOverdue || next.Status == StatusDefaulted {
		before := penaltiesOf(next.RepaymentPlan)
		accrued := decimal.Max(next.PenaltyAccrued, ChargePenalties(next.RepaymentPlan, policy, now))
		if !accrued.Equal(next.PenaltyAccrued) || !slices.EqualFunc(before, penaltiesOf(next.RepaymentPlan), decimal.Decimal.Equal) {
			next.PenaltyAccrued = accrued
			next.UpdatedAt = now
			changed = true
		}
	}
	return next, changed, nil
}

func penaltiesOf(plan []Installment) []decimal.Decimal {
	out := make([]decimal.Decimal, len(plan))
	for i, inst := range plan {
		out[i] = inst.Penalty
	}
	return out
}
