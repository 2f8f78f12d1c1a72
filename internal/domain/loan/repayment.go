package loan

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Repayment struct {
	ID                  string
	LoanID              string
	Amount              decimal.Decimal
	DueInstallmentIndex int
	Reference           string
	SubmittedBy         string
	Verified            bool
	VerifiedBy          string
	VerifiedAt          *time.Time
	CreatedAt           time.Time
}

// NewRepayment records a submitted, unverified repayment against the
// earliest unpaid installment. It does not touch the loan.
func NewRepayment(l *Loan, amount decimal.Decimal, submittedBy, reference string, now time.Time) (*Repayment, error) {
	if err := checkRepayable(l, amount); err != nil {
		return nil, err
	}

	due := 0
	if i := l.FirstUnpaid(); i >= 0 {
		due = l.RepaymentPlan[i].Index
	}
	return &Repayment{
		LoanID:              l.ID,
		Amount:              amount,
		DueInstallmentIndex: due,
		Reference:           reference,
		SubmittedBy:         submittedBy,
		CreatedAt:           now,
	}, nil
}

// Verify returns a verified copy of r.
func (r Repayment) Verify(by string, now time.Time) (Repayment, error) {
	if r.Verified {
		return r, fmt.Errorf("%w: %s", ErrRepaymentAlreadyVerified, r.ID)
	}
	verifiedAt := now
	r.Verified = true
	r.VerifiedBy = by
	r.VerifiedAt = &verifiedAt
	return r, nil
}

func checkRepayable(l *Loan, amount decimal.Decimal) error {
	if l.Status != StatusActive && l.Status != StatusOverdue {
		return fmt.Errorf("%w: loan %s is %s", ErrRepaymentNotAllowed, l.ID, l.Status)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRepaymentAmount)
	}
	if amount.GreaterThan(l.Balance) {
		return fmt.Errorf("%w: %s exceeds outstanding balance %s",
			ErrInvalidRepaymentAmount, amount.StringFixed(2), l.Balance.StringFixed(2))
	}
	return nil
}
