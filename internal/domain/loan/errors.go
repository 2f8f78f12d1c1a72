package loan

import "errors"

var (
	ErrAmountOutOfRange = errors.New("amount out of range")

	ErrInvalidDuration = errors.New("invalid loan duration")

	ErrIllegalTransition = errors.New("illegal loan status transition")

	ErrBalanceNotCleared = errors.New("loan balance not cleared")

	ErrInvalidRepaymentAmount = errors.New("invalid repayment amount")

	ErrRepaymentNotAllowed = errors.New("repayment not allowed for loan status")

	ErrRepaymentAlreadyVerified = errors.New("repayment already verified")

	ErrCustomerHasOpenLoan = errors.New("customer already has an open loan")

	ErrInvalidSettings = errors.New("invalid loan settings")

	ErrDefaultThresholdNotReached = errors.New("default threshold not reached")
)
