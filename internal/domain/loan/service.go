package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trucash/internal/domain/customer"
	"trucash/internal/event"
	"trucash/internal/infrastructure/monitoring"
	"trucash/internal/pkg/apperrors"
	"trucash/internal/pkg/identity"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CustomerDirectory resolves customers on behalf of an actor and enforces
// that customer logins only reach their own record.
type CustomerDirectory interface {
	GetCustomer(ctx context.Context, actor identity.Actor, customerID string) (*customer.Customer, error)
}

type ApplyRequest struct {
	CustomerID     string
	Principal      decimal.Decimal
	DurationMonths int
	CollateralURL  string
	// StartDate defaults to today. Installment i is due StartDate + i months.
	StartDate time.Time
}

type PenaltyQuote struct {
	LoanID string
	// Accrued is the penalty recorded by the last sweep.
	Accrued decimal.Decimal
	// Current is the penalty the active policy yields as of AsOf.
	Current             decimal.Decimal
	OverdueInstallments int
	AsOf                time.Time
}

type LoanService interface {
	Apply(ctx context.Context, actor identity.Actor, req ApplyRequest) (*Loan, error)

	Approve(ctx context.Context, actor identity.Actor, loanID, notes string) (*Loan, error)

	Reject(ctx context.Context, actor identity.Actor, loanID, notes string) (*Loan, error)

	Disburse(ctx context.Context, actor identity.Actor, loanID, notes string) (*Loan, error)

	MarkDefaulted(ctx context.Context, actor identity.Actor, loanID, notes string) (*Loan, error)

	SubmitRepayment(ctx context.Context, actor identity.Actor, loanID string, amount decimal.Decimal, reference string) (*Repayment, error)

	VerifyRepayment(ctx context.Context, actor identity.Actor, loanID, repaymentID string) (*Loan, *Repayment, error)

	GetLoan(ctx context.Context, actor identity.Actor, loanID string) (*Loan, error)

	ListLoans(ctx context.Context, actor identity.Actor, filter ListFilter) ([]*Loan, error)

	ListRepayments(ctx context.Context, actor identity.Actor, loanID string) ([]*Repayment, error)

	CurrentPenalty(ctx context.Context, actor identity.Actor, loanID string) (*PenaltyQuote, error)

	Summary(ctx context.Context, actor identity.Actor) (*PortfolioSummary, error)

	// SweepLoan re-reads the loan under lock and applies EvaluateOverdue. It
	// reports whether anything was persisted.
	SweepLoan(ctx context.Context, loanID string, policy Policy) (bool, error)
}

type loanServiceImpl struct {
	repo      Repository
	customers CustomerDirectory
	settings  SettingsService
	pub       event.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewLoanService(r Repository, customers CustomerDirectory, settings SettingsService, pub event.EventPublisher, logger *slog.Logger) LoanService {
	if pub == nil {
		pub = event.NopPublisher{}
	}
	return &loanServiceImpl{
		repo:      r,
		customers: customers,
		settings:  settings,
		pub:       pub,
		logger:    logger.With("component", "loanService"),
		now:       time.Now,
	}
}

func (s *loanServiceImpl) Apply(ctx context.Context, actor identity.Actor, req ApplyRequest) (*Loan, error) {
	logger := s.logger.With("customerID", req.CustomerID, "actor", actor.UserID)
	logger.InfoContext(ctx, "Applying for loan", "principal", req.Principal.String(), "durationMonths", req.DurationMonths)

	cust, err := s.customers.GetCustomer(ctx, actor, req.CustomerID)
	if err != nil {
		logger.WarnContext(ctx, "Customer lookup failed", "error", err)
		return nil, err
	}
	if !cust.Active {
		logger.WarnContext(ctx, "Attempted to apply for inactive customer")
		return nil, fmt.Errorf("%w: %w", apperrors.ErrValidation, customer.ErrCustomerInactive)
	}

	open, err := s.repo.HasOpenLoan(ctx, cust.ID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to check open loans", "error", err)
		return nil, fmt.Errorf("%w: failed to check open loans: %w", apperrors.ErrInternalServer, err)
	}
	if open {
		logger.WarnContext(ctx, "Customer already holds an open loan")
		return nil, ErrCustomerHasOpenLoan
	}

	settings, err := s.settings.Active(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	l, err := NewLoan(cust.ID, req.Principal, req.DurationMonths, settings, req.StartDate,
		strings.TrimSpace(req.CollateralURL), actor.UserID, now)
	if err != nil {
		logger.WarnContext(ctx, "Loan terms rejected", "error", err)
		return nil, err
	}

	created, err := s.repo.CreateLoan(ctx, l)
	if err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			logger.WarnContext(ctx, "Concurrent application created an open loan first")
			return nil, ErrCustomerHasOpenLoan
		}
		logger.ErrorContext(ctx, "Failed to save loan", "error", err)
		return nil, fmt.Errorf("%w: failed to save loan: %w", apperrors.ErrInternalServer, err)
	}

	monitoring.RecordLoanTransition("", string(StatusPending))
	if pubErr := s.pub.PublishLoanApplied(ctx, event.LoanAppliedEvent{
		LoanID:         created.ID,
		CustomerID:     created.CustomerID,
		Principal:      created.Principal.StringFixed(2),
		DurationMonths: created.DurationMonths,
		TotalPayable:   created.TotalPayable.StringFixed(2),
		AppliedBy:      actor.UserID,
		Timestamp:      now,
	}); pubErr != nil {
		logger.ErrorContext(ctx, "Loan created, but failed to publish application event", "error", pubErr)
	}
	logger.InfoContext(ctx, "Loan application stored", "loanID", created.ID, "totalPayable", created.TotalPayable.StringFixed(2))
	return created, nil
}

func (s *loanServiceImpl) Approve(ctx context.Context, actor identity.Actor, loanID, notes string) (*Loan, error) {
	return s.decide(ctx, actor, loanID, StatusApproved, notes)
}

func (s *loanServiceImpl) Reject(ctx context.Context, actor identity.Actor, loanID, notes string) (*Loan, error) {
	return s.decide(ctx, actor, loanID, StatusRejected, notes)
}

func (s *loanServiceImpl) Disburse(ctx context.Context, actor identity.Actor, loanID, notes string) (*Loan, error) {
	return s.decide(ctx, actor, loanID, StatusActive, notes)
}

func (s *loanServiceImpl) decide(ctx context.Context, actor identity.Actor, loanID string, to Status, notes string) (*Loan, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	next, _, err := s.mutate(ctx, loanID, func(_ context.Context, _ pgx.Tx, current *Loan, now time.Time) (*Loan, error) {
		return Transition(current, to, actor.UserID, notes, now)
	})
	return next, err
}

func (s *loanServiceImpl) MarkDefaulted(ctx context.Context, actor identity.Actor, loanID, notes string) (*Loan, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	settings, err := s.settings.Active(ctx)
	if err != nil {
		return nil, err
	}
	next, _, err := s.mutate(ctx, loanID, func(_ context.Context, _ pgx.Tx, current *Loan, now time.Time) (*Loan, error) {
		return MarkDefaulted(current, settings.Policy, actor.UserID, notes, now)
	})
	return next, err
}

func (s *loanServiceImpl) SubmitRepayment(ctx context.Context, actor identity.Actor, loanID string, amount decimal.Decimal, reference string) (*Repayment, error) {
	logger := s.logger.With("loanID", loanID, "actor", actor.UserID)

	l, err := s.GetLoan(ctx, actor, loanID)
	if err != nil {
		return nil, err
	}

	r, err := NewRepayment(l, amount, actor.UserID, strings.TrimSpace(reference), s.now())
	if err != nil {
		logger.WarnContext(ctx, "Repayment submission rejected", "amount", amount.String(), "error", err)
		monitoring.RecordRepayment("rejected")
		return nil, err
	}

	created, err := s.repo.CreateRepayment(ctx, r)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to save repayment", "error", err)
		return nil, fmt.Errorf("%w: failed to save repayment: %w", apperrors.ErrInternalServer, err)
	}

	monitoring.RecordRepayment("submitted")
	if pubErr := s.pub.PublishRepaymentSubmitted(ctx, repaymentEvent(created, actor.UserID, "")); pubErr != nil {
		logger.ErrorContext(ctx, "Failed to publish repayment submitted event", "error", pubErr)
	}
	logger.InfoContext(ctx, "Repayment submitted for verification", "repaymentID", created.ID, "amount", created.Amount.StringFixed(2))
	return created, nil
}

func (s *loanServiceImpl) VerifyRepayment(ctx context.Context, actor identity.Actor, loanID, repaymentID string) (*Loan, *Repayment, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, nil, err
	}
	logger := s.logger.With("loanID", loanID, "repaymentID", repaymentID, "actor", actor.UserID)

	var verified Repayment
	next, _, err := s.mutate(ctx, loanID, func(ctx context.Context, tx pgx.Tx, current *Loan, now time.Time) (*Loan, error) {
		r, err := s.repo.GetRepaymentForUpdateInTx(ctx, tx, loanID, repaymentID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, fmt.Errorf("%w: repayment %s on loan %s", apperrors.ErrNotFound, repaymentID, loanID)
			}
			return nil, fmt.Errorf("%w: failed to load repayment: %w", apperrors.ErrInternalServer, err)
		}
		if verified, err = r.Verify(actor.UserID, now); err != nil {
			return nil, err
		}
		applied, err := ApplyRepayment(current, verified, now)
		if err != nil {
			return nil, err
		}
		if err := s.repo.MarkRepaymentVerifiedInTx(ctx, tx, &verified); err != nil {
			return nil, fmt.Errorf("%w: failed to mark repayment verified: %w", apperrors.ErrInternalServer, err)
		}
		return applied, nil
	})
	if err != nil {
		logger.WarnContext(ctx, "Repayment verification failed", "error", err)
		monitoring.RecordRepayment("rejected")
		return nil, nil, err
	}

	monitoring.RecordRepayment("verified")
	if pubErr := s.pub.PublishRepaymentVerified(ctx, repaymentEvent(&verified, actor.UserID, next.Balance.StringFixed(2))); pubErr != nil {
		logger.ErrorContext(ctx, "Failed to publish repayment verified event", "error", pubErr)
	}
	logger.InfoContext(ctx, "Repayment verified", "balance", next.Balance.StringFixed(2), "status", next.Status)
	return next, &verified, nil
}

func (s *loanServiceImpl) GetLoan(ctx context.Context, actor identity.Actor, loanID string) (*Loan, error) {
	l, err := s.repo.GetLoanByID(ctx, loanID)
	if err != nil {
		return nil, s.loadError(ctx, err, loanID)
	}
	if !actor.Role.IsStaff() {
		// Resolving the customer through the directory enforces ownership.
		if _, err := s.customers.GetCustomer(ctx, actor, l.CustomerID); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (s *loanServiceImpl) ListLoans(ctx context.Context, actor identity.Actor, filter ListFilter) ([]*Loan, error) {
	if !actor.Role.IsStaff() {
		if filter.CustomerID == "" {
			return nil, fmt.Errorf("%w: customers may only list their own loans", apperrors.ErrForbidden)
		}
		if _, err := s.customers.GetCustomer(ctx, actor, filter.CustomerID); err != nil {
			return nil, err
		}
	}
	loans, err := s.repo.ListLoans(ctx, filter)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list loans", "error", err)
		return nil, fmt.Errorf("%w: failed to list loans: %w", apperrors.ErrInternalServer, err)
	}
	return loans, nil
}

func (s *loanServiceImpl) ListRepayments(ctx context.Context, actor identity.Actor, loanID string) ([]*Repayment, error) {
	if _, err := s.GetLoan(ctx, actor, loanID); err != nil {
		return nil, err
	}
	repayments, err := s.repo.ListRepayments(ctx, loanID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list repayments", "loanID", loanID, "error", err)
		return nil, fmt.Errorf("%w: failed to list repayments: %w", apperrors.ErrInternalServer, err)
	}
	return repayments, nil
}

func (s *loanServiceImpl) CurrentPenalty(ctx context.Context, actor identity.Actor, loanID string) (*PenaltyQuote, error) {
	l, err := s.GetLoan(ctx, actor, loanID)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.Active(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	quote := &PenaltyQuote{LoanID: l.ID, Accrued: l.PenaltyAccrued, Current: decimal.Zero, AsOf: now}
	for _, inst := range l.RepaymentPlan {
		if !inst.Paid && now.After(inst.DueDate) {
			quote.OverdueInstallments++
		}
	}
	if l.Status == StatusOverdue || l.Status == StatusDefaulted {
		quote.Current = decimal.Max(l.PenaltyAccrued, AccruedPenalty(l.RepaymentPlan, settings.Policy, now))
	}
	return quote, nil
}

func (s *loanServiceImpl) Summary(ctx context.Context, actor identity.Actor) (*PortfolioSummary, error) {
	if !actor.Role.IsStaff() {
		return nil, fmt.Errorf("%w: role %s cannot read reports", apperrors.ErrForbidden, actor.Role)
	}
	summary, err := s.repo.GetPortfolioSummary(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build portfolio summary", "error", err)
		return nil, fmt.Errorf("%w: failed to build portfolio summary: %w", apperrors.ErrInternalServer, err)
	}
	return summary, nil
}

func (s *loanServiceImpl) SweepLoan(ctx context.Context, loanID string, policy Policy) (bool, error) {
	_, changed, err := s.mutate(ctx, loanID, func(_ context.Context, _ pgx.Tx, current *Loan, now time.Time) (*Loan, error) {
		next, changed, err := EvaluateOverdue(current, policy, now)
		if err != nil || !changed {
			return nil, err
		}
		return next, nil
	})
	return changed, err
}

// mutate serializes a change to one loan: it locks the row, hands the current
// state to change and persists the result with any appended history. A nil
// loan from change means there is nothing to write.
func (s *loanServiceImpl) mutate(ctx context.Context, loanID string,
	change func(ctx context.Context, tx pgx.Tx, current *Loan, now time.Time) (*Loan, error)) (next *Loan, changed bool, err error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, false, fmt.Errorf("%w: could not begin transaction: %w", apperrors.ErrInternalServer, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = s.repo.RollbackTx(ctx, tx)
			panic(p)
		}
		if err != nil || !changed {
			_ = s.repo.RollbackTx(ctx, tx)
		}
	}()

	current, err := s.repo.GetLoanForUpdateInTx(ctx, tx, loanID)
	if err != nil {
		return nil, false, s.loadError(ctx, err, loanID)
	}

	next, err = change(ctx, tx, current, s.now())
	if err != nil {
		return nil, false, err
	}
	if next == nil {
		return current, false, nil
	}

	appended := next.HistorySince(len(current.StatusHistory))
	if err = s.repo.UpdateLoanInTx(ctx, tx, next, appended); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update loan", "loanID", loanID, "error", err)
		return nil, false, fmt.Errorf("%w: could not update loan: %w", apperrors.ErrInternalServer, err)
	}
	if err = s.repo.CommitTx(ctx, tx); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "loanID", loanID, "error", err)
		return nil, false, fmt.Errorf("%w: could not commit transaction: %w", apperrors.ErrInternalServer, err)
	}
	changed = true

	s.announce(ctx, current, next, appended)
	return next, true, nil
}

func (s *loanServiceImpl) announce(ctx context.Context, before, after *Loan, appended []StatusChange) {
	prev := before.Status
	for _, h := range appended {
		monitoring.RecordLoanTransition(string(prev), string(h.Status))
		s.logger.InfoContext(ctx, "Loan status changed", "loanID", after.ID, "from", prev, "to", h.Status, "changedBy", h.ChangedBy)
		if err := s.pub.PublishLoanStatusChanged(ctx, event.LoanStatusChangedEvent{
			LoanID:     after.ID,
			CustomerID: after.CustomerID,
			OldStatus:  string(prev),
			NewStatus:  string(h.Status),
			ChangedBy:  h.ChangedBy,
			Notes:      h.Notes,
			Balance:    after.Balance.StringFixed(2),
			Timestamp:  h.Timestamp,
		}); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish loan status event", "loanID", after.ID, "error", err)
		}
		prev = h.Status
	}
}

func (s *loanServiceImpl) loadError(ctx context.Context, err error, loanID string) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.WarnContext(ctx, "Loan not found", "loanID", loanID)
		return fmt.Errorf("%w: loan %s", apperrors.ErrNotFound, loanID)
	}
	s.logger.ErrorContext(ctx, "Failed to load loan", "loanID", loanID, "error", err)
	return fmt.Errorf("%w: failed to load loan %s: %w", apperrors.ErrInternalServer, loanID, err)
}

func requireAdmin(actor identity.Actor) error {
	if actor.HasRole(identity.RoleAdmin, identity.RoleSudo) {
		return nil
	}
	return fmt.Errorf("%w: role %q cannot manage loans", apperrors.ErrForbidden, actor.Role)
}

func repaymentEvent(r *Repayment, actor, balance string) event.RepaymentEvent {
	return event.RepaymentEvent{
		RepaymentID: r.ID,
		LoanID:      r.LoanID,
		Amount:      r.Amount.StringFixed(2),
		Verified:    r.Verified,
		Actor:       actor,
		Balance:     balance,
		Timestamp:   r.CreatedAt,
	}
}
