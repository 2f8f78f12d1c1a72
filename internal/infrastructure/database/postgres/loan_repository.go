package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trucash/internal/domain/loan"
	"trucash/internal/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const loanColumns = `id, customer_id, principal, duration_months, annual_interest_rate, status,
        total_payable, monthly_installment, balance, total_repaid, penalty_accrued,
        collateral_document_url, start_date, created_by, created_at, updated_at`

const repaymentColumns = `id, loan_id, amount, due_installment_index, reference, submitted_by,
        verified, verified_by, verified_at, created_at`

// openStatusFilter matches the loans_one_open_per_customer partial index.
const openStatusFilter = `status NOT IN ('repaid', 'rejected', 'defaulted')`

type LoanRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ loan.Repository = (*LoanRepository)(nil)

func NewLoanRepository(db DBPool, logger *slog.Logger) *LoanRepository {
	return &LoanRepository{db: db, logger: logger.With("component", "LoanRepository")}
}

func (r *LoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return beginTx(ctx, r.db, r.logger)
}

func (r *LoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	return commitTx(ctx, tx, r.logger)
}

func (r *LoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	return rollbackTx(ctx, tx, r.logger)
}

func (r *LoanRepository) CreateLoan(ctx context.Context, l *loan.Loan) (created *loan.Loan, err error) {
	start := time.Now()
	defer func() { recordQuery("CreateLoan", start, err) }()

	tx, err := r.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = r.RollbackTx(ctx, tx)
		}
	}()

	created = l.Clone()
	created.ID = uuid.NewString()

	loanSQL := `
        INSERT INTO loans (id, customer_id, principal, duration_months, annual_interest_rate, status,
            total_payable, monthly_installment, balance, total_repaid, penalty_accrued,
            collateral_document_url, start_date, created_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	if _, err = tx.Exec(ctx, loanSQL,
		created.ID, created.CustomerID, created.Principal, created.DurationMonths, created.AnnualInterestRate,
		string(created.Status), created.TotalPayable, created.MonthlyInstallment, created.Balance,
		created.TotalRepaid, created.PenaltyAccrued, created.CollateralDocumentURL, created.StartDate,
		created.CreatedBy, created.CreatedAt, created.UpdatedAt,
	); err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert loan", "customer_id", created.CustomerID, "error", err)
		return nil, translateDBError(err, r.logger)
	}

	installmentSQL := `
        INSERT INTO loan_installments (loan_id, idx, due_date, amount, penalty, paid, paid_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, inst := range created.RepaymentPlan {
		if _, err = tx.Exec(ctx, installmentSQL, created.ID, inst.Index, inst.DueDate, inst.Amount, inst.Penalty, inst.Paid, inst.PaidAt); err != nil {
			r.logger.ErrorContext(ctx, "Failed to insert installment", "loan_id", created.ID, "index", inst.Index, "error", err)
			return nil, fmt.Errorf("%w: failed inserting installment %d: %w", apperrors.ErrDatabase, inst.Index, err)
		}
	}

	if err = r.appendHistory(ctx, tx, created.ID, created.StatusHistory); err != nil {
		return nil, err
	}

	if err = r.CommitTx(ctx, tx); err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "Loan created in DB", "loan_id", created.ID, "installments", len(created.RepaymentPlan))
	return created, nil
}

func (r *LoanRepository) GetLoanByID(ctx context.Context, loanID string) (l *loan.Loan, err error) {
	start := time.Now()
	defer func() { recordQuery("GetLoanByID", start, err) }()

	return r.loadLoan(ctx, r.db, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, loanID)
}

func (r *LoanRepository) GetLoanForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID string) (l *loan.Loan, err error) {
	start := time.Now()
	defer func() { recordQuery("GetLoanForUpdate", start, err) }()

	return r.loadLoan(ctx, tx, `SELECT `+loanColumns+` FROM loans WHERE id = $1 FOR UPDATE`, loanID)
}

func (r *LoanRepository) loadLoan(ctx context.Context, q querier, query, loanID string) (*loan.Loan, error) {
	l, err := scanLoan(q.QueryRow(ctx, query, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get loan by ID", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}

	if l.RepaymentPlan, err = r.loadInstallments(ctx, q, loanID); err != nil {
		return nil, err
	}
	if l.StatusHistory, err = r.loadHistory(ctx, q, loanID); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *LoanRepository) loadInstallments(ctx context.Context, q querier, loanID string) ([]loan.Installment, error) {
	query := `
        SELECT idx, due_date, amount, penalty, paid, paid_at
        FROM loan_installments
        WHERE loan_id = $1
        ORDER BY idx ASC`

	rows, err := q.Query(ctx, query, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query installments", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to load repayment plan for loan "+loanID)
	}
	defer rows.Close()

	plan := make([]loan.Installment, 0)
	for rows.Next() {
		var inst loan.Installment
		if err := rows.Scan(&inst.Index, &inst.DueDate, &inst.Amount, &inst.Penalty, &inst.Paid, &inst.PaidAt); err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan installment row", "loan_id", loanID, "error", err)
			return nil, apperrors.WrapDatabaseError(err, "failed to read repayment plan for loan "+loanID)
		}
		plan = append(plan, inst)
	}
	if err := rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating installment rows", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to read repayment plan for loan "+loanID)
	}
	return plan, nil
}

func (r *LoanRepository) loadHistory(ctx context.Context, q querier, loanID string) ([]loan.StatusChange, error) {
	query := `
        SELECT status, changed_by, notes, changed_at
        FROM loan_status_history
        WHERE loan_id = $1
        ORDER BY id ASC`

	rows, err := q.Query(ctx, query, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query status history", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to load status history for loan "+loanID)
	}
	defer rows.Close()

	history := make([]loan.StatusChange, 0)
	for rows.Next() {
		var (
			h      loan.StatusChange
			status string
		)
		if err := rows.Scan(&status, &h.ChangedBy, &h.Notes, &h.Timestamp); err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan status history row", "loan_id", loanID, "error", err)
			return nil, apperrors.WrapDatabaseError(err, "failed to load status history for loan "+loanID)
		}
		h.Status = loan.Status(status)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating status history rows", "loan_id", loanID, "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to load status history for loan "+loanID)
	}
	return history, nil
}

func (r *LoanRepository) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, l *loan.Loan, appended []loan.StatusChange) (err error) {
	start := time.Now()
	defer func() { recordQuery("UpdateLoan", start, err) }()

	loanSQL := `
        UPDATE loans
        SET status = $1, balance = $2, total_repaid = $3, penalty_accrued = $4, updated_at = $5
        WHERE id = $6`

	cmdTag, err := tx.Exec(ctx, loanSQL, string(l.Status), l.Balance, l.TotalRepaid, l.PenaltyAccrued, l.UpdatedAt, l.ID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update loan", "loan_id", l.ID, "error", err)
		return translateDBError(err, r.logger)
	}
	if cmdTag.RowsAffected() != 1 {
		r.logger.ErrorContext(ctx, "Loan update affected zero rows", "loan_id", l.ID)
		return fmt.Errorf("%w: loan %s", apperrors.ErrNotFound, l.ID)
	}

	// Installments are paid in order, so the paid set is always a prefix of the plan.
	if last, ok := lastPaid(l.RepaymentPlan); ok {
		installmentSQL := `
            UPDATE loan_installments
            SET paid = TRUE, paid_at = $1
            WHERE loan_id = $2 AND idx <= $3 AND NOT paid`

		if _, err = tx.Exec(ctx, installmentSQL, last.PaidAt, l.ID, last.Index); err != nil {
			r.logger.ErrorContext(ctx, "Failed to mark installments paid", "loan_id", l.ID, "through", last.Index, "error", err)
			return apperrors.WrapDatabaseError(err, "failed to mark installments paid for loan "+l.ID)
		}
	}

	// Penalties on paid installments are settled; only unpaid ones move.
	penaltySQL := `
        UPDATE loan_installments
        SET penalty = $1
        WHERE loan_id = $2 AND idx = $3 AND NOT paid`

	for _, inst := range l.RepaymentPlan {
		if inst.Paid || !inst.Penalty.IsPositive() {
			continue
		}
		if _, err = tx.Exec(ctx, penaltySQL, inst.Penalty, l.ID, inst.Index); err != nil {
			r.logger.ErrorContext(ctx, "Failed to record installment penalty", "loan_id", l.ID, "index", inst.Index, "error", err)
			return apperrors.WrapDatabaseError(err, "failed to record penalty for loan "+l.ID)
		}
	}

	if err = r.appendHistory(ctx, tx, l.ID, appended); err != nil {
		return err
	}
	r.logger.DebugContext(ctx, "Loan updated in DB", "loan_id", l.ID, "status", l.Status, "balance", l.Balance.StringFixed(2))
	return nil
}

func lastPaid(plan []loan.Installment) (loan.Installment, bool) {
	var (
		last  loan.Installment
		found bool
	)
	for _, inst := range plan {
		if !inst.Paid {
			break
		}
		last, found = inst, true
	}
	return last, found
}

func (r *LoanRepository) appendHistory(ctx context.Context, tx pgx.Tx, loanID string, entries []loan.StatusChange) error {
	historySQL := `
        INSERT INTO loan_status_history (loan_id, status, changed_by, notes, changed_at)
        VALUES ($1, $2, $3, $4, $5)`

	for _, h := range entries {
		if _, err := tx.Exec(ctx, historySQL, loanID, string(h.Status), h.ChangedBy, h.Notes, h.Timestamp); err != nil {
			r.logger.ErrorContext(ctx, "Failed to append status history", "loan_id", loanID, "status", h.Status, "error", err)
			return apperrors.WrapDatabaseError(err, "failed to append status history for loan "+loanID)
		}
	}
	return nil
}

// ListLoans returns loan rows only; the repayment plan and history are
// loaded by GetLoanByID.
func (r *LoanRepository) ListLoans(ctx context.Context, filter loan.ListFilter) (loans []*loan.Loan, err error) {
	start := time.Now()
	defer func() { recordQuery("ListLoans", start, err) }()

	query, args := buildListLoansQuery(filter)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query loans", "error", err)
		return nil, fmt.Errorf("%w: failed to query loans: %w", apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	loans = make([]*loan.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan loan row", "error", err)
			return nil, fmt.Errorf("%w: failed to scan loan row: %w", apperrors.ErrDatabase, err)
		}
		loans = append(loans, l)
	}
	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating loan rows", "error", err)
		return nil, fmt.Errorf("%w: error iterating loan rows: %w", apperrors.ErrDatabase, err)
	}
	return loans, nil
}

func buildListLoansQuery(filter loan.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + loanColumns + ` FROM loans`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func (r *LoanRepository) ListLoanIDsByStatus(ctx context.Context, statuses ...loan.Status) (ids []string, err error) {
	logCtx := r.logger.With(slog.String("operation", "ListLoanIDsByStatus"))
	start := time.Now()
	defer func() { recordQuery("ListLoanIDsByStatus", start, err) }()

	wanted := make([]string, len(statuses))
	for i, s := range statuses {
		wanted[i] = string(s)
	}

	rows, err := r.db.Query(ctx, `SELECT id FROM loans WHERE status = ANY($1) ORDER BY id`, wanted)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to query loan IDs", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to query loan IDs: %w", apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	ids = make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logCtx.ErrorContext(ctx, "Failed to scan loan ID row", slog.Any("error", err))
			return nil, fmt.Errorf("%w: failed scanning loan ID: %w", apperrors.ErrDatabase, err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		logCtx.ErrorContext(ctx, "Error iterating loan ID rows", slog.Any("error", err))
		return nil, fmt.Errorf("%w: error iterating loan IDs: %w", apperrors.ErrDatabase, err)
	}

	logCtx.DebugContext(ctx, "Listed loan IDs", slog.Any("statuses", wanted), slog.Int("count", len(ids)))
	return ids, nil
}

func (r *LoanRepository) HasOpenLoan(ctx context.Context, customerID string) (open bool, err error) {
	start := time.Now()
	defer func() { recordQuery("HasOpenLoan", start, err) }()

	query := `SELECT EXISTS (SELECT 1 FROM loans WHERE customer_id = $1 AND ` + openStatusFilter + `)`
	if err = r.db.QueryRow(ctx, query, customerID).Scan(&open); err != nil {
		r.logger.ErrorContext(ctx, "Failed to check open loans", "customer_id", customerID, "error", err)
		return false, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return open, nil
}

func (r *LoanRepository) CreateRepayment(ctx context.Context, rp *loan.Repayment) (created *loan.Repayment, err error) {
	start := time.Now()
	defer func() { recordQuery("CreateRepayment", start, err) }()

	c := *rp
	c.ID = uuid.NewString()

	query := `
        INSERT INTO repayments (id, loan_id, amount, due_installment_index, reference, submitted_by,
            verified, verified_by, verified_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err = r.db.Exec(ctx, query, c.ID, c.LoanID, c.Amount, c.DueInstallmentIndex, c.Reference,
		c.SubmittedBy, c.Verified, c.VerifiedBy, c.VerifiedAt, c.CreatedAt); err != nil {
		r.logger.ErrorContext(ctx, "Failed to insert repayment", "loan_id", c.LoanID, "error", err)
		return nil, translateDBError(err, r.logger)
	}
	r.logger.InfoContext(ctx, "Repayment stored", "loan_id", c.LoanID, "repayment_id", c.ID)
	return &c, nil
}

func (r *LoanRepository) GetRepaymentForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID, repaymentID string) (rp *loan.Repayment, err error) {
	start := time.Now()
	defer func() { recordQuery("GetRepaymentForUpdate", start, err) }()

	query := `SELECT ` + repaymentColumns + ` FROM repayments WHERE id = $1 AND loan_id = $2 FOR UPDATE`
	rp, err = scanRepayment(tx.QueryRow(ctx, query, repaymentID, loanID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Repayment not found", "loan_id", loanID, "repayment_id", repaymentID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to lock repayment", "repayment_id", repaymentID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return rp, nil
}

func (r *LoanRepository) MarkRepaymentVerifiedInTx(ctx context.Context, tx pgx.Tx, rp *loan.Repayment) (err error) {
	start := time.Now()
	defer func() { recordQuery("MarkRepaymentVerified", start, err) }()

	query := `
        UPDATE repayments
        SET verified = TRUE, verified_by = $1, verified_at = $2
        WHERE id = $3 AND loan_id = $4 AND NOT verified`

	cmdTag, err := tx.Exec(ctx, query, rp.VerifiedBy, rp.VerifiedAt, rp.ID, rp.LoanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to mark repayment verified", "repayment_id", rp.ID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() != 1 {
		r.logger.WarnContext(ctx, "Repayment verification affected zero rows", "repayment_id", rp.ID)
		return fmt.Errorf("%w: repayment %s is missing or already verified", apperrors.ErrConflict, rp.ID)
	}
	return nil
}

func (r *LoanRepository) ListRepayments(ctx context.Context, loanID string) (repayments []*loan.Repayment, err error) {
	start := time.Now()
	defer func() { recordQuery("ListRepayments", start, err) }()

	rows, err := r.db.Query(ctx, `SELECT `+repaymentColumns+` FROM repayments WHERE loan_id = $1 ORDER BY created_at ASC`, loanID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query repayments", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	repayments = make([]*loan.Repayment, 0)
	for rows.Next() {
		rp, err := scanRepayment(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan repayment row", "loan_id", loanID, "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		repayments = append(repayments, rp)
	}
	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating repayment rows", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return repayments, nil
}

func (r *LoanRepository) GetPortfolioSummary(ctx context.Context) (summary *loan.PortfolioSummary, err error) {
	start := time.Now()
	defer func() { recordQuery("GetPortfolioSummary", start, err) }()

	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM loans GROUP BY status`)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to count loans by status", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	summary = &loan.PortfolioSummary{CountByStatus: make(map[loan.Status]int)}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan status count", "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		summary.CountByStatus[loan.Status(status)] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}

	totalsSQL := `
        SELECT
            COALESCE(SUM(principal) FILTER (WHERE status IN ('active', 'overdue', 'defaulted', 'repaid')), 0),
            COALESCE(SUM(total_repaid), 0),
            COALESCE(SUM(balance) FILTER (WHERE status IN ('active', 'overdue', 'defaulted')), 0),
            COALESCE(SUM(penalty_accrued), 0)
        FROM loans`

	if err = r.db.QueryRow(ctx, totalsSQL).Scan(
		&summary.TotalDisbursed, &summary.TotalRepaid, &summary.Outstanding, &summary.PenaltyAccrued,
	); err != nil {
		r.logger.ErrorContext(ctx, "Failed to sum portfolio totals", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return summary, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*loan.Loan, error) {
	var (
		l      loan.Loan
		status string
	)
	err := row.Scan(
		&l.ID, &l.CustomerID, &l.Principal, &l.DurationMonths, &l.AnnualInterestRate, &status,
		&l.TotalPayable, &l.MonthlyInstallment, &l.Balance, &l.TotalRepaid, &l.PenaltyAccrued,
		&l.CollateralDocumentURL, &l.StartDate, &l.CreatedBy, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = loan.Status(status)
	return &l, nil
}

func scanRepayment(row rowScanner) (*loan.Repayment, error) {
	var rp loan.Repayment
	err := row.Scan(
		&rp.ID, &rp.LoanID, &rp.Amount, &rp.DueInstallmentIndex, &rp.Reference, &rp.SubmittedBy,
		&rp.Verified, &rp.VerifiedBy, &rp.VerifiedAt, &rp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rp, nil
}
