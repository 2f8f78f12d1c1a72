package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trucash/internal/domain/customer"
	"trucash/internal/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const customerColumns = `id, name, phone, address, agent_id, user_id, id_document_url, active, created_at, updated_at`

type CustomerRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ customer.CustomerRepository = (*CustomerRepository)(nil)

func NewCustomerRepository(db DBPool, logger *slog.Logger) *CustomerRepository {
	if db == nil {
		panic("DBPool cannot be nil for CustomerRepository")
	}
	return &CustomerRepository{
		db:     db,
		logger: logger.With("component", "CustomerRepository"),
	}
}

func (r *CustomerRepository) Create(ctx context.Context, cust *customer.Customer) (created *customer.Customer, err error) {
	if cust == nil {
		return nil, fmt.Errorf("%w: customer cannot be nil", apperrors.ErrInvalidArgument)
	}
	start := time.Now()
	defer func() { recordQuery("CreateCustomer", start, err) }()

	c := *cust
	c.ID = uuid.NewString()

	query := `
        INSERT INTO customers (` + customerColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err = r.db.Exec(ctx, query,
		c.ID, c.Name, c.Phone, c.Address, c.AgentID, c.UserID, c.IDDocumentURL, c.Active, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		translated := translateDBError(err, r.logger)
		if errors.Is(translated, apperrors.ErrAlreadyExists) {
			r.logger.WarnContext(ctx, "Failed to insert customer due to unique constraint violation", slog.String("phone", c.Phone))
			return nil, translated
		}
		r.logger.ErrorContext(ctx, "Failed to insert customer", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to insert customer: %w", apperrors.ErrDatabase, err)
	}

	r.logger.InfoContext(ctx, "Customer inserted", slog.String("customerID", c.ID), slog.String("agentID", c.AgentID))
	return &c, nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (cust *customer.Customer, err error) {
	start := time.Now()
	defer func() { recordQuery("FindCustomerByID", start, err) }()

	cust, err = scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Customer not found", slog.String("customerID", customerID))
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to query/scan customer by ID", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to get customer by ID: %w", apperrors.ErrDatabase, err)
	}
	return cust, nil
}

func (r *CustomerRepository) FindByAgent(ctx context.Context, agentID string) ([]*customer.Customer, error) {
	return r.list(ctx, "FindCustomersByAgent",
		`SELECT `+customerColumns+` FROM customers WHERE agent_id = $1 ORDER BY created_at ASC`, agentID)
}

func (r *CustomerRepository) FindAll(ctx context.Context, activeOnly bool) ([]*customer.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers`
	args := []any{}
	if activeOnly {
		query += " WHERE active = $1"
		args = append(args, true)
	}
	query += " ORDER BY created_at ASC"
	return r.list(ctx, "FindAllCustomers", query, args...)
}

func (r *CustomerRepository) list(ctx context.Context, op, query string, args ...any) (customers []*customer.Customer, err error) {
	start := time.Now()
	defer func() { recordQuery(op, start, err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query customers", slog.String("operation", op), slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to query customers: %w", apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	customers = make([]*customer.Customer, 0)
	for rows.Next() {
		cust, err := scanCustomer(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to scan customer row", slog.Any("error", err))
			return nil, fmt.Errorf("%w: failed to scan customer row: %w", apperrors.ErrDatabase, err)
		}
		customers = append(customers, cust)
	}
	if err = rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating customer rows", slog.Any("error", err))
		return nil, fmt.Errorf("%w: error iterating customer rows: %w", apperrors.ErrDatabase, err)
	}

	r.logger.DebugContext(ctx, "Finished listing customers", slog.String("operation", op), slog.Int("count", len(customers)))
	return customers, nil
}

func (r *CustomerRepository) SetDocumentURL(ctx context.Context, customerID, url string) (err error) {
	start := time.Now()
	defer func() { recordQuery("SetCustomerDocument", start, err) }()

	cmdTag, err := r.db.Exec(ctx, `UPDATE customers SET id_document_url = $1, updated_at = NOW() WHERE id = $2`, url, customerID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update customer document", slog.Any("error", err))
		return fmt.Errorf("%w: failed to update customer document: %w", apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Document update affected zero rows, customer likely not found", slog.String("customerID", customerID))
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *CustomerRepository) SetActiveStatus(ctx context.Context, customerID string, isActive bool) (err error) {
	start := time.Now()
	defer func() { recordQuery("SetCustomerActive", start, err) }()

	query := `UPDATE customers SET active = TRUE, updated_at = NOW() WHERE id = $1`
	if !isActive {
		query = `
        UPDATE customers SET active = FALSE, updated_at = NOW()
        WHERE id = $1
          AND NOT EXISTS (SELECT 1 FROM loans WHERE customer_id = $1 AND ` + openStatusFilter + `)`
	}

	cmdTag, err := r.db.Exec(ctx, query, customerID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to execute update active status", slog.Any("error", err))
		return fmt.Errorf("%w: failed to update active status: %w", apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() > 0 {
		r.logger.InfoContext(ctx, "Customer active status updated", slog.String("customerID", customerID), slog.Bool("active", isActive))
		return nil
	}
	if isActive {
		r.logger.WarnContext(ctx, "Update active status affected zero rows, customer likely not found")
		return apperrors.ErrNotFound
	}

	var exists bool
	if err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID).Scan(&exists); err != nil {
		r.logger.ErrorContext(ctx, "Failed to check customer existence", slog.Any("error", err))
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if !exists {
		return apperrors.ErrNotFound
	}
	r.logger.WarnContext(ctx, "Deactivation blocked by open loan", slog.String("customerID", customerID))
	return customer.ErrCannotDeactivateWithOpenLoan
}

func scanCustomer(row rowScanner) (*customer.Customer, error) {
	var c customer.Customer
	err := row.Scan(
		&c.ID, &c.Name, &c.Phone, &c.Address, &c.AgentID, &c.UserID,
		&c.IDDocumentURL, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
