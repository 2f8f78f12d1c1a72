package customer

import (
	"context"
	"errors"
)

var (
	ErrCustomerInactive = errors.New("customer is not active")

	ErrCannotDeactivateWithOpenLoan = errors.New("cannot deactivate customer with an open loan")
)

type CustomerRepository interface {
	Create(ctx context.Context, customer *Customer) (*Customer, error)

	FindByID(ctx context.Context, customerID string) (*Customer, error)

	FindByAgent(ctx context.Context, agentID string) ([]*Customer, error)

	FindAll(ctx context.Context, activeOnly bool) ([]*Customer, error)

	SetDocumentURL(ctx context.Context, customerID, url string) error

	// SetActiveStatus returns ErrCannotDeactivateWithOpenLoan when deactivation
	// is blocked by a loan that is not yet closed.
	SetActiveStatus(ctx context.Context, customerID string, isActive bool) error
}
