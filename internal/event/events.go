package event

import (
	"context"
	"time"
)

const (
	RoutingKeyCustomerCreated    = "customer.created"
	RoutingKeyCustomerUpdated    = "customer.updated"
	RoutingKeyLoanApplied        = "loan.applied"
	RoutingKeyLoanStatusChanged  = "loan.status.changed"
	RoutingKeyRepaymentSubmitted = "repayment.submitted"
	RoutingKeyRepaymentVerified  = "repayment.verified"
)

type EventPublisher interface {
	PublishCustomerCreated(ctx context.Context, event CustomerEvent) error
	PublishCustomerUpdated(ctx context.Context, event CustomerEvent) error
	PublishLoanApplied(ctx context.Context, event LoanAppliedEvent) error
	PublishLoanStatusChanged(ctx context.Context, event LoanStatusChangedEvent) error
	PublishRepaymentSubmitted(ctx context.Context, event RepaymentEvent) error
	PublishRepaymentVerified(ctx context.Context, event RepaymentEvent) error
}

type CustomerEvent struct {
	CustomerID string    `json:"customerId"`
	Name       string    `json:"name"`
	AgentID    string    `json:"agentId"`
	Active     bool      `json:"active"`
	ChangedBy  string    `json:"changedBy"`
	Timestamp  time.Time `json:"timestamp"`
}

type LoanAppliedEvent struct {
	LoanID         string    `json:"loanId"`
	CustomerID     string    `json:"customerId"`
	Principal      string    `json:"principal"`
	DurationMonths int       `json:"durationMonths"`
	TotalPayable   string    `json:"totalPayable"`
	AppliedBy      string    `json:"appliedBy"`
	Timestamp      time.Time `json:"timestamp"`
}

type LoanStatusChangedEvent struct {
	LoanID     string    `json:"loanId"`
	CustomerID string    `json:"customerId"`
	OldStatus  string    `json:"oldStatus"`
	NewStatus  string    `json:"newStatus"`
	ChangedBy  string    `json:"changedBy"`
	Notes      string    `json:"notes,omitempty"`
	Balance    string    `json:"balance"`
	Timestamp  time.Time `json:"timestamp"`
}

type RepaymentEvent struct {
	RepaymentID string    `json:"repaymentId"`
	LoanID      string    `json:"loanId"`
	Amount      string    `json:"amount"`
	Verified    bool      `json:"verified"`
	Actor       string    `json:"actor"`
	Balance     string    `json:"balance,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

var _ EventPublisher = NopPublisher{}

func (NopPublisher) PublishCustomerCreated(context.Context, CustomerEvent) error { return nil }
func (NopPublisher) PublishCustomerUpdated(context.Context, CustomerEvent) error { return nil }
func (NopPublisher) PublishLoanApplied(context.Context, LoanAppliedEvent) error { return nil }
func (NopPublisher) PublishLoanStatusChanged(context.Context, LoanStatusChangedEvent) error { return nil }
func (NopPublisher) PublishRepaymentSubmitted(context.Context, RepaymentEvent) error { return nil }
func (NopPublisher) PublishRepaymentVerified(context.Context, RepaymentEvent) error { return nil }
