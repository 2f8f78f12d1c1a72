package customer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"trucash/internal/event"
	"trucash/internal/pkg/apperrors"
	"trucash/internal/pkg/identity"
)

const customerNotFound = "Customer not found by repository"

type OnboardRequest struct {
	Name    string
	Phone   string
	Address string
	// AgentID may only be chosen by admins; agents always onboard as themselves.
	AgentID string
	UserID  string
}

type CustomerService interface {
	Onboard(ctx context.Context, actor identity.Actor, req OnboardRequest) (*Customer, error)
	GetCustomer(ctx context.Context, actor identity.Actor, customerID string) (*Customer, error)
	ListCustomers(ctx context.Context, actor identity.Actor, agentID string) ([]*Customer, error)
	AttachDocument(ctx context.Context, actor identity.Actor, customerID, documentURL string) (*Customer, error)
	DeactivateCustomer(ctx context.Context, actor identity.Actor, customerID string) error
	ReactivateCustomer(ctx context.Context, actor identity.Actor, customerID string) error
}

var _ CustomerService = (*customerService)(nil)

type customerService struct {
	repo   CustomerRepository
	pub    event.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

func NewCustomerService(repo CustomerRepository, pub event.EventPublisher, logger *slog.Logger) CustomerService {
	if repo == nil {
		panic("customer repository cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if pub == nil {
		logger.Warn("No event publisher provided to NewCustomerService, events are dropped")
		pub = event.NopPublisher{}
	}

	return &customerService{
		repo:   repo,
		pub:    pub,
		logger: logger.With(slog.String("component", "customerService")),
		now:    time.Now,
	}
}

func (s *customerService) Onboard(ctx context.Context, actor identity.Actor, req OnboardRequest) (*Customer, error) {
	logger := s.logger.With(slog.String("actor", actor.UserID))
	logger.InfoContext(ctx, "Attempting to onboard customer")

	if !actor.HasRole(identity.RoleAgent, identity.RoleAdmin, identity.RoleSudo) {
		logger.WarnContext(ctx, "Role may not onboard customers", slog.String("role", string(actor.Role)))
		return nil, fmt.Errorf("%w: role %s cannot onboard customers", apperrors.ErrForbidden, actor.Role)
	}

	agentID := actor.UserID
	if actor.Role != identity.RoleAgent && strings.TrimSpace(req.AgentID) != "" {
		agentID = strings.TrimSpace(req.AgentID)
	}

	cust, err := NewCustomer(req.Name, req.Phone, req.Address, agentID, req.UserID, s.now())
	if err != nil {
		logger.WarnContext(ctx, "Onboarding input rejected", slog.Any("error", err))
		return nil, err
	}

	created, err := s.repo.Create(ctx, cust)
	if err != nil {
		logger.ErrorContext(ctx, "Repository failed to save new customer", slog.Any("error", err))
		return nil, fmt.Errorf("failed to save new customer: %w", err)
	}

	logger = logger.With(slog.String("customerID", created.ID))
	if pubErr := s.pub.PublishCustomerCreated(ctx, customerEvent(created, actor)); pubErr != nil {
		logger.ErrorContext(ctx, "Customer created, but failed to publish creation event", slog.Any("error", pubErr))
	}
	logger.InfoContext(ctx, "Successfully onboarded customer")
	return created, nil
}

func (s *customerService) GetCustomer(ctx context.Context, actor identity.Actor, customerID string) (*Customer, error) {
	cust, err := s.find(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(actor, cust); err != nil {
		s.logger.WarnContext(ctx, "Customer access denied", slog.String("customerID", customerID), slog.String("actor", actor.UserID))
		return nil, err
	}
	return cust, nil
}

func (s *customerService) ListCustomers(ctx context.Context, actor identity.Actor, agentID string) ([]*Customer, error) {
	var (
		customers []*Customer
		err       error
	)
	switch {
	case actor.Role == identity.RoleAgent:
		customers, err = s.repo.FindByAgent(ctx, actor.UserID)
	case actor.HasRole(identity.RoleAdmin, identity.RoleSudo) && agentID != "":
		customers, err = s.repo.FindByAgent(ctx, agentID)
	case actor.HasRole(identity.RoleAdmin, identity.RoleSudo):
		customers, err = s.repo.FindAll(ctx, false)
	default:
		return nil, fmt.Errorf("%w: role %s cannot list customers", apperrors.ErrForbidden, actor.Role)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Repository error listing customers", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}

func (s *customerService) AttachDocument(ctx context.Context, actor identity.Actor, customerID, documentURL string) (*Customer, error) {
	documentURL = strings.TrimSpace(documentURL)
	if u, err := url.Parse(documentURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.NewValidationError("url", "document url must be an absolute http(s) URL")
	}

	cust, err := s.GetCustomer(ctx, actor, customerID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetDocumentURL(ctx, customerID, documentURL); err != nil {
		s.logger.ErrorContext(ctx, "Repository failed to store document URL", slog.String("customerID", customerID), slog.Any("error", err))
		return nil, fmt.Errorf("failed to attach document to customer %s: %w", customerID, err)
	}
	cust.IDDocumentURL = documentURL
	cust.UpdatedAt = s.now()
	s.publishUpdated(ctx, cust, actor)
	return cust, nil
}

func (s *customerService) DeactivateCustomer(ctx context.Context, actor identity.Actor, customerID string) error {
	return s.setActive(ctx, actor, customerID, false)
}

func (s *customerService) ReactivateCustomer(ctx context.Context, actor identity.Actor, customerID string) error {
	return s.setActive(ctx, actor, customerID, true)
}

func (s *customerService) setActive(ctx context.Context, actor identity.Actor, customerID string, active bool) error {
	logger := s.logger.With(slog.String("customerID", customerID), slog.Bool("active", active))
	if !actor.HasRole(identity.RoleAdmin, identity.RoleSudo) {
		return fmt.Errorf("%w: role %s cannot change customer status", apperrors.ErrForbidden, actor.Role)
	}

	if err := s.repo.SetActiveStatus(ctx, customerID, active); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			logger.WarnContext(ctx, customerNotFound)
			return fmt.Errorf("%w: customer %s", apperrors.ErrNotFound, customerID)
		case errors.Is(err, ErrCannotDeactivateWithOpenLoan):
			logger.WarnContext(ctx, "Customer still holds an open loan")
			return fmt.Errorf("%w: %w", apperrors.ErrConflict, err)
		}
		logger.ErrorContext(ctx, "Repository error updating active status", slog.Any("error", err))
		return fmt.Errorf("failed to update active status for customer %s: %w", customerID, err)
	}

	if cust, err := s.repo.FindByID(ctx, customerID); err != nil {
		logger.ErrorContext(ctx, "Status updated, but failed to re-fetch customer for event publishing", slog.Any("error", err))
	} else {
		s.publishUpdated(ctx, cust, actor)
	}
	logger.InfoContext(ctx, "Successfully updated customer active status")
	return nil
}

func (s *customerService) find(ctx context.Context, customerID string) (*Customer, error) {
	cust, err := s.repo.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.WarnContext(ctx, customerNotFound, slog.String("customerID", customerID))
			return nil, fmt.Errorf("%w: customer %s", apperrors.ErrNotFound, customerID)
		}
		s.logger.ErrorContext(ctx, "Repository error finding customer", slog.String("customerID", customerID), slog.Any("error", err))
		return nil, fmt.Errorf("failed to get customer %s: %w", customerID, err)
	}
	return cust, nil
}

func (s *customerService) publishUpdated(ctx context.Context, cust *Customer, actor identity.Actor) {
	if err := s.pub.PublishCustomerUpdated(ctx, customerEvent(cust, actor)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish customer update event", slog.String("customerID", cust.ID), slog.Any("error", err))
	}
}

// checkAccess lets staff see any customer and a customer login only its own record.
func checkAccess(actor identity.Actor, cust *Customer) error {
	if actor.Role.IsStaff() || cust.OwnedBy(actor.UserID) {
		return nil
	}
	return fmt.Errorf("%w: customer %s", apperrors.ErrForbidden, cust.ID)
}

func customerEvent(c *Customer, actor identity.Actor) event.CustomerEvent {
	return event.CustomerEvent{
		CustomerID: c.ID,
		Name:       c.Name,
		AgentID:    c.AgentID,
		Active:     c.Active,
		ChangedBy:  actor.UserID,
		Timestamp:  c.UpdatedAt,
	}
}
