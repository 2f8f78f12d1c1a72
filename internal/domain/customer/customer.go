package customer

import (
	"strings"
	"time"
	"unicode"

	"trucash/internal/pkg/apperrors"
)

type Customer struct {
	ID            string
	Name          string
	Phone         string
	Address       string
	AgentID       string
	UserID        string
	IDDocumentURL string
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewCustomer validates and normalizes onboarding input. The ID is assigned
// by the repository.
func NewCustomer(name, phone, address, agentID, userID string, now time.Time) (*Customer, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	address = strings.TrimSpace(address)

	if name == "" {
		return nil, apperrors.NewValidationError("name", "customer name cannot be empty")
	}
	if !validPhone(phone) {
		return nil, apperrors.NewValidationError("phone", "phone must contain 7 to 15 digits")
	}
	if address == "" {
		return nil, apperrors.NewValidationError("address", "customer address cannot be empty")
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, apperrors.NewValidationError("agentId", "onboarding agent is required")
	}

	return &Customer{
		Name:      name,
		Phone:     phone,
		Address:   address,
		AgentID:   agentID,
		UserID:    strings.TrimSpace(userID),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// OwnedBy reports whether userID is the customer's own login.
func (c *Customer) OwnedBy(userID string) bool {
	return c.UserID != "" && c.UserID == userID
}

func validPhone(phone string) bool {
	digits := 0
	for i, r := range phone {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0, r == ' ', r == '-':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}
