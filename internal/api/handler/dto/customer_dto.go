package dto

import (
	"strings"
	"time"

	"trucash/internal/domain/customer"
	"trucash/internal/pkg/apperrors"
)

type CreateCustomerRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	// AgentID is honoured for admins only; agents onboard as themselves.
	AgentID string `json:"agentId,omitempty"`
	UserID  string `json:"userId,omitempty"`
}

func (r *CreateCustomerRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperrors.NewValidationError("name", "name cannot be empty")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return apperrors.NewValidationError("phone", "phone cannot be empty")
	}
	if strings.TrimSpace(r.Address) == "" {
		return apperrors.NewValidationError("address", "address cannot be empty")
	}
	return nil
}

func (r *CreateCustomerRequest) ToOnboardRequest() customer.OnboardRequest {
	return customer.OnboardRequest{
		Name:    strings.TrimSpace(r.Name),
		Phone:   strings.TrimSpace(r.Phone),
		Address: strings.TrimSpace(r.Address),
		AgentID: strings.TrimSpace(r.AgentID),
		UserID:  strings.TrimSpace(r.UserID),
	}
}

type AttachDocumentRequest struct {
	URL string `json:"url"`
}

func (r *AttachDocumentRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return apperrors.NewValidationError("url", "url cannot be empty")
	}
	return nil
}

type CustomerResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	Address       string    `json:"address"`
	AgentID       string    `json:"agentId"`
	UserID        string    `json:"userId,omitempty"`
	IDDocumentURL string    `json:"idDocumentUrl,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func NewCustomerResponse(cust *customer.Customer) CustomerResponse {
	if cust == nil {
		return CustomerResponse{}
	}
	return CustomerResponse{
		ID:            cust.ID,
		Name:          cust.Name,
		Phone:         cust.Phone,
		Address:       cust.Address,
		AgentID:       cust.AgentID,
		UserID:        cust.UserID,
		IDDocumentURL: cust.IDDocumentURL,
		Active:        cust.Active,
		CreatedAt:     cust.CreatedAt,
		UpdatedAt:     cust.UpdatedAt,
	}
}

func NewCustomerListResponse(custs []*customer.Customer) []CustomerResponse {
	out := make([]CustomerResponse, 0, len(custs))
	for _, c := range custs {
		out = append(out, NewCustomerResponse(c))
	}
	return out
}
