package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"trucash/internal/api/handler/dto"
	"trucash/internal/domain/customer"
	"trucash/internal/pkg/apperrors"
)

type CustomerHandler struct {
	service customer.CustomerService
	logger  *slog.Logger
}

func NewCustomerHandler(s customer.CustomerService, l *slog.Logger) *CustomerHandler {
	if s == nil {
		panic("customer service cannot be nil")
	}
	if l == nil {
		panic("logger cannot be nil")
	}
	return &CustomerHandler{
		service: s,
		logger:  l.With("component", "CustomerHandler"),
	}
}

func getCustomerIDFromURL(r *http.Request) (string, error) {
	return pathParam(r, "customerID")
}

// CreateCustomer handles POST /customers
// @Summary Onboard a customer
// @Description Creates an active customer owned by the calling agent. Admins may onboard on behalf of another agent.
// @Tags Customers
// @Accept json
// @Produce json
// @Param request body dto.CreateCustomerRequest true "Customer onboarding request"
// @Success 201 {object} dto.CustomerResponse "Customer successfully created"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload"
// @Failure 403 {object} dto.ErrorResponse "Role may not onboard customers"
// @Failure 409 {object} dto.ErrorResponse "Customer already exists"
// @Failure 500 {object} dto.ErrorResponse "Internal server error during creation"
// @Router /customers [post]
// @Security BearerAuth
func (h *CustomerHandler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	h.logger.DebugContext(r.Context(), "Received create customer request")

	var req dto.CreateCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, err)
		return
	}

	created, err := h.service.Onboard(r.Context(), actor, req.ToOnboardRequest())
	if err != nil {
		logServiceError(r, h.logger, "Service failed to onboard customer", err)
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Customer onboarded", "customerID", created.ID)
	respondJSON(w, http.StatusCreated, dto.NewCustomerResponse(created))
}

// GetCustomer handles GET /customers/{customerID}
// @Summary Retrieve customer details
// @Description Customers may only read their own record.
// @Tags Customers
// @Produce json
// @Param customerID path string true "Customer ID"
// @Success 200 {object} dto.CustomerResponse "Customer details retrieved"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Customer not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /customers/{customerID} [get]
// @Security BearerAuth
func (h *CustomerHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	customerID, err := getCustomerIDFromURL(r)
	if err != nil {
		respondError(w, err)
		return
	}

	cust, err := h.service.GetCustomer(r.Context(), actor, customerID)
	if err != nil {
		logServiceError(r, h.logger, "Service failed to get customer", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewCustomerResponse(cust))
}

// ListCustomers handles GET /customers
// @Summary List customers
// @Description Agents see their own customers. Admins see all customers, or one agent's with agentId.
// @Tags Customers
// @Produce json
// @Param agentId query string false "Filter by onboarding agent"
// @Success 200 {array} dto.CustomerResponse "List of customers"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /customers [get]
// @Security BearerAuth
func (h *CustomerHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	custs, err := h.service.ListCustomers(r.Context(), actor, strings.TrimSpace(r.URL.Query().Get("agentId")))
	if err != nil {
		logServiceError(r, h.logger, "Service failed to list customers", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewCustomerListResponse(custs))
}

// AttachDocument handles PUT /customers/{customerID}/document
// @Summary Attach an identity document
// @Description Stores the URL of the customer's identity document. The document itself lives in external storage.
// @Tags Customers
// @Accept json
// @Produce json
// @Param customerID path string true "Customer ID"
// @Param request body dto.AttachDocumentRequest true "Document URL"
// @Success 200 {object} dto.CustomerResponse "Document attached"
// @Failure 400 {object} dto.ErrorResponse "Invalid URL"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Customer not found"
// @Router /customers/{customerID}/document [put]
// @Security BearerAuth
func (h *CustomerHandler) AttachDocument(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	customerID, err := getCustomerIDFromURL(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.AttachDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, err)
		return
	}

	cust, err := h.service.AttachDocument(r.Context(), actor, customerID, strings.TrimSpace(req.URL))
	if err != nil {
		logServiceError(r, h.logger, "Service failed to attach document", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewCustomerResponse(cust))
}

// DeactivateCustomer handles DELETE /customers/{customerID}
// @Summary Deactivate a customer
// @Description Marks a customer inactive. Fails while the customer holds an open loan.
// @Tags Customers
// @Param customerID path string true "Customer ID"
// @Success 204 "Customer successfully deactivated"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Customer not found"
// @Failure 409 {object} dto.ErrorResponse "Customer has an open loan"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /customers/{customerID} [delete]
// @Security BearerAuth
func (h *CustomerHandler) DeactivateCustomer(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// ReactivateCustomer handles PUT /customers/{customerID}/reactivate
// @Summary Reactivate a customer
// @Tags Customers
// @Param customerID path string true "Customer ID"
// @Success 204 "Customer successfully reactivated"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Customer not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /customers/{customerID}/reactivate [put]
// @Security BearerAuth
func (h *CustomerHandler) ReactivateCustomer(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *CustomerHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	customerID, err := getCustomerIDFromURL(r)
	if err != nil {
		respondError(w, err)
		return
	}

	if active {
		err = h.service.ReactivateCustomer(r.Context(), actor, customerID)
	} else {
		err = h.service.DeactivateCustomer(r.Context(), actor, customerID)
	}
	if err != nil {
		logServiceError(r, h.logger, "Service failed to change customer status", err)
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Customer status changed", "customerID", customerID, "active", active)
	respondJSON(w, http.StatusNoContent, nil)
}
