package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"trucash/internal/api/handler/dto"
	"trucash/internal/domain/customer"
	"trucash/internal/domain/loan"
	"trucash/internal/pkg/apperrors"
	"trucash/internal/pkg/identity"

	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type LoanHandler struct {
	service loan.LoanService
	logger  *slog.Logger
}

func NewLoanHandler(s loan.LoanService, l *slog.Logger) *LoanHandler {
	return &LoanHandler{
		service: s,
		logger:  l.With("component", "LoanHandler"),
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("no request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Error("Failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":{"message":"Internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

type errorMapping struct {
	status int
	code   string
	errs   []error
}

// errorStatuses is checked in order; the first match wins.
var errorStatuses = []errorMapping{
	{http.StatusUnauthorized, "UNAUTHORIZED", []error{apperrors.ErrUnauthorized}},
	{http.StatusForbidden, "FORBIDDEN", []error{apperrors.ErrForbidden}},
	{http.StatusNotFound, "NOT_FOUND", []error{apperrors.ErrNotFound}},
	{http.StatusUnprocessableEntity, "UNPROCESSABLE", []error{
		loan.ErrAmountOutOfRange, loan.ErrInvalidDuration, loan.ErrInvalidRepaymentAmount, loan.ErrInvalidSettings,
	}},
	{http.StatusConflict, "CONFLICT", []error{
		loan.ErrIllegalTransition, loan.ErrBalanceNotCleared, loan.ErrRepaymentAlreadyVerified,
		loan.ErrCustomerHasOpenLoan, loan.ErrRepaymentNotAllowed, loan.ErrDefaultThresholdNotReached,
		customer.ErrCannotDeactivateWithOpenLoan, apperrors.ErrConflict, apperrors.ErrAlreadyExists,
	}},
	{http.StatusBadRequest, "BAD_REQUEST", []error{apperrors.ErrValidation, apperrors.ErrInvalidArgument}},
}

func respondError(w http.ResponseWriter, err error) {
	status, code, message, field := http.StatusInternalServerError, "INTERNAL", "An unexpected error occurred.", ""

match:
	for _, m := range errorStatuses {
		for _, target := range m.errs {
			if errors.Is(err, target) {
				status, code, message = m.status, m.code, err.Error()
				break match
			}
		}
	}

	var validationError *apperrors.ValidationError
	if errors.As(err, &validationError) {
		if status == http.StatusInternalServerError {
			status, code = http.StatusBadRequest, "BAD_REQUEST"
		}
		message, field = validationError.Message, validationError.Field
	}

	if status == http.StatusInternalServerError {
		slog.Default().Error("Unhandled internal error", "error", err)
	}

	resp := dto.ErrorResponse{
		Error: dto.ErrorDetail{
			Code:    code,
			Message: message,
			Field:   field,
		},
	}
	respondJSON(w, status, resp)
}

// logServiceError logs client errors at warn and everything else at error.
func logServiceError(r *http.Request, logger *slog.Logger, msg string, err error) {
	level := slog.LevelError
	for _, m := range errorStatuses {
		for _, target := range m.errs {
			if errors.Is(err, target) {
				level = slog.LevelWarn
			}
		}
	}
	logger.Log(r.Context(), level, msg, slog.Any("error", err))
}

func actorFrom(r *http.Request) (identity.Actor, error) {
	a, ok := identity.FromContext(r.Context())
	if !ok {
		return identity.Actor{}, fmt.Errorf("%w: no authenticated actor", apperrors.ErrUnauthorized)
	}
	return a, nil
}

func pathParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(chi.URLParam(r, name))
	if v == "" {
		return "", fmt.Errorf("%w: %s not found in URL path", apperrors.ErrInvalidArgument, name)
	}
	return v, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit <= 0 || limit > maxPageSize {
			return 0, 0, apperrors.NewValidationError("limit", fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
		}
	}
	if s := q.Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, apperrors.NewValidationError("offset", "offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// ApplyLoan handles a loan application.
//
// @Summary Apply for a loan
// @Description Creates a pending loan with a flat-rate repayment schedule. The interest rate comes from the active loan settings. Send an Idempotency-Key header to make retries safe.
// @Tags Loans
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client-chosen key for safe retries"
// @Param request body dto.ApplyLoanRequest true "Loan application"
// @Success 201 {object} dto.LoanResponse "Loan application created"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload"
// @Failure 404 {object} dto.ErrorResponse "Customer not found"
// @Failure 409 {object} dto.ErrorResponse "Customer already has an open loan"
// @Failure 422 {object} dto.ErrorResponse "Amount out of range or duration not allowed"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans [post]
// @Security BearerAuth
func (h *LoanHandler) ApplyLoan(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.ApplyLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	applyReq, err := req.ToApplyRequest()
	if err != nil {
		respondError(w, err)
		return
	}

	created, err := h.service.Apply(r.Context(), actor, applyReq)
	if err != nil {
		logServiceError(r, h.logger, "Service failed to apply for loan", err)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.NewLoanResponse(created, true, false))
}

// ListLoans lists loans.
//
// @Summary List loans
// @Description Lists loans newest first, without schedules. Customers must filter by their own customerId.
// @Tags Loans
// @Produce json
// @Param status query string false "Loan status" Enums(pending, approved, active, overdue, defaulted, rejected, repaid)
// @Param customerId query string false "Customer ID"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Rows to skip"
// @Success 200 {array} dto.LoanResponse "Loans"
// @Failure 400 {object} dto.ErrorResponse "Invalid filter"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans [get]
// @Security BearerAuth
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	filter := loan.ListFilter{CustomerID: strings.TrimSpace(r.URL.Query().Get("customerId"))}
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := loan.ParseStatus(s)
		if err != nil {
			respondError(w, apperrors.NewValidationError("status", err.Error()))
			return
		}
		filter.Status = st
	}
	if filter.Limit, filter.Offset, err = pagination(r); err != nil {
		respondError(w, err)
		return
	}

	loans, err := h.service.ListLoans(r.Context(), actor, filter)
	if err != nil {
		logServiceError(r, h.logger, "Service failed to list loans", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewLoanListResponse(loans))
}

// GetLoan retrieves the details of a specific loan.
//
// @Summary Retrieve loan details
// @Description Retrieves a loan by ID. Add include=schedule, include=history or both (comma separated) to expand the response.
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID"
// @Param include query string false "schedule, history"
// @Success 200 {object} dto.LoanResponse "Loan details"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /loans/{loanID} [get]
// @Security BearerAuth
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	loanID, err := pathParam(r, "loanID")
	if err != nil {
		respondError(w, err)
		return
	}

	l, err := h.service.GetLoan(r.Context(), actor, loanID)
	if err != nil {
		logServiceError(r, h.logger, "Service failed to get loan", err)
		respondError(w, err)
		return
	}

	var schedule, history bool
	for _, part := range strings.Split(r.URL.Query().Get("include"), ",") {
		switch strings.TrimSpace(part) {
		case "schedule":
			schedule = true
		case "history":
			history = true
		}
	}
	respondJSON(w, http.StatusOK, dto.NewLoanResponse(l, schedule, history))
}

type transitionFunc func(ctx context.Context, actor identity.Actor, loanID, notes string) (*loan.Loan, error)

func (h *LoanHandler) transition(action string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFrom(r)
		if err != nil {
			respondError(w, err)
			return
		}
		loanID, err := pathParam(r, "loanID")
		if err != nil {
			respondError(w, err)
			return
		}
		var req dto.TransitionRequest
		if err := decodeOptionalJSON(r, &req); err != nil {
			respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
			return
		}

		l, err := fn(r.Context(), actor, loanID, strings.TrimSpace(req.Notes))
		if err != nil {
			logServiceError(r, h.logger, "Service failed to "+action+" loan", err)
			respondError(w, err)
			return
		}
		h.logger.InfoContext(r.Context(), "Loan status changed", "action", action, "loanID", loanID, "status", l.Status)
		respondJSON(w, http.StatusOK, dto.NewLoanResponse(l, false, true))
	}
}

// ApproveLoan moves a pending loan to approved.
//
// @Summary Approve a loan
// @Tags Loans
// @Accept json
// @Produce json
// @Param loanID path string true "Loan ID"
// @Param request body dto.TransitionRequest false "Optional notes"
// @Success 200 {object} dto.LoanResponse "Loan approved"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "Illegal status transition"
// @Router /loans/{loanID}/approve [post]
// @Security BearerAuth
func (h *LoanHandler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	h.transition("approve", h.service.Approve)(w, r)
}

// RejectLoan moves a pending loan to rejected.
//
// @Summary Reject a loan
// @Tags Loans
// @Accept json
// @Produce json
// @Param loanID path string true "Loan ID"
// @Param request body dto.TransitionRequest false "Optional notes"
// @Success 200 {object} dto.LoanResponse "Loan rejected"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "Illegal status transition"
// @Router /loans/{loanID}/reject [post]
// @Security BearerAuth
func (h *LoanHandler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	h.transition("reject", h.service.Reject)(w, r)
}

// DisburseLoan moves an approved loan to active.
//
// @Summary Disburse a loan
// @Tags Loans
// @Accept json
// @Produce json
// @Param loanID path string true "Loan ID"
// @Param request body dto.TransitionRequest false "Optional notes"
// @Success 200 {object} dto.LoanResponse "Loan disbursed"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "Illegal status transition"
// @Router /loans/{loanID}/disburse [post]
// @Security BearerAuth
func (h *LoanHandler) DisburseLoan(w http.ResponseWriter, r *http.Request) {
	h.transition("disburse", h.service.Disburse)(w, r)
}

// DefaultLoan marks an overdue loan as defaulted.
//
// @Summary Mark a loan defaulted
// @Description Requires the loan to be overdue for longer than the configured default threshold.
// @Tags Loans
// @Accept json
// @Produce json
// @Param loanID path string true "Loan ID"
// @Param request body dto.TransitionRequest false "Optional notes"
// @Success 200 {object} dto.LoanResponse "Loan defaulted"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "Illegal status transition or threshold not reached"
// @Router /loans/{loanID}/default [post]
// @Security BearerAuth
func (h *LoanHandler) DefaultLoan(w http.ResponseWriter, r *http.Request) {
	h.transition("default", h.service.MarkDefaulted)(w, r)
}

// GetPenalty reports the penalty on a loan.
//
// @Summary Current loan penalty
// @Description Returns the penalty recorded by the last overdue sweep and the penalty the active policy yields now.
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID"
// @Success 200 {object} dto.PenaltyResponse "Penalty quote"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Router /loans/{loanID}/penalty [get]
// @Security BearerAuth
func (h *LoanHandler) GetPenalty(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	loanID, err := pathParam(r, "loanID")
	if err != nil {
		respondError(w, err)
		return
	}

	q, err := h.service.CurrentPenalty(r.Context(), actor, loanID)
	if err != nil {
		logServiceError(r, h.logger, "Service failed to quote penalty", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewPenaltyResponse(q))
}

// SubmitRepayment records an unverified repayment.
//
// @Summary Submit a repayment
// @Description Records a repayment against the earliest unpaid installment. The loan balance changes only once the repayment is verified. Send an Idempotency-Key header to make retries safe.
// @Tags Repayments
// @Accept json
// @Produce json
// @Param loanID path string true "Loan ID"
// @Param Idempotency-Key header string false "Client-chosen key for safe retries"
// @Param request body dto.SubmitRepaymentRequest true "Repayment"
// @Success 201 {object} dto.RepaymentResponse "Repayment recorded"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "Loan does not accept repayments"
// @Failure 422 {object} dto.ErrorResponse "Invalid repayment amount"
// @Router /loans/{loanID}/repayments [post]
// @Security BearerAuth
func (h *LoanHandler) SubmitRepayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	loanID, err := pathParam(r, "loanID")
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.SubmitRepaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	amount, err := req.ParseAmount()
	if err != nil {
		respondError(w, err)
		return
	}

	rep, err := h.service.SubmitRepayment(r.Context(), actor, loanID, amount, strings.TrimSpace(req.Reference))
	if err != nil {
		logServiceError(r, h.logger, "Service failed to submit repayment", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, dto.NewRepaymentResponse(rep))
}

// ListRepayments lists the repayments of a loan.
//
// @Summary List repayments
// @Tags Repayments
// @Produce json
// @Param loanID path string true "Loan ID"
// @Success 200 {array} dto.RepaymentResponse "Repayments"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Router /loans/{loanID}/repayments [get]
// @Security BearerAuth
func (h *LoanHandler) ListRepayments(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	loanID, err := pathParam(r, "loanID")
	if err != nil {
		respondError(w, err)
		return
	}

	reps, err := h.service.ListRepayments(r.Context(), actor, loanID)
	if err != nil {
		logServiceError(r, h.logger, "Service failed to list repayments", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewRepaymentListResponse(reps))
}

// VerifyRepayment applies a submitted repayment to the loan.
//
// @Summary Verify a repayment
// @Description Marks the repayment verified and reduces the loan balance. A loan whose balance reaches zero becomes repaid.
// @Tags Repayments
// @Produce json
// @Param loanID path string true "Loan ID"
// @Param repaymentID path string true "Repayment ID"
// @Success 200 {object} dto.VerifyRepaymentResponse "Repayment verified"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 404 {object} dto.ErrorResponse "Loan or repayment not found"
// @Failure 409 {object} dto.ErrorResponse "Repayment already verified or loan not repayable"
// @Router /loans/{loanID}/repayments/{repaymentID}/verify [post]
// @Security BearerAuth
func (h *LoanHandler) VerifyRepayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	loanID, err := pathParam(r, "loanID")
	if err != nil {
		respondError(w, err)
		return
	}
	repaymentID, err := pathParam(r, "repaymentID")
	if err != nil {
		respondError(w, err)
		return
	}

	l, rep, err := h.service.VerifyRepayment(r.Context(), actor, loanID, repaymentID)
	if err != nil {
		logServiceError(r, h.logger, "Service failed to verify repayment", err)
		respondError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Repayment verified", "loanID", loanID, "repaymentID", repaymentID, "balance", l.Balance.StringFixed(2))
	respondJSON(w, http.StatusOK, dto.VerifyRepaymentResponse{
		Loan:      dto.NewLoanResponse(l, true, false),
		Repayment: dto.NewRepaymentResponse(rep),
	})
}
