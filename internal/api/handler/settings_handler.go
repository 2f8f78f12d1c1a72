package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"trucash/internal/api/handler/dto"
	"trucash/internal/domain/loan"
	"trucash/internal/pkg/apperrors"
)

type SettingsHandler struct {
	service loan.SettingsService
	logger  *slog.Logger
}

func NewSettingsHandler(s loan.SettingsService, l *slog.Logger) *SettingsHandler {
	return &SettingsHandler{
		service: s,
		logger:  l.With("component", "SettingsHandler"),
	}
}

// GetLoanTerms returns the active loan settings.
//
// @Summary Active loan settings
// @Description Amount bounds, allowed durations, interest and penalty policy applied to new applications.
// @Tags Settings
// @Produce json
// @Success 200 {object} dto.LoanSettingsResponse "Active settings"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /settings/loan-terms [get]
// @Security BearerAuth
func (h *SettingsHandler) GetLoanTerms(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Active(r.Context())
	if err != nil {
		logServiceError(r, h.logger, "Service failed to load settings", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewLoanSettingsResponse(s))
}

// UpdateLoanTerms stores new loan settings.
//
// @Summary Update loan settings
// @Description Stores a new settings snapshot. Existing loans keep the terms they were created with.
// @Tags Settings
// @Accept json
// @Produce json
// @Param request body dto.LoanSettingsRequest true "New settings"
// @Success 200 {object} dto.LoanSettingsResponse "Settings stored"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 422 {object} dto.ErrorResponse "Inconsistent settings"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /settings/loan-terms [put]
// @Security BearerAuth
func (h *SettingsHandler) UpdateLoanTerms(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.LoanSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	next, err := req.ToSettings()
	if err != nil {
		respondError(w, err)
		return
	}

	saved, err := h.service.Update(r.Context(), actor, next)
	if err != nil {
		logServiceError(r, h.logger, "Service failed to update settings", err)
		respondError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Loan settings updated", "updatedBy", actor.UserID)
	respondJSON(w, http.StatusOK, dto.NewLoanSettingsResponse(saved))
}
