package handler

import (
	"log/slog"
	"net/http"

	"trucash/internal/api/handler/dto"
	"trucash/internal/domain/loan"
)

type ReportHandler struct {
	service loan.LoanService
	logger  *slog.Logger
}

func NewReportHandler(s loan.LoanService, l *slog.Logger) *ReportHandler {
	return &ReportHandler{
		service: s,
		logger:  l.With("component", "ReportHandler"),
	}
}

// Summary reports portfolio totals.
//
// @Summary Portfolio summary
// @Description Loan counts per status, total principal disbursed, total repaid, outstanding balance and accrued penalty.
// @Tags Reports
// @Produce json
// @Success 200 {object} dto.SummaryResponse "Portfolio summary"
// @Failure 403 {object} dto.ErrorResponse "Not allowed"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /reports/summary [get]
// @Security BearerAuth
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	s, err := h.service.Summary(r.Context(), actor)
	if err != nil {
		logServiceError(r, h.logger, "Service failed to build summary", err)
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewSummaryResponse(s))
}
