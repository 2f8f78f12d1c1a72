package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"trucash/internal/api/handler/dto"
	"trucash/internal/api/middleware"
	"trucash/internal/config"
	"trucash/internal/pkg/apperrors"
	"trucash/internal/pkg/identity"
)

// AuthHandler issues development tokens. Production tokens come from the
// identity provider and share the same signing secret and claims.
type AuthHandler struct {
	cfg    config.AuthConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewAuthHandler(cfg config.AuthConfig, l *slog.Logger) *AuthHandler {
	return &AuthHandler{
		cfg:    cfg,
		logger: l.With("component", "AuthHandler"),
		now:    time.Now,
	}
}

// GenerateBearerToken issues a signed bearer token for a user and role.
//
// @Summary Generate a JWT bearer token
// @Description Issues an HS256 token carrying the user ID (sub) and role. Only available when the token issuer is enabled.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body dto.TokenRequest true "User and role"
// @Success 200 {object} dto.TokenResponse "Token successfully generated"
// @Failure 400 {object} dto.ErrorResponse "Invalid request parameters"
// @Failure 404 {object} dto.ErrorResponse "Token issuer disabled"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /auth/token [post]
func (h *AuthHandler) GenerateBearerToken(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.IssuerEnabled {
		respondError(w, fmt.Errorf("%w: token issuer is disabled", apperrors.ErrNotFound))
		return
	}

	var req dto.TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", "error", err)
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, err)
		return
	}
	role, err := identity.ParseRole(req.Role)
	if err != nil {
		respondError(w, apperrors.NewValidationError("role", err.Error()))
		return
	}

	now := h.now()
	ttl := h.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, err := middleware.NewToken(h.cfg.JWTSecret, identity.Actor{UserID: req.UserID, Role: role}, ttl, now)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to sign token", "error", err)
		respondError(w, fmt.Errorf("%w: %w", apperrors.ErrInternalServer, err))
		return
	}

	h.logger.InfoContext(r.Context(), "Issued bearer token", "userID", req.UserID, "role", role)
	respondJSON(w, http.StatusOK, dto.TokenResponse{Token: "Bearer " + token, ExpiresAt: now.Add(ttl)})
}
