package dto

import (
	"fmt"
	"strings"
	"time"

	"trucash/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type TokenRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (r *TokenRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return apperrors.NewValidationError("userId", "userId is required")
	}
	if strings.TrimSpace(r.Role) == "" {
		return apperrors.NewValidationError("role", "role is required")
	}
	return nil
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// parseMoney accepts a positive decimal string with at most two fraction digits.
func parseMoney(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, apperrors.NewValidationError(field, field+" is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.NewValidationError(field, fmt.Sprintf("invalid decimal %q", raw))
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Zero, apperrors.NewValidationError(field, field+" must have at most two decimal places")
	}
	return d, nil
}

func parseRate(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, apperrors.NewValidationError(field, fmt.Sprintf("invalid decimal %q", raw))
	}
	return d, nil
}

func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError(field, "invalid date format (use YYYY-MM-DD)")
	}
	return t, nil
}
