package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"trucash/internal/pkg/apperrors"
	"trucash/internal/pkg/identity"
)

type SettingsService interface {
	// Active returns the stored settings, or the configured defaults when an
	// admin has not saved any.
	Active(ctx context.Context) (Settings, error)

	Update(ctx context.Context, actor identity.Actor, s Settings) (Settings, error)
}

type settingsServiceImpl struct {
	repo     SettingsRepository
	defaults Settings
	logger   *slog.Logger
	now      func() time.Time
}

func NewSettingsService(repo SettingsRepository, defaults Settings, logger *slog.Logger) SettingsService {
	return &settingsServiceImpl{
		repo:     repo,
		defaults: defaults,
		logger:   logger.With("component", "settingsService"),
		now:      time.Now,
	}
}

func (s *settingsServiceImpl) Active(ctx context.Context) (Settings, error) {
	stored, err := s.repo.GetActiveSettings(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.DebugContext(ctx, "No stored loan settings, using defaults")
			return s.defaults, nil
		}
		s.logger.ErrorContext(ctx, "Failed to load loan settings", "error", err)
		return Settings{}, fmt.Errorf("%w: failed to load loan settings: %w", apperrors.ErrInternalServer, err)
	}
	return *stored, nil
}

func (s *settingsServiceImpl) Update(ctx context.Context, actor identity.Actor, next Settings) (Settings, error) {
	if !actor.HasRole(identity.RoleAdmin, identity.RoleSudo) {
		return Settings{}, fmt.Errorf("%w: role %s cannot change loan settings", apperrors.ErrForbidden, actor.Role)
	}
	if err := next.Validate(); err != nil {
		s.logger.WarnContext(ctx, "Rejected loan settings", "error", err)
		return Settings{}, err
	}

	next.AllowedDurations = slices.Clone(next.AllowedDurations)
	slices.Sort(next.AllowedDurations)
	next.AllowedDurations = slices.Compact(next.AllowedDurations)
	next.UpdatedBy = actor.UserID
	next.UpdatedAt = s.now()

	if err := s.repo.SaveSettings(ctx, &next); err != nil {
		s.logger.ErrorContext(ctx, "Failed to save loan settings", "error", err)
		return Settings{}, fmt.Errorf("%w: failed to save loan settings: %w", apperrors.ErrInternalServer, err)
	}
	s.logger.InfoContext(ctx, "Loan settings updated", "updatedBy", actor.UserID,
		"interestRate", next.AnnualInterestRate.String(), "durations", next.AllowedDurations)
	return next, nil
}
