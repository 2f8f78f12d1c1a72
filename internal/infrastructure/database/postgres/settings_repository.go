package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"trucash/internal/domain/loan"
	"trucash/internal/pkg/apperrors"

	"github.com/jackc/pgx/v5"
)

type SettingsRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ loan.SettingsRepository = (*SettingsRepository)(nil)

func NewSettingsRepository(db DBPool, logger *slog.Logger) *SettingsRepository {
	return &SettingsRepository{db: db, logger: logger.With("component", "SettingsRepository")}
}

func (r *SettingsRepository) GetActiveSettings(ctx context.Context) (s *loan.Settings, err error) {
	start := time.Now()
	defer func() { recordQuery("GetActiveSettings", start, err) }()

	query := `
        SELECT min_amount, max_amount, allowed_durations, annual_interest_rate, annual_penalty_rate,
            grace_days, default_after_days, max_penalty_percent, updated_by, updated_at
        FROM loan_settings
        ORDER BY id DESC
        LIMIT 1`

	var out loan.Settings
	err = r.db.QueryRow(ctx, query).Scan(
		&out.MinAmount, &out.MaxAmount, &out.AllowedDurations, &out.AnnualInterestRate, &out.AnnualPenaltyRate,
		&out.GraceDays, &out.DefaultAfterDays, &out.MaxPenaltyPercent, &out.UpdatedBy, &out.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to load loan settings", "error", err)
		return nil, apperrors.WrapDatabaseError(err, "failed to load loan settings")
	}
	return &out, nil
}

// SaveSettings appends a new row; earlier rows are kept as an audit trail.
func (r *SettingsRepository) SaveSettings(ctx context.Context, s *loan.Settings) (err error) {
	start := time.Now()
	defer func() { recordQuery("SaveSettings", start, err) }()

	query := `
        INSERT INTO loan_settings (min_amount, max_amount, allowed_durations, annual_interest_rate,
            annual_penalty_rate, grace_days, default_after_days, max_penalty_percent, updated_by, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err = r.db.Exec(ctx, query,
		s.MinAmount, s.MaxAmount, s.AllowedDurations, s.AnnualInterestRate, s.AnnualPenaltyRate,
		s.GraceDays, s.DefaultAfterDays, s.MaxPenaltyPercent, s.UpdatedBy, s.UpdatedAt,
	); err != nil {
		r.logger.ErrorContext(ctx, "Failed to save loan settings", "error", err)
		return apperrors.WrapDatabaseError(err, "failed to save loan settings")
	}
	r.logger.InfoContext(ctx, "Loan settings saved", "updatedBy", s.UpdatedBy)
	return nil
}
