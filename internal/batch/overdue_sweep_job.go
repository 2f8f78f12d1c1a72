package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"trucash/internal/domain/loan"
	"trucash/internal/infrastructure/monitoring"
	"trucash/internal/pkg/apperrors"

	"golang.org/x/sync/errgroup"
)

// LoanLister is the slice of loan.Repository the sweep needs.
type LoanLister interface {
	ListLoanIDsByStatus(ctx context.Context, statuses ...loan.Status) ([]string, error)
}

// OverdueSweepJob re-evaluates every open loan against the active penalty
// policy: it accrues penalties and moves loans between active, overdue and
// defaulted.
type OverdueSweepJob struct {
	loans    LoanLister
	service  loan.LoanService
	settings loan.SettingsService
	workers  int
	logger   *slog.Logger
}

func NewOverdueSweepJob(
	loans LoanLister,
	service loan.LoanService,
	settings loan.SettingsService,
	workers int,
	logger *slog.Logger,
) *OverdueSweepJob {
	if loans == nil || service == nil || settings == nil || logger == nil {
		panic("OverdueSweepJob dependencies cannot be nil")
	}
	if workers <= 0 {
		workers = 1
	}
	return &OverdueSweepJob{
		loans:    loans,
		service:  service,
		settings: settings,
		workers:  workers,
		logger:   logger.With("job", "OverdueSweep"),
	}
}

// Run sweeps all active, overdue and defaulted loans. A failure on one loan
// does not stop the others; Run reports an error if any loan failed.
func (j *OverdueSweepJob) Run(ctx context.Context) error {
	startTime := time.Now()
	j.logger.InfoContext(ctx, "Starting overdue sweep job.")

	settings, err := j.settings.Active(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to load loan settings, aborting job.", slog.Any("error", err))
		monitoring.RecordSweep("failure", 0)
		return fmt.Errorf("cannot run sweep, failed to load settings: %w", err)
	}

	ids, err := j.loans.ListLoanIDsByStatus(ctx, loan.StatusActive, loan.StatusOverdue, loan.StatusDefaulted)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to list open loans, aborting job.", slog.Any("error", err))
		monitoring.RecordSweep("failure", 0)
		return fmt.Errorf("cannot run sweep, failed to list loans: %w", err)
	}
	j.logger.InfoContext(ctx, "Fetched open loan IDs.", slog.Int("count", len(ids)))

	var processed, changed, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)
	for _, id := range ids {
		id := id
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			logCtx := j.logger.With(slog.String("loanID", id))

			didChange, sweepErr := j.service.SweepLoan(gctx, id, settings.Policy)
			switch {
			case errors.Is(sweepErr, apperrors.ErrNotFound):
				logCtx.WarnContext(gctx, "Loan disappeared before it could be swept", slog.Any("error", sweepErr))
				return nil
			case sweepErr != nil:
				logCtx.ErrorContext(gctx, "Failed to sweep loan", slog.Any("error", sweepErr))
				failed.Add(1)
				return nil
			}

			processed.Add(1)
			if didChange {
				changed.Add(1)
				logCtx.DebugContext(gctx, "Loan updated by sweep.")
			}
			return nil
		})
	}
	_ = g.Wait()

	summaryLog := j.logger.With(
		slog.Duration("duration", time.Since(startTime)),
		slog.Int("total_open_loans", len(ids)),
		slog.Int("loans_processed", int(processed.Load())),
		slog.Int("loans_changed", int(changed.Load())),
		slog.Int("errors_encountered", int(failed.Load())),
	)

	if err := ctx.Err(); err != nil {
		summaryLog.WarnContext(ctx, "Overdue sweep job interrupted.", slog.Any("error", err))
		monitoring.RecordSweep("failure", int(changed.Load()))
		return fmt.Errorf("sweep interrupted: %w", err)
	}
	if n := failed.Load(); n > 0 {
		summaryLog.WarnContext(ctx, "Overdue sweep job finished with errors.")
		monitoring.RecordSweep("partial_failure", int(changed.Load()))
		return fmt.Errorf("sweep completed with %d errors", n)
	}

	summaryLog.InfoContext(ctx, "Overdue sweep job finished successfully.")
	monitoring.RecordSweep("success", int(changed.Load()))
	return nil
}
