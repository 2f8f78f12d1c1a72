package main

import (
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"trucash/internal/config"
	"trucash/internal/domain/loan"
	"trucash/internal/infrastructure/logging"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultLoanConfig() config.LoanConfig {
	return config.LoanConfig{
		MinAmount:          "1000",
		MaxAmount:          "500000",
		AllowedDurations:   []int{3, 6, 12},
		AnnualInterestRate: "15",
		AnnualPenaltyRate:  "24",
		GraceDays:          3,
		DefaultAfterDays:   90,
		MaxPenaltyPercent:  "25",
	}
}

func TestSettingsFromConfig(t *testing.T) {
	s, err := settingsFromConfig(defaultLoanConfig())
	require.NoError(t, err)

	assert.True(t, s.MinAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, s.MaxAmount.Equal(decimal.NewFromInt(500000)))
	assert.Equal(t, []int{3, 6, 12}, s.AllowedDurations)
	assert.True(t, s.AnnualInterestRate.Equal(decimal.NewFromInt(15)))
	assert.True(t, s.AnnualPenaltyRate.Equal(decimal.NewFromInt(24)))
	assert.True(t, s.MaxPenaltyPercent.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 3, s.GraceDays)
	assert.Equal(t, 90, s.DefaultAfterDays)
}

func TestSettingsFromConfig_Invalid(t *testing.T) {
	badRate := defaultLoanConfig()
	badRate.AnnualInterestRate = "fifteen"
	_, err := settingsFromConfig(badRate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "annualInterestRate")

	inverted := defaultLoanConfig()
	inverted.MinAmount, inverted.MaxAmount = "900000", "1000"
	_, err = settingsFromConfig(inverted)
	assert.ErrorIs(t, err, loan.ErrInvalidSettings)

	noDurations := defaultLoanConfig()
	noDurations.AllowedDurations = nil
	_, err = settingsFromConfig(noDurations)
	assert.ErrorIs(t, err, loan.ErrInvalidSettings)
}

func TestStartMetricsServer_SkipsSharedPort(t *testing.T) {
	logger := logging.NewLogger(config.LoggerConfig{})

	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Metrics.Port = 8080
	assert.Nil(t, startMetricsServer(cfg, logger))

	cfg.Metrics.Port = 0
	assert.Nil(t, startMetricsServer(cfg, logger))
}

func TestHandleShutdown(t *testing.T) {
	logger := logging.NewLogger(config.LoggerConfig{})
	cronScheduler := cron.New()
	srv := &http.Server{}
	shutdownChan := make(chan os.Signal, 1)
	serverErrors := make(chan error, 1)

	shutdownChan <- syscall.SIGINT
	serverErrors <- nil

	done := make(chan struct{})
	go func() {
		handleShutdown(srv, nil, cronScheduler, shutdownChan, serverErrors, logger)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}
