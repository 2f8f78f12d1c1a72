package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "trucash/docs"
	"trucash/internal/api"
	mw "trucash/internal/api/middleware"
	"trucash/internal/batch"
	"trucash/internal/config"
	"trucash/internal/domain/customer"
	"trucash/internal/domain/loan"
	"trucash/internal/event"
	"trucash/internal/infrastructure/cache"
	"trucash/internal/infrastructure/database/postgres"
	"trucash/internal/infrastructure/logging"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// @title TruCash Lending API
// @version 1.0
// @description Loan origination, repayment and portfolio API for TruCash field agents and administrators.

// @contact.name TruCash Engineering
// @contact.email engineering@trucash.example

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, logger := initializeApp()

	dbPool := initializeDatabase(cfg, logger)
	defer closeDatabase(dbPool, logger)

	publisher, closePublisher := initializePublisher(cfg, logger)
	defer closePublisher()

	rdb := initializeRedis(cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	defaults, err := settingsFromConfig(cfg.Loan)
	if err != nil {
		logger.Error("Invalid default loan settings", "error", err)
		os.Exit(1)
	}

	svc, loanRepo := initializeServices(dbPool, publisher, defaults, logger)

	sweepJob := batch.NewOverdueSweepJob(loanRepo, svc.Loans, svc.Settings, cfg.Batch.OverdueSweepWorkers, logger)
	cronScheduler := startBatchJobs(cfg, logger, sweepJob)

	rateLimiter := mw.NewRateLimiterMiddleware(cfg.Server.RateLimit, logger)
	defer rateLimiter.Close()

	router := api.SetupRouter(svc, api.Middlewares{
		RateLimiter: rateLimiter,
		Idempotency: mw.NewIdempotency(rdb, cfg.Redis.IdempotencyTTL, logger),
	}, cfg, logger)

	metricsSrv := startMetricsServer(cfg, logger)
	srv, serverErrors, shutdownChan := startServer(cfg, router, logger)
	handleShutdown(srv, metricsSrv, cronScheduler, shutdownChan, serverErrors, logger)
}

func initializeApp() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logger)
	logger.Info("Application starting...", "port", cfg.Server.Port, "auth_enabled", cfg.Server.Auth.Enabled)

	return cfg, logger
}

func initializeDatabase(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	logger.Info("Initializing database connection pool...")
	dbPool, err := postgres.NewConnectionPool(context.Background(), cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	return dbPool
}

func closeDatabase(dbPool *pgxpool.Pool, logger *slog.Logger) {
	logger.Info("Closing database connection pool...")
	dbPool.Close()
}

// initializePublisher connects to RabbitMQ when enabled. Events are dropped
// silently otherwise.
func initializePublisher(cfg *config.Config, logger *slog.Logger) (event.EventPublisher, func()) {
	if !cfg.RabbitMQ.Enabled {
		logger.Info("RabbitMQ disabled, domain events will not be published")
		return event.NopPublisher{}, func() {}
	}

	logger.Info("Connecting to RabbitMQ...", "exchange", cfg.RabbitMQ.ExchangeName)
	conn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		logger.Error("Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	pub, err := event.NewRabbitMQEventPublisher(conn, cfg.RabbitMQ.ExchangeName, logger)
	if err != nil {
		conn.Close()
		logger.Error("Failed to initialize RabbitMQ publisher", "error", err)
		os.Exit(1)
	}
	return pub, func() {
		logger.Info("Closing RabbitMQ connection...")
		if err := conn.Close(); err != nil {
			logger.Warn("RabbitMQ connection close failed", "error", err)
		}
	}
}

// initializeRedis returns nil when Redis is disabled, which turns the
// idempotency middleware into a pass-through.
func initializeRedis(cfg *config.Config, logger *slog.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		logger.Warn("Redis disabled, Idempotency-Key headers will be ignored")
		return nil
	}
	rdb, err := cache.OpenRedis(context.Background(), cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)
	return rdb
}

func initializeServices(dbPool *pgxpool.Pool, pub event.EventPublisher, defaults loan.Settings, logger *slog.Logger) (api.Services, *postgres.LoanRepository) {
	logger.Info("Initializing application components...")
	loanRepo := postgres.NewLoanRepository(dbPool, logger)
	customerRepo := postgres.NewCustomerRepository(dbPool, logger)
	settingsRepo := postgres.NewSettingsRepository(dbPool, logger)

	customerService := customer.NewCustomerService(customerRepo, pub, logger)
	settingsService := loan.NewSettingsService(settingsRepo, defaults, logger)
	loanService := loan.NewLoanService(loanRepo, customerService, settingsService, pub, logger)

	return api.Services{
		Loans:     loanService,
		Customers: customerService,
		Settings:  settingsService,
	}, loanRepo
}

// settingsFromConfig turns the configured defaults into loan settings. They
// apply until an admin saves settings of their own.
func settingsFromConfig(cfg config.LoanConfig) (loan.Settings, error) {
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"minAmount", cfg.MinAmount, new(decimal.Decimal)},
		{"maxAmount", cfg.MaxAmount, new(decimal.Decimal)},
		{"annualInterestRate", cfg.AnnualInterestRate, new(decimal.Decimal)},
		{"annualPenaltyRate", cfg.AnnualPenaltyRate, new(decimal.Decimal)},
		{"maxPenaltyPercent", cfg.MaxPenaltyPercent, new(decimal.Decimal)},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return loan.Settings{}, fmt.Errorf("loan.%s: %w", f.name, err)
		}
		*f.dst = d
	}

	s := loan.Settings{
		Terms: loan.Terms{
			MinAmount:        *fields[0].dst,
			MaxAmount:        *fields[1].dst,
			AllowedDurations: append([]int(nil), cfg.AllowedDurations...),
		},
		Policy: loan.Policy{
			AnnualPenaltyRate: *fields[3].dst,
			GraceDays:         cfg.GraceDays,
			DefaultAfterDays:  cfg.DefaultAfterDays,
			MaxPenaltyPercent: *fields[4].dst,
		},
		AnnualInterestRate: *fields[2].dst,
	}
	if err := s.Validate(); err != nil {
		return loan.Settings{}, err
	}
	return s, nil
}

func startServer(cfg *config.Config, router http.Handler, logger *slog.Logger) (*http.Server, <-chan error, <-chan os.Signal) {
	logger.Info("Setting up HTTP server...", "port", cfg.Server.Port)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("Server listening on port %d", cfg.Server.Port))
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			serverErrors <- err
		} else {
			logger.Info("Server closed gracefully.")
			serverErrors <- nil
		}
	}()
	return srv, serverErrors, shutdownChan
}

// startMetricsServer exposes Prometheus metrics on a dedicated port so
// scrapers bypass auth and rate limiting. It returns nil when the metrics port
// is unset or shared with the API.
func startMetricsServer(cfg *config.Config, logger *slog.Logger) *http.Server {
	if cfg.Metrics.Port <= 0 || cfg.Metrics.Port == cfg.Server.Port {
		return nil
	}
	path := cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	go func() {
		logger.Info("Metrics server listening", "port", cfg.Metrics.Port, "path", path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", "error", err)
		}
	}()
	return srv
}

func handleShutdown(srv, metricsSrv *http.Server, cronScheduler *cron.Cron, shutdownChan <-chan os.Signal, serverErrors <-chan error, logger *slog.Logger) {
	logger.Info("Shutdown handler started. Waiting for signal or server error...")

	var triggerReason string
	select {
	case sig := <-shutdownChan:
		triggerReason = "signal: " + sig.String()
		logger.Info("Shutdown signal received.", "signal", sig.String())
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server exited unexpectedly before signal", "error", err)
			os.Exit(1)
		}
		triggerReason = "server exited"
		logger.Info("Server goroutine finished before signal.", "error", err)
	}

	logger.Info("Starting graceful shutdown...", "trigger", triggerReason)

	logger.Info("Stopping cron scheduler...")
	cronCtx := cronScheduler.Stop()
	select {
	case <-cronCtx.Done():
		logger.Info("Cron scheduler stopped gracefully.")
	case <-time.After(15 * time.Second):
		logger.Warn("Cron scheduler shutdown timed out.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", "error", err)
		if err := srv.Close(); err != nil {
			logger.Error("HTTP server forced close failed", "error", err)
		}
	} else {
		logger.Info("HTTP server gracefully stopped.")
	}

	logger.Info("Waiting for server goroutine to confirm exit...")
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Server goroutine exited with unexpected error after shutdown", "error", err)
		} else {
			logger.Info("Server goroutine confirmed exit.")
		}
	case <-time.After(5 * time.Second):
		logger.Warn("Timed out waiting for server goroutine confirmation.")
	}

	logger.Info("Application shutdown process complete.")
}

func startBatchJobs(cfg *config.Config, logger *slog.Logger, sweepJob *batch.OverdueSweepJob) *cron.Cron {
	logger.Info("Initializing batch job scheduler...")
	c := cron.New()

	scheduleSpec := cfg.Batch.OverdueSweepSchedule
	if scheduleSpec == "" {
		scheduleSpec = "0 1 * * *"
		logger.Warn("Overdue sweep schedule not configured, using default", "schedule", scheduleSpec)
	}
	jobTimeout := cfg.Batch.OverdueSweepTimeout
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}

	jobID, err := c.AddJob(scheduleSpec, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		jobLogger := logger.With("job_name", "OverdueSweep")
		jobLogger.Info("Cron triggered: Running overdue sweep job.")

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if runErr := sweepJob.Run(ctx); runErr != nil {
			jobLogger.Error("Overdue sweep job finished with error", slog.Any("error", runErr))
		} else {
			jobLogger.Info("Overdue sweep job finished successfully.")
		}
	})))
	if err != nil {
		logger.Error("Failed to schedule overdue sweep job", "schedule", scheduleSpec, slog.Any("error", err))
	} else {
		logger.Info("Scheduled overdue sweep job", "schedule", scheduleSpec, "job_id", jobID)
	}

	c.Start()
	logger.Info("Cron scheduler started.")
	return c
}
