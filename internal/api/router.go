package api

import (
	"log/slog"
	"net/http"
	"time"

	_ "trucash/docs"
	"trucash/internal/api/handler"
	mw "trucash/internal/api/middleware"
	"trucash/internal/config"
	"trucash/internal/domain/customer"
	"trucash/internal/domain/loan"
	"trucash/internal/pkg/identity"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/traceid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

type Services struct {
	Loans     loan.LoanService
	Customers customer.CustomerService
	Settings  loan.SettingsService
}

// Middlewares holds the stateful middlewares built by the caller. Either may be nil.
type Middlewares struct {
	RateLimiter *mw.RateLimiterMiddleware
	Idempotency *mw.Idempotency
}

var (
	staff     = []identity.Role{identity.RoleAgent, identity.RoleAdmin, identity.RoleSudo}
	adminOnly = []identity.Role{identity.RoleAdmin, identity.RoleSudo}
)

func SetupRouter(svc Services, mws Middlewares, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	router := chi.NewRouter()

	setupMiddleware(router, mws, cfg, logger)
	setupMetricsEndpoint(router, cfg, logger)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	setupSwaggerEndpoint(router, logger)

	authHandler := handler.NewAuthHandler(cfg.Server.Auth, logger)
	router.Post("/auth/token", authHandler.GenerateBearerToken)

	router.Group(func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.Server.Auth, logger))
		setupCustomerRoutes(r, svc.Customers, logger)
		setupLoanRoutes(r, svc.Loans, mws.Idempotency, logger)
		setupReportRoutes(r, svc.Loans, logger)
		setupSettingsRoutes(r, svc.Settings, logger)
	})

	return router
}

func setupMiddleware(router *chi.Mux, mws Middlewares, cfg *config.Config, logger *slog.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(traceid.Middleware)
	router.Use(mw.StructuredLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(middleware.Timeout(requestTimeout(cfg)))
	if mws.RateLimiter != nil {
		router.Use(mws.RateLimiter.Middleware)
	}
	router.Use(mw.MetricsMiddleware())
}

func requestTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.WriteTimeout > 0 {
		return cfg.Server.WriteTimeout
	}
	return 60 * time.Second
}

func setupMetricsEndpoint(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	logger.Info("Setting up Prometheus metrics endpoint", "path", metricsPath)
	router.Handle(metricsPath, promhttp.Handler())
}

func setupSwaggerEndpoint(router *chi.Mux, logger *slog.Logger) {
	logger.Info("Setting up Swagger UI endpoint", "path", "/swagger/")
	router.Get("/swagger/*", httpSwagger.WrapHandler)
	router.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
	})
}

func setupCustomerRoutes(r chi.Router, svc customer.CustomerService, logger *slog.Logger) {
	h := handler.NewCustomerHandler(svc, logger)

	r.Route("/customers", func(r chi.Router) {
		r.With(mw.RequireRole(staff...)).Post("/", h.CreateCustomer)
		r.With(mw.RequireRole(staff...)).Get("/", h.ListCustomers)
		r.Route("/{customerID}", func(r chi.Router) {
			r.Get("/", h.GetCustomer)
			r.Put("/document", h.AttachDocument)
			r.With(mw.RequireRole(adminOnly...)).Delete("/", h.DeactivateCustomer)
			r.With(mw.RequireRole(adminOnly...)).Put("/reactivate", h.ReactivateCustomer)
		})
	})
}

func setupLoanRoutes(r chi.Router, svc loan.LoanService, idem *mw.Idempotency, logger *slog.Logger) {
	h := handler.NewLoanHandler(svc, logger)

	r.Route("/loans", func(r chi.Router) {
		r.With(idem.Middleware).Post("/", h.ApplyLoan)
		r.Get("/", h.ListLoans)
		r.Route("/{loanID}", func(r chi.Router) {
			r.Get("/", h.GetLoan)
			r.Get("/penalty", h.GetPenalty)

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(adminOnly...))
				r.Post("/approve", h.ApproveLoan)
				r.Post("/reject", h.RejectLoan)
				r.Post("/disburse", h.DisburseLoan)
				r.Post("/default", h.DefaultLoan)
				r.Post("/repayments/{repaymentID}/verify", h.VerifyRepayment)
			})

			r.With(idem.Middleware).Post("/repayments", h.SubmitRepayment)
			r.Get("/repayments", h.ListRepayments)
		})
	})
}

func setupReportRoutes(r chi.Router, svc loan.LoanService, logger *slog.Logger) {
	h := handler.NewReportHandler(svc, logger)
	r.With(mw.RequireRole(staff...)).Get("/reports/summary", h.Summary)
}

func setupSettingsRoutes(r chi.Router, svc loan.SettingsService, logger *slog.Logger) {
	h := handler.NewSettingsHandler(svc, logger)
	r.Route("/settings", func(r chi.Router) {
		r.Get("/loan-terms", h.GetLoanTerms)
		r.With(mw.RequireRole(adminOnly...)).Put("/loan-terms", h.UpdateLoanTerms)
	})
}
