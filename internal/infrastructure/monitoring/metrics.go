package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type BusinessMetrics struct {
	LoanTransitionsTotal *prometheus.CounterVec
	RepaymentsTotal      *prometheus.CounterVec
	SweepRunsTotal       *prometheus.CounterVec
	SweepLoansChanged    prometheus.Counter
}

var (
	HTTP = HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trucash_http_requests_total",
				Help: "Total number of HTTP requests received.",
			},
			[]string{"method", "path", "code"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trucash_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "code"},
		),
	}

	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trucash_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Business = BusinessMetrics{
		LoanTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trucash_loan_transitions_total",
				Help: "Loan status transitions, by source and target status.",
			},
			[]string{"from", "to"},
		),
		RepaymentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trucash_repayments_total",
				Help: "Repayment submissions and verifications, by outcome.",
			},
			[]string{"outcome"},
		),
		SweepRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trucash_overdue_sweep_runs_total",
				Help: "Overdue sweep job runs, by result.",
			},
			[]string{"result"},
		),
		SweepLoansChanged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "trucash_overdue_sweep_loans_changed_total",
				Help: "Loans whose status or accrued penalty changed during an overdue sweep.",
			},
		),
	}
)

func RecordHTTPRequest(method, path, code string, duration time.Duration) {
	HTTP.RequestsTotal.WithLabelValues(method, path, code).Inc()
	HTTP.RequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

func RecordLoanTransition(from, to string) {
	if from == "" {
		from = "none"
	}
	Business.LoanTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordRepayment(outcome string) {
	Business.RepaymentsTotal.WithLabelValues(outcome).Inc()
}

func RecordSweep(result string, changed int) {
	Business.SweepRunsTotal.WithLabelValues(result).Inc()
	Business.SweepLoansChanged.Add(float64(changed))
}
