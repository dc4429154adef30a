package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Config configures metric labels.
type Config struct {
	ServiceName string
	Environment string
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Metrics exposes application-level instruments.
type Metrics struct {
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	providerCalls      *prometheus.CounterVec
	providerDuration   *prometheus.HistogramVec
	reconcileRuns      *prometheus.CounterVec
	invoiceTransitions *prometheus.CounterVec
	paymentsRecorded   prometheus.Counter
	jobRuns            *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
}

func New(cfg Config) (*Metrics, error) {
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "seatledger"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{"service": serviceName, "env": environment}

	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatledger_http_requests_total",
			Help:        "HTTP requests by route and status code.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "seatledger_http_request_duration_seconds",
			Help:        "HTTP request latency by route.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatledger_provider_calls_total",
			Help:        "Subscription provider calls by operation and outcome.",
			ConstLabels: constLabels,
		}, []string{"provider", "operation", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "seatledger_provider_call_duration_seconds",
			Help:        "Subscription provider call latency.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"provider", "operation"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatledger_seat_reconcile_runs_total",
			Help:        "Seat reconciliation runs by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		invoiceTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatledger_invoice_transitions_total",
			Help:        "Invoice status transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		paymentsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "seatledger_invoice_payments_total",
			Help:        "Invoice payments recorded.",
			ConstLabels: constLabels,
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatledger_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "seatledger_scheduler_job_errors_total",
			Help:        "Scheduler job errors by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
	}

	collectors := []prometheus.Collector{
		m.httpRequests, m.httpDuration, m.providerCalls, m.providerDuration,
		m.reconcileRuns, m.invoiceTransitions, m.paymentsRecorded, m.jobRuns, m.jobErrors,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewNop returns instruments registered on a private registry, for tests.
func NewNop() *Metrics {
	m, _ := New(Config{Registerer: prometheus.NewRegistry()})
	return m
}

func (m *Metrics) ObserveProviderCall(provider, operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(provider, operation, outcome).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

func (m *Metrics) IncReconcile(outcome string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncInvoiceTransition(from, to string) {
	m.AddInvoiceTransitions(from, to, 1)
}

func (m *Metrics) AddInvoiceTransitions(from, to string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.invoiceTransitions.WithLabelValues(from, to).Add(float64(n))
}

func (m *Metrics) IncPayment() {
	if m == nil {
		return
	}
	m.paymentsRecorded.Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
