package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Cancellation outcomes used as the "outcome" label.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeNoAction = "no_action_needed"
)

// Run results used as the "result" label.
const (
	RunCompleted   = "completed"
	RunFailures    = "failures"
	RunInterrupted = "interrupted"
	RunError       = "error"
)

var outcomeKinds = map[string]struct{}{
	OutcomeSuccess:  {},
	OutcomeFailed:   {},
	OutcomeNoAction: {},
}

// Metrics holds Prometheus metrics for reconciliation runs. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	OrdersFetched       prometheus.Counter
	Outcomes            *prometheus.CounterVec
	CancelLatency       prometheus.Histogram
	LedgerWriteFailures prometheus.Counter
	SkippedPayments     prometheus.Counter
	Runs                *prometheus.CounterVec
	gatherer            prometheus.Gatherer
}

// NewDefault registers metrics with the default Prometheus registry.
func NewDefault() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// New registers metrics with the provided registry. If registry is nil, a new
// isolated registry is created.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return newMetrics(registry, registry)
}

func newMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		OrdersFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_orders_fetched_total",
			Help: "Canceled orders returned by the order system.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_order_outcomes_total",
			Help: "Per-order reconciliation outcomes.",
		}, []string{"outcome"}),
		CancelLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconciler_cancel_latency_seconds",
			Help:    "Latency of remote payment cancellation calls.",
			Buckets: prometheus.DefBuckets,
		}),
		LedgerWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_write_failures_total",
			Help: "Ledger writes that failed after an outcome was known.",
		}),
		SkippedPayments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciler_skipped_payments_total",
			Help: "Extra uncanceled payments left open on multi-payment orders.",
		}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciler_runs_total",
			Help: "Reconciliation runs by result.",
		}, []string{"result"}),
		gatherer: gatherer,
	}

	registerer.MustRegister(
		m.OrdersFetched,
		m.Outcomes,
		m.CancelLatency,
		m.LedgerWriteFailures,
		m.SkippedPayments,
		m.Runs,
	)

	return m
}

// Handler returns an HTTP handler that exposes metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Push sends the current values to a Prometheus Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if m == nil || gatewayURL == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(m.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// AddOrdersFetched adds n fetched orders.
func (m *Metrics) AddOrdersFetched(n int) {
	if m == nil {
		return
	}
	m.OrdersFetched.Add(float64(n))
}

// IncOutcome increments the counter for an order outcome.
func (m *Metrics) IncOutcome(outcome string) error {
	if m == nil {
		return nil
	}
	if _, ok := outcomeKinds[outcome]; !ok {
		return fmt.Errorf("unknown outcome: %s", outcome)
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
	return nil
}

// ObserveCancelLatency records the duration of one remote call.
func (m *Metrics) ObserveCancelLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.CancelLatency.Observe(d.Seconds())
}

// IncLedgerWriteFailures increments the ledger write failure counter by 1.
func (m *Metrics) IncLedgerWriteFailures() {
	if m == nil {
		return
	}
	m.LedgerWriteFailures.Inc()
}

// AddSkippedPayments adds n payments left open on multi-payment orders.
func (m *Metrics) AddSkippedPayments(n int) {
	if m == nil {
		return
	}
	m.SkippedPayments.Add(float64(n))
}

// IncRun records a finished run.
func (m *Metrics) IncRun(result string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(result).Inc()
}
