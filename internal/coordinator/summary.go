package coordinator

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
	"github.com/imrishuroy/go-payment-reconciler/internal/source"
)

// Failure is one order whose cancellation failed in this run.
type Failure struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Detail    string `json:"error_message"`
}

// Summary describes one reconciliation run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Window     string    `json:"window"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Candidates  int `json:"candidates"`
	Registered  int `json:"registered"`
	Outstanding int `json:"outstanding"`

	Attempted           int `json:"attempted"`
	Succeeded           int `json:"succeeded"`
	Failed              int `json:"failed"`
	NoAction            int `json:"no_action_needed"`
	LedgerWriteFailures int `json:"ledger_write_failures"`

	// Ledger counts statuses across the candidate set after the run.
	Ledger   ledger.Summary `json:"ledger"`
	Failures []Failure      `json:"failures,omitempty"`
	// SkippedPayments are extra uncanceled payments of multi-payment orders.
	// Only one payment per order is canceled; these stay open.
	SkippedPayments []source.SkippedPayment `json:"skipped_payments,omitempty"`

	Interrupted bool   `json:"interrupted,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ExitCode is 1 when an order failed in this run, else 0.
func (s Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// Result classifies the run for metrics and alerts.
func (s Summary) Result() string {
	switch {
	case s.Interrupted:
		return metrics.RunInterrupted
	case s.Error != "":
		return metrics.RunError
	case s.Failed > 0:
		return metrics.RunFailures
	}
	return metrics.RunCompleted
}

// NeedsAttention reports whether an operator should look at the run.
func (s Summary) NeedsAttention() bool {
	return s.Failed > 0 || s.Error != "" || len(s.SkippedPayments) > 0
}

// Duration is the run's wall time.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Log writes the end-of-run summary.
func (s Summary) Log(log zerolog.Logger) {
	ev := log.Info()
	if s.NeedsAttention() {
		ev = log.Warn()
	}
	ev.Str("run_id", s.RunID).
		Str("window", s.Window).
		Dur("duration", s.Duration()).
		Int("candidates", s.Candidates).
		Int("outstanding", s.Outstanding).
		Int("attempted", s.Attempted).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("no_action_needed", s.NoAction).
		Int("ledger_write_failures", s.LedgerWriteFailures).
		Int("skipped_payments", len(s.SkippedPayments)).
		Int("ledger_success", s.Ledger.Success).
		Int("ledger_failed", s.Ledger.Failed).
		Int("ledger_no_action_needed", s.Ledger.NoActionNeeded).
		Int("ledger_fetched", s.Ledger.Fetched).
		Str("result", s.Result()).
		Str("error", s.Error).
		Msg("reconciliation summary")

	for _, f := range s.Failures {
		log.Warn().
			Str("run_id", s.RunID).
			Str("order_id", f.OrderID).
			Str("payment_id", f.PaymentID).
			Str("error_message", f.Detail).
			Msg("cancellation failed")
	}
	for _, sp := range s.SkippedPayments {
		log.Warn().
			Str("run_id", s.RunID).
			Str("order_id", sp.OrderID).
			Str("payment_id", sp.PaymentID).
			Str("chosen_payment_id", sp.ChosenID).
			Msg("uncanceled payment left open")
	}
}
