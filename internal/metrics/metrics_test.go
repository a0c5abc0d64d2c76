package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.AddOrdersFetched(3)
	if err := m.IncOutcome(OutcomeSuccess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ObserveCancelLatency(250 * time.Millisecond)
	m.IncLedgerWriteFailures()
	m.AddSkippedPayments(2)
	m.IncRun(RunCompleted)

	if got := testutil.ToFloat64(m.OrdersFetched); got != 3 {
		t.Fatalf("expected orders fetched 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.Outcomes.WithLabelValues(OutcomeSuccess)); got != 1 {
		t.Fatalf("expected success outcome 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.LedgerWriteFailures); got != 1 {
		t.Fatalf("expected ledger write failures 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.SkippedPayments); got != 2 {
		t.Fatalf("expected skipped payments 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues(RunCompleted)); got != 1 {
		t.Fatalf("expected completed runs 1, got %v", got)
	}
	if got := testutil.CollectAndCount(m.CancelLatency); got != 1 {
		t.Fatalf("expected cancel latency collect count 1, got %v", got)
	}
}

func TestIncOutcomeInvalid(t *testing.T) {
	m := New(nil)
	if err := m.IncOutcome("exploded"); err == nil {
		t.Fatal("expected error for unknown outcome")
	}
	if got := testutil.CollectAndCount(m.Outcomes); got != 0 {
		t.Fatalf("expected no outcome series, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AddOrdersFetched(1)
	m.IncLedgerWriteFailures()
	m.AddSkippedPayments(1)
	m.ObserveCancelLatency(time.Second)
	m.IncRun(RunError)
	if err := m.IncOutcome(OutcomeFailed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Push(context.Background(), "http://unused", "job"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncLedgerWriteFailures()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ledger_write_failures_total") {
		t.Fatal("expected ledger_write_failures_total in response")
	}
}

func TestPushToGateway(t *testing.T) {
	var gotPath, gotBody string
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	m := New(prometheus.NewRegistry())
	m.IncRun(RunCompleted)
	if err := m.Push(context.Background(), gw.URL, "payment_reconciler"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if gotPath != "/metrics/job/payment_reconciler" {
		t.Fatalf("unexpected push path %q", gotPath)
	}
	if gotBody == "" {
		t.Fatal("expected a metrics payload")
	}
}
