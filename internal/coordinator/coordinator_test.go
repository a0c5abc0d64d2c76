package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
	"github.com/imrishuroy/go-payment-reconciler/internal/payments"
	"github.com/imrishuroy/go-payment-reconciler/internal/source"
)

type mockOrders struct{ mock.Mock }

func (m *mockOrders) FetchCanceledOrders(ctx context.Context, window source.DateRange) ([]string, error) {
	args := m.Called(ctx, window)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) FindPaymentsRequiringCancellation(ctx context.Context, orderIDs []string) (source.Matches, error) {
	args := m.Called(ctx, orderIDs)
	out, _ := args.Get(0).(source.Matches)
	return out, args.Error(1)
}

func byOrder(m map[string]string) source.Matches {
	return source.Matches{ByOrder: m}
}

type captureReporter struct{ got []Summary }

func (r *captureReporter) Report(_ context.Context, s Summary) error {
	r.got = append(r.got, s)
	return nil
}

// paymentAPI is a fake cancel endpoint replying with the given status per payment id.
type paymentAPI struct {
	mu     sync.Mutex
	status map[string]int
	calls  []string
}

func (a *paymentAPI) server(t *testing.T) *httptest.Server {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/payments/:id/cancel", func(c *gin.Context) {
		a.mu.Lock()
		defer a.mu.Unlock()
		id := c.Param("id")
		a.calls = append(a.calls, id)
		code, ok := a.status[id]
		if !ok {
			code = http.StatusOK
		}
		if code == http.StatusOK {
			c.JSON(code, gin.H{"status": "canceled"})
			return
		}
		c.JSON(code, gin.H{"error": "internal error"})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	store    *ledger.CSVStore
	orders   *mockOrders
	payments *mockPayments
	api      *paymentAPI
	reporter *captureReporter
	metrics  *metrics.Metrics
	coord    *Coordinator
}

func newHarness(t *testing.T, apiStatus map[string]int) *harness {
	t.Helper()
	h := &harness{
		store:    ledger.NewCSVStore(filepath.Join(t.TempDir(), "progress.csv"), zerolog.Nop()),
		orders:   &mockOrders{},
		payments: &mockPayments{},
		api:      &paymentAPI{status: apiStatus},
		reporter: &captureReporter{},
		metrics:  metrics.New(nil),
	}
	srv := h.api.server(t)
	client := payments.NewClient(payments.ClientConfig{BaseURL: srv.URL, Login: "u", Password: "p"}, zerolog.Nop())
	h.coord = New(Params{
		Orders:    h.orders,
		Payments:  h.payments,
		Store:     h.store,
		Executor:  payments.NewExecutor(client, h.store, h.metrics, zerolog.Nop()),
		Reporters: []Reporter{h.reporter},
		Metrics:   h.metrics,
		Logger:    zerolog.Nop(),
	})
	return h
}

func (h *harness) load(t *testing.T) map[string]ledger.Record {
	t.Helper()
	records, err := h.store.LoadAll(context.Background())
	require.NoError(t, err)
	return records
}

func TestRun_EmptyLedgerSuccess(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.On("FetchCanceledOrders", mock.Anything, source.DateRange{}).Return([]string{"A", "B", "C"}, nil)
	h.payments.On("FindPaymentsRequiringCancellation", mock.Anything, []string{"A", "B", "C"}).
		Return(byOrder(map[string]string{"A": "p1"}), nil)

	sum, err := h.coord.Run(context.Background())
	require.NoError(t, err)

	records := h.load(t)
	assert.Equal(t, ledger.StatusSuccess, records["A"].Status)
	assert.Equal(t, "p1", records["A"].PaymentID)
	assert.Equal(t, ledger.StatusNoActionNeeded, records["B"].Status)
	assert.Equal(t, ledger.StatusNoActionNeeded, records["C"].Status)

	assert.Equal(t, 0, sum.ExitCode())
	assert.Equal(t, 1, sum.Attempted)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, sum.NoAction)
	assert.Equal(t, ledger.Summary{Total: 3, Success: 1, NoActionNeeded: 2}, sum.Ledger)
	assert.NotEmpty(t, sum.RunID)
	require.Len(t, h.reporter.got, 1)
	assert.Equal(t, sum.RunID, h.reporter.got[0].RunID)
}

func TestRun_SkippedPaymentsAreReported(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.On("FetchCanceledOrders", mock.Anything, mock.Anything).Return([]string{"A", "B"}, nil)
	skipped := []source.SkippedPayment{{OrderID: "A", PaymentID: "p0", ChosenID: "p1"}}
	h.payments.On("FindPaymentsRequiringCancellation", mock.Anything, []string{"A", "B"}).
		Return(source.Matches{ByOrder: map[string]string{"A": "p1"}, Skipped: skipped}, nil)

	sum, err := h.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"p1"}, h.api.calls, "only the chosen payment is canceled")
	assert.Equal(t, skipped, sum.SkippedPayments)
	assert.True(t, sum.NeedsAttention())
	assert.Equal(t, 0, sum.ExitCode())
	assert.Equal(t, metrics.RunCompleted, sum.Result())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SkippedPayments))
	require.Len(t, h.reporter.got, 1)
	assert.Equal(t, skipped, h.reporter.got[0].SkippedPayments)
}

func TestRun_CancelFailureExitsOne(t *testing.T) {
	h := newHarness(t, map[string]int{"p1": http.StatusInternalServerError})
	h.orders.On("FetchCanceledOrders", mock.Anything, mock.Anything).Return([]string{"A", "B", "C"}, nil)
	h.payments.On("FindPaymentsRequiringCancellation", mock.Anything, mock.Anything).
		Return(byOrder(map[string]string{"A": "p1"}), nil)

	sum, err := h.coord.Run(context.Background())
	require.NoError(t, err)

	rec := h.load(t)["A"]
	assert.Equal(t, ledger.StatusFailed, rec.Status)
	assert.Equal(t, "p1", rec.PaymentID)
	assert.True(t, strings.HasPrefix(rec.ErrorDetail, "API returned status 500"), rec.ErrorDetail)

	assert.Equal(t, 1, sum.ExitCode())
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, Failure{OrderID: "A", PaymentID: "p1", Detail: rec.ErrorDetail}, sum.Failures[0])
}

func TestRun_ResumesOnlyOutstandingOrders(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.Upsert(ctx, "A", ledger.StatusSuccess, "p0", ""))
	require.NoError(t, h.store.Upsert(ctx, "B", ledger.StatusFetched, "", ""))
	before := h.load(t)["A"]

	h.orders.On("FetchCanceledOrders", mock.Anything, mock.Anything).Return([]string{"A", "B", "D"}, nil)
	h.payments.On("FindPaymentsRequiringCancellation", mock.Anything, []string{"B", "D"}).
		Return(byOrder(map[string]string{"D": "p4"}), nil)

	sum, err := h.coord.Run(ctx)
	require.NoError(t, err)
	h.payments.AssertExpectations(t)

	records := h.load(t)
	assert.Equal(t, before, records["A"], "terminal record must be untouched")
	assert.Equal(t, ledger.StatusNoActionNeeded, records["B"].Status)
	assert.Equal(t, ledger.StatusSuccess, records["D"].Status)
	assert.Equal(t, []string{"p4"}, h.api.calls)
	assert.Equal(t, 2, sum.Outstanding)
	assert.Equal(t, 1, sum.Registered)
}

func TestRun_IdempotentRerun(t *testing.T) {
	h := newHarness(t, map[string]int{"p2": http.StatusBadGateway})
	h.orders.On("FetchCanceledOrders", mock.Anything, mock.Anything).Return([]string{"A", "B", "C"}, nil)
	h.payments.On("FindPaymentsRequiringCancellation", mock.Anything, []string{"A", "B", "C"}).
		Return(byOrder(map[string]string{"A": "p1", "B": "p2"}), nil).Once()

	_, err := h.coord.Run(context.Background())
	require.NoError(t, err)
	first := h.load(t)

	sum, err := h.coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, h.load(t))
	assert.Equal(t, []string{"p1", "p2"}, h.api.calls, "no duplicate cancellation attempts")
	assert.Equal(t, 0, sum.Outstanding)
	assert.Equal(t, 0, sum.ExitCode(), "prior-run failures do not fail a later run")
	assert.Equal(t, 1, sum.Ledger.Failed)
	h.payments.AssertNumberOfCalls(t, "FindPaymentsRequiringCancellation", 1)
}

type cancelingExecutor struct {
	inner  Executor
	cancel context.CancelFunc
	calls  int
}

func (e *cancelingExecutor) Cancel(ctx context.Context, orderID, paymentID string) payments.Result {
	e.calls++
	e.cancel()
	return e.inner.Cancel(ctx, orderID, paymentID)
}

func TestRun_InterruptFinishesInFlightOrderAndStops(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.On("FetchCanceledOrders", mock.Anything, mock.Anything).Return([]string{"A", "B", "C"}, nil)
	h.payments.On("FindPaymentsRequiringCancellation", mock.Anything, mock.Anything).
		Return(byOrder(map[string]string{"A": "p1", "B": "p2", "C": "p3"}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &cancelingExecutor{inner: h.coord.executor, cancel: cancel}
	h.coord.executor = exec

	sum, err := h.coord.Run(ctx)
	require.ErrorIs(t, err, ErrInterrupted)
	assert.True(t, sum.Interrupted)
	assert.Equal(t, 1, exec.calls)

	records := h.load(t)
	assert.Equal(t, ledger.StatusSuccess, records["A"].Status, "in-flight order is recorded")
	assert.Equal(t, ledger.StatusFetched, records["B"].Status)
	assert.Equal(t, ledger.StatusFetched, records["C"].Status)
	assert.Equal(t, []string{"A", "B", "C"}[1:], ledger.Outstanding([]string{"A", "B", "C"}, records))
}

func TestRun_FetchErrorIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	boom := errors.New("order db down")
	h.orders.On("FetchCanceledOrders", mock.Anything, mock.Anything).Return(nil, boom)

	sum, err := h.coord.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, sum.Error, "order db down")
	assert.Empty(t, h.load(t))
	require.Len(t, h.reporter.got, 1)
	h.payments.AssertNotCalled(t, "FindPaymentsRequiringCancellation", mock.Anything, mock.Anything)
}

func TestRun_PaymentLookupErrorIsFatalAndKeepsRegistration(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.On("FetchCanceledOrders", mock.Anything, mock.Anything).Return([]string{"A"}, nil)
	h.payments.On("FindPaymentsRequiringCancellation", mock.Anything, mock.Anything).
		Return(nil, errors.New("payment db down"))

	_, err := h.coord.Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, ledger.StatusFetched, h.load(t)["A"].Status)
}

func TestRun_NoCandidates(t *testing.T) {
	h := newHarness(t, nil)
	h.orders.On("FetchCanceledOrders", mock.Anything, mock.Anything).Return(nil, nil)

	sum, err := h.coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Candidates)
	assert.Equal(t, ledger.Summary{}, sum.Ledger)
	h.payments.AssertNotCalled(t, "FindPaymentsRequiringCancellation", mock.Anything, mock.Anything)
}

func TestSummaryResultAndExitCode(t *testing.T) {
	tests := []struct {
		name   string
		sum    Summary
		result string
		code   int
	}{
		{"clean", Summary{Succeeded: 2}, metrics.RunCompleted, 0},
		{"failures", Summary{Failed: 1}, metrics.RunFailures, 1},
		{"error", Summary{Error: "boom"}, metrics.RunError, 0},
		{"interrupted wins", Summary{Interrupted: true, Failed: 1}, metrics.RunInterrupted, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.result, tt.sum.Result())
			assert.Equal(t, tt.code, tt.sum.ExitCode())
		})
	}
}
