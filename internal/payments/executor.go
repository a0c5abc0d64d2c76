package payments

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
)

var tracer = otel.Tracer("github.com/imrishuroy/go-payment-reconciler/internal/payments")

// Result is what the executor reports back for one order.
type Result struct {
	Outcome
	// LedgerErr is set when the outcome could not be persisted.
	LedgerErr error
}

// Executor cancels a payment and records the outcome in the ledger right away.
type Executor struct {
	client  Canceler
	store   ledger.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewExecutor wires an Executor. m may be nil.
func NewExecutor(client Canceler, store ledger.Store, m *metrics.Metrics, log zerolog.Logger) *Executor {
	return &Executor{
		client:  client,
		store:   store,
		metrics: m,
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// Cancel runs one attempt for orderID. The remote call and the ledger write
// ignore cancellation of ctx so a started attempt is always recorded.
// A failed ledger write is logged and counted, never returned as fatal.
func (e *Executor) Cancel(ctx context.Context, orderID, paymentID string) Result {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "payments.Cancel", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("payment_id", paymentID),
	))
	defer span.End()

	start := time.Now()
	out := e.client.Cancel(ctx, paymentID)
	e.metrics.ObserveCancelLatency(time.Since(start))

	status, detail, outcome := ledger.StatusSuccess, "", metrics.OutcomeSuccess
	if !out.Success {
		status, detail, outcome = ledger.StatusFailed, out.Detail, metrics.OutcomeFailed
		span.SetStatus(codes.Error, detail)
	}
	_ = e.metrics.IncOutcome(outcome)

	res := Result{Outcome: out}
	if err := e.store.Upsert(ctx, orderID, status, paymentID, detail); err != nil {
		e.metrics.IncLedgerWriteFailures()
		span.RecordError(err)
		e.log.Error().Err(err).
			Str("order_id", orderID).
			Str("payment_id", paymentID).
			Str("status", status.String()).
			Msg("ledger write failed, outcome not persisted")
		res.LedgerErr = err
	}
	return res
}
