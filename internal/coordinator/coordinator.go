package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
	"github.com/imrishuroy/go-payment-reconciler/internal/logging"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
	"github.com/imrishuroy/go-payment-reconciler/internal/payments"
	"github.com/imrishuroy/go-payment-reconciler/internal/source"
)

// ErrInterrupted is returned when the run context was canceled before every
// outstanding order was processed. The ledger stays resumable.
var ErrInterrupted = errors.New("reconciliation interrupted")

const reportTimeout = 15 * time.Second

var tracer = otel.Tracer("github.com/imrishuroy/go-payment-reconciler/internal/coordinator")

// Executor cancels one order's payment and records the outcome.
type Executor interface {
	Cancel(ctx context.Context, orderID, paymentID string) payments.Result
}

// Reporter receives the summary of every finished run.
type Reporter interface {
	Report(ctx context.Context, s Summary) error
}

// Params groups the coordinator's dependencies.
type Params struct {
	Orders    source.OrderFetcher
	Payments  source.PaymentFinder
	Store     ledger.Store
	Executor  Executor
	Window    source.DateRange
	Reporters []Reporter
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Coordinator runs the fetch, diff and act pipeline.
type Coordinator struct {
	orders    source.OrderFetcher
	payments  source.PaymentFinder
	store     ledger.Store
	executor  Executor
	window    source.DateRange
	reporters []Reporter
	metrics   *metrics.Metrics
	log       zerolog.Logger
	nowFunc   func() time.Time
}

// New returns a Coordinator.
func New(p Params) *Coordinator {
	return &Coordinator{
		orders:    p.Orders,
		payments:  p.Payments,
		store:     p.Store,
		executor:  p.Executor,
		window:    p.Window,
		reporters: p.Reporters,
		metrics:   p.Metrics,
		log:       p.Logger.With().Str("component", "coordinator").Logger(),
		nowFunc:   time.Now,
	}
}

// Run performs one reconciliation run. Canceling ctx stops the loop between
// orders; the order in flight is finished and recorded first, and Run then
// returns ErrInterrupted with a partial summary.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	sum := Summary{
		RunID:     uuid.NewString(),
		Window:    c.window.String(),
		StartedAt: c.nowFunc().UTC(),
	}
	log := c.log.With().Str("run_id", sum.RunID).Logger()

	ctx, span := tracer.Start(ctx, "coordinator.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", sum.RunID), attribute.String("window", sum.Window))
	log = logging.WithTrace(ctx, log)

	log.Info().Str("window", sum.Window).Msg("reconciliation run started")

	candidates, err := c.run(ctx, log, &sum)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return c.finish(ctx, log, sum, candidates, err)
}

// run executes steps 1 to 4. The returned candidates are nil only when the
// order system could not be read.
func (c *Coordinator) run(ctx context.Context, log zerolog.Logger, sum *Summary) ([]string, error) {
	// Step 1: canceled orders from the order system
	candidates, err := c.orders.FetchCanceledOrders(ctx, c.window)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrInterrupted
		}
		return nil, fmt.Errorf("fetch canceled orders: %w", err)
	}
	if candidates == nil {
		candidates = []string{}
	}
	sum.Candidates = len(candidates)
	c.metrics.AddOrdersFetched(len(candidates))
	log.Info().Int("candidates", len(candidates)).Msg("step 1: fetched canceled orders")

	// Step 2: register new candidates without touching existing progress
	writeCtx := context.WithoutCancel(ctx)
	registered, err := c.store.BulkRegister(writeCtx, candidates, ledger.StatusFetched)
	if err != nil {
		sum.LedgerWriteFailures++
		c.metrics.IncLedgerWriteFailures()
		log.Error().Err(err).Msg("step 2: bulk register failed, continuing")
	}
	sum.Registered = registered

	// Step 3: outstanding set
	records, err := c.store.LoadAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return candidates, ErrInterrupted
		}
		return candidates, fmt.Errorf("load ledger: %w", err)
	}
	outstanding := ledger.Outstanding(candidates, records)
	sum.Outstanding = len(outstanding)
	log.Info().
		Int("registered", registered).
		Int("outstanding", len(outstanding)).
		Msg("step 3: computed outstanding orders")
	if len(outstanding) == 0 {
		return candidates, nil
	}

	// Step 4: resolve payments and act per order
	matches, err := c.payments.FindPaymentsRequiringCancellation(ctx, outstanding)
	if err != nil {
		if ctx.Err() != nil {
			return candidates, ErrInterrupted
		}
		return candidates, fmt.Errorf("find payments requiring cancellation: %w", err)
	}
	paymentsByOrder := matches.ByOrder
	sum.SkippedPayments = matches.Skipped
	c.metrics.AddSkippedPayments(len(matches.Skipped))
	log.Info().
		Int("payments", len(paymentsByOrder)).
		Int("skipped_payments", len(matches.Skipped)).
		Msg("step 4: resolved uncanceled payments")

	for i, orderID := range outstanding {
		if ctx.Err() != nil {
			log.Warn().Int("remaining", len(outstanding)-i).Msg("interrupted, stopping before next order")
			return candidates, ErrInterrupted
		}
		plog := log.With().Str("order_id", orderID).Int("n", i+1).Int("of", len(outstanding)).Logger()

		paymentID, ok := paymentsByOrder[orderID]
		if !ok {
			sum.NoAction++
			_ = c.metrics.IncOutcome(metrics.OutcomeNoAction)
			if err := c.store.Upsert(writeCtx, orderID, ledger.StatusNoActionNeeded, "", ""); err != nil {
				sum.LedgerWriteFailures++
				c.metrics.IncLedgerWriteFailures()
				plog.Error().Err(err).Msg("ledger write failed")
			}
			plog.Info().Msg("no uncanceled payment, nothing to do")
			continue
		}

		sum.Attempted++
		res := c.executor.Cancel(ctx, orderID, paymentID)
		if res.LedgerErr != nil {
			sum.LedgerWriteFailures++
		}
		if res.Success {
			sum.Succeeded++
			plog.Info().Str("payment_id", paymentID).Msg("payment canceled")
			continue
		}
		sum.Failed++
		sum.Failures = append(sum.Failures, Failure{OrderID: orderID, PaymentID: paymentID, Detail: res.Detail})
		plog.Warn().Str("payment_id", paymentID).Str("error_message", res.Detail).Msg("payment cancellation failed")
	}
	return candidates, nil
}

// finish reloads the ledger, fills the summary, and notifies reporters.
func (c *Coordinator) finish(ctx context.Context, log zerolog.Logger, sum Summary, candidates []string, runErr error) (Summary, error) {
	ctx = context.WithoutCancel(ctx)

	if candidates != nil {
		records, err := c.store.LoadAll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("reload ledger for summary")
		} else {
			sum.Ledger = ledger.Summarize(records, candidates)
		}
	}
	sum.FinishedAt = c.nowFunc().UTC()

	switch {
	case errors.Is(runErr, ErrInterrupted):
		sum.Interrupted = true
	case runErr != nil:
		sum.Error = runErr.Error()
	}
	c.metrics.IncRun(sum.Result())
	sum.Log(log)

	rctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	for _, r := range c.reporters {
		if err := r.Report(rctx, sum); err != nil {
			log.Error().Err(err).Msg("report run summary")
		}
	}
	return sum, runErr
}
