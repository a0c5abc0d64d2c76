package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
	"github.com/imrishuroy/go-payment-reconciler/internal/config"
	"github.com/imrishuroy/go-payment-reconciler/internal/coordinator"
	"github.com/imrishuroy/go-payment-reconciler/internal/payments"
)

// ledgerWriteAllowance covers recording the outcome of the order in flight.
const ledgerWriteAllowance = 5 * time.Second

// deadlineMargin is kept free before the invocation deadline. It must cover
// one full cancellation call plus the ledger write that follows it, since the
// order in flight is finished after the run context is canceled.
func deadlineMargin(apiTimeout time.Duration) time.Duration {
	if apiTimeout <= 0 {
		apiTimeout = payments.DefaultTimeout
	}
	return apiTimeout + ledgerWriteAllowance
}

// Processor runs one reconciliation per scheduled event.
type Processor struct {
	cfg  config.Config
	opts app.Options
	log  zerolog.Logger
}

// NewProcessor creates a worker processor. opts.Logger is replaced by log.
func NewProcessor(cfg config.Config, opts app.Options, log zerolog.Logger) *Processor {
	opts.Logger = log
	return &Processor{cfg: cfg, opts: opts, log: log.With().Str("component", "worker").Logger()}
}

// Handle runs a reconciliation. Failed orders are reported in the result,
// not as an error, so the runtime does not retry the event; a fatal run
// error is returned.
func (p *Processor) Handle(ctx context.Context, ev events.CloudWatchEvent) (RunResult, error) {
	cfg, err := p.configFor(ev)
	if err != nil {
		return RunResult{}, err
	}

	if dl, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, dl.Add(-deadlineMargin(cfg.APITimeout)))
		defer cancel()
	}

	p.log.Info().Str("event_id", ev.ID).Str("source", ev.Source).Msg("scheduled reconciliation started")

	r, err := app.Build(ctx, cfg, p.opts)
	if err != nil {
		return RunResult{}, fmt.Errorf("build reconciler: %w", err)
	}
	defer func() {
		if err := r.Close(); err != nil {
			p.log.Warn().Err(err).Msg("close databases")
		}
	}()

	sum, err := r.Coordinator.Run(ctx)
	res := RunResult{
		RunID:       sum.RunID,
		Result:      sum.Result(),
		Candidates:  sum.Candidates,
		Attempted:   sum.Attempted,
		Succeeded:   sum.Succeeded,
		Failed:      sum.Failed,
		NoAction:    sum.NoAction,
		Interrupted: sum.Interrupted,
	}
	if err != nil && !errors.Is(err, coordinator.ErrInterrupted) {
		return res, err
	}
	return res, nil
}

// configFor applies the event's window override.
func (p *Processor) configFor(ev events.CloudWatchEvent) (config.Config, error) {
	cfg := p.cfg
	if len(ev.Detail) == 0 || string(ev.Detail) == "null" {
		return cfg, nil
	}
	var d ScheduledDetail
	if err := json.Unmarshal(ev.Detail, &d); err != nil {
		return cfg, fmt.Errorf("invalid event detail: %w", err)
	}
	if d.DateFrom == "" && d.DateTo == "" {
		return cfg, nil
	}
	cfg.DateFrom, cfg.DateTo = d.DateFrom, d.DateTo
	if err := config.Validate(cfg); err != nil {
		return cfg, fmt.Errorf("invalid event window: %w", err)
	}
	return cfg, nil
}
