package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-payment-reconciler/internal/app"
	"github.com/imrishuroy/go-payment-reconciler/internal/config"
	"github.com/imrishuroy/go-payment-reconciler/internal/coordinator"
	"github.com/imrishuroy/go-payment-reconciler/internal/logging"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
	"github.com/imrishuroy/go-payment-reconciler/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(c *cli) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation, or keep running on a cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context(), schedule)
		},
	}
	cmd.Flags().StringVar(&schedule, "cron", "", "cron expression (minute hour dom month dow) for scheduled runs")
	return cmd
}

func (c *cli) run(ctx context.Context, schedule string) error {
	cfg, err := config.Load(c.envFile)
	if err != nil {
		return err
	}

	log, closer, err := logging.NewWithWriter(c.out, cfg.LogLevel, cfg.LogFile, app.ServiceName)
	if err != nil {
		return err
	}
	defer closer.Close()

	shutdown, err := tracing.Init(ctx, cfg.OTLPEndpoint, app.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	opts := c.opts
	opts.Logger = log
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}

	if schedule == "" {
		return runOnce(ctx, cfg, opts)
	}
	return runScheduled(ctx, cfg, opts, schedule, log)
}

// runOnce performs a single run. A run with failed orders returns an
// exitError with code 1.
func runOnce(ctx context.Context, cfg config.Config, opts app.Options) error {
	r, err := app.Build(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			opts.Logger.Warn().Err(err).Msg("close databases")
		}
	}()

	sum, err := r.Coordinator.Run(ctx)
	if err != nil {
		return err
	}
	if sum.ExitCode() != exitOK {
		return &exitError{code: sum.ExitCode(), err: fmt.Errorf("%d payment cancellation(s) failed", sum.Failed)}
	}
	return nil
}

// runScheduled runs once immediately and then on every tick of schedule
// until ctx is canceled. Overlapping ticks are skipped.
func runScheduled(ctx context.Context, cfg config.Config, opts app.Options, schedule string, log zerolog.Logger) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	tick := func() {
		if ctx.Err() != nil {
			return
		}
		err := runOnce(ctx, cfg, opts)
		var ee *exitError
		switch {
		case err == nil, errors.Is(err, coordinator.ErrInterrupted):
		case errors.As(err, &ee):
			log.Warn().Err(err).Msg("scheduled run finished with failures")
		default:
			log.Error().Err(err).Msg("scheduled run failed")
		}
	}

	// a fatal first run means the configuration or a source is broken
	if err := runOnce(ctx, cfg, opts); err != nil {
		var ee *exitError
		if !errors.As(err, &ee) {
			return err
		}
		log.Warn().Err(err).Msg("initial run finished with failures")
	}

	cr := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&log))),
	)
	cr.Schedule(sched, cron.FuncJob(tick))
	cr.Start()
	log.Info().Str("cron", schedule).Time("next", sched.Next(time.Now())).Msg("scheduler started")

	<-ctx.Done()
	<-cr.Stop().Done()
	log.Info().Msg("scheduler stopped")
	return nil
}
