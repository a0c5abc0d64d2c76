// Package app assembles the reconciler from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-payment-reconciler/internal/aws"
	"github.com/imrishuroy/go-payment-reconciler/internal/config"
	"github.com/imrishuroy/go-payment-reconciler/internal/coordinator"
	"github.com/imrishuroy/go-payment-reconciler/internal/ledger"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
	"github.com/imrishuroy/go-payment-reconciler/internal/payments"
	"github.com/imrishuroy/go-payment-reconciler/internal/source"
)

// ServiceName tags logs, traces and metrics.
const ServiceName = "payment-reconciler"

// PushJob is the Pushgateway job name.
const PushJob = "payment_reconciler"

// AWSLoader returns AWS service clients.
type AWSLoader func(ctx context.Context) (*aws.Clients, error)

// Options overrides how external resources are reached.
type Options struct {
	// Opener opens database handles. sql.Open when nil.
	Opener source.Opener
	// AWS loads AWS clients. aws.NewClients when nil. Only called when a
	// configured feature needs AWS.
	AWS AWSLoader
	// Metrics receives run metrics. An isolated registry when nil.
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// awsOnce loads AWS clients at most once.
type awsOnce struct {
	load    AWSLoader
	clients *aws.Clients
	err     error
	done    bool
}

func newAWSOnce(load AWSLoader) *awsOnce {
	if load == nil {
		load = aws.NewClients
	}
	return &awsOnce{load: load}
}

func (a *awsOnce) get(ctx context.Context) (*aws.Clients, error) {
	if !a.done {
		a.clients, a.err = a.load(ctx)
		a.done = true
	}
	return a.clients, a.err
}

// OpenStore builds the configured ledger backend.
func OpenStore(ctx context.Context, l config.Ledger, load AWSLoader, log zerolog.Logger) (ledger.Store, error) {
	return openStore(ctx, l, newAWSOnce(load), log)
}

func openStore(ctx context.Context, l config.Ledger, a *awsOnce, log zerolog.Logger) (ledger.Store, error) {
	switch l.Backend {
	case config.BackendCSV:
		return ledger.NewCSVStore(l.Path, log), nil
	case config.BackendDynamoDB:
		clients, err := a.get(ctx)
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		return ledger.NewDynamoStore(clients.Ledger, l.Table, log), nil
	}
	return nil, fmt.Errorf("unsupported ledger backend %q", l.Backend)
}

// Reconciler is a fully wired coordinator plus the resources it holds.
type Reconciler struct {
	Coordinator *coordinator.Coordinator
	Store       ledger.Store
	Metrics     *metrics.Metrics
	closers     []io.Closer
}

// Close releases the database handles.
func (r *Reconciler) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

func dbConfig(db config.DB) (source.DBConfig, error) {
	dialect, err := source.ParseDialect(db.Driver)
	if err != nil {
		return source.DBConfig{}, err
	}
	return source.DBConfig{
		Driver:   dialect,
		Host:     db.Host,
		Port:     db.Port,
		Name:     db.Name,
		User:     db.User,
		Password: db.Password,
	}, nil
}

// Build connects to both databases and wires the coordinator, its executor
// and the configured reporters.
func Build(ctx context.Context, cfg config.Config, opts Options) (*Reconciler, error) {
	log := opts.Logger
	m := opts.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	a := newAWSOnce(opts.AWS)

	store, err := openStore(ctx, cfg.Ledger(), a, log)
	if err != nil {
		return nil, err
	}
	r := &Reconciler{Store: store, Metrics: m}

	orderCfg, err := dbConfig(cfg.OrderDB)
	if err != nil {
		return nil, fmt.Errorf("order db: %w", err)
	}
	paymentCfg, err := dbConfig(cfg.PaymentDB)
	if err != nil {
		return nil, fmt.Errorf("payment db: %w", err)
	}

	orderDB, err := source.Open(ctx, orderCfg, opts.Opener)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, orderDB)

	paymentDB, err := source.Open(ctx, paymentCfg, opts.Opener)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.closers = append(r.closers, paymentDB)

	reporters, err := buildReporters(ctx, cfg, a, m, log)
	if err != nil {
		r.Close()
		return nil, err
	}

	client := payments.NewClient(payments.ClientConfig{
		BaseURL:  cfg.APIURL,
		Login:    cfg.APILogin,
		Password: cfg.APIPassword,
		Token:    cfg.APIToken,
		Timeout:  cfg.APITimeout,
	}, log)

	from, to := cfg.Window()
	r.Coordinator = coordinator.New(coordinator.Params{
		Orders: source.NewOrderQuery(orderDB, orderCfg.Driver, source.OrderQueryOptions{
			MinPaymentRecords: cfg.MinPaymentRecords,
			QueryTimeout:      cfg.QueryTimeout,
		}, log),
		Payments: source.NewPaymentQuery(paymentDB, paymentCfg.Driver, source.PaymentQueryOptions{
			BatchSize:    cfg.BatchSize,
			QueryTimeout: cfg.QueryTimeout,
		}, log),
		Store:     store,
		Executor:  payments.NewExecutor(client, store, m, log),
		Window:    source.DateRange{From: from, To: to},
		Reporters: reporters,
		Metrics:   m,
		Logger:    log,
	})
	return r, nil
}

func buildReporters(ctx context.Context, cfg config.Config, a *awsOnce, m *metrics.Metrics, log zerolog.Logger) ([]coordinator.Reporter, error) {
	var out []coordinator.Reporter
	if cfg.AlertQueueURL != "" {
		clients, err := a.get(ctx)
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		out = append(out, NewAlertReporter(aws.NewPublisher(clients.Alerts, cfg.AlertQueueURL), log))
	}
	if cfg.CloudWatchNamespace != "" {
		clients, err := a.get(ctx)
		if err != nil {
			return nil, fmt.Errorf("init aws clients: %w", err)
		}
		out = append(out, NewCloudWatchReporter(aws.NewMetricsPublisher(clients.RunMetrics, cfg.CloudWatchNamespace), cfg.LedgerBackend))
	}
	if cfg.PushgatewayURL != "" {
		out = append(out, NewPushReporter(m, cfg.PushgatewayURL, PushJob))
	}
	return out, nil
}
