package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-payment-reconciler/internal/aws"
	"github.com/imrishuroy/go-payment-reconciler/internal/coordinator"
	"github.com/imrishuroy/go-payment-reconciler/internal/metrics"
)

// AlertReporter sends the run summary to an SQS queue when the run failed
// an order, hit a fatal error, or left extra payments of an order open.
type AlertReporter struct {
	publisher *aws.Publisher
	log       zerolog.Logger
}

// NewAlertReporter returns an AlertReporter.
func NewAlertReporter(p *aws.Publisher, log zerolog.Logger) *AlertReporter {
	return &AlertReporter{publisher: p, log: log.With().Str("component", "alerts").Logger()}
}

// Report implements coordinator.Reporter.
func (r *AlertReporter) Report(ctx context.Context, s coordinator.Summary) error {
	if !s.NeedsAttention() {
		return nil
	}
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	id, err := r.publisher.Send(ctx, string(body), map[string]string{
		"run_id":           s.RunID,
		"result":           s.Result(),
		"failed":           strconv.Itoa(s.Failed),
		"skipped_payments": strconv.Itoa(len(s.SkippedPayments)),
	})
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	r.log.Info().Str("run_id", s.RunID).Str("message_id", id).Msg("alert sent")
	return nil
}

// CloudWatchReporter publishes per-run counters.
type CloudWatchReporter struct {
	publisher *aws.MetricsPublisher
	backend   string
}

// NewCloudWatchReporter returns a CloudWatchReporter. backend is added as
// a dimension.
func NewCloudWatchReporter(p *aws.MetricsPublisher, backend string) *CloudWatchReporter {
	return &CloudWatchReporter{publisher: p, backend: backend}
}

// Report implements coordinator.Reporter.
func (r *CloudWatchReporter) Report(ctx context.Context, s coordinator.Summary) error {
	return r.publisher.Put(ctx,
		map[string]string{"Result": s.Result(), "Backend": r.backend},
		aws.Datum{Name: "Candidates", Value: float64(s.Candidates)},
		aws.Datum{Name: "Attempted", Value: float64(s.Attempted)},
		aws.Datum{Name: "Succeeded", Value: float64(s.Succeeded)},
		aws.Datum{Name: "Failed", Value: float64(s.Failed)},
		aws.Datum{Name: "NoActionNeeded", Value: float64(s.NoAction)},
		aws.Datum{Name: "LedgerWriteFailures", Value: float64(s.LedgerWriteFailures)},
		aws.Datum{Name: "SkippedPayments", Value: float64(len(s.SkippedPayments))},
		aws.Datum{Name: "Duration", Value: s.Duration().Seconds(), Unit: cwtypes.StandardUnitSeconds},
	)
}

// PushReporter pushes the Prometheus registry to a Pushgateway.
type PushReporter struct {
	metrics *metrics.Metrics
	url     string
	job     string
}

// NewPushReporter returns a PushReporter.
func NewPushReporter(m *metrics.Metrics, url, job string) *PushReporter {
	return &PushReporter{metrics: m, url: url, job: job}
}

// Report implements coordinator.Reporter.
func (r *PushReporter) Report(ctx context.Context, _ coordinator.Summary) error {
	return r.metrics.Push(ctx, r.url, r.job)
}
