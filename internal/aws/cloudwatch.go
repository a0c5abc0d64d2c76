package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Datum is one metric value.
type Datum struct {
	Name  string
	Value float64
	Unit  cwtypes.StandardUnit
}

// MetricsPublisher writes custom metrics to one CloudWatch namespace.
type MetricsPublisher struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	nowFunc    func() time.Time
}

// NewMetricsPublisher returns a MetricsPublisher for namespace.
func NewMetricsPublisher(client CloudWatchAPI, namespace string) *MetricsPublisher {
	return &MetricsPublisher{
		CloudWatch: client,
		Namespace:  namespace,
		nowFunc:    time.Now,
	}
}

// Put sends data in a single PutMetricData call, each datum carrying the
// same dimensions.
func (p *MetricsPublisher) Put(ctx context.Context, dimensions map[string]string, data ...Datum) error {
	if len(data) == 0 {
		return nil
	}

	names := make([]string, 0, len(dimensions))
	for k := range dimensions {
		names = append(names, k)
	}
	sort.Strings(names)
	dims := make([]cwtypes.Dimension, 0, len(names))
	for _, k := range names {
		dims = append(dims, cwtypes.Dimension{Name: awsString(k), Value: awsString(dimensions[k])})
	}

	now := p.nowFunc().UTC()
	datums := make([]cwtypes.MetricDatum, 0, len(data))
	for _, d := range data {
		unit := d.Unit
		if unit == "" {
			unit = cwtypes.StandardUnitCount
		}
		value := d.Value
		datums = append(datums, cwtypes.MetricDatum{
			MetricName: awsString(d.Name),
			Value:      &value,
			Unit:       unit,
			Dimensions: dims,
			Timestamp:  &now,
		})
	}

	_, err := p.CloudWatch.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  awsString(p.Namespace),
		MetricData: datums,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
