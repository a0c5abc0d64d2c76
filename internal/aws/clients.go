package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// DynamoDBAPI is the part of the DynamoDB client the ledger table needs.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// SQSAPI sends run alerts.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// CloudWatchAPI publishes per-run counters.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Clients holds one client per AWS-backed feature of a reconciliation run.
// A field may be left nil in tests when the feature is disabled.
type Clients struct {
	// Ledger backs the DynamoDB progress store.
	Ledger DynamoDBAPI
	// Alerts receives summaries of runs that need attention.
	Alerts SQSAPI
	// RunMetrics receives per-run counters.
	RunMetrics CloudWatchAPI
}

// NewClients builds every client from one shared config, so a single
// AWS_ENDPOINT_OVERRIDE redirects the ledger table, alert queue and metrics
// to the same local stack.
func NewClients(ctx context.Context) (*Clients, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}
	return &Clients{
		Ledger:     dynamodb.NewFromConfig(cfg),
		Alerts:     sqs.NewFromConfig(cfg),
		RunMetrics: cloudwatch.NewFromConfig(cfg),
	}, nil
}
