package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "")
	t.Setenv("AWS_REGION", "")

	cfg, err := LoadAWSConfig(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Region != "us-east-1" {
		t.Fatalf("expected default region 'us-east-1', got %s", cfg.Region)
	}
	if cfg.BaseEndpoint != nil {
		t.Fatalf("expected no base endpoint, got %s", *cfg.BaseEndpoint)
	}
}

func TestLoadAWSConfig_WithEndpointOverride(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")

	cfg, err := LoadAWSConfig(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Region != "eu-west-1" {
		t.Fatalf("region mismatch, got %s", cfg.Region)
	}
	if cfg.BaseEndpoint == nil || *cfg.BaseEndpoint != "http://localhost:4566" {
		t.Fatalf("expected endpoint override, got %v", cfg.BaseEndpoint)
	}
}

func TestNewClients_SharesEndpointOverride(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	c, err := NewClients(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Ledger == nil || c.Alerts == nil || c.RunMetrics == nil {
		t.Fatalf("expected every client to be set, got %+v", c)
	}
	ddb, ok := c.Ledger.(*dynamodb.Client)
	if !ok {
		t.Fatalf("expected a DynamoDB client, got %T", c.Ledger)
	}
	if ep := ddb.Options().BaseEndpoint; ep == nil || *ep != "http://localhost:4566" {
		t.Fatalf("expected ledger client on the override endpoint, got %v", ep)
	}
	if q := c.Alerts.(*sqs.Client).Options(); q.Region != "eu-west-1" {
		t.Fatalf("expected alert client in eu-west-1, got %s", q.Region)
	}
}
