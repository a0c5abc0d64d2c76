package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-payment-reconciler/internal/aws"
)

// DynamoStore keeps the ledger in a DynamoDB table keyed by order_id.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	log       zerolog.Logger
	mu        sync.Mutex
	nowFunc   func() time.Time
}

// NewDynamoStore creates a ledger store on the given table.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string, log zerolog.Logger) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		log:       log.With().Str("component", "ledger").Str("table", tableName).Logger(),
		nowFunc:   time.Now,
	}
}

// LoadAll scans the whole table with strongly consistent reads, so writes
// from a previous run are always visible. Items that cannot be decoded are
// skipped with a warning.
func (s *DynamoStore) LoadAll(ctx context.Context) (map[string]Record, error) {
	out := map[string]Record{}
	p := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:      &s.tableName,
		ConsistentRead: awsBool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		for _, item := range page.Items {
			rec, err := decodeItem(item)
			if err != nil {
				s.log.Warn().Err(err).Msg("skipping undecodable ledger item")
				continue
			}
			out[rec.OrderID] = rec
		}
	}
	return out, nil
}

// Get returns the record for one order or ErrNotFound.
func (s *DynamoStore) Get(ctx context.Context, orderID string) (Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return Record{}, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return Record{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return decodeItem(out.Item)
}

// Upsert overwrites the item for orderID.
func (s *DynamoStore) Upsert(ctx context.Context, orderID string, status Status, paymentID, errorDetail string) error {
	rec := Record{OrderID: orderID, Status: status, PaymentID: paymentID, ErrorDetail: errorDetail}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var previous time.Time
	existing, err := s.Get(ctx, orderID)
	switch {
	case err == nil:
		previous = existing.UpdatedAt
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("upsert order %s: %w", orderID, err)
	}
	rec.UpdatedAt = nextTimestamp(s.nowFunc(), previous)

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// BulkRegister creates items only where no item exists for the order id.
func (s *DynamoStore) BulkRegister(ctx context.Context, orderIDs []string, status Status) (int, error) {
	for _, id := range orderIDs {
		if err := (Record{OrderID: id, Status: status}).Validate(); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := nextTimestamp(s.nowFunc(), time.Time{})
	seen := make(map[string]struct{}, len(orderIDs))
	added := 0
	for _, id := range orderIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		item, err := attributevalue.MarshalMap(Record{OrderID: id, Status: status, UpdatedAt: now})
		if err != nil {
			return added, fmt.Errorf("marshal record: %w", err)
		}
		_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		})
		if err != nil {
			var ae smithy.APIError
			if errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException" {
				continue
			}
			return added, fmt.Errorf("put item %s: %w", id, err)
		}
		added++
	}
	return added, nil
}

func decodeItem(item map[string]types.AttributeValue) (Record, error) {
	var rec Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	status, err := ParseStatus(string(rec.Status))
	if err != nil {
		return Record{}, fmt.Errorf("order %s: %w", rec.OrderID, err)
	}
	rec.Status = status
	if rec.OrderID == "" {
		return Record{}, errors.New("item without order_id")
	}
	return rec, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
