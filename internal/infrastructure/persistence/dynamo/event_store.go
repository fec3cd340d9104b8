package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/saasops/backend/internal/domain/billing"
)

// eventItem is the table representation of a raw usage event. The event
// timestamp and nonce live in the sort key.
type eventItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	ProductCode string `dynamodbav:"ProductCode"`
	Quantity    int64  `dynamodbav:"Quantity"`
}

// EventStore implements billing.EventStore on DynamoDB.
type EventStore struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// NewEventStore creates a new DynamoDB-backed event store.
func NewEventStore(client API, tableName string, logger *zap.Logger) *EventStore {
	return &EventStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// PutEvent appends one raw usage event. The (timestamp, nonce) sort key
// makes collisions practically impossible, so no condition is needed.
func (s *EventStore) PutEvent(ctx context.Context, event *billing.UsageEvent) error {
	item, err := attributevalue.MarshalMap(eventItem{
		PK:          tenantPK(event.TenantID),
		SK:          event.SortKey(),
		ProductCode: string(event.ProductCode),
		Quantity:    event.Quantity,
	})
	if err != nil {
		return fmt.Errorf("dynamo: failed to marshal event: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo: failed to put event: %w", err)
	}
	return nil
}

// ListEvents returns every raw event in the tenant's partition, following
// pagination until the EVENT# key range is exhausted.
func (s *EventStore) ListEvents(ctx context.Context, tenantID string) ([]*billing.UsageEvent, error) {
	var events []*billing.UsageEvent
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
				":prefix": &types.AttributeValueMemberS{Value: billing.EventKeyPrefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: failed to query events: %w", err)
		}

		for _, raw := range out.Items {
			var item eventItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("dynamo: failed to unmarshal event item: %w", err)
			}
			event, err := eventFromItem(tenantID, item)
			if err != nil {
				// A malformed item would otherwise wedge the tenant's
				// aggregation forever; surface it loudly and move on.
				s.logger.Error("Skipping malformed event item",
					zap.String("tenant_id", tenantID),
					zap.String("sort_key", item.SK),
					zap.Error(err))
				continue
			}
			events = append(events, event)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return events, nil
}

// eventFromItem reconstructs a domain event from its table representation.
func eventFromItem(tenantID string, item eventItem) (*billing.UsageEvent, error) {
	ts, nonce, err := billing.ParseEventSortKey(item.SK)
	if err != nil {
		return nil, err
	}
	return &billing.UsageEvent{
		TenantID:    tenantID,
		ProductCode: billing.ProductCode(item.ProductCode),
		Quantity:    item.Quantity,
		Timestamp:   ts,
		Nonce:       nonce,
	}, nil
}
