package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/saasops/backend/internal/domain/billing"
	"github.com/saasops/backend/internal/domain/shared"
)

// entryItem is the table representation of an aggregate entry.
type entryItem struct {
	PK             string           `dynamodbav:"PK"`
	SK             string           `dynamodbav:"SK"`
	Quantities     map[string]int64 `dynamodbav:"Quantities"`
	IdempotencyKey string           `dynamodbav:"IdempotencyKey"`
	Submitted      bool             `dynamodbav:"Submitted"`
}

// AggregateStore implements billing.AggregateStore on DynamoDB.
type AggregateStore struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// NewAggregateStore creates a new DynamoDB-backed aggregate store.
func NewAggregateStore(client API, tableName string, logger *zap.Logger) *AggregateStore {
	return &AggregateStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// CreateEntryIfAbsent writes the zero-valued entry guarded by an existence
// condition. Losing the race to a concurrent creator is not an error: the
// surviving entry's idempotency key is the one every later submission must
// use, so the loser simply proceeds against it.
func (s *AggregateStore) CreateEntryIfAbsent(ctx context.Context, entry *billing.AggregateEntry) (bool, error) {
	quantities := make(map[string]int64, len(entry.Quantities))
	for code, quantity := range entry.Quantities {
		quantities[string(code)] = quantity
	}

	item, err := attributevalue.MarshalMap(entryItem{
		PK:             tenantPK(entry.TenantID),
		SK:             entry.SortKey(),
		Quantities:     quantities,
		IdempotencyKey: entry.IdempotencyKey,
		Submitted:      entry.Submitted,
	})
	if err != nil {
		return false, fmt.Errorf("dynamo: failed to marshal aggregate entry: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("dynamo: failed to create aggregate entry: %w", err)
	}
	return true, nil
}

// CommitChunk folds one chunk of raw events into the entry's counters in a
// single transaction: one update adding the per-product sums plus one delete
// per event. DynamoDB caps a transaction at 25 items, which is exactly why
// callers bound chunks to 24 events.
func (s *AggregateStore) CommitChunk(
	ctx context.Context,
	tenantID, entrySortKey string,
	sums map[billing.ProductCode]int64,
	events []*billing.UsageEvent,
) error {
	if len(events) == 0 {
		return fmt.Errorf("dynamo: cannot commit an empty chunk")
	}
	if 1+len(events) > billing.MaxTransactItems {
		return fmt.Errorf("dynamo: chunk of %d events exceeds the %d-item transaction limit",
			len(events), billing.MaxTransactItems)
	}

	update, err := s.buildCounterUpdate(tenantID, entrySortKey, sums)
	if err != nil {
		return err
	}

	items := make([]types.TransactWriteItem, 0, 1+len(events))
	items = append(items, types.TransactWriteItem{Update: update})
	for _, event := range events {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
					"SK": &types.AttributeValueMemberS{Value: event.SortKey()},
				},
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("dynamo: chunk transaction rejected: %w", shared.ErrConcurrencyConflict)
		}
		return fmt.Errorf("dynamo: chunk transaction failed: %w", err)
	}
	return nil
}

// buildCounterUpdate builds the single counter update that rides with a
// chunk's deletes. Product codes are addressed through expression names so
// arbitrary code strings stay safe, and sorted so the expression is
// deterministic.
func (s *AggregateStore) buildCounterUpdate(
	tenantID, entrySortKey string,
	sums map[billing.ProductCode]int64,
) (*types.Update, error) {
	if len(sums) == 0 {
		return nil, fmt.Errorf("dynamo: cannot commit a chunk with no sums")
	}

	codes := make([]string, 0, len(sums))
	for code := range sums {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)

	names := map[string]string{"#q": "Quantities"}
	values := map[string]types.AttributeValue{
		":zero": &types.AttributeValueMemberN{Value: "0"},
	}
	terms := make([]string, 0, len(codes))
	for i, code := range codes {
		nameRef := fmt.Sprintf("#p%d", i)
		valueRef := fmt.Sprintf(":v%d", i)
		names[nameRef] = code
		values[valueRef] = &types.AttributeValueMemberN{
			Value: fmt.Sprintf("%d", sums[billing.ProductCode(code)]),
		}
		// The create step guarantees the Quantities map exists; individual
		// product counters may not yet.
		terms = append(terms, fmt.Sprintf("#q.%s = if_not_exists(#q.%s, :zero) + %s",
			nameRef, nameRef, valueRef))
	}

	return &types.Update{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: entrySortKey},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(terms, ", ")),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}, nil
}

// ListUnsubmitted returns the tenant's aggregate entries that have not yet
// reached the billing provider, following pagination until the AGGREGATE#
// key range is exhausted.
func (s *AggregateStore) ListUnsubmitted(ctx context.Context, tenantID string) ([]*billing.AggregateEntry, error) {
	var entries []*billing.AggregateEntry
	var startKey map[string]types.AttributeValue

	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			FilterExpression:       aws.String("Submitted = :false"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
				":prefix": &types.AttributeValueMemberS{Value: billing.AggregateKeyPrefix},
				":false":  &types.AttributeValueMemberBOOL{Value: false},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: failed to query aggregate entries: %w", err)
		}

		for _, raw := range out.Items {
			var item entryItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("dynamo: failed to unmarshal aggregate entry: %w", err)
			}
			entry, err := entryFromItem(tenantID, item)
			if err != nil {
				s.logger.Error("Skipping malformed aggregate entry",
					zap.String("tenant_id", tenantID),
					zap.String("sort_key", item.SK),
					zap.Error(err))
				continue
			}
			entries = append(entries, entry)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return entries, nil
}

// MarkSubmitted flips the entry's submitted flag. The transition is
// terminal; nothing ever writes the flag back to false.
func (s *AggregateStore) MarkSubmitted(ctx context.Context, tenantID, entrySortKey string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: tenantPK(tenantID)},
			"SK": &types.AttributeValueMemberS{Value: entrySortKey},
		},
		UpdateExpression:    aws.String("SET Submitted = :true"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("dynamo: aggregate entry %s for tenant %s: %w", entrySortKey, tenantID, shared.ErrNotFound)
		}
		return fmt.Errorf("dynamo: failed to mark entry submitted: %w", err)
	}
	return nil
}

// entryFromItem reconstructs a domain entry from its table representation.
func entryFromItem(tenantID string, item entryItem) (*billing.AggregateEntry, error) {
	unit, bucketStart, err := billing.ParseAggregateSortKey(item.SK)
	if err != nil {
		return nil, err
	}
	quantities := make(map[billing.ProductCode]int64, len(item.Quantities))
	for code, quantity := range item.Quantities {
		quantities[billing.ProductCode(code)] = quantity
	}
	return &billing.AggregateEntry{
		TenantID:       tenantID,
		BucketUnit:     unit,
		BucketStart:    bucketStart,
		Quantities:     quantities,
		IdempotencyKey: item.IdempotencyKey,
		Submitted:      item.Submitted,
	}, nil
}
