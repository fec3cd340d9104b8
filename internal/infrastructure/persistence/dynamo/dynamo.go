// Package dynamo implements the billing stores on a single DynamoDB table.
// Raw events and aggregate entries share a tenant partition (PK TENANT#<id>)
// and are distinguished by their sort key prefixes; tenant configuration
// items are reached through a global secondary index on ItemType.
package dynamo

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the narrow DynamoDB client surface this package needs.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

const (
	tenantKeyPrefix = "TENANT#"
	configSortKey   = "CONFIG"

	// itemTypeTenantConfig is the ItemType attribute value that places a
	// tenant configuration item on the tenant index.
	itemTypeTenantConfig = "TENANT_CONFIG"
)

// tenantPK builds the partition key for a tenant's items.
func tenantPK(tenantID string) string {
	return tenantKeyPrefix + tenantID
}

// tenantIDFromPK extracts the tenant ID from a partition key.
func tenantIDFromPK(pk string) string {
	return strings.TrimPrefix(pk, tenantKeyPrefix)
}

// isConditionalCheckFailed reports whether err is a conditional write
// rejection, either directly or inside a canceled transaction.
func isConditionalCheckFailed(err error) bool {
	var conditionErr *types.ConditionalCheckFailedException
	if errors.As(err, &conditionErr) {
		return true
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
