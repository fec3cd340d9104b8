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

// tenantConfigItem is the table representation of a tenant's billing
// configuration. ItemType places it on the tenant index so that a cycle can
// enumerate tenants without scanning the whole table.
type tenantConfigItem struct {
	PK                string            `dynamodbav:"PK"`
	SK                string            `dynamodbav:"SK"`
	ItemType          string            `dynamodbav:"ItemType"`
	SubscriptionItems map[string]string `dynamodbav:"SubscriptionItems"`
}

// TenantDirectory implements billing.TenantDirectory on DynamoDB.
type TenantDirectory struct {
	client    API
	tableName string
	indexName string
	logger    *zap.Logger
}

// NewTenantDirectory creates a directory reading tenant configuration
// through the given global secondary index.
func NewTenantDirectory(client API, tableName, indexName string, logger *zap.Logger) *TenantDirectory {
	return &TenantDirectory{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		logger:    logger,
	}
}

// ListTenants returns every tenant configuration item, following pagination
// until the index is exhausted.
func (d *TenantDirectory) ListTenants(ctx context.Context) ([]billing.TenantConfig, error) {
	var tenants []billing.TenantConfig
	var startKey map[string]types.AttributeValue

	for {
		out, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			IndexName:              aws.String(d.indexName),
			KeyConditionExpression: aws.String("ItemType = :t"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":t": &types.AttributeValueMemberS{Value: itemTypeTenantConfig},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo: failed to query tenant index: %w", err)
		}

		for _, raw := range out.Items {
			var item tenantConfigItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("dynamo: failed to unmarshal tenant config: %w", err)
			}
			tenantID := tenantIDFromPK(item.PK)
			if tenantID == "" {
				d.logger.Error("Skipping tenant config with malformed key",
					zap.String("pk", item.PK))
				continue
			}
			items := make(map[billing.ProductCode]string, len(item.SubscriptionItems))
			for code, si := range item.SubscriptionItems {
				items[billing.ProductCode(code)] = si
			}
			tenants = append(tenants, billing.TenantConfig{
				TenantID:          tenantID,
				SubscriptionItems: items,
			})
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return tenants, nil
}

// PutTenant writes a tenant's billing configuration. Exposed for seeding and
// onboarding tooling.
func (d *TenantDirectory) PutTenant(ctx context.Context, tenant billing.TenantConfig) error {
	if tenant.TenantID == "" {
		return fmt.Errorf("dynamo: tenant ID is required")
	}
	items := make(map[string]string, len(tenant.SubscriptionItems))
	for code, si := range tenant.SubscriptionItems {
		items[string(code)] = si
	}

	item, err := attributevalue.MarshalMap(tenantConfigItem{
		PK:                tenantPK(tenant.TenantID),
		SK:                configSortKey,
		ItemType:          itemTypeTenantConfig,
		SubscriptionItems: items,
	})
	if err != nil {
		return fmt.Errorf("dynamo: failed to marshal tenant config: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo: failed to put tenant config: %w", err)
	}
	return nil
}
