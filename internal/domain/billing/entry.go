package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/saasops/backend/internal/domain/shared"
)

// AggregateEntry is the durable per-tenant, per-bucket counter record. At
// most one entry exists per (tenant, bucket start) pair; the quantity map
// only grows through atomic per-product increments and the entry is never
// deleted, so the table doubles as an audit trail.
type AggregateEntry struct {
	TenantID       string                // The tenant this aggregate belongs to
	BucketUnit     BucketUnit            // Granularity the bucket start was truncated to
	BucketStart    time.Time             // Start of the time bucket (UTC)
	Quantities     map[ProductCode]int64 // Summed quantity per product code
	IdempotencyKey string                // Stable token, generated once at creation
	Submitted      bool                  // Whether the entry reached the billing provider
}

// NewAggregateEntry creates a zero-valued entry for a bucket. The
// idempotency key is generated exactly once here and never regenerated, so
// retried submissions of the same entry dedupe at the billing provider.
func NewAggregateEntry(tenantID string, unit BucketUnit, bucketStart time.Time) (*AggregateEntry, error) {
	if tenantID == "" {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !unit.IsValid() {
		return nil, shared.NewDomainError("INVALID_BUCKET_UNIT", "Invalid bucket unit")
	}
	truncated := BucketStart(bucketStart, unit)
	if !truncated.Equal(bucketStart.UTC()) {
		return nil, shared.NewDomainError("INVALID_BUCKET_START", "Bucket start must be aligned to the bucket unit")
	}
	return &AggregateEntry{
		TenantID:       tenantID,
		BucketUnit:     unit,
		BucketStart:    truncated,
		Quantities:     make(map[ProductCode]int64),
		IdempotencyKey: uuid.NewString(),
		Submitted:      false,
	}, nil
}

// SortKey returns the entry's composite sort key.
func (e *AggregateEntry) SortKey() string {
	return AggregateSortKey(e.BucketUnit, e.BucketStart)
}

// PublishToken derives the idempotency token for submitting one product
// code of this entry. Sibling product codes of one entry target different
// subscription items, so each needs its own token; suffixing the entry's
// stable key keeps every token stable across retry cycles.
func (e *AggregateEntry) PublishToken(code ProductCode) string {
	return fmt.Sprintf("%s:%s", e.IdempotencyKey, code)
}

// PeriodTimestamp returns the bucket start truncated to seconds, which is
// the usage timestamp reported to the billing provider.
func (e *AggregateEntry) PeriodTimestamp() time.Time {
	return e.BucketStart.Truncate(time.Second)
}
