package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/saasops/backend/internal/domain/shared"
)

// ProductCode identifies a metered product within a tenant's plan.
type ProductCode string

// String returns the string representation of the product code.
func (c ProductCode) String() string {
	return string(c)
}

// UsageEvent represents an immutable raw usage event recorded by an upstream
// metering producer. Events are consumed and deleted exactly once when the
// aggregation engine folds them into an aggregate entry.
type UsageEvent struct {
	TenantID    string      // The tenant this usage belongs to
	ProductCode ProductCode // Product the usage was recorded against
	Quantity    int64       // Amount of usage (never negative)
	Timestamp   time.Time   // When the usage occurred (millisecond precision)
	Nonce       string      // Random disambiguator for same-millisecond events
}

// NewUsageEvent creates a new usage event with validation. The nonce is
// generated here so that no two events for the same tenant can collide on
// (timestamp, nonce) even when recorded within the same millisecond.
func NewUsageEvent(tenantID string, code ProductCode, quantity int64, ts time.Time) (*UsageEvent, error) {
	if tenantID == "" {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if code == "" {
		return nil, shared.NewDomainError("INVALID_PRODUCT_CODE", "Product code cannot be empty")
	}
	if quantity < 0 {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity cannot be negative")
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return &UsageEvent{
		TenantID:    tenantID,
		ProductCode: code,
		Quantity:    quantity,
		Timestamp:   ts.UTC().Truncate(time.Millisecond),
		Nonce:       newNonce(),
	}, nil
}

// SortKey returns the event's composite sort key.
func (e *UsageEvent) SortKey() string {
	return EventSortKey(e.Timestamp, e.Nonce)
}

// Bucket returns the start of the bucket this event falls into.
func (e *UsageEvent) Bucket(unit BucketUnit) time.Time {
	return BucketStart(e.Timestamp, unit)
}

// newNonce returns a short random token. Eight hex characters of a UUID are
// plenty to disambiguate events sharing a millisecond within one tenant.
func newNonce() string {
	return uuid.NewString()[:8]
}
