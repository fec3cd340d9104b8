package billing

import (
	"context"
	"time"
)

// EventStore provides access to raw usage events, keyed by tenant and the
// EVENT# composite sort key. Events are appended by upstream producers and
// removed only through AggregateStore.CommitChunk.
type EventStore interface {
	// PutEvent appends a raw usage event.
	PutEvent(ctx context.Context, event *UsageEvent) error

	// ListEvents returns all raw events for a tenant, reading pages until
	// the store is exhausted.
	ListEvents(ctx context.Context, tenantID string) ([]*UsageEvent, error)
}

// AggregateStore persists aggregate entries and performs the transactional
// fold of raw events into them.
type AggregateStore interface {
	// CreateEntryIfAbsent initializes an aggregate entry with zero values,
	// guarded so that a concurrent creator wins silently. It returns false
	// with a nil error when the entry already existed.
	CreateEntryIfAbsent(ctx context.Context, entry *AggregateEntry) (bool, error)

	// CommitChunk atomically adds the per-product sums to the entry
	// identified by (tenantID, entrySortKey) and deletes the chunk's raw
	// events. Either everything commits or nothing does.
	CommitChunk(ctx context.Context, tenantID, entrySortKey string, sums map[ProductCode]int64, events []*UsageEvent) error

	// ListUnsubmitted returns all aggregate entries for a tenant with
	// Submitted=false, reading pages until the store is exhausted.
	ListUnsubmitted(ctx context.Context, tenantID string) ([]*AggregateEntry, error)

	// MarkSubmitted flips the entry's submitted flag. The update is
	// conditional on the entry existing; UNSUBMITTED -> SUBMITTED is the
	// only transition and it is terminal.
	MarkSubmitted(ctx context.Context, tenantID, entrySortKey string) error
}

// TenantDirectory lists the tenants known to the billing configuration
// index together with their product-to-subscription-item mappings.
type TenantDirectory interface {
	ListTenants(ctx context.Context) ([]TenantConfig, error)
}

// PublishRequest carries one usage record destined for the billing provider.
type PublishRequest struct {
	SubscriptionItemID string
	Quantity           int64
	Timestamp          time.Time // bucket period start, second precision
	IdempotencyKey     string
}

// PublishResult reports the provider's response. Replayed is true when the
// provider recognized the idempotency key and had already recorded the
// usage; callers treat that as success.
type PublishResult struct {
	RecordID string
	Replayed bool
}

// UsagePublisher submits usage records to the external billing provider.
// The API key is resolved once per publish cycle and passed explicitly.
type UsagePublisher interface {
	Publish(ctx context.Context, apiKey string, req PublishRequest) (*PublishResult, error)
}

// APIKeySource resolves the billing provider credential. The publish engine
// fetches it fresh at the start of every cycle.
type APIKeySource interface {
	APIKey(ctx context.Context) (string, error)
}
