package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainBilling "github.com/saasops/backend/internal/domain/billing"
	"github.com/saasops/backend/internal/infrastructure/logger"
	"github.com/saasops/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// PublishService delivers unsubmitted aggregate entries to the external
// billing provider. Submissions carry stable idempotency tokens, so a retry
// after a crash or a provider timeout records each usage at most once; an
// idempotent-replay response from the provider counts as success.
type PublishService struct {
	entries   domainBilling.AggregateStore
	tenants   domainBilling.TenantDirectory
	publisher domainBilling.UsagePublisher
	keys      domainBilling.APIKeySource
	logger    *zap.Logger
	metrics   *telemetry.MeteringMetrics
	mu        sync.Mutex
	now       func() time.Time
}

// PublishStats summarizes one publish cycle.
type PublishStats struct {
	TenantsVisited   int
	EntriesSubmitted int
	EntriesDeferred  int
	RecordsPublished int
	RecordsReplayed  int
	PairsSkipped     int
}

// NewPublishService creates a new publish service.
func NewPublishService(
	entries domainBilling.AggregateStore,
	tenants domainBilling.TenantDirectory,
	publisher domainBilling.UsagePublisher,
	keys domainBilling.APIKeySource,
	logger *zap.Logger,
	metrics *telemetry.MeteringMetrics,
) *PublishService {
	return &PublishService{
		entries:   entries,
		tenants:   tenants,
		publisher: publisher,
		keys:      keys,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// RunCycle runs one publish pass over all known tenants. The provider
// credential is resolved fresh at the start of each cycle. Failures are
// contained per entry; an entry left unsubmitted is retried next cycle.
func (s *PublishService) RunCycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := telemetry.StartServiceSpan(ctx, "metering", "publish_cycle")
	defer span.End()

	log := logger.WithTraceContext(ctx, s.logger)
	if cycleID := logger.GetCycleID(ctx); cycleID != "" {
		log = log.With(zap.String("cycle_id", cycleID))
	}

	started := s.now()
	apiKey, err := s.keys.APIKey(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to resolve billing API key: %w", err)
	}

	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	stats := PublishStats{}
	for _, tenant := range tenants {
		tenantCtx, tenantLog := logger.WithTenantID(ctx, log, tenant.TenantID)
		if err := s.publishTenant(tenantCtx, tenantLog, apiKey, tenant, &stats); err != nil {
			tenantLog.Error("Failed to publish tenant usage", zap.Error(err))
			// Continue with other tenants
		}
	}

	duration := s.now().Sub(started)
	s.metrics.AddRecordsPublished(ctx, int64(stats.RecordsPublished))
	s.metrics.AddPairsSkipped(ctx, int64(stats.PairsSkipped))
	s.metrics.RecordCycle(ctx, "publish", duration)

	log.Info("Publish cycle completed",
		zap.Int("tenants_visited", stats.TenantsVisited),
		zap.Int("entries_submitted", stats.EntriesSubmitted),
		zap.Int("entries_deferred", stats.EntriesDeferred),
		zap.Int("records_published", stats.RecordsPublished),
		zap.Int("records_replayed", stats.RecordsReplayed),
		zap.Int("pairs_skipped", stats.PairsSkipped),
		zap.Duration("duration", duration),
	)
	return nil
}

// publishTenant submits all unsubmitted aggregate entries for one tenant.
// The logger already carries the cycle and tenant correlation fields.
func (s *PublishService) publishTenant(
	ctx context.Context,
	log *zap.Logger,
	apiKey string,
	tenant domainBilling.TenantConfig,
	stats *PublishStats,
) error {
	unsubmitted, err := s.entries.ListUnsubmitted(ctx, tenant.TenantID)
	if err != nil {
		return fmt.Errorf("failed to list unsubmitted entries: %w", err)
	}
	if len(unsubmitted) == 0 {
		log.Debug("No unsubmitted entries for tenant")
		return nil
	}
	stats.TenantsVisited++

	for _, entry := range unsubmitted {
		if err := s.publishEntry(ctx, log, apiKey, tenant, entry, stats); err != nil {
			log.Error("Failed to publish aggregate entry",
				zap.String("entry_key", entry.SortKey()),
				zap.Error(err))
			// A failing entry must not prevent the tenant's other entries
		}
	}

	return nil
}

// publishEntry submits one aggregate entry's product quantities and, when
// every submission either succeeded or can never succeed (no subscription
// mapping), marks the entry submitted. A provider failure leaves the flag
// unset so the entry is retried; stable per-product tokens make the retry
// safe for the products that already went through.
func (s *PublishService) publishEntry(
	ctx context.Context,
	log *zap.Logger,
	apiKey string,
	tenant domainBilling.TenantConfig,
	entry *domainBilling.AggregateEntry,
	stats *PublishStats,
) error {
	submittable := true
	for code, quantity := range entry.Quantities {
		item, ok := tenant.SubscriptionItem(code)
		if !ok {
			// A pair without a mapping can never submit until onboarding
			// fixes the tenant configuration; skipping it must not wedge
			// the entry's other products.
			stats.PairsSkipped++
			log.Error("No subscription item mapping for product",
				zap.String("product_code", code.String()),
				zap.String("entry_key", entry.SortKey()))
			continue
		}

		result, err := s.publisher.Publish(ctx, apiKey, domainBilling.PublishRequest{
			SubscriptionItemID: item,
			Quantity:           quantity,
			Timestamp:          entry.PeriodTimestamp(),
			IdempotencyKey:     entry.PublishToken(code),
		})
		if err != nil {
			submittable = false
			log.Error("Failed to submit usage record",
				zap.String("product_code", code.String()),
				zap.String("subscription_item_id", item),
				zap.Error(err))
			continue
		}

		if result.Replayed {
			stats.RecordsReplayed++
			log.Info("Usage record already recorded upstream",
				zap.String("product_code", code.String()),
				zap.String("idempotency_key", entry.PublishToken(code)))
		} else {
			stats.RecordsPublished++
			log.Info("Submitted usage record",
				zap.String("product_code", code.String()),
				zap.String("subscription_item_id", item),
				zap.Int64("quantity", quantity),
				zap.String("record_id", result.RecordID))
		}
	}

	if !submittable {
		stats.EntriesDeferred++
		return nil
	}

	if err := s.entries.MarkSubmitted(ctx, entry.TenantID, entry.SortKey()); err != nil {
		stats.EntriesDeferred++
		return fmt.Errorf("failed to mark entry submitted: %w", err)
	}

	stats.EntriesSubmitted++
	return nil
}
