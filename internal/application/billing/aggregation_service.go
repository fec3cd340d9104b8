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

// AggregationService folds raw usage events into per-bucket aggregate
// entries. Each cycle visits every known tenant, buckets that tenant's raw
// events, and replaces them with counter increments using bounded
// transactional chunks. Correctness under concurrent cycles rests entirely
// on the store's conditional and transactional write primitives; the
// service holds no locks of its own beyond serializing its own cycles.
type AggregationService struct {
	events  domainBilling.EventStore
	entries domainBilling.AggregateStore
	tenants domainBilling.TenantDirectory
	logger  *zap.Logger
	metrics *telemetry.MeteringMetrics
	config  AggregationConfig
	mu      sync.Mutex
	now     func() time.Time
}

// AggregationConfig contains configuration for the aggregation engine.
type AggregationConfig struct {
	// BucketUnit is the time window granularity events are folded into.
	BucketUnit domainBilling.BucketUnit

	// ChunkSize is the number of raw events folded per transaction. It must
	// leave room for the single counter update in the same transaction.
	ChunkSize int
}

// DefaultAggregationConfig returns default configuration.
func DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{
		BucketUnit: domainBilling.BucketUnitMinute,
		ChunkSize:  domainBilling.EventChunkSize,
	}
}

// AggregationStats summarizes one aggregation cycle.
type AggregationStats struct {
	TenantsVisited  int
	TenantsSkipped  int
	EventsFolded    int
	ChunksCommitted int
	ChunksFailed    int
	BucketsDeferred int
}

// NewAggregationService creates a new aggregation service.
func NewAggregationService(
	events domainBilling.EventStore,
	entries domainBilling.AggregateStore,
	tenants domainBilling.TenantDirectory,
	logger *zap.Logger,
	metrics *telemetry.MeteringMetrics,
	config AggregationConfig,
) (*AggregationService, error) {
	if !config.BucketUnit.IsValid() {
		return nil, fmt.Errorf("aggregation: invalid bucket unit %q", config.BucketUnit)
	}
	if config.ChunkSize < 1 || config.ChunkSize > domainBilling.MaxTransactItems-1 {
		return nil, fmt.Errorf("aggregation: chunk size %d must be between 1 and %d",
			config.ChunkSize, domainBilling.MaxTransactItems-1)
	}
	return &AggregationService{
		events:  events,
		entries: entries,
		tenants: tenants,
		logger:  logger,
		metrics: metrics,
		config:  config,
		now:     time.Now,
	}, nil
}

// RunCycle runs one aggregation pass over all known tenants. Failures are
// contained at the narrowest scope (chunk, then bucket, then tenant) and
// never abort the cycle; unprocessed events are simply picked up again on
// the next run.
func (s *AggregationService) RunCycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := telemetry.StartServiceSpan(ctx, "metering", "aggregation_cycle")
	defer span.End()

	log := logger.WithTraceContext(ctx, s.logger)
	if cycleID := logger.GetCycleID(ctx); cycleID != "" {
		log = log.With(zap.String("cycle_id", cycleID))
	}

	started := s.now()
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to list tenants: %w", err)
	}
	if len(tenants) == 0 {
		log.Debug("No tenants configured, nothing to aggregate")
		return nil
	}

	stats := AggregationStats{}
	for _, tenant := range tenants {
		tenantCtx, tenantLog := logger.WithTenantID(ctx, log, tenant.TenantID)
		if err := s.aggregateTenant(tenantCtx, tenantLog, tenant.TenantID, &stats); err != nil {
			tenantLog.Error("Failed to aggregate tenant usage", zap.Error(err))
			// Continue with other tenants
		}
	}

	duration := s.now().Sub(started)
	s.metrics.AddEventsFolded(ctx, int64(stats.EventsFolded))
	s.metrics.AddChunksCommitted(ctx, int64(stats.ChunksCommitted))
	s.metrics.AddChunksFailed(ctx, int64(stats.ChunksFailed))
	s.metrics.RecordCycle(ctx, "aggregation", duration)

	log.Info("Aggregation cycle completed",
		zap.Int("tenants_visited", stats.TenantsVisited),
		zap.Int("tenants_skipped", stats.TenantsSkipped),
		zap.Int("events_folded", stats.EventsFolded),
		zap.Int("chunks_committed", stats.ChunksCommitted),
		zap.Int("chunks_failed", stats.ChunksFailed),
		zap.Int("buckets_deferred", stats.BucketsDeferred),
		zap.Duration("duration", duration),
	)
	return nil
}

// aggregateTenant folds all closed-bucket events for one tenant. The logger
// already carries the cycle and tenant correlation fields.
func (s *AggregationService) aggregateTenant(ctx context.Context, log *zap.Logger, tenantID string, stats *AggregationStats) error {
	events, err := s.events.ListEvents(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if len(events) == 0 {
		stats.TenantsSkipped++
		log.Debug("No raw events for tenant")
		return nil
	}
	stats.TenantsVisited++

	minTS, maxTS := events[0].Timestamp, events[0].Timestamp
	buckets := make(map[time.Time][]*domainBilling.UsageEvent)
	for _, event := range events {
		if event.Timestamp.Before(minTS) {
			minTS = event.Timestamp
		}
		if event.Timestamp.After(maxTS) {
			maxTS = event.Timestamp
		}
		bucket := event.Bucket(s.config.BucketUnit)
		buckets[bucket] = append(buckets[bucket], event)
	}

	log.Debug("Loaded raw events for tenant",
		zap.Int("event_count", len(events)),
		zap.Time("oldest", minTS),
		zap.Time("newest", maxTS),
	)

	now := s.now()
	for bucketStart, bucketEvents := range buckets {
		// The current bucket may still receive events within this cycle;
		// leave it (and anything after it) for a later run.
		if domainBilling.IsOpenBucket(bucketStart, now, s.config.BucketUnit) {
			stats.BucketsDeferred++
			log.Debug("Bucket still open, deferring",
				zap.Time("bucket", bucketStart),
				zap.Int("event_count", len(bucketEvents)),
			)
			continue
		}

		if err := s.aggregateBucket(ctx, log, tenantID, bucketStart, bucketEvents, stats); err != nil {
			log.Error("Failed to aggregate bucket",
				zap.Time("bucket", bucketStart),
				zap.Error(err))
			// A failing bucket must not prevent the tenant's other buckets
		}
	}

	return nil
}

// aggregateBucket initializes the bucket's aggregate entry and commits the
// bucket's events in bounded transactional chunks.
func (s *AggregationService) aggregateBucket(
	ctx context.Context,
	log *zap.Logger,
	tenantID string,
	bucketStart time.Time,
	events []*domainBilling.UsageEvent,
	stats *AggregationStats,
) error {
	entry, err := domainBilling.NewAggregateEntry(tenantID, s.config.BucketUnit, bucketStart)
	if err != nil {
		return fmt.Errorf("failed to build aggregate entry: %w", err)
	}

	created, err := s.entries.CreateEntryIfAbsent(ctx, entry)
	if err != nil {
		// Without a guaranteed entry the chunk update could materialize a
		// partial item lacking an idempotency key; leave the bucket's
		// events for the next cycle instead.
		return fmt.Errorf("failed to initialize aggregate entry: %w", err)
	}
	if !created {
		log.Debug("Aggregate entry already initialized", zap.Time("bucket", bucketStart))
	}

	entryKey := entry.SortKey()
	for start := 0; start < len(events); start += s.config.ChunkSize {
		end := min(start+s.config.ChunkSize, len(events))
		chunk := events[start:end]

		sums := make(map[domainBilling.ProductCode]int64)
		for _, event := range chunk {
			sums[event.ProductCode] += event.Quantity
		}

		if err := s.entries.CommitChunk(ctx, tenantID, entryKey, sums, chunk); err != nil {
			stats.ChunksFailed++
			// The chunk's events were not deleted; they will be folded on
			// the next cycle.
			log.Warn("Chunk transaction rejected",
				zap.Time("bucket", bucketStart),
				zap.Int("event_count", len(chunk)),
				zap.Error(err))
			continue
		}

		stats.ChunksCommitted++
		stats.EventsFolded += len(chunk)
	}

	return nil
}
