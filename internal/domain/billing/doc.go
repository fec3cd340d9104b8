// Package billing provides domain models for the usage metering pipeline of a
// multi-tenant SaaS control plane.
//
// This package implements the metering bounded context, which is responsible for:
//   - Representing raw usage events emitted by upstream metering producers
//   - Folding raw events into per-tenant, per-time-bucket aggregate entries
//   - Tracking which aggregate entries have been submitted to the billing provider
//
// Key Aggregates:
//   - UsageEvent: Immutable record of a single usage event, consumed exactly once
//   - AggregateEntry: Durable per-tenant per-bucket counter summing quantities by product code
//
// Value Objects:
//   - ProductCode: Internal identifier of a metered product
//   - BucketUnit: Fixed-width time window granularity used for aggregation
//   - TenantConfig: Read-only mapping from product codes to billing subscription items
//
// The metering domain integrates with:
//   - A key-value event store holding raw events and aggregate entries
//   - The external billing provider, via the UsagePublisher port
package billing
