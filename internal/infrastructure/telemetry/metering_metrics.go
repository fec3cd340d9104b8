package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeteringMetrics tracks the health of the usage metering pipeline: how
// many raw events get folded into aggregates, how the transactional chunks
// fare, and how submissions to the billing provider go.
//
// A nil *MeteringMetrics is valid and records nothing, so the engines can
// run without a meter in tests.
type MeteringMetrics struct {
	eventsFolded     *Counter
	chunksCommitted  *Counter
	chunksFailed     *Counter
	recordsPublished *Counter
	pairsSkipped     *Counter
	cycleDuration    *Histogram
}

// NewMeteringMetrics creates the metering instrument set on the given meter.
func NewMeteringMetrics(meter metric.Meter) (*MeteringMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &MeteringMetrics{}
	var err error

	m.eventsFolded, err = NewCounter(meter,
		"metering_events_folded_total",
		"Raw usage events folded into aggregate entries",
		"{events}")
	if err != nil {
		return nil, err
	}

	m.chunksCommitted, err = NewCounter(meter,
		"metering_chunks_committed_total",
		"Transactional chunks committed by the aggregation engine",
		"{chunks}")
	if err != nil {
		return nil, err
	}

	m.chunksFailed, err = NewCounter(meter,
		"metering_chunks_failed_total",
		"Transactional chunks rejected by the store",
		"{chunks}")
	if err != nil {
		return nil, err
	}

	m.recordsPublished, err = NewCounter(meter,
		"metering_records_published_total",
		"Usage records submitted to the billing provider",
		"{records}")
	if err != nil {
		return nil, err
	}

	m.pairsSkipped, err = NewCounter(meter,
		"metering_pairs_skipped_total",
		"Tenant/product pairs skipped for missing subscription mappings",
		"{pairs}")
	if err != nil {
		return nil, err
	}

	m.cycleDuration, err = NewHistogram(meter,
		"metering_cycle_duration_seconds",
		"Duration of one engine cycle",
		"s")
	if err != nil {
		return nil, err
	}

	return m, nil
}

// AddEventsFolded records raw events folded into aggregates.
func (m *MeteringMetrics) AddEventsFolded(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.eventsFolded.Add(ctx, n)
}

// AddChunksCommitted records committed chunks.
func (m *MeteringMetrics) AddChunksCommitted(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.chunksCommitted.Add(ctx, n)
}

// AddChunksFailed records rejected chunks.
func (m *MeteringMetrics) AddChunksFailed(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.chunksFailed.Add(ctx, n)
}

// AddRecordsPublished records usage records accepted by the billing provider.
func (m *MeteringMetrics) AddRecordsPublished(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.recordsPublished.Add(ctx, n)
}

// AddPairsSkipped records tenant/product pairs skipped for missing mappings.
func (m *MeteringMetrics) AddPairsSkipped(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.pairsSkipped.Add(ctx, n)
}

// RecordCycle records a completed engine cycle and its duration.
func (m *MeteringMetrics) RecordCycle(ctx context.Context, engine string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.RecordDuration(ctx, d, attribute.String("engine", engine))
}
