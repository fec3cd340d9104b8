package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewMeteringMetrics(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	m, err := NewMeteringMetrics(meter)

	require.NoError(t, err)
	assert.NotNil(t, m)

	// Recording through a no-op meter must not panic.
	ctx := context.Background()
	m.AddEventsFolded(ctx, 30)
	m.AddChunksCommitted(ctx, 2)
	m.AddChunksFailed(ctx, 1)
	m.AddRecordsPublished(ctx, 1)
	m.AddPairsSkipped(ctx, 1)
	m.RecordCycle(ctx, "aggregation", 250*time.Millisecond)
}

func TestNewMeteringMetrics_NilMeter(t *testing.T) {
	m, err := NewMeteringMetrics(nil)

	assert.ErrorIs(t, err, ErrMeterNil)
	assert.Nil(t, m)
}

func TestMeteringMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *MeteringMetrics

	ctx := context.Background()
	m.AddEventsFolded(ctx, 1)
	m.AddChunksCommitted(ctx, 1)
	m.AddChunksFailed(ctx, 1)
	m.AddRecordsPublished(ctx, 1)
	m.AddPairsSkipped(ctx, 1)
	m.RecordCycle(ctx, "publish", time.Second)
}
