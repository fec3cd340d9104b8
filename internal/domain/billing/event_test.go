package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsageEvent(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 22, 31, 450*int(time.Millisecond), time.UTC)

	t.Run("creates valid usage event", func(t *testing.T) {
		event, err := NewUsageEvent("tenant-1", "product_requests", 5, ts)

		require.NoError(t, err)
		assert.Equal(t, "tenant-1", event.TenantID)
		assert.Equal(t, ProductCode("product_requests"), event.ProductCode)
		assert.Equal(t, int64(5), event.Quantity)
		assert.True(t, event.Timestamp.Equal(ts))
		assert.NotEmpty(t, event.Nonce)
	})

	t.Run("fails with empty tenant ID", func(t *testing.T) {
		event, err := NewUsageEvent("", "product_requests", 5, ts)

		assert.Error(t, err)
		assert.Nil(t, event)
		assert.Contains(t, err.Error(), "Tenant ID cannot be empty")
	})

	t.Run("fails with empty product code", func(t *testing.T) {
		event, err := NewUsageEvent("tenant-1", "", 5, ts)

		assert.Error(t, err)
		assert.Nil(t, event)
		assert.Contains(t, err.Error(), "Product code cannot be empty")
	})

	t.Run("fails with negative quantity", func(t *testing.T) {
		event, err := NewUsageEvent("tenant-1", "product_requests", -1, ts)

		assert.Error(t, err)
		assert.Nil(t, event)
		assert.Contains(t, err.Error(), "Quantity cannot be negative")
	})

	t.Run("allows zero quantity", func(t *testing.T) {
		event, err := NewUsageEvent("tenant-1", "product_requests", 0, ts)

		require.NoError(t, err)
		assert.Equal(t, int64(0), event.Quantity)
	})

	t.Run("truncates timestamp to millisecond precision", func(t *testing.T) {
		event, err := NewUsageEvent("tenant-1", "product_requests", 1, ts.Add(123*time.Microsecond))

		require.NoError(t, err)
		assert.True(t, event.Timestamp.Equal(ts))
	})

	t.Run("generates distinct nonces for same-millisecond events", func(t *testing.T) {
		a, err := NewUsageEvent("tenant-1", "product_requests", 1, ts)
		require.NoError(t, err)
		b, err := NewUsageEvent("tenant-1", "product_requests", 1, ts)
		require.NoError(t, err)

		assert.NotEqual(t, a.Nonce, b.Nonce)
		assert.NotEqual(t, a.SortKey(), b.SortKey())
	})
}

func TestUsageEventSortKey(t *testing.T) {
	ts := time.UnixMilli(1773828151450).UTC()
	event, err := NewUsageEvent("tenant-1", "product_requests", 1, ts)
	require.NoError(t, err)

	key := event.SortKey()
	assert.Equal(t, "EVENT#1773828151450#"+event.Nonce, key)

	parsedTS, nonce, err := ParseEventSortKey(key)
	require.NoError(t, err)
	assert.True(t, parsedTS.Equal(ts))
	assert.Equal(t, event.Nonce, nonce)
}

func TestUsageEventBucket(t *testing.T) {
	ts := time.Date(2026, 3, 14, 10, 22, 31, 0, time.UTC)
	event, err := NewUsageEvent("tenant-1", "product_requests", 1, ts)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 14, 10, 22, 0, 0, time.UTC), event.Bucket(BucketUnitMinute))
	assert.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), event.Bucket(BucketUnitHour))
}
