package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sort key prefixes for the two item kinds sharing the billing table.
// The formats are load-bearing: other components locate items with
// begins_with conditions on these prefixes.
const (
	EventKeyPrefix     = "EVENT#"
	AggregateKeyPrefix = "AGGREGATE#"
)

// MaxTransactItems is the backend's per-transaction item limit. A chunk of
// raw events must leave room for the single counter update that rides in
// the same transaction, hence EventChunkSize = MaxTransactItems - 1.
const (
	MaxTransactItems = 25
	EventChunkSize   = MaxTransactItems - 1
)

// BucketUnit is the fixed-width time window granularity used to group raw
// events into aggregate entries. Its name is embedded in aggregate sort keys.
type BucketUnit string

const (
	BucketUnitMinute BucketUnit = "MINUTE"
	BucketUnitHour   BucketUnit = "HOUR"
)

// Duration returns the width of one bucket.
func (u BucketUnit) Duration() time.Duration {
	switch u {
	case BucketUnitHour:
		return time.Hour
	default:
		return time.Minute
	}
}

// IsValid returns true if the bucket unit is a known granularity.
func (u BucketUnit) IsValid() bool {
	return u == BucketUnitMinute || u == BucketUnitHour
}

// String returns the string representation of the bucket unit.
func (u BucketUnit) String() string {
	return string(u)
}

// ParseBucketUnit parses a bucket unit name, accepting any casing.
func ParseBucketUnit(s string) (BucketUnit, error) {
	switch strings.ToUpper(s) {
	case "MINUTE":
		return BucketUnitMinute, nil
	case "HOUR":
		return BucketUnitHour, nil
	default:
		return "", fmt.Errorf("billing: unknown bucket unit: %q", s)
	}
}

// EventSortKey builds the sort key for a raw usage event:
// EVENT#<epoch-millis>#<nonce>. The nonce disambiguates events recorded
// within the same millisecond for the same tenant.
func EventSortKey(ts time.Time, nonce string) string {
	return fmt.Sprintf("%s%d#%s", EventKeyPrefix, ts.UnixMilli(), nonce)
}

// ParseEventSortKey extracts the timestamp and nonce from an event sort key.
func ParseEventSortKey(key string) (time.Time, string, error) {
	rest, ok := strings.CutPrefix(key, EventKeyPrefix)
	if !ok {
		return time.Time{}, "", fmt.Errorf("billing: not an event sort key: %q", key)
	}
	millis, nonce, ok := strings.Cut(rest, "#")
	if !ok || nonce == "" {
		return time.Time{}, "", fmt.Errorf("billing: malformed event sort key: %q", key)
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("billing: malformed event timestamp in %q: %w", key, err)
	}
	return time.UnixMilli(ms).UTC(), nonce, nil
}

// AggregateSortKey builds the sort key for an aggregate entry:
// AGGREGATE#<BUCKET_UNIT>#<epoch-millis-of-bucket-start>.
func AggregateSortKey(unit BucketUnit, bucketStart time.Time) string {
	return fmt.Sprintf("%s%s#%d", AggregateKeyPrefix, unit, bucketStart.UnixMilli())
}

// ParseAggregateSortKey extracts the bucket unit and bucket start from an
// aggregate sort key.
func ParseAggregateSortKey(key string) (BucketUnit, time.Time, error) {
	rest, ok := strings.CutPrefix(key, AggregateKeyPrefix)
	if !ok {
		return "", time.Time{}, fmt.Errorf("billing: not an aggregate sort key: %q", key)
	}
	unitName, millis, ok := strings.Cut(rest, "#")
	if !ok {
		return "", time.Time{}, fmt.Errorf("billing: malformed aggregate sort key: %q", key)
	}
	unit, err := ParseBucketUnit(unitName)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("billing: malformed aggregate sort key %q: %w", key, err)
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("billing: malformed bucket start in %q: %w", key, err)
	}
	return unit, time.UnixMilli(ms).UTC(), nil
}
