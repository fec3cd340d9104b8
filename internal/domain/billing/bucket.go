package billing

import "time"

// BucketStart truncates a timestamp to the start of its bucket in UTC.
func BucketStart(t time.Time, unit BucketUnit) time.Time {
	return t.UTC().Truncate(unit.Duration())
}

// IsOpenBucket reports whether a bucket is still open relative to now: the
// current bucket (and anything after it) may still receive events within
// this cycle, so only strictly-past buckets are safe to aggregate.
func IsOpenBucket(bucketStart, now time.Time, unit BucketUnit) bool {
	return !bucketStart.Before(BucketStart(now, unit))
}
