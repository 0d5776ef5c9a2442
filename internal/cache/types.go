package cache

// Key identifies a cached value.
type Key struct {
	// Namespace separates owners sharing one cache.
	Namespace string
	// Name is the owner-local key.
	Name string
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int64
	SizeBytes int64
	Capacity  int64
}

// Cache is a bounded cache of immutable values.
// Returned values must be treated as read-only.
type Cache[V any] interface {
	// Get returns a cached value. ok=false if missing.
	Get(key Key) (v V, ok bool)
	// Set caches v, weighing it as size bytes.
	Set(key Key, v V, size int64)
	// Delete removes a single entry.
	Delete(key Key)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Stats returns cache statistics.
	Stats() Stats
}
