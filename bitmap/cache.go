package bitmap

import (
	"github.com/canvas-server/synapsd/internal/cache"
	"github.com/canvas-server/synapsd/internal/resource"
)

// DefaultCacheBytes is the default budget of a bitmap cache.
const DefaultCacheBytes = 64 << 20

// Cache is a bounded cache of frozen bitmaps shared by collections.
// Keys are namespaced by collection tag.
type Cache struct {
	c cache.Cache[*Bitmap]
}

// CacheStats is a snapshot of cache counters.
type CacheStats = cache.Stats

type cacheConfig struct {
	shards int
	rc     *resource.Controller
}

// CacheOption configures a Cache.
type CacheOption func(*cacheConfig)

// WithShards splits the cache into n independently locked shards.
func WithShards(n int) CacheOption {
	return func(c *cacheConfig) { c.shards = n }
}

// WithMemoryController accounts cached bytes against rc.
func WithMemoryController(rc *resource.Controller) CacheOption {
	return func(c *cacheConfig) { c.rc = rc }
}

// NewCache creates a cache holding up to capacityBytes of bitmaps.
// A non-positive capacity selects DefaultCacheBytes.
func NewCache(capacityBytes int64, opts ...CacheOption) *Cache {
	if capacityBytes <= 0 {
		capacityBytes = DefaultCacheBytes
	}
	var cfg cacheConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.shards > 1 {
		return &Cache{c: cache.NewSharded[*Bitmap](capacityBytes, cfg.shards, cfg.rc)}
	}
	return &Cache{c: cache.NewLRU[*Bitmap](capacityBytes, cfg.rc)}
}

func (c *Cache) get(ns, key string) (*Bitmap, bool) {
	return c.c.Get(cache.Key{Namespace: ns, Name: key})
}

// set stores b, which must already be frozen. Published bitmaps are never
// written again.
func (c *Cache) set(ns string, b *Bitmap) {
	c.c.Set(cache.Key{Namespace: ns, Name: b.key}, b, b.SizeInBytes())
}

func (c *Cache) delete(ns, key string) {
	c.c.Delete(cache.Key{Namespace: ns, Name: key})
}

func (c *Cache) invalidateNamespace(ns string) {
	c.c.Invalidate(func(k cache.Key) bool { return k.Namespace == ns })
}

// Stats returns cache counters.
func (c *Cache) Stats() CacheStats { return c.c.Stats() }
