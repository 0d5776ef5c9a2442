package cache

import (
	farmhash "github.com/leemcloughlin/gofarmhash"

	"github.com/canvas-server/synapsd/internal/resource"
)

// DefaultShards is the shard count used when NewSharded gets n <= 0.
const DefaultShards = 16

// Sharded distributes entries across independent LRU shards to reduce
// lock contention. Capacity is divided evenly across shards.
type Sharded[V any] struct {
	shards []*LRU[V]
}

var _ Cache[int] = (*Sharded[int])(nil)

// NewSharded creates a sharded LRU cache with n shards.
func NewSharded[V any](capacity int64, n int, rc *resource.Controller) *Sharded[V] {
	if n <= 0 {
		n = DefaultShards
	}
	shardCapacity := capacity / int64(n)
	if shardCapacity < 1 {
		shardCapacity = 1
	}
	s := &Sharded[V]{shards: make([]*LRU[V], n)}
	for i := range s.shards {
		s.shards[i] = NewLRU[V](shardCapacity, rc)
	}
	return s
}

func (s *Sharded[V]) shard(key Key) *LRU[V] {
	h := farmhash.Hash32WithSeed([]byte(key.Namespace), 0)
	h = farmhash.Hash32WithSeed([]byte(key.Name), h)
	return s.shards[int(h%uint32(len(s.shards)))]
}

// Get returns a cached value.
func (s *Sharded[V]) Get(key Key) (V, bool) { return s.shard(key).Get(key) }

// Set caches a value.
func (s *Sharded[V]) Set(key Key, v V, size int64) { s.shard(key).Set(key, v, size) }

// Delete removes key if present.
func (s *Sharded[V]) Delete(key Key) { s.shard(key).Delete(key) }

// Invalidate removes entries matching the predicate from every shard.
func (s *Sharded[V]) Invalidate(predicate func(key Key) bool) {
	for _, sh := range s.shards {
		sh.Invalidate(predicate)
	}
}

// Stats returns statistics aggregated over all shards.
func (s *Sharded[V]) Stats() Stats {
	var out Stats
	for _, sh := range s.shards {
		st := sh.Stats()
		out.Hits += st.Hits
		out.Misses += st.Misses
		out.Evictions += st.Evictions
		out.Entries += st.Entries
		out.SizeBytes += st.SizeBytes
		out.Capacity += st.Capacity
	}
	return out
}

// ShardStats returns per-shard statistics.
func (s *Sharded[V]) ShardStats() []Stats {
	out := make([]Stats, len(s.shards))
	for i, sh := range s.shards {
		out[i] = sh.Stats()
	}
	return out
}
