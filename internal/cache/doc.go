// Package cache provides bounded LRU caches for decoded index structures.
//
// Entries are addressed by a Key made of a namespace and a name, so several
// owners (for example the context and feature bitmap collections) can share
// one cache without colliding. Capacity is measured in bytes as reported by
// the caller on Set; entries larger than the whole capacity are not cached.
//
// LRU is a single-mutex cache. Sharded spreads keys over N independent LRUs
// (selected with farmhash) for concurrent workloads. Both optionally charge
// their footprint to a resource.Controller.
package cache
