// Package bitmap provides range-checked roaring bitmaps of document ids and
// Collection, a keyed family of bitmaps persisted in a kv.Dataset.
//
// Collections used for context and feature tags share one bounded Cache.
// Every collection writes through its own cache namespace, so collections
// never see each other's entries.
//
//	cache := bitmap.NewCache(64<<20, bitmap.WithShards(8))
//	contexts, _ := bitmap.NewCollection(ds, bitmap.WithTag("contexts"), bitmap.WithCache(cache))
//	contexts.Tick(ctx, "/journal", 1000, 1001)
package bitmap
