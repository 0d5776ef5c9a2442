// Package kv provides the key-value storage layer used by SynapsD.
//
// A Store wraps a Backend and hands out named Datasets. Every Dataset
// operation runs inside a transaction carried by the context:
//
//	err := store.Update(ctx, func(ctx context.Context) error {
//	    if err := docs.Put(ctx, key, value); err != nil {
//	        return err
//	    }
//	    return checksums.Put(ctx, hash, key)
//	})
//
// Nested Update/View calls join the outer transaction, so writes to
// several datasets commit or roll back together. OnCommit and OnRollback
// register callbacks that run once the outermost transaction finishes.
//
// Backends live in sub-packages:
//
//   - kv/bolt: bbolt, the default on-disk backend
//   - kv/sqlite: a single-table layout on modernc.org/sqlite
//   - kv/memory: a snapshot-isolated in-memory backend for tests and ephemeral indexes
package kv
