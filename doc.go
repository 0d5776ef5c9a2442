// Package synapsd is an embedded document index for a personal
// knowledge server.
//
// Every document carries a set of context tags (workspace paths such as
// "/journal/work") and feature tags (schema names, labels such as
// "tag/alice"). Memberships are kept as roaring bitmaps of document ids, a
// checksum index deduplicates content, and a full-text index with BM25
// ranking follows every write.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := synapsd.Open(ctx, "./index")
//	defer db.Close()
//
//	note := &model.Document{
//	    Schema: schema.Note,
//	    Data:   map[string]any{"title": "Standup", "content": "ship the release"},
//	}
//	id, _ := db.Insert(ctx, note, []string{"/work"}, []string{"tag/meeting"})
//
//	ids, _ := db.List(ctx, []string{"/work"}, nil, nil)   // by context
//	hits, _ := db.Find(ctx, "release", []string{"/work"}, nil, 10) // full text
//
// Inserting the same content twice returns the first id and writes
// nothing.
//
// # Tag Semantics
//
// List intersects the named context bitmaps and, if features are named,
// intersects the result with the union of the feature bitmaps. Contexts
// that do not exist are ignored; if none exists only features filter.
// Remove takes a document out of the named tags only; Delete purges it
// from everything.
//
// # Durability
//
// Each write runs in one transaction of the key-value backend (bbolt by
// default, SQLite or in-memory on request) covering the document, its
// checksums, its tag bitmaps and the full-text snapshot. Open runs
// Reconcile, which repairs indexes left behind by an interrupted writer.
// Backup streams a compressed archive of every dataset to a blob store:
// a local directory, S3 or MinIO.
//
// # Events
//
// Subscribe delivers index:insert, index:update, index:remove and
// index:delete after the write committed.
package synapsd
