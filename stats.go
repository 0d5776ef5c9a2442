package synapsd

import (
	"context"

	"github.com/canvas-server/synapsd/bitmap"
	"github.com/canvas-server/synapsd/model"
)

// Stats is a point-in-time summary of the index.
type Stats struct {
	Documents    int
	Checksums    int
	Contexts     int
	Features     int
	FTSDocuments int
	// NextID is the id the next insert will receive.
	NextID model.ID
	Cache  bitmap.CacheStats
	// MemoryBytes is the bitmap cache memory charged to the resource limits.
	MemoryBytes int64
	// MaintenanceJobs is the number of reconcile, backup or restore runs
	// in progress.
	MaintenanceJobs int64
}

// Stats returns document, checksum and tag counts plus cache counters.
func (db *SynapsD) Stats(ctx context.Context) (Stats, error) {
	if err := db.rlock(); err != nil {
		return Stats{}, err
	}
	defer db.mu.RUnlock()

	var s Stats
	err := db.store.View(ctx, func(ctx context.Context) error {
		var err error
		if s.Documents, err = db.docs.Count(ctx); err != nil {
			return err
		}
		if s.Checksums, err = db.checksums.Count(ctx); err != nil {
			return err
		}
		contexts, err := db.contexts.ListBitmaps(ctx)
		if err != nil {
			return err
		}
		features, err := db.features.ListBitmaps(ctx)
		if err != nil {
			return err
		}
		s.Contexts, s.Features = len(contexts), len(features)
		s.NextID, err = db.docs.Sequence(ctx)
		return err
	})
	if err != nil {
		return Stats{}, translateError(err)
	}
	s.FTSDocuments = db.fts.Index().Len()
	s.Cache = db.cache.Stats()
	usage := db.rc.Usage()
	s.MemoryBytes = usage.CacheBytes
	s.MaintenanceJobs = usage.MaintenanceJobs
	return s, nil
}
