package synapsd

import (
	"context"
	"time"

	"github.com/canvas-server/synapsd/bitmap"
	"github.com/canvas-server/synapsd/fts"
	"github.com/canvas-server/synapsd/model"
)

// List returns the ids, in ascending order, of the documents that are in
// every named context and in at least one named feature.
//
// Contexts that do not exist are ignored; if none of the named contexts
// exists the context constraint is dropped and only features filter.
// Existing contexts constrain even when their intersection is empty. An
// empty featureArray applies no feature constraint. With neither
// constraint every stored document is returned.
//
// filterArray is accepted for callers that already pass filters; it is
// logged and not applied.
func (db *SynapsD) List(ctx context.Context, contextArray, featureArray, filterArray []string) ([]model.ID, error) {
	start := time.Now()

	contexts := normalizeTags(contextArray)
	features := normalizeTags(featureArray)
	if len(filterArray) > 0 {
		db.logger.DebugContext(ctx, "list filters are not applied", "filters", filterArray)
	}

	var ids []model.ID
	err := db.rlock()
	if err == nil {
		var b *bitmap.Bitmap
		b, err = db.match(ctx, contexts, features)
		db.mu.RUnlock()
		if err == nil {
			ids = b.ToArray()
		}
	}
	err = translateError(err)

	db.metrics.RecordList(len(ids), time.Since(start), err)
	db.logger.LogList(ctx, contexts, features, len(ids), err)
	return ids, err
}

// match computes the membership bitmap for List. The caller holds the
// read lock.
func (db *SynapsD) match(ctx context.Context, contexts, features []string) (*bitmap.Bitmap, error) {
	var present []string
	for _, key := range contexts {
		ok, err := db.contexts.HasBitmap(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			present = append(present, key)
		}
	}

	var res *bitmap.Bitmap
	if len(present) > 0 {
		b, err := db.contexts.AND(ctx, present)
		if err != nil {
			return nil, err
		}
		res = b
	}
	if len(features) > 0 {
		b, err := db.features.OR(ctx, features)
		if err != nil {
			return nil, err
		}
		if res == nil {
			res = b
		} else if err := res.And(b); err != nil {
			return nil, err
		}
	}
	if res != nil {
		return res, nil
	}

	universe, err := db.system.GetBitmap(ctx, UniverseKey, false)
	if err != nil {
		return nil, err
	}
	if universe == nil {
		min, max := db.system.Range()
		return bitmap.New("", min, max)
	}
	return universe.Clone(), nil
}

// Find runs a full-text search restricted to the documents List would
// return for contextArray and featureArray. Results are ordered by
// relevance; limit <= 0 selects the default of 100.
func (db *SynapsD) Find(ctx context.Context, query string, contextArray, featureArray []string, limit int) ([]model.ID, error) {
	start := time.Now()

	ids, err := db.find(ctx, query, normalizeTags(contextArray), normalizeTags(featureArray), limit)
	err = translateError(err)

	db.metrics.RecordSearch(len(ids), time.Since(start), err)
	db.logger.LogSearch(ctx, query, len(ids), err)
	return ids, err
}

func (db *SynapsD) find(ctx context.Context, query string, contexts, features []string, limit int) ([]model.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := db.rlock(); err != nil {
		return nil, err
	}
	defer db.mu.RUnlock()

	candidates, err := db.match(ctx, contexts, features)
	if err != nil {
		return nil, err
	}
	if candidates.IsEmpty() {
		return []model.ID{}, nil
	}
	results := db.fts.SearchScored(query, limit, candidates.Contains)
	return resultIDs(results), nil
}

// Query runs a full-text search over all documents, best match first.
// limit <= 0 selects the default of 100.
func (db *SynapsD) Query(ctx context.Context, query string, limit int) ([]model.ID, error) {
	start := time.Now()

	var ids []model.ID
	err := db.rlock()
	if err == nil {
		ids, err = db.fts.Search(ctx, query, limit)
		db.mu.RUnlock()
	}
	err = translateError(err)

	db.metrics.RecordSearch(len(ids), time.Since(start), err)
	db.logger.LogSearch(ctx, query, len(ids), err)
	return ids, err
}

// Hit is a scored full-text match.
type Hit struct {
	ID    model.ID
	Score float64
}

// FindScored is Find returning relevance scores.
func (db *SynapsD) FindScored(ctx context.Context, query string, contextArray, featureArray []string, limit int) ([]Hit, error) {
	start := time.Now()

	var hits []Hit
	err := ctx.Err()
	if err == nil {
		err = db.rlock()
	}
	if err == nil {
		var candidates *bitmap.Bitmap
		candidates, err = db.match(ctx, normalizeTags(contextArray), normalizeTags(featureArray))
		if err == nil {
			for _, r := range db.fts.SearchScored(query, limit, candidates.Contains) {
				hits = append(hits, Hit{ID: r.ID, Score: r.Score})
			}
		}
		db.mu.RUnlock()
	}
	err = translateError(err)

	db.metrics.RecordSearch(len(hits), time.Since(start), err)
	db.logger.LogSearch(ctx, query, len(hits), err)
	return hits, err
}

func resultIDs(results []fts.Result) []model.ID {
	out := make([]model.ID, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}
