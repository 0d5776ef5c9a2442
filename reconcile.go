package synapsd

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canvas-server/synapsd/bitmap"
	"github.com/canvas-server/synapsd/fts"
	"github.com/canvas-server/synapsd/model"
)

// ReconcileReport lists what a consistency pass repaired.
type ReconcileReport struct {
	// Documents is the number of stored documents.
	Documents int
	// UniverseAdded and UniverseRemoved count ids added to or removed from
	// the universe bitmap.
	UniverseAdded   int
	UniverseRemoved int
	// MembershipsRemoved counts ids of missing documents removed from
	// context and feature bitmaps.
	MembershipsRemoved int
	// ChecksumsAdded and ChecksumsRemoved count checksum index entries
	// re-registered or dropped.
	ChecksumsAdded   int
	ChecksumsRemoved int
	// ChecksumConflicts counts checksums a document lists but another
	// document holds. They are left alone.
	ChecksumConflicts int
	// FTSAdded and FTSRemoved count full-text entries added or dropped.
	FTSAdded   int
	FTSRemoved int
	// SequenceAdvanced is set when the id sequence lagged behind the
	// highest stored id.
	SequenceAdvanced bool
	Duration         time.Duration
}

// Repairs returns the total number of changes made.
func (r ReconcileReport) Repairs() int {
	n := r.UniverseAdded + r.UniverseRemoved + r.MembershipsRemoved +
		r.ChecksumsAdded + r.ChecksumsRemoved + r.FTSAdded + r.FTSRemoved
	if r.SequenceAdvanced {
		n++
	}
	return n
}

type checksumEntry struct {
	c  model.Checksum
	id model.ID
}

// reconcilePlan collects the repairs found by the scans. Each scan writes
// its own fields.
type reconcilePlan struct {
	universeAdd    []model.ID
	universeRemove []model.ID
	contexts       map[string][]model.ID
	features       map[string][]model.ID
	checksumAdd    []checksumEntry
	checksumRemove []model.Checksum
	conflicts      int
	ftsAdd         []*model.Document
	ftsRemove      []model.ID
	nextID         model.ID
}

// Reconcile makes the universe bitmap, tag bitmaps, checksum index and
// full-text index agree with the document store, which is authoritative.
// Writes are blocked while it runs.
func (db *SynapsD) Reconcile(ctx context.Context) (ReconcileReport, error) {
	start := time.Now()

	report, err := db.reconcile(ctx)
	report.Duration = time.Since(start)
	err = translateError(err)

	db.metrics.RecordReconcile(report.Repairs(), report.Duration, err)
	db.logger.LogReconcile(ctx, report, err)
	return report, err
}

func (db *SynapsD) reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	if err := db.lock(); err != nil {
		return report, err
	}
	defer db.mu.Unlock()

	end, err := db.rc.BeginMaintenance(ctx)
	if err != nil {
		return report, err
	}
	defer end()

	docs := make(map[model.ID]*model.Document)
	var ids []model.ID
	err = db.docs.ForEach(ctx, func(doc *model.Document) error {
		docs[doc.ID] = doc
		ids = append(ids, doc.ID)
		return nil
	})
	if err != nil {
		return report, staged(stageDocuments, err)
	}
	report.Documents = len(docs)

	min, max := db.system.Range()
	live, err := bitmap.New("", min, max, ids...)
	if err != nil {
		return report, staged(stageDocuments, err)
	}

	plan := reconcilePlan{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return db.scanUniverse(gctx, live, &plan) })
	g.Go(func() error {
		var err error
		plan.contexts, err = scanTags(gctx, db.contexts, live)
		return staged(stageContexts, err)
	})
	g.Go(func() error {
		var err error
		plan.features, err = scanTags(gctx, db.features, live)
		return staged(stageFeatures, err)
	})
	g.Go(func() error { return db.scanChecksums(gctx, docs, &plan) })
	g.Go(func() error { return db.scanFTS(gctx, docs, &plan) })
	g.Go(func() error { return db.scanSequence(gctx, ids, &plan) })
	if err := g.Wait(); err != nil {
		return report, err
	}

	report.UniverseAdded = len(plan.universeAdd)
	report.UniverseRemoved = len(plan.universeRemove)
	for _, stale := range plan.contexts {
		report.MembershipsRemoved += len(stale)
	}
	for _, stale := range plan.features {
		report.MembershipsRemoved += len(stale)
	}
	report.ChecksumsRemoved = len(plan.checksumRemove)
	report.ChecksumsAdded = len(plan.checksumAdd)
	report.ChecksumConflicts = plan.conflicts
	report.FTSRemoved = len(plan.ftsRemove)
	report.SequenceAdvanced = plan.nextID != 0

	if report.Repairs() == 0 && len(plan.ftsAdd) == 0 {
		return report, nil
	}
	err = db.store.Update(ctx, func(ctx context.Context) error {
		added, err := db.applyPlan(ctx, &plan)
		report.FTSAdded = added
		return err
	})
	if err != nil {
		return ReconcileReport{Documents: report.Documents}, err
	}
	return report, nil
}

func (db *SynapsD) scanUniverse(ctx context.Context, live *bitmap.Bitmap, plan *reconcilePlan) error {
	universe, err := db.system.GetBitmap(ctx, UniverseKey, false)
	if err != nil {
		return staged(stageUniverse, err)
	}
	if universe == nil {
		plan.universeAdd = live.ToArray()
		return nil
	}
	missing := live.Clone()
	if err := missing.AndNot(universe); err != nil {
		return staged(stageUniverse, err)
	}
	extra := universe.Clone()
	if err := extra.AndNot(live); err != nil {
		return staged(stageUniverse, err)
	}
	plan.universeAdd = missing.ToArray()
	plan.universeRemove = extra.ToArray()
	return nil
}

// scanTags returns, per bitmap key, the ids of documents that no longer exist.
func scanTags(ctx context.Context, c *bitmap.Collection, live *bitmap.Bitmap) (map[string][]model.ID, error) {
	keys, err := c.ListBitmaps(ctx)
	if err != nil {
		return nil, err
	}
	stale := make(map[string][]model.ID)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := c.GetBitmap(ctx, key, false)
		if err != nil {
			return nil, err
		}
		if b == nil || b.IsEmpty() {
			continue
		}
		dead := b.Clone()
		if err := dead.AndNot(live); err != nil {
			return nil, err
		}
		if !dead.IsEmpty() {
			stale[key] = dead.ToArray()
		}
	}
	return stale, nil
}

// scanChecksums drops entries of missing documents and entries a document
// no longer lists, and re-registers listed checksums that have no entry.
func (db *SynapsD) scanChecksums(ctx context.Context, docs map[model.ID]*model.Document, plan *reconcilePlan) error {
	held := make(map[model.Checksum]model.ID)
	err := db.checksums.ForEach(ctx, func(c model.Checksum, id model.ID) error {
		doc, ok := docs[id]
		if !ok || !slices.Contains(doc.Checksums, c) {
			plan.checksumRemove = append(plan.checksumRemove, c)
			return nil
		}
		held[c] = id
		return nil
	})
	if err != nil {
		return staged(stageChecksums, err)
	}
	for _, doc := range sortedDocs(docs) {
		for _, c := range doc.Checksums {
			holder, ok := held[c]
			switch {
			case !ok:
				held[c] = doc.ID
				plan.checksumAdd = append(plan.checksumAdd, checksumEntry{c: c, id: doc.ID})
			case holder != doc.ID:
				plan.conflicts++
			}
		}
	}
	return nil
}

// scanFTS finds full-text entries of missing documents and documents with
// indexable text that are not indexed.
func (db *SynapsD) scanFTS(ctx context.Context, docs map[model.ID]*model.Document, plan *reconcilePlan) error {
	idx := db.fts.Index()
	for _, id := range idx.IDs() {
		if _, ok := docs[id]; !ok {
			plan.ftsRemove = append(plan.ftsRemove, id)
		}
	}
	for _, doc := range sortedDocs(docs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if idx.Has(doc.ID) {
			continue
		}
		desc, err := db.registry.Get(doc.Schema)
		if err != nil {
			db.logger.WarnContext(ctx, "reconcile: skipping document with unknown schema",
				"id", uint32(doc.ID), "schema", doc.Schema)
			continue
		}
		if strings.TrimSpace(fts.Text(doc, desc.FullTextIndexFields)) == "" {
			continue
		}
		plan.ftsAdd = append(plan.ftsAdd, doc)
	}
	return nil
}

func (db *SynapsD) scanSequence(ctx context.Context, ids []model.ID, plan *reconcilePlan) error {
	if len(ids) == 0 {
		return nil
	}
	next, err := db.docs.Sequence(ctx)
	if err != nil {
		return staged(stageAllocate, err)
	}
	if highest := slices.Max(ids); next <= highest {
		plan.nextID = highest + 1
	}
	return nil
}

// applyPlan writes the repairs inside the transaction carried by ctx and
// returns the number of documents added to the full-text index.
func (db *SynapsD) applyPlan(ctx context.Context, plan *reconcilePlan) (int, error) {
	if len(plan.universeAdd) > 0 {
		if _, err := db.system.Tick(ctx, UniverseKey, plan.universeAdd...); err != nil {
			return 0, staged(stageUniverse, err)
		}
	}
	if len(plan.universeRemove) > 0 {
		if _, err := db.system.Untick(ctx, UniverseKey, plan.universeRemove...); err != nil {
			return 0, staged(stageUniverse, err)
		}
	}
	for key, ids := range plan.contexts {
		if _, err := db.contexts.Untick(ctx, key, ids...); err != nil {
			return 0, staged(stageContexts, err)
		}
	}
	for key, ids := range plan.features {
		if _, err := db.features.Untick(ctx, key, ids...); err != nil {
			return 0, staged(stageFeatures, err)
		}
	}
	for _, c := range plan.checksumRemove {
		if err := db.checksums.Delete(ctx, c.Algorithm, c.Value); err != nil {
			return 0, staged(stageChecksums, err)
		}
	}
	for _, e := range plan.checksumAdd {
		if err := db.checksums.Insert(ctx, e.c.Algorithm, e.c.Value, e.id); err != nil {
			return 0, staged(stageChecksums, err)
		}
	}
	if plan.nextID != 0 {
		if err := db.docs.AdvanceSequence(ctx, plan.nextID); err != nil {
			return 0, staged(stageAllocate, err)
		}
	}

	added := 0
	if len(plan.ftsAdd) > 0 || len(plan.ftsRemove) > 0 {
		err := db.fts.Apply(ctx, func(idx *fts.Index) {
			for _, id := range plan.ftsRemove {
				idx.Delete(id)
			}
			for _, doc := range plan.ftsAdd {
				desc, err := db.registry.Get(doc.Schema)
				if err != nil {
					continue
				}
				idx.Add(doc.ID, fts.Text(doc, desc.FullTextIndexFields))
				if idx.Has(doc.ID) {
					added++
				}
			}
		})
		if err != nil {
			return 0, staged(stageFTS, fmt.Errorf("apply: %w", err))
		}
	}
	return added, nil
}

func sortedDocs(docs map[model.ID]*model.Document) []*model.Document {
	out := make([]*model.Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc)
	}
	slices.SortFunc(out, func(a, b *model.Document) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
