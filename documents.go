package synapsd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/canvas-server/synapsd/bitmap"
	"github.com/canvas-server/synapsd/checksum"
	"github.com/canvas-server/synapsd/internal/docstore"
	"github.com/canvas-server/synapsd/model"
	"github.com/canvas-server/synapsd/schema"
)

// Insert stores doc and tags it with the given contexts and features. The
// schema name is always added as a feature.
//
// Content already stored (same primary checksum) is not written again: the
// existing id is returned and no event fires. On success doc.ID,
// doc.Checksums and the timestamps are set.
func (db *SynapsD) Insert(ctx context.Context, doc *model.Document, contextArray, featureArray []string) (model.ID, error) {
	start := time.Now()

	id, created, err := db.insert(ctx, doc, contextArray, featureArray)
	err = translateError(err)

	db.metrics.RecordInsert(time.Since(start), err == nil && !created, err)
	db.logger.LogInsert(ctx, id, created, err)
	if err == nil && created {
		db.emit(EventInsert, id)
	}
	return id, err
}

func (db *SynapsD) insert(ctx context.Context, doc *model.Document, contextArray, featureArray []string) (model.ID, bool, error) {
	desc, sums, err := db.prepare(doc)
	if err != nil {
		return 0, false, err
	}
	if err := db.lock(); err != nil {
		return 0, false, err
	}
	defer db.mu.Unlock()

	primary := sums[0]
	existing, err := db.checksums.Lookup(ctx, primary.Algorithm, primary.Value)
	switch {
	case err == nil:
		doc.ID = existing
		return existing, false, nil
	case !errors.Is(err, checksum.ErrNotFound):
		return 0, false, err
	}

	now := db.opts.now().UTC()
	stored := doc.Clone()
	stored.Checksums = sums
	if stored.SchemaVersion == "" {
		stored.SchemaVersion = desc.Version
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	contexts := normalizeTags(contextArray)
	features := normalizeTags([]string{desc.Name}, doc.FeatureArray, featureArray)
	stored.FeatureArray = features

	err = db.store.Update(ctx, func(ctx context.Context) error {
		id, err := db.docs.NextID(ctx)
		if err != nil {
			return staged(stageAllocate, err)
		}
		stored.ID = id
		if err := db.docs.Put(ctx, stored); err != nil {
			return staged(stageDocuments, err)
		}
		if err := db.checksums.InsertAll(ctx, stored.Checksums, id); err != nil {
			return staged(stageChecksums, err)
		}
		if err := db.contexts.TickMany(ctx, contexts, id); err != nil {
			return staged(stageContexts, err)
		}
		if err := db.features.TickMany(ctx, features, id); err != nil {
			return staged(stageFeatures, err)
		}
		if _, err := db.system.Tick(ctx, UniverseKey, id); err != nil {
			return staged(stageUniverse, err)
		}
		return staged(stageFTS, db.fts.AddDocument(ctx, stored, desc.FullTextIndexFields))
	})
	if err != nil {
		return 0, false, err
	}

	doc.ID = stored.ID
	doc.Checksums = stored.Checksums
	doc.SchemaVersion = stored.SchemaVersion
	doc.CreatedAt = stored.CreatedAt
	doc.UpdatedAt = stored.UpdatedAt
	return stored.ID, true, nil
}

// Update replaces the stored document doc.ID.
//
// contextArray and featureArray are the complete desired tag sets: tags
// the document no longer names are removed, new ones added. The schema
// feature is always kept. CreatedAt is preserved and UpdatedAt bumped.
// Content held by another document fails with ErrDuplicate.
func (db *SynapsD) Update(ctx context.Context, doc *model.Document, contextArray, featureArray []string) error {
	start := time.Now()

	var id model.ID
	if doc != nil {
		id = doc.ID
	}
	err := translateError(db.update(ctx, doc, contextArray, featureArray))

	db.metrics.RecordUpdate(time.Since(start), err)
	db.logger.LogUpdate(ctx, id, err)
	if err == nil {
		db.emit(EventUpdate, id)
	}
	return err
}

func (db *SynapsD) update(ctx context.Context, doc *model.Document, contextArray, featureArray []string) error {
	if doc != nil && doc.ID == 0 {
		return ErrInvalidID
	}
	desc, sums, err := db.prepare(doc)
	if err != nil {
		return err
	}
	if err := db.lock(); err != nil {
		return err
	}
	defer db.mu.Unlock()

	old, err := db.docs.Get(ctx, doc.ID)
	if err != nil {
		return err
	}
	primary := sums[0]
	holder, err := db.checksums.Lookup(ctx, primary.Algorithm, primary.Value)
	switch {
	case err == nil && holder != doc.ID:
		return fmt.Errorf("%w: %s is held by document %d", ErrDuplicate, primary, holder)
	case err != nil && !errors.Is(err, checksum.ErrNotFound):
		return err
	}

	// Checksums registered through InsertChecksum are not recomputed
	// from content; they move to the new version unchanged.
	for _, c := range old.Checksums {
		if !slices.Contains(desc.ChecksumAlgorithms, c.Algorithm) && !slices.Contains(sums, c) {
			sums = append(sums, c)
		}
	}

	stored := doc.Clone()
	stored.Checksums = sums
	if stored.SchemaVersion == "" {
		stored.SchemaVersion = desc.Version
	}
	stored.CreatedAt = old.CreatedAt
	stored.UpdatedAt = db.opts.now().UTC()
	contexts := normalizeTags(contextArray)
	features := normalizeTags([]string{desc.Name}, doc.FeatureArray, featureArray)
	stored.FeatureArray = features

	err = db.store.Update(ctx, func(ctx context.Context) error {
		if err := db.checksums.DeleteAll(ctx, old.Checksums, doc.ID); err != nil {
			return staged(stageChecksums, err)
		}
		if err := db.checksums.InsertAll(ctx, stored.Checksums, doc.ID); err != nil {
			return staged(stageChecksums, err)
		}
		if err := db.docs.Put(ctx, stored); err != nil {
			return staged(stageDocuments, err)
		}
		if err := syncTags(ctx, db.contexts, doc.ID, contexts); err != nil {
			return staged(stageContexts, err)
		}
		if err := syncTags(ctx, db.features, doc.ID, features); err != nil {
			return staged(stageFeatures, err)
		}
		if _, err := db.system.Tick(ctx, UniverseKey, doc.ID); err != nil {
			return staged(stageUniverse, err)
		}
		return staged(stageFTS, db.fts.UpdateDocument(ctx, stored, desc.FullTextIndexFields))
	})
	if err != nil {
		return err
	}

	doc.Checksums = stored.Checksums
	doc.SchemaVersion = stored.SchemaVersion
	doc.CreatedAt = stored.CreatedAt
	doc.UpdatedAt = stored.UpdatedAt
	return nil
}

// syncTags makes id a member of exactly the bitmaps in desired.
func syncTags(ctx context.Context, c *bitmap.Collection, id model.ID, desired []string) error {
	current, err := c.KeysContaining(ctx, id)
	if err != nil {
		return err
	}
	var stale, missing []string
	for _, key := range current {
		if !slices.Contains(desired, key) {
			stale = append(stale, key)
		}
	}
	for _, key := range desired {
		if !slices.Contains(current, key) {
			missing = append(missing, key)
		}
	}
	if err := c.UntickMany(ctx, stale, id); err != nil {
		return err
	}
	return c.TickMany(ctx, missing, id)
}

// Remove takes id out of the named context and feature bitmaps. The
// document itself, its checksums and its other memberships stay. Removing
// an unknown id returns false.
func (db *SynapsD) Remove(ctx context.Context, id model.ID, contextArray, featureArray []string) (bool, error) {
	start := time.Now()

	contexts := normalizeTags(contextArray)
	features := normalizeTags(featureArray)
	found, err := db.remove(ctx, id, contexts, features)
	err = translateError(err)

	db.metrics.RecordRemove(time.Since(start), err)
	db.logger.LogRemove(ctx, id, contexts, features, found, err)
	if err == nil && found {
		db.emit(EventRemove, id)
	}
	return found, err
}

func (db *SynapsD) remove(ctx context.Context, id model.ID, contexts, features []string) (bool, error) {
	if id == 0 {
		return false, ErrInvalidID
	}
	if err := db.lock(); err != nil {
		return false, err
	}
	defer db.mu.Unlock()

	found, err := db.docs.Has(ctx, id)
	if err != nil || !found {
		return false, err
	}
	err = db.store.Update(ctx, func(ctx context.Context) error {
		if err := db.contexts.UntickMany(ctx, contexts, id); err != nil {
			return staged(stageContexts, err)
		}
		return staged(stageFeatures, db.features.UntickMany(ctx, features, id))
	})
	return err == nil, err
}

// Delete removes the document, its checksums, every tag membership and its
// full-text entry. Deleting an unknown id returns false.
func (db *SynapsD) Delete(ctx context.Context, id model.ID) (bool, error) {
	start := time.Now()

	found, err := db.delete(ctx, id)
	err = translateError(err)

	db.metrics.RecordDelete(time.Since(start), err)
	db.logger.LogDelete(ctx, id, found, err)
	if err == nil && found {
		db.emit(EventDelete, id)
	}
	return found, err
}

func (db *SynapsD) delete(ctx context.Context, id model.ID) (bool, error) {
	if id == 0 {
		return false, ErrInvalidID
	}
	if err := db.lock(); err != nil {
		return false, err
	}
	defer db.mu.Unlock()

	old, err := db.docs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	err = db.store.Update(ctx, func(ctx context.Context) error {
		if _, err := db.docs.Delete(ctx, id); err != nil {
			return staged(stageDocuments, err)
		}
		if err := db.checksums.DeleteAll(ctx, old.Checksums, id); err != nil {
			return staged(stageChecksums, err)
		}
		if _, err := db.contexts.UntickAll(ctx, id); err != nil {
			return staged(stageContexts, err)
		}
		if _, err := db.features.UntickAll(ctx, id); err != nil {
			return staged(stageFeatures, err)
		}
		if _, err := db.system.Untick(ctx, UniverseKey, id); err != nil {
			return staged(stageUniverse, err)
		}
		return staged(stageFTS, db.fts.RemoveDocument(ctx, id))
	})
	return err == nil, err
}

// Get returns the document stored under id.
func (db *SynapsD) Get(ctx context.Context, id model.ID) (*model.Document, error) {
	if id == 0 {
		return nil, ErrInvalidID
	}
	if err := db.rlock(); err != nil {
		return nil, err
	}
	defer db.mu.RUnlock()

	doc, err := db.docs.Get(ctx, id)
	return doc, translateError(err)
}

// Has reports whether a document is stored under id.
func (db *SynapsD) Has(ctx context.Context, id model.ID) (bool, error) {
	if id == 0 {
		return false, ErrInvalidID
	}
	if err := db.rlock(); err != nil {
		return false, err
	}
	defer db.mu.RUnlock()

	found, err := db.docs.Has(ctx, id)
	return found, translateError(err)
}

// ChecksumToID returns the document holding the checksum.
func (db *SynapsD) ChecksumToID(ctx context.Context, algorithm, hash string) (model.ID, error) {
	if err := db.rlock(); err != nil {
		return 0, err
	}
	defer db.mu.RUnlock()

	id, err := db.checksums.Lookup(ctx, algorithm, hash)
	return id, translateError(err)
}

// InsertChecksum maps an additional checksum to the stored document id.
// The checksum is also recorded on the document. A checksum held by
// another document fails with ErrDuplicate.
func (db *SynapsD) InsertChecksum(ctx context.Context, algorithm, hash string, id model.ID) error {
	if id == 0 {
		return ErrInvalidID
	}
	if err := db.lock(); err != nil {
		return err
	}
	defer db.mu.Unlock()

	err := db.store.Update(ctx, func(ctx context.Context) error {
		doc, err := db.docs.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := db.checksums.Insert(ctx, algorithm, hash, id); err != nil {
			return staged(stageChecksums, err)
		}
		c := model.Checksum{Algorithm: algorithm, Value: hash}
		if slices.Contains(doc.Checksums, c) {
			return nil
		}
		doc.Checksums = append(doc.Checksums, c)
		return staged(stageDocuments, db.docs.Put(ctx, doc))
	})
	return translateError(err)
}

// ListSchemas returns the names of all known schemas.
func (db *SynapsD) ListSchemas() []string {
	return db.registry.List()
}

// GetSchema returns the descriptor registered under name.
func (db *SynapsD) GetSchema(name string) (*schema.Descriptor, error) {
	desc, err := db.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return desc, nil
}

// prepare validates doc against its schema and computes its checksums.
// Nothing is written.
func (db *SynapsD) prepare(doc *model.Document) (*schema.Descriptor, []model.Checksum, error) {
	if doc == nil {
		return nil, nil, &ValidationError{cause: errors.New("nil document")}
	}
	desc, err := db.registry.Get(doc.Schema)
	if err != nil {
		return nil, nil, &ValidationError{Schema: doc.Schema, cause: err}
	}
	if doc.Data == nil {
		return nil, nil, &ValidationError{Schema: doc.Schema, cause: errors.New("document has no data")}
	}
	if err := desc.Validate(doc.Data); err != nil {
		return nil, nil, &ValidationError{Schema: doc.Schema, cause: err}
	}
	sums, err := checksum.Compute(doc, desc.ChecksumFields, desc.ChecksumAlgorithms)
	if err != nil {
		return nil, nil, &ValidationError{Schema: doc.Schema, cause: err}
	}
	if len(sums) == 0 {
		return nil, nil, &ValidationError{Schema: doc.Schema, cause: errors.New("no checksums")}
	}
	return desc, sums, nil
}

// normalizeTags trims, drops empty and de-duplicates tags, keeping the
// first occurrence order.
func normalizeTags(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			if tag == "" || slices.Contains(out, tag) {
				continue
			}
			out = append(out, tag)
		}
	}
	return out
}
