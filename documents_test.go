package synapsd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-server/synapsd/checksum"
	"github.com/canvas-server/synapsd/model"
	"github.com/canvas-server/synapsd/schema"
)

func TestInsert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	doc := newNote("Groceries", "milk and bread")
	id, err := db.Insert(ctx, doc, []string{" /home ", "/home", ""}, []string{"tag/shopping"})
	require.NoError(t, err)

	assert.Equal(t, model.ID(1000), id)
	assert.Equal(t, id, doc.ID)
	require.Len(t, doc.Checksums, 2)
	assert.Equal(t, checksum.SHA1, doc.Checksums[0].Algorithm)
	assert.Equal(t, schema.DefaultVersion, doc.SchemaVersion)
	assert.False(t, doc.CreatedAt.IsZero())

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.Data["title"])
	assert.ElementsMatch(t, []string{schema.Note, "tag/shopping"}, got.FeatureArray)

	contexts, err := db.contexts.KeysContaining(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"/home"}, contexts, "tags are trimmed and de-duplicated")

	has, err := db.Has(ctx, id)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestInsert_Deduplicates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first := mustInsert(t, db, newNote("same", "content"), []string{"/a"}, nil)

	dup := newNote("same", "content")
	again, err := db.Insert(ctx, dup, []string{"/b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, first, dup.ID)

	s, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Documents)
	assert.Equal(t, model.ID(1001), s.NextID, "a deduplicated insert allocates no id")

	ids, err := db.List(ctx, []string{"/b"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{first}, ids, "unknown context is ignored, nothing was tagged")

	has, err := db.contexts.HasBitmap(ctx, "/b")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestInsert_Validation(t *testing.T) {
	tests := []struct {
		name string
		doc  *model.Document
	}{
		{name: "nil document", doc: nil},
		{name: "unknown schema", doc: &model.Document{Schema: "data/abstraction/unknown", Data: map[string]any{"x": 1}}},
		{name: "no data", doc: &model.Document{Schema: schema.Note}},
		{name: "missing required field", doc: &model.Document{Schema: schema.Todo, Data: map[string]any{"content": "no title"}}},
		{name: "wrong field type", doc: &model.Document{Schema: schema.Note, Data: map[string]any{"title": 42}}},
	}

	ctx := context.Background()
	db := newTestDB(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Insert(ctx, tt.doc, []string{"/x"}, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDocument)

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}

	s, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.Documents)
	assert.Zero(t, s.Contexts)
	assert.Equal(t, model.ID(1000), s.NextID)
}

func TestInsert_IDSpaceExhausted(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, WithIDRange(1000, 1002))

	mustInsert(t, db, newNote("a", "1"), nil, nil)
	mustInsert(t, db, newNote("b", "2"), nil, nil)

	_, err := db.Insert(ctx, newNote("c", "3"), []string{"/full"}, nil)
	require.ErrorIs(t, err, ErrIDSpaceExhausted)

	var serr *StageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, stageAllocate, serr.Stage)

	s, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Documents)
}

func TestInsert_RollbackOnChecksumConflict(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	doc := newNote("conflict", "second checksum is taken")
	_, sums, err := db.prepare(doc)
	require.NoError(t, err)
	// Another document already holds the sha256 of this content.
	require.NoError(t, db.checksums.Insert(ctx, sums[1].Algorithm, sums[1].Value, 4000))

	_, err = db.Insert(ctx, doc, []string{"/work"}, []string{"tag/x"})
	require.ErrorIs(t, err, ErrDuplicate)
	var serr *StageError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, stageChecksums, serr.Stage)

	_, err = db.Get(ctx, 1000)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.ChecksumToID(ctx, sums[0].Algorithm, sums[0].Value)
	assert.ErrorIs(t, err, ErrNotFound)

	s, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.Documents)
	assert.Zero(t, s.FTSDocuments)
	assert.Equal(t, model.ID(1000), s.NextID, "allocated id is rolled back")

	ids, err := db.List(ctx, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, ids)

	hits, err := db.Query(ctx, "conflict", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpdate_ReconcilesTags(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	doc := newNote("Plan", "draft the roadmap")
	id := mustInsert(t, db, doc, []string{"/a", "/b"}, []string{"tag/x"})
	created := doc.CreatedAt

	doc.Data["content"] = "final budget"
	require.NoError(t, db.Update(ctx, doc, []string{"/b", "/c"}, []string{"tag/y"}))

	list := func(contexts, features []string) []model.ID {
		ids, err := db.List(ctx, contexts, features, nil)
		require.NoError(t, err)
		return ids
	}
	keys, err := db.contexts.KeysContaining(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/b", "/c"}, keys)
	assert.Empty(t, list(nil, []string{"tag/x"}))
	assert.Equal(t, []model.ID{id}, list(nil, []string{"tag/y"}))
	assert.Equal(t, []model.ID{id}, list(nil, []string{schema.Note}), "schema feature is kept")

	hits, err := db.Query(ctx, "roadmap", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
	hits, err = db.Query(ctx, "budget", 0)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{id}, hits)

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.False(t, got.UpdatedAt.Before(created))

	// The old content is free again, the new one is taken.
	_, err = db.Insert(ctx, newNote("Plan", "draft the roadmap"), nil, nil)
	require.NoError(t, err)
	again, err := db.Insert(ctx, newNote("Plan", "final budget"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestUpdate_Errors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	mustInsert(t, db, newNote("one", "first"), nil, nil)
	second := newNote("two", "second")
	mustInsert(t, db, second, nil, nil)

	second.Data = map[string]any{"title": "one", "content": "first"}
	err := db.Update(ctx, second, nil, nil)
	assert.ErrorIs(t, err, ErrDuplicate)

	missing := newNote("ghost", "never stored")
	missing.ID = 5000
	assert.ErrorIs(t, db.Update(ctx, missing, nil, nil), ErrNotFound)

	unsaved := newNote("unsaved", "no id")
	assert.ErrorIs(t, db.Update(ctx, unsaved, nil, nil), ErrInvalidID)

	assert.ErrorIs(t, db.Update(ctx, nil, nil, nil), ErrInvalidDocument)
}

func TestRemoveAndDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	doc := newNote("Trip", "book the flight")
	id := mustInsert(t, db, doc, []string{"/travel", "/2024"}, []string{"tag/urgent"})

	found, err := db.Remove(ctx, id, []string{"/travel"}, []string{"tag/urgent"})
	require.NoError(t, err)
	assert.True(t, found)

	keys, err := db.contexts.KeysContaining(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"/2024"}, keys)
	features, err := db.features.KeysContaining(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{schema.Note}, features)

	found, err = db.Remove(ctx, 5000, []string{"/2024"}, nil)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = db.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)

	_, err = db.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	has, err := db.Has(ctx, id)
	require.NoError(t, err)
	assert.False(t, has)
	_, err = db.ChecksumToID(ctx, doc.Checksums[0].Algorithm, doc.Checksums[0].Value)
	assert.ErrorIs(t, err, ErrNotFound)
	keys, err = db.contexts.KeysContaining(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, keys)
	hits, err := db.Query(ctx, "flight", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	found, err = db.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidID(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.Get(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = db.Has(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = db.Remove(ctx, 0, []string{"/a"}, nil)
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = db.Delete(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidID)
	assert.ErrorIs(t, db.InsertChecksum(ctx, checksum.SHA1, "abc", 0), ErrInvalidID)

	_, err = db.Get(ctx, 1000)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChecksums(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	doc := newNote("hashed", "content")
	id := mustInsert(t, db, doc, nil, nil)
	other := mustInsert(t, db, newNote("other", "content"), nil, nil)

	for _, c := range doc.Checksums {
		got, err := db.ChecksumToID(ctx, c.Algorithm, c.Value)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	require.NoError(t, db.InsertChecksum(ctx, checksum.XXH64, "feedface", id))
	require.NoError(t, db.InsertChecksum(ctx, checksum.XXH64, "feedface", id), "idempotent")
	got, err := db.ChecksumToID(ctx, checksum.XXH64, "feedface")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	stored, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, stored.Checksums, 3)

	err = db.InsertChecksum(ctx, checksum.XXH64, "feedface", other)
	assert.ErrorIs(t, err, ErrDuplicate)
	var cerr *checksum.ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, id, cerr.Holder)

	assert.ErrorIs(t, db.InsertChecksum(ctx, checksum.XXH64, "cafe", 5000), ErrNotFound)
	assert.ErrorIs(t, db.InsertChecksum(ctx, "", "cafe", id), ErrInvalidDocument)

	_, err = db.ChecksumToID(ctx, checksum.SHA1, "0000")
	assert.ErrorIs(t, err, ErrNotFound)

	// A recorded checksum survives a consistency pass.
	report, err := db.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Repairs())
	got, err = db.ChecksumToID(ctx, checksum.XXH64, "feedface")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestUpdate_KeepsInsertedChecksums(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	id := mustInsert(t, db, newNote("linked", "first version"), nil, nil)
	require.NoError(t, db.InsertChecksum(ctx, "url", "https://example.com/a", id))

	doc, err := db.Get(ctx, id)
	require.NoError(t, err)
	doc.Data["content"] = "second version"
	require.NoError(t, db.Update(ctx, doc, nil, nil))

	got, err := db.ChecksumToID(ctx, "url", "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	stored, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, stored.Checksums, model.Checksum{Algorithm: "url", Value: "https://example.com/a"})
	assert.Len(t, stored.Checksums, 3)

	// Content checksums follow the new content.
	_, err = db.ChecksumToID(ctx, checksum.SHA1, doc.Checksums[0].Value)
	require.NoError(t, err)

	report, err := db.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Repairs())
}

func TestSchemas(t *testing.T) {
	db := newTestDB(t)

	names := db.ListSchemas()
	assert.Subset(t, names, []string{schema.Document, schema.Tab, schema.Note, schema.Todo})

	desc, err := db.GetSchema(schema.Tab)
	require.NoError(t, err)
	assert.Equal(t, schema.Tab, desc.Name)
	assert.Equal(t, []string{"data.url"}, desc.ChecksumFields)

	_, err = db.GetSchema("data/abstraction/unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsert_TabDeduplicatesByURL(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	tab := func(title string) *model.Document {
		return &model.Document{
			Schema: schema.Tab,
			Data:   map[string]any{"url": "https://example.com/a", "title": title},
		}
	}
	first := mustInsert(t, db, tab("Example"), []string{"/browser"}, nil)
	again, err := db.Insert(ctx, tab("Example, renamed"), []string{"/browser"}, nil)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}
