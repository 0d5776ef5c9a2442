package synapsd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-server/synapsd/model"
)

func TestList(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a := mustInsert(t, db, newNote("a", "alpha"), []string{"/work", "/work/projects"}, []string{"tag/red"})
	b := mustInsert(t, db, newNote("b", "beta"), []string{"/work"}, []string{"tag/blue"})
	c := mustInsert(t, db, newNote("c", "gamma"), []string{"/home"}, []string{"tag/red", "tag/blue"})

	tests := []struct {
		name     string
		contexts []string
		features []string
		filters  []string
		want     []model.ID
	}{
		{name: "no constraint returns every document", want: []model.ID{a, b, c}},
		{name: "single context", contexts: []string{"/work"}, want: []model.ID{a, b}},
		{name: "contexts intersect", contexts: []string{"/work", "/work/projects"}, want: []model.ID{a}},
		{name: "features union", features: []string{"tag/red", "tag/blue"}, want: []model.ID{a, b, c}},
		{name: "context and feature", contexts: []string{"/work"}, features: []string{"tag/red"}, want: []model.ID{a}},
		{name: "missing context ignored", contexts: []string{"/work", "/nowhere"}, want: []model.ID{a, b}},
		{name: "only missing contexts falls back to features", contexts: []string{"/nowhere"}, features: []string{"tag/blue"}, want: []model.ID{b, c}},
		{name: "only missing contexts and no features", contexts: []string{"/nowhere"}, want: []model.ID{a, b, c}},
		{name: "disjoint existing contexts match nothing", contexts: []string{"/home", "/work/projects"}, features: []string{"tag/red"}, want: []model.ID{}},
		{name: "missing feature matches nothing", features: []string{"tag/none"}, want: []model.ID{}},
		{name: "filters are not applied", contexts: []string{"/home"}, filters: []string{"datetime/today"}, want: []model.ID{c}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := db.List(ctx, tt.contexts, tt.features, tt.filters)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids)
		})
	}
}

func TestList_ResultsAreIndependentCopies(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a := mustInsert(t, db, newNote("a", "alpha"), []string{"/x"}, nil)

	b, err := db.match(ctx, []string{"/x"}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Add(a+1))

	ids, err := db.List(ctx, []string{"/x"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{a}, ids, "mutating a result must not leak into the cache")

	u, err := db.match(ctx, nil, nil)
	require.NoError(t, err)
	require.NoError(t, u.Add(a+2))
	ids, err = db.List(ctx, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{a}, ids)
}

func TestFind(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	work := mustInsert(t, db, newNote("Release notes", "ship the release on friday"), []string{"/work"}, []string{"tag/release"})
	home := mustInsert(t, db, newNote("Party", "release party with cake"), []string{"/home"}, nil)
	mustInsert(t, db, newNote("Groceries", "milk"), []string{"/home"}, nil)

	ids, err := db.Query(ctx, "release", 10)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, work, ids[0], "more occurrences rank first")

	ids, err = db.Find(ctx, "release", []string{"/home"}, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{home}, ids)

	ids, err = db.Find(ctx, "release", nil, []string{"tag/release"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{work}, ids)

	ids, err = db.Find(ctx, "release", nil, []string{"tag/none"}, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = db.Find(ctx, "release", nil, nil, 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	hits, err := db.FindScored(ctx, "release", nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.Positive(t, hits[1].Score)

	ids, err = db.Query(ctx, "nothing matches this", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFind_CanceledContext(t *testing.T) {
	db := newTestDB(t)
	mustInsert(t, db, newNote("a", "alpha"), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := db.Find(ctx, "alpha", nil, nil, 10)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = db.FindScored(ctx, "alpha", nil, nil, 10)
	assert.ErrorIs(t, err, context.Canceled)
}
