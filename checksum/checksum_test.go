package checksum_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-server/synapsd/checksum"
	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/kv/memory"
	"github.com/canvas-server/synapsd/model"
)

func TestCompute(t *testing.T) {
	doc := &model.Document{Data: map[string]any{"url": "https://example.com", "title": "Example"}}

	sums, err := checksum.Compute(doc, []string{"data.url"}, []string{checksum.SHA1, checksum.SHA256, checksum.XXH64})
	require.NoError(t, err)
	require.Len(t, sums, 3)

	want := sha1.Sum([]byte(`"https://example.com"`))
	assert.Equal(t, model.Checksum{Algorithm: "sha1", Value: hex.EncodeToString(want[:])}, sums[0])
	assert.Equal(t, "sha256", sums[1].Algorithm)
	assert.Len(t, sums[1].Value, 64)
	assert.Len(t, sums[2].Value, 16)

	_, err = checksum.Compute(doc, []string{"data"}, []string{"crc7"})
	assert.ErrorIs(t, err, checksum.ErrUnknownAlgorithm)
}

func TestCanonicalIgnoresKeyOrder(t *testing.T) {
	a := &model.Document{Data: map[string]any{"b": 1, "a": map[string]any{"y": 2, "x": 1}}}
	b := &model.Document{Data: map[string]any{"a": map[string]any{"x": 1, "y": 2}, "b": 1}}

	ca, err := checksum.Canonical(a, []string{"data"})
	require.NoError(t, err)
	cb, err := checksum.Canonical(b, []string{"data"})
	require.NoError(t, err)
	assert.Equal(t, ca, cb)
	assert.JSONEq(t, `{"a":{"x":1,"y":2},"b":1}`, string(ca))

	multi, err := checksum.Canonical(a, []string{"data.b", "data.missing"})
	require.NoError(t, err)
	assert.Equal(t, `[1,null]`, string(multi))
}

func TestRegister(t *testing.T) {
	checksum.Register("fnv64", func() hash.Hash { return fnv.New64() })
	assert.True(t, checksum.Supported("fnv64"))
	assert.Contains(t, checksum.Algorithms(), "fnv64")

	sum, err := checksum.Sum("fnv64", []byte("x"))
	require.NoError(t, err)
	assert.Len(t, sum, 16)
}

func newIndex(t *testing.T) *checksum.Index {
	t.Helper()
	store := kv.NewStore(memory.New())
	t.Cleanup(func() { _ = store.Close() })
	ds, err := store.CreateDataset(context.Background(), "checksums")
	require.NoError(t, err)
	return checksum.NewIndex(ds)
}

func TestIndex_InsertLookupDelete(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)

	require.NoError(t, x.Insert(ctx, "sha1", "abc", 1000))
	require.NoError(t, x.Insert(ctx, "sha1", "abc", 1000), "same mapping is idempotent")

	err := x.Insert(ctx, "sha1", "abc", 1001)
	require.ErrorIs(t, err, checksum.ErrConflict)
	var ce *checksum.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, model.ID(1000), ce.Holder)

	id, err := x.Lookup(ctx, "sha1", "abc")
	require.NoError(t, err)
	assert.Equal(t, model.ID(1000), id)

	require.NoError(t, x.Delete(ctx, "sha1", "abc"))
	_, err = x.Lookup(ctx, "sha1", "abc")
	assert.ErrorIs(t, err, checksum.ErrNotFound)

	assert.ErrorIs(t, x.Insert(ctx, "", "abc", 1000), checksum.ErrInvalid)
}

func TestIndex_InsertAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	x := newIndex(t)

	require.NoError(t, x.Insert(ctx, "sha256", "taken", 1))
	err := x.InsertAll(ctx, []model.Checksum{
		{Algorithm: "sha1", Value: "fresh"},
		{Algorithm: "sha256", Value: "taken"},
	}, 2)
	require.ErrorIs(t, err, checksum.ErrConflict)

	_, err = x.Lookup(ctx, "sha1", "fresh")
	assert.ErrorIs(t, err, checksum.ErrNotFound, "nothing written on conflict")

	sums := []model.Checksum{{Algorithm: "sha1", Value: "a"}, {Algorithm: "sha256", Value: "b"}}
	require.NoError(t, x.InsertAll(ctx, sums, 2))
	n, err := x.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, x.DeleteAll(ctx, append(sums, model.Checksum{Algorithm: "sha256", Value: "taken"}), 2))

	var seen []string
	require.NoError(t, x.ForEach(ctx, func(c model.Checksum, id model.ID) error {
		seen = append(seen, c.Key())
		return nil
	}))
	assert.Equal(t, []string{"sha256/taken"}, seen, "entries held by others survive")
}
