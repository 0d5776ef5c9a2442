// Package kvtest holds the contract tests every kv.Backend must pass.
package kvtest

import (
	"context"
	"errors"
	"testing"

	"github.com/canvas-server/synapsd/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) kv.Backend

// Run executes the backend contract suite.
func Run(t *testing.T, newBackend Factory) {
	t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, newBackend(t)) })
	t.Run("NestedDatasets", func(t *testing.T) { testNested(t, newBackend(t)) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollback(t, newBackend(t)) })
	t.Run("JoinedTransaction", func(t *testing.T) { testJoined(t, newBackend(t)) })
	t.Run("ReadOnlyRejectsWrites", func(t *testing.T) { testReadOnly(t, newBackend(t)) })
	t.Run("ForEachOrder", func(t *testing.T) { testForEachOrder(t, newBackend(t)) })
	t.Run("Hooks", func(t *testing.T) { testHooks(t, newBackend(t)) })
}

func testPutGetDelete(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	s := kv.NewStore(b)
	defer s.Close()

	ds, err := s.CreateDataset(ctx, "documents")
	require.NoError(t, err)

	_, err = ds.Get(ctx, []byte("missing"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, ds.Put(ctx, []byte("a"), []byte("1")))
	v, err := ds.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	ok, err := ds.Has(ctx, []byte("a"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ds.Put(ctx, []byte("a"), []byte("2")))
	v, err = ds.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)

	require.NoError(t, ds.Delete(ctx, []byte("a")))
	require.NoError(t, ds.Delete(ctx, []byte("a")), "deleting twice is fine")
	_, err = ds.Get(ctx, []byte("a"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	assert.ErrorIs(t, ds.Put(ctx, nil, []byte("x")), kv.ErrEmptyKey)
}

func testNested(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	s := kv.NewStore(b)
	defer s.Close()

	contexts, err := s.CreateDataset(ctx, "bitmaps/contexts")
	require.NoError(t, err)
	features, err := s.CreateDataset(ctx, "bitmaps/features")
	require.NoError(t, err)

	require.NoError(t, contexts.Put(ctx, []byte("k"), []byte("c")))
	require.NoError(t, features.Put(ctx, []byte("k"), []byte("f")))

	v, err := contexts.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), v)
	v, err = features.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("f"), v)

	// The parent does not list nested datasets as keys.
	n, err := s.Dataset("bitmaps").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	sub, err := contexts.CreateDataset(ctx, "deep")
	require.NoError(t, err)
	assert.Equal(t, "bitmaps/contexts/deep", sub.Name())
	require.NoError(t, sub.Put(ctx, []byte("x"), []byte("y")))

	require.NoError(t, s.DeleteDataset(ctx, "bitmaps/contexts"))
	_, err = contexts.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = sub.Get(ctx, []byte("x"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	v, err = features.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("f"), v)
}

func testRollback(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	s := kv.NewStore(b)
	defer s.Close()

	ds, err := s.CreateDataset(ctx, "documents")
	require.NoError(t, err)
	require.NoError(t, ds.Put(ctx, []byte("keep"), []byte("1")))

	boom := errors.New("boom")
	err = s.Update(ctx, func(ctx context.Context) error {
		require.NoError(t, ds.Put(ctx, []byte("keep"), []byte("2")))
		require.NoError(t, ds.Put(ctx, []byte("new"), []byte("3")))

		// Writes are visible inside the transaction.
		v, err := ds.Get(ctx, []byte("new"))
		require.NoError(t, err)
		assert.Equal(t, []byte("3"), v)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	v, err := ds.Get(ctx, []byte("keep"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
	_, err = ds.Get(ctx, []byte("new"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func testJoined(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	s := kv.NewStore(b)
	defer s.Close()

	a, err := s.CreateDataset(ctx, "a")
	require.NoError(t, err)
	c, err := s.CreateDataset(ctx, "c")
	require.NoError(t, err)

	err = s.Update(ctx, func(ctx context.Context) error {
		if err := a.Put(ctx, []byte("k"), []byte("1")); err != nil {
			return err
		}
		return s.Update(ctx, func(ctx context.Context) error {
			return c.Put(ctx, []byte("k"), []byte("2"))
		})
	})
	require.NoError(t, err)

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testReadOnly(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	s := kv.NewStore(b)
	defer s.Close()

	ds, err := s.CreateDataset(ctx, "documents")
	require.NoError(t, err)

	err = s.View(ctx, func(ctx context.Context) error {
		return ds.Put(ctx, []byte("k"), []byte("v"))
	})
	assert.ErrorIs(t, err, kv.ErrReadOnly)
}

func testForEachOrder(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	s := kv.NewStore(b)
	defer s.Close()

	ds, err := s.CreateDataset(ctx, "ordered")
	require.NoError(t, err)
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, ds.Put(ctx, []byte(k), []byte(k)))
	}

	keys, err := ds.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, keys)

	require.NoError(t, ds.Clear(ctx))
	n, err := ds.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testHooks(t *testing.T, b kv.Backend) {
	ctx := context.Background()
	s := kv.NewStore(b)
	defer s.Close()

	ds, err := s.CreateDataset(ctx, "hooks")
	require.NoError(t, err)

	var committed, rolledBack int
	require.NoError(t, s.Update(ctx, func(ctx context.Context) error {
		kv.OnCommit(ctx, func() { committed++ })
		kv.OnRollback(ctx, func() { rolledBack++ })
		return ds.Put(ctx, []byte("k"), []byte("v"))
	}))
	assert.Equal(t, 1, committed)
	assert.Equal(t, 0, rolledBack)

	_ = s.Update(ctx, func(ctx context.Context) error {
		kv.OnCommit(ctx, func() { committed++ })
		kv.OnRollback(ctx, func() { rolledBack++ })
		return errors.New("abort")
	})
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, rolledBack)
}
