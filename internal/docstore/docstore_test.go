package docstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-server/synapsd/codec"
	"github.com/canvas-server/synapsd/internal/compress"
	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/kv/memory"
	"github.com/canvas-server/synapsd/model"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	ctx := context.Background()
	kvs := kv.NewStore(memory.New())
	t.Cleanup(func() { _ = kvs.Close() })
	docs, err := kvs.CreateDataset(ctx, "documents")
	require.NoError(t, err)
	system, err := kvs.CreateDataset(ctx, "system")
	require.NoError(t, err)
	return New(docs, system, opts...)
}

func TestStore_PutGet(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"msgpack lz4", nil},
		{"json zstd", []Option{WithCodec(codec.JSON{}), WithCompression(compress.ZSTD)}},
		{"msgpack none", []Option{WithCompression(compress.None)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t, tt.opts...)

			now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			doc := &model.Document{
				ID:        1000,
				Schema:    "data/abstraction/note",
				CreatedAt: now,
				UpdatedAt: now,
				Data: map[string]any{
					"title":   "Note",
					"content": strings.Repeat("lorem ipsum ", 50),
				},
				Checksums:    []model.Checksum{{Algorithm: "sha1", Value: "abc"}},
				FeatureArray: []string{"tag/x"},
			}
			require.NoError(t, s.Put(ctx, doc))

			got, err := s.Get(ctx, 1000)
			require.NoError(t, err)
			assert.Equal(t, doc.Schema, got.Schema)
			assert.True(t, doc.CreatedAt.Equal(got.CreatedAt))
			assert.Equal(t, doc.Data["content"], got.Data["content"])
			assert.Equal(t, doc.Checksums, got.Checksums)
			assert.Equal(t, doc.FeatureArray, got.FeatureArray)

			_, err = s.Get(ctx, 1001)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_RejectsOutOfRange(t *testing.T) {
	s := newStore(t)
	assert.Error(t, s.Put(context.Background(), &model.Document{ID: 5}))
}

func TestStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for _, id := range []model.ID{1002, 1000, 1001} {
		require.NoError(t, s.Put(ctx, &model.Document{ID: id, Data: map[string]any{}}))
	}
	ids, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{1000, 1001, 1002}, ids)

	existed, err := s.Delete(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete(ctx, 1001)
	require.NoError(t, err)
	assert.False(t, existed)

	var seen []model.ID
	require.NoError(t, s.ForEach(ctx, func(doc *model.Document) error {
		seen = append(seen, doc.ID)
		return nil
	}))
	assert.Equal(t, []model.ID{1000, 1002}, seen)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_NextID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, WithRange(1000, 1003))

	for _, want := range []model.ID{1000, 1001, 1002} {
		id, err := s.NextID(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
	_, err := s.NextID(ctx)
	assert.ErrorIs(t, err, ErrIDSpaceExhausted)
}

func TestStore_AdvanceSequence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.AdvanceSequence(ctx, 2000))
	require.NoError(t, s.AdvanceSequence(ctx, 1500), "never moves backwards")

	id, err := s.NextID(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ID(2000), id)

	next, err := s.Sequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ID(2001), next)
}
