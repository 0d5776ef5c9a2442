package backup

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/kv/memory"
)

func seed(t *testing.T) (*kv.Store, []*kv.Dataset) {
	t.Helper()
	ctx := context.Background()
	store := kv.NewStore(memory.New())
	t.Cleanup(func() { _ = store.Close() })

	docs, err := store.CreateDataset(ctx, "documents")
	require.NoError(t, err)
	tags, err := store.CreateDataset(ctx, "bitmaps/contexts")
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, func(ctx context.Context) error {
		for i, v := range []string{"alpha", "bravo", "charlie"} {
			if err := docs.Put(ctx, []byte{0, 0, 3, byte(0xe8 + i)}, []byte(v)); err != nil {
				return err
			}
		}
		return tags.Put(ctx, []byte("/journal"), bytes.Repeat([]byte{7}, 1024))
	}))
	return store, []*kv.Dataset{docs, tags}
}

func TestArchive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	_, sources := seed(t)

	var buf bytes.Buffer
	n, err := Write(ctx, &buf, sources...)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, Magic, buf.String()[:len(Magic)])

	var got []Record
	read, err := Read(ctx, bytes.NewReader(buf.Bytes()), func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, read)
	require.Len(t, got, 4)
	assert.Equal(t, "documents", got[0].Dataset)
	assert.Equal(t, "alpha", string(got[0].Value))
	assert.Equal(t, "bitmaps/contexts", got[3].Dataset)
	assert.Equal(t, "/journal", string(got[3].Key))
	assert.Len(t, got[3].Value, 1024)
}

func TestArchive_Empty(t *testing.T) {
	ctx := context.Background()
	store := kv.NewStore(memory.New())
	defer store.Close()
	ds, err := store.CreateDataset(ctx, "empty")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := Write(ctx, &buf, ds)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = Read(ctx, &buf, func(Record) error { return nil })
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = Write(ctx, &buf)
	assert.Error(t, err)
}

func TestArchive_Corruption(t *testing.T) {
	ctx := context.Background()
	_, sources := seed(t)
	var buf bytes.Buffer
	_, err := Write(ctx, &buf, sources...)
	require.NoError(t, err)
	data := buf.Bytes()
	noop := func(Record) error { return nil }

	_, err = Read(ctx, bytes.NewReader([]byte("NOTANARCHIVE")), noop)
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Read(ctx, bytes.NewReader(data[:len(data)/2]), noop)
	assert.Error(t, err, "truncated stream")

	flipped := bytes.Clone(data)
	flipped[len(flipped)-10] ^= 0xff
	_, err = Read(ctx, bytes.NewReader(flipped), noop)
	assert.Error(t, err, "flipped byte")
}

func TestArchive_StopsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	_, sources := seed(t)
	var buf bytes.Buffer
	_, err := Write(ctx, &buf, sources...)
	require.NoError(t, err)

	stop := assert.AnError
	n, err := Read(ctx, &buf, func(r Record) error {
		if r.Dataset == "bitmaps/contexts" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, n)
}

func TestArchive_HonoursContext(t *testing.T) {
	_, sources := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Write(ctx, &bytes.Buffer{}, sources...)
	assert.ErrorIs(t, err, context.Canceled)
}
