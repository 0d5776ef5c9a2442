package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/kv/kvtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendContract(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		b, err := Open(filepath.Join(t.TempDir(), "index.sqlite"))
		require.NoError(t, err)
		return b
	})
}

func TestInMemoryDatabase(t *testing.T) {
	ctx := context.Background()
	b, err := Open(":memory:", WithSynchronous("OFF"))
	require.NoError(t, err)
	s := kv.NewStore(b)
	defer s.Close()

	ds, err := s.CreateDataset(ctx, "checksums")
	require.NoError(t, err)
	require.NoError(t, ds.Put(ctx, []byte("sha1/abc"), []byte{0, 0, 3, 232}))

	v, err := ds.Get(ctx, []byte("sha1/abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 3, 232}, v)
}
