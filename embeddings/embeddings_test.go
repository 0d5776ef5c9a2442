package embeddings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index", "embeddings")
	c, err := Connect(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, c.Path())
	assert.DirExists(t, dir)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ErrClosed)

	again, err := Connect(dir)
	require.NoError(t, err, "existing directory")
	require.NoError(t, again.Close())
}

func TestConnect_Errors(t *testing.T) {
	_, err := Connect("")
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Connect(file)
	assert.Error(t, err)
}
