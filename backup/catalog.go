package backup

import (
	"context"
	"errors"
	"strings"

	"github.com/canvas-server/synapsd/blobstore"
)

// ErrNoBackup is returned by Catalog.Latest before the first commit.
var ErrNoBackup = errors.New("backup: no backup recorded")

// Catalog records which backup is the latest complete one.
type Catalog interface {
	// Commit marks name as the latest backup.
	Commit(ctx context.Context, name string) error
	// Latest returns the most recently committed name, or ErrNoBackup.
	Latest(ctx context.Context) (string, error)
}

// BlobCatalog keeps the latest name in a small object of the blob store.
// Last writer wins; use DynamoCatalog when several processes share a bucket.
type BlobCatalog struct {
	store blobstore.Store
	key   string
}

// NewBlobCatalog stores the pointer under key.
func NewBlobCatalog(store blobstore.Store, key string) *BlobCatalog {
	return &BlobCatalog{store: store, key: key}
}

// Commit overwrites the pointer object.
func (c *BlobCatalog) Commit(ctx context.Context, name string) error {
	return c.store.Put(ctx, c.key, []byte(name))
}

// Latest reads the pointer object.
func (c *BlobCatalog) Latest(ctx context.Context) (string, error) {
	data, err := blobstore.ReadAll(ctx, c.store, c.key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return "", ErrNoBackup
	}
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", ErrNoBackup
	}
	return name, nil
}
