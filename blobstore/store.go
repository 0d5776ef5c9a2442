package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blobstore: blob not found")

// Store holds named, immutable blobs.
//
// Names are slash separated. Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data under name in one step, replacing an existing blob.
	Put(ctx context.Context, name string, data []byte) error

	// Create starts a streaming write. The blob becomes visible when the
	// returned writer is closed without error.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	// Open returns a reader over the blob. Returns ErrNotFound if missing.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the names starting with prefix in ascending order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
}

// ReadAll opens name and reads it to the end.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, error) {
	r, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// ValidateName rejects names that could escape a store root.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") {
		return fmt.Errorf("blobstore: invalid name %q", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("blobstore: invalid name %q", name)
		}
	}
	return nil
}
