// Package embeddings owns the directory of the vector store that sits next
// to the index. Only the construction contract lives here; embedding
// generation and similarity search belong to the caller.
package embeddings

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrClosed is returned by operations on a closed Connector.
var ErrClosed = errors.New("embeddings: connector closed")

// Connector is an open embeddings directory.
type Connector struct {
	path string

	mu     sync.Mutex
	closed bool
}

// Connect creates path if needed and returns a Connector for it.
func Connect(path string) (*Connector, error) {
	if path == "" {
		return nil, errors.New("embeddings: empty path")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("embeddings: %s is not a directory", path)
	}
	return &Connector{path: path}, nil
}

// Path returns the directory.
func (c *Connector) Path() string { return c.path }

// Close releases the connector. Closing twice returns ErrClosed.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	return nil
}
