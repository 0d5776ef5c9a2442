// Package bolt implements kv.Backend on go.etcd.io/bbolt.
//
// Dataset paths map onto nested bbolt buckets, so "bitmaps/contexts"
// lives in bucket "contexts" inside root bucket "bitmaps".
package bolt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/canvas-server/synapsd/kv"
	"go.etcd.io/bbolt"
)

// Options configures the bbolt backend.
type Options struct {
	// Timeout bounds how long Open waits for the file lock. Default: 1s.
	Timeout time.Duration
	// NoSync skips fsync after each commit. Only for tests and bulk loads.
	NoSync bool
	// FileMode is used when creating the database file. Default: 0600.
	FileMode os.FileMode
}

// Backend is a kv.Backend on a single bbolt file.
type Backend struct {
	db *bbolt.DB
}

var _ kv.Backend = (*Backend)(nil)

// Open opens (or creates) the bbolt database at path.
func Open(path string, optFns ...func(*Options)) (*Backend, error) {
	opts := Options{Timeout: time.Second, FileMode: 0o600}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, opts.FileMode, &bbolt.Options{
		Timeout: opts.Timeout,
		NoSync:  opts.NoSync,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{db: db}, nil
}

// DB exposes the underlying bbolt handle.
func (b *Backend) DB() *bbolt.DB { return b.db }

// Begin starts a bbolt transaction.
func (b *Backend) Begin(_ context.Context, writable bool) (kv.Tx, error) {
	btx, err := b.db.Begin(writable)
	if err != nil {
		if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
			return nil, kv.ErrClosed
		}
		return nil, err
	}
	return &tx{btx: btx}, nil
}

// Close closes the database file.
func (b *Backend) Close() error {
	return b.db.Close()
}

type tx struct {
	btx  *bbolt.Tx
	done bool
}

func (t *tx) Writable() bool { return t.btx.Writable() }

func (t *tx) Bucket(path ...string) kv.Bucket {
	b := t.lookup(path)
	if b == nil {
		return nil
	}
	return bucket{b: b}
}

func (t *tx) lookup(path []string) *bbolt.Bucket {
	if len(path) == 0 {
		return nil
	}
	b := t.btx.Bucket([]byte(path[0]))
	for _, name := range path[1:] {
		if b == nil {
			return nil
		}
		b = b.Bucket([]byte(name))
	}
	return b
}

func (t *tx) CreateBucket(path ...string) (kv.Bucket, error) {
	if !t.btx.Writable() {
		if b := t.lookup(path); b != nil {
			return bucket{b: b}, nil
		}
		return nil, kv.ErrReadOnly
	}
	if len(path) == 0 {
		return nil, bbolt.ErrBucketNameRequired
	}
	b, err := t.btx.CreateBucketIfNotExists([]byte(path[0]))
	if err != nil {
		return nil, err
	}
	for _, name := range path[1:] {
		b, err = b.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return nil, err
		}
	}
	return bucket{b: b}, nil
}

func (t *tx) DeleteBucket(path ...string) error {
	if !t.btx.Writable() {
		return kv.ErrReadOnly
	}
	if len(path) == 0 {
		return kv.ErrBucketNotFound
	}
	var err error
	if len(path) == 1 {
		err = t.btx.DeleteBucket([]byte(path[0]))
	} else {
		parent := t.lookup(path[:len(path)-1])
		if parent == nil {
			return kv.ErrBucketNotFound
		}
		err = parent.DeleteBucket([]byte(path[len(path)-1]))
	}
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return kv.ErrBucketNotFound
	}
	return err
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.btx.Commit()
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.btx.Rollback()
}

type bucket struct {
	b *bbolt.Bucket
}

func (b bucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b bucket) Put(key, value []byte) error {
	if !b.b.Tx().Writable() {
		return kv.ErrReadOnly
	}
	return b.b.Put(key, value)
}

func (b bucket) Delete(key []byte) error {
	if !b.b.Tx().Writable() {
		return kv.ErrReadOnly
	}
	return b.b.Delete(key)
}

func (b bucket) ForEach(fn func(k, v []byte) error) error {
	return b.b.ForEach(func(k, v []byte) error {
		// nil values are nested buckets
		if v == nil {
			return nil
		}
		return fn(k, v)
	})
}
