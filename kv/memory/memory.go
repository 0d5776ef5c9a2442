// Package memory implements a transient, snapshot-isolated kv.Backend.
//
// Readers see the state committed when they began. A single writer works
// on a copy-on-write view that replaces the committed state on Commit.
package memory

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/canvas-server/synapsd/kv"
)

const sep = "\x00"

type bucketMap map[string][]byte

// Backend is an in-memory kv.Backend.
type Backend struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]bucketMap
	writer  bool
	closed  bool
}

var _ kv.Backend = (*Backend)(nil)

// New returns an empty in-memory backend.
func New() *Backend {
	b := &Backend{buckets: make(map[string]bucketMap)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Begin starts a transaction. Writers are serialized.
func (b *Backend) Begin(ctx context.Context, writable bool) (kv.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, kv.ErrClosed
	}
	if !writable {
		return &tx{base: b, buckets: b.buckets}, nil
	}
	for b.writer && !b.closed {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.cond.Wait()
	}
	if b.closed {
		return nil, kv.ErrClosed
	}
	b.writer = true
	return &tx{
		base:     b,
		writable: true,
		buckets:  maps.Clone(b.buckets),
		owned:    make(map[string]bool),
	}, nil
}

// Close drops all data.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.buckets = nil
	b.cond.Broadcast()
	return nil
}

type tx struct {
	base     *Backend
	writable bool
	buckets  map[string]bucketMap
	owned    map[string]bool
	closed   bool
}

func (t *tx) Writable() bool { return t.writable }

func (t *tx) Bucket(path ...string) kv.Bucket {
	name := strings.Join(path, sep)
	if _, ok := t.buckets[name]; !ok || len(path) == 0 {
		return nil
	}
	return &bucket{tx: t, name: name}
}

func (t *tx) CreateBucket(path ...string) (kv.Bucket, error) {
	if len(path) == 0 {
		return nil, errors.New("memory: bucket name required")
	}
	name := strings.Join(path, sep)
	if _, ok := t.buckets[name]; ok {
		return &bucket{tx: t, name: name}, nil
	}
	if !t.writable {
		return nil, kv.ErrReadOnly
	}
	for i := 1; i <= len(path); i++ {
		p := strings.Join(path[:i], sep)
		if _, ok := t.buckets[p]; !ok {
			t.buckets[p] = make(bucketMap)
			t.owned[p] = true
		}
	}
	return &bucket{tx: t, name: name}, nil
}

func (t *tx) DeleteBucket(path ...string) error {
	if !t.writable {
		return kv.ErrReadOnly
	}
	name := strings.Join(path, sep)
	if _, ok := t.buckets[name]; !ok || len(path) == 0 {
		return kv.ErrBucketNotFound
	}
	for k := range t.buckets {
		if k == name || strings.HasPrefix(k, name+sep) {
			delete(t.buckets, k)
			delete(t.owned, k)
		}
	}
	return nil
}

func (t *tx) Commit() error {
	if t.closed {
		return nil
	}
	if !t.writable {
		return kv.ErrReadOnly
	}
	t.base.mu.Lock()
	defer t.base.mu.Unlock()
	t.closed = true
	t.base.writer = false
	t.base.cond.Broadcast()
	if t.base.closed {
		return kv.ErrClosed
	}
	t.base.buckets = t.buckets
	return nil
}

func (t *tx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.writable {
		t.base.mu.Lock()
		t.base.writer = false
		t.base.cond.Broadcast()
		t.base.mu.Unlock()
	}
	return nil
}

// own returns a bucket map private to this transaction.
func (t *tx) own(name string) bucketMap {
	m := t.buckets[name]
	if !t.owned[name] {
		m = maps.Clone(m)
		if m == nil {
			m = make(bucketMap)
		}
		t.buckets[name] = m
		t.owned[name] = true
	}
	return m
}

type bucket struct {
	tx   *tx
	name string
}

func (b *bucket) Get(key []byte) []byte {
	return b.tx.buckets[b.name][string(key)]
}

func (b *bucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return kv.ErrReadOnly
	}
	if len(key) == 0 {
		return kv.ErrEmptyKey
	}
	b.tx.own(b.name)[string(key)] = bytes.Clone(value)
	return nil
}

func (b *bucket) Delete(key []byte) error {
	if !b.tx.writable {
		return kv.ErrReadOnly
	}
	if _, ok := b.tx.buckets[b.name][string(key)]; !ok {
		return nil
	}
	delete(b.tx.own(b.name), string(key))
	return nil
}

func (b *bucket) ForEach(fn func(k, v []byte) error) error {
	m := b.tx.buckets[b.name]
	keys := slices.Sorted(maps.Keys(m))
	for _, k := range keys {
		if err := fn([]byte(k), m[k]); err != nil {
			return err
		}
	}
	return nil
}
