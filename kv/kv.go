package kv

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a key does not exist in a dataset.
	ErrNotFound = errors.New("kv: key not found")

	// ErrBucketNotFound is returned by Tx.DeleteBucket when the bucket doesn't exist.
	ErrBucketNotFound = errors.New("kv: bucket not found")

	// ErrReadOnly is returned when a write is attempted inside a read-only transaction.
	ErrReadOnly = errors.New("kv: transaction is read-only")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("kv: store closed")

	// ErrEmptyKey is returned when a key of length zero is written.
	ErrEmptyKey = errors.New("kv: empty key")
)

// Backend is a transactional key-value storage engine (bbolt, sqlite, in-memory).
type Backend interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context, writable bool) (Tx, error)
	// Close closes the backend.
	Close() error
}

// Tx is a backend transaction. A Tx is used by one goroutine at a time.
type Tx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns the bucket at path, or nil if it doesn't exist.
	Bucket(path ...string) Bucket

	// CreateBucket creates the bucket at path (and its parents) if missing.
	CreateBucket(path ...string) (Bucket, error)

	// DeleteBucket deletes the bucket at path together with its children.
	DeleteBucket(path ...string) error

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It is safe to call multiple times.
	Rollback() error
}

// Bucket is a sorted key-value collection inside a transaction.
//
// Values returned by Get and passed to ForEach are only valid for the
// lifetime of the transaction.
type Bucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	// ForEach visits every key-value pair in key order. Nested buckets are skipped.
	ForEach(fn func(k, v []byte) error) error
}

// SplitPath turns a dataset name such as "bitmaps/contexts" into a bucket path.
func SplitPath(name string) []string {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
