// Package sqlite implements kv.Backend on modernc.org/sqlite.
//
// All datasets share one table keyed by (bucket, key). Bucket paths are
// stored joined with "/" in a second table so empty datasets survive.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/canvas-server/synapsd/kv"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_buckets (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS kv_entries (
	bucket TEXT NOT NULL,
	key    BLOB NOT NULL,
	value  BLOB NOT NULL,
	PRIMARY KEY (bucket, key)
) WITHOUT ROWID;`

// Backend is a kv.Backend on a SQLite database file.
type Backend struct {
	db *sql.DB
}

var _ kv.Backend = (*Backend)(nil)

// Option configures the sqlite backend.
type Option func(*config)

type config struct {
	busyTimeoutMS int
	synchronous   string
}

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 5000.
func WithBusyTimeout(ms int) Option {
	return func(c *config) { c.busyTimeoutMS = ms }
}

// WithSynchronous sets PRAGMA synchronous (OFF, NORMAL, FULL). Default: NORMAL.
func WithSynchronous(mode string) Option {
	return func(c *config) { c.synchronous = mode }
}

// Open opens (or creates) the database at path. Use ":memory:" for a
// private in-memory database.
func Open(path string, opts ...Option) (*Backend, error) {
	cfg := config{busyTimeoutMS: 5000, synchronous: "NORMAL"}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection serializes transactions and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.busyTimeoutMS),
		"PRAGMA synchronous=" + cfg.synchronous,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// Begin starts a SQL transaction. Read-only transactions are enforced by
// the wrapper.
func (b *Backend) Begin(ctx context.Context, writable bool) (kv.Tx, error) {
	stx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return nil, kv.ErrClosed
		}
		return nil, err
	}
	return &tx{ctx: ctx, stx: stx, writable: writable}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

type tx struct {
	ctx      context.Context
	stx      *sql.Tx
	writable bool
	done     bool
}

func (t *tx) Writable() bool { return t.writable }

func (t *tx) exists(name string) (bool, error) {
	var n int
	err := t.stx.QueryRowContext(t.ctx, "SELECT COUNT(*) FROM kv_buckets WHERE name = ?", name).Scan(&n)
	return n > 0, err
}

func (t *tx) Bucket(path ...string) kv.Bucket {
	if len(path) == 0 {
		return nil
	}
	name := strings.Join(path, "/")
	ok, err := t.exists(name)
	if err != nil || !ok {
		return nil
	}
	return &bucket{tx: t, name: name}
}

func (t *tx) CreateBucket(path ...string) (kv.Bucket, error) {
	if len(path) == 0 {
		return nil, errors.New("sqlite: bucket name required")
	}
	name := strings.Join(path, "/")
	ok, err := t.exists(name)
	if err != nil {
		return nil, err
	}
	if ok {
		return &bucket{tx: t, name: name}, nil
	}
	if !t.writable {
		return nil, kv.ErrReadOnly
	}
	for i := 1; i <= len(path); i++ {
		if _, err := t.stx.ExecContext(t.ctx,
			"INSERT OR IGNORE INTO kv_buckets (name) VALUES (?)",
			strings.Join(path[:i], "/"),
		); err != nil {
			return nil, err
		}
	}
	return &bucket{tx: t, name: name}, nil
}

func (t *tx) DeleteBucket(path ...string) error {
	if !t.writable {
		return kv.ErrReadOnly
	}
	name := strings.Join(path, "/")
	ok, err := t.exists(name)
	if err != nil {
		return err
	}
	if !ok || len(path) == 0 {
		return kv.ErrBucketNotFound
	}
	prefix := name + "/"
	if _, err := t.stx.ExecContext(t.ctx,
		"DELETE FROM kv_entries WHERE bucket = ? OR substr(bucket, 1, ?) = ?",
		name, len(prefix), prefix,
	); err != nil {
		return err
	}
	_, err = t.stx.ExecContext(t.ctx,
		"DELETE FROM kv_buckets WHERE name = ? OR substr(name, 1, ?) = ?",
		name, len(prefix), prefix,
	)
	return err
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if !t.writable {
		return t.stx.Rollback()
	}
	return t.stx.Commit()
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.stx.Rollback()
}

type bucket struct {
	tx   *tx
	name string
}

func (b *bucket) Get(key []byte) []byte {
	var v []byte
	err := b.tx.stx.QueryRowContext(b.tx.ctx,
		"SELECT value FROM kv_entries WHERE bucket = ? AND key = ?", b.name, key,
	).Scan(&v)
	if err != nil {
		return nil
	}
	if v == nil {
		v = []byte{}
	}
	return v
}

func (b *bucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return kv.ErrReadOnly
	}
	if len(key) == 0 {
		return kv.ErrEmptyKey
	}
	if value == nil {
		value = []byte{}
	}
	_, err := b.tx.stx.ExecContext(b.tx.ctx,
		"INSERT INTO kv_entries (bucket, key, value) VALUES (?, ?, ?) "+
			"ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value",
		b.name, key, value,
	)
	return err
}

func (b *bucket) Delete(key []byte) error {
	if !b.tx.writable {
		return kv.ErrReadOnly
	}
	_, err := b.tx.stx.ExecContext(b.tx.ctx,
		"DELETE FROM kv_entries WHERE bucket = ? AND key = ?", b.name, key,
	)
	return err
}

func (b *bucket) ForEach(fn func(k, v []byte) error) error {
	rows, err := b.tx.stx.QueryContext(b.tx.ctx,
		"SELECT key, value FROM kv_entries WHERE bucket = ? ORDER BY key", b.name,
	)
	if err != nil {
		return err
	}
	// Rows are drained first so fn may write to the same transaction.
	type pair struct{ k, v []byte }
	var pairs []pair
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return err
		}
		pairs = append(pairs, pair{bytes.Clone(k), bytes.Clone(v)})
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := fn(p.k, p.v); err != nil {
			return err
		}
	}
	return nil
}
