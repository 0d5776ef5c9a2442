package kv

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

type txKey struct{}

// txState is the transaction carried by a context.
type txState struct {
	tx         Tx
	startSeq   uint64
	locals     map[any]any
	onCommit   []func()
	onRollback []func()
}

// Store hands out Datasets over a Backend and runs context-carried transactions.
type Store struct {
	backend   Backend
	logger    *slog.Logger
	closed    atomic.Bool
	commitSeq atomic.Uint64

	// appliedSeq trails commitSeq until the commit hooks have run.
	appliedSeq atomic.Uint64

	mu       sync.Mutex
	datasets map[string]*Dataset
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for transaction diagnostics.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store on top of backend.
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend:  backend,
		logger:   slog.New(slog.DiscardHandler),
		datasets: make(map[string]*Dataset),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Update runs fn inside a writable transaction.
//
// If ctx already carries a writable transaction, fn joins it and the
// outermost caller decides about commit. Joining a read-only transaction
// fails with ErrReadOnly.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.run(ctx, true, fn)
}

// View runs fn inside a read-only transaction, or joins the transaction
// already carried by ctx.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.run(ctx, false, fn)
}

func (s *Store) run(ctx context.Context, writable bool, fn func(ctx context.Context) error) (err error) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st != nil {
		if writable && !st.tx.Writable() {
			return ErrReadOnly
		}
		return fn(ctx)
	}

	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Loaded before Begin so a commit racing with Begin makes the snapshot look stale.
	startSeq := s.commitSeq.Load()
	tx, err := s.backend.Begin(ctx, writable)
	if err != nil {
		return fmt.Errorf("kv: begin: %w", err)
	}
	st := &txState{tx: tx, startSeq: startSeq}
	txCtx := context.WithValue(ctx, txKey{}, st)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			runHooks(st.onRollback)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		runHooks(st.onRollback)
		return err
	}

	if !writable {
		_ = tx.Rollback()
		runHooks(st.onCommit)
		return nil
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		runHooks(st.onRollback)
		return fmt.Errorf("kv: commit: %w", err)
	}
	s.commitSeq.Add(1)
	defer s.appliedSeq.Add(1)
	runHooks(st.onCommit)
	return nil
}

// CommitSeq returns the number of writable transactions committed so far.
func (s *Store) CommitSeq() uint64 { return s.commitSeq.Load() }

// IsCurrent reports whether the transaction carried by ctx sees the latest
// committed state and every commit hook has run. Shared caches filled from
// commit hooks may be read and populated only while this holds.
func (s *Store) IsCurrent(ctx context.Context) bool {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok || st == nil {
		return false
	}
	return st.startSeq == s.commitSeq.Load() && st.startSeq == s.appliedSeq.Load()
}

// TxLocal returns the value stored under key in the transaction carried by
// ctx, creating it with init on first use. Without a transaction it
// returns nil and false.
func TxLocal(ctx context.Context, key any, init func() any) (any, bool) {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok || st == nil {
		return nil, false
	}
	if v, ok := st.locals[key]; ok {
		return v, true
	}
	if init == nil {
		return nil, false
	}
	if st.locals == nil {
		st.locals = make(map[any]any)
	}
	v := init()
	st.locals[key] = v
	return v, true
}

func runHooks(hooks []func()) {
	for _, h := range hooks {
		h()
	}
}

// OnCommit registers fn to run after the transaction carried by ctx commits.
// Without a transaction fn runs immediately.
func OnCommit(ctx context.Context, fn func()) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st != nil {
		st.onCommit = append(st.onCommit, fn)
		return
	}
	fn()
}

// OnRollback registers fn to run if the transaction carried by ctx rolls back.
// Without a transaction it is a no-op.
func OnRollback(ctx context.Context, fn func()) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && st != nil {
		st.onRollback = append(st.onRollback, fn)
	}
}

// InTx reports whether ctx carries a transaction, and whether it is writable.
func InTx(ctx context.Context) (active, writable bool) {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok || st == nil {
		return false, false
	}
	return true, st.tx.Writable()
}

func txFrom(ctx context.Context) Tx {
	st, _ := ctx.Value(txKey{}).(*txState)
	if st == nil {
		return nil
	}
	return st.tx
}

// CreateDataset creates (if missing) and returns the dataset with the given name.
// Names may contain "/" to nest datasets, e.g. "bitmaps/contexts".
func (s *Store) CreateDataset(ctx context.Context, name string) (*Dataset, error) {
	path := SplitPath(name)
	if len(path) == 0 {
		return nil, fmt.Errorf("kv: invalid dataset name %q", name)
	}
	err := s.Update(ctx, func(ctx context.Context) error {
		_, err := txFrom(ctx).CreateBucket(path...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("kv: create dataset %q: %w", name, err)
	}
	return s.Dataset(name), nil
}

// Dataset returns a handle for the named dataset without creating it.
// Reads on a missing dataset behave as on an empty one.
func (s *Store) Dataset(name string) *Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.datasets[name]; ok {
		return d
	}
	d := &Dataset{store: s, name: name, path: SplitPath(name)}
	s.datasets[name] = d
	return d
}

// DeleteDataset removes a dataset and everything nested under it.
func (s *Store) DeleteDataset(ctx context.Context, name string) error {
	path := SplitPath(name)
	return s.Update(ctx, func(ctx context.Context) error {
		err := txFrom(ctx).DeleteBucket(path...)
		if err == ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Close closes the backend. Further transactions fail with ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.backend.Close()
}
