package checksum

import (
	"context"
	"errors"
	"fmt"

	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/model"
)

var (
	// ErrConflict is returned when a checksum is already held by another id.
	ErrConflict = errors.New("checksum: held by another document")
	// ErrNotFound is returned by Lookup for unknown checksums.
	ErrNotFound = errors.New("checksum: not found")
	// ErrInvalid is returned for empty algorithm or hash values.
	ErrInvalid = errors.New("checksum: invalid")
)

// ConflictError names the checksum and the id already holding it.
type ConflictError struct {
	Checksum model.Checksum
	Holder   model.ID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("checksum %s held by document %d", e.Checksum, e.Holder)
}

// Unwrap returns ErrConflict.
func (e *ConflictError) Unwrap() error { return ErrConflict }

// Index maps "{algorithm}/{hash}" keys to document ids.
type Index struct {
	ds *kv.Dataset
}

// NewIndex returns an index over ds.
func NewIndex(ds *kv.Dataset) *Index {
	return &Index{ds: ds}
}

func key(c model.Checksum) ([]byte, error) {
	if c.Algorithm == "" || c.Value == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, c.Key())
	}
	return []byte(c.Key()), nil
}

// Insert maps algorithm/hash to id. Re-inserting the same mapping is a
// no-op; mapping a checksum held by a different id fails with a
// *ConflictError.
func (x *Index) Insert(ctx context.Context, algorithm, hash string, id model.ID) error {
	return x.insert(ctx, model.Checksum{Algorithm: algorithm, Value: hash}, id)
}

func (x *Index) insert(ctx context.Context, c model.Checksum, id model.ID) error {
	k, err := key(c)
	if err != nil {
		return err
	}
	return x.ds.Store().Update(ctx, func(ctx context.Context) error {
		cur, err := x.ds.Get(ctx, k)
		switch {
		case errors.Is(err, kv.ErrNotFound):
		case err != nil:
			return err
		default:
			holder, err := model.IDFromKey(cur)
			if err != nil {
				return fmt.Errorf("checksum %s: %w", c, err)
			}
			if holder == id {
				return nil
			}
			return &ConflictError{Checksum: c, Holder: holder}
		}
		return x.ds.Put(ctx, k, id.Key())
	})
}

// Lookup returns the id holding algorithm/hash, or ErrNotFound.
func (x *Index) Lookup(ctx context.Context, algorithm, hash string) (model.ID, error) {
	c := model.Checksum{Algorithm: algorithm, Value: hash}
	k, err := key(c)
	if err != nil {
		return 0, err
	}
	v, err := x.ds.Get(ctx, k)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err != nil {
		return 0, err
	}
	return model.IDFromKey(v)
}

// Delete removes algorithm/hash. Unknown checksums are ignored.
func (x *Index) Delete(ctx context.Context, algorithm, hash string) error {
	k, err := key(model.Checksum{Algorithm: algorithm, Value: hash})
	if err != nil {
		return err
	}
	return x.ds.Delete(ctx, k)
}

// InsertAll registers every checksum of a document in one transaction.
func (x *Index) InsertAll(ctx context.Context, checksums []model.Checksum, id model.ID) error {
	return x.ds.Store().Update(ctx, func(ctx context.Context) error {
		for _, c := range checksums {
			if err := x.insert(ctx, c, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAll removes the checksums still mapped to id. Entries held by
// another id are left alone.
func (x *Index) DeleteAll(ctx context.Context, checksums []model.Checksum, id model.ID) error {
	return x.ds.Store().Update(ctx, func(ctx context.Context) error {
		for _, c := range checksums {
			holder, err := x.Lookup(ctx, c.Algorithm, c.Value)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if holder != id {
				continue
			}
			if err := x.Delete(ctx, c.Algorithm, c.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForEach visits every entry in key order.
func (x *Index) ForEach(ctx context.Context, fn func(c model.Checksum, id model.ID) error) error {
	return x.ds.ForEach(ctx, func(k, v []byte) error {
		c, err := model.ParseChecksum(string(k))
		if err != nil {
			return err
		}
		id, err := model.IDFromKey(v)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", c, err)
		}
		return fn(c, id)
	})
}

// Count returns the number of entries.
func (x *Index) Count(ctx context.Context) (int, error) {
	return x.ds.Count(ctx)
}
