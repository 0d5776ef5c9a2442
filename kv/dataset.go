package kv

import (
	"bytes"
	"context"
	"strings"
)

// Dataset is a named key space inside a Store.
//
// Each method joins the transaction carried by ctx, or opens a short one.
type Dataset struct {
	store *Store
	name  string
	path  []string
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// Store returns the owning store.
func (d *Dataset) Store() *Store { return d.store }

// CreateDataset creates a dataset nested under d.
func (d *Dataset) CreateDataset(ctx context.Context, name string) (*Dataset, error) {
	return d.store.CreateDataset(ctx, d.name+"/"+strings.Trim(name, "/"))
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (d *Dataset) Get(ctx context.Context, key []byte) ([]byte, error) {
	var out []byte
	err := d.store.View(ctx, func(ctx context.Context) error {
		b := txFrom(ctx).Bucket(d.path...)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = bytes.Clone(v)
		return nil
	})
	return out, err
}

// Has reports whether key exists.
func (d *Dataset) Has(ctx context.Context, key []byte) (bool, error) {
	var found bool
	err := d.store.View(ctx, func(ctx context.Context) error {
		b := txFrom(ctx).Bucket(d.path...)
		found = b != nil && b.Get(key) != nil
		return nil
	})
	return found, err
}

// Put stores value under key.
func (d *Dataset) Put(ctx context.Context, key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return d.store.Update(ctx, func(ctx context.Context) error {
		b, err := txFrom(ctx).CreateBucket(d.path...)
		if err != nil {
			return err
		}
		if value == nil {
			value = []byte{}
		}
		return b.Put(key, value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (d *Dataset) Delete(ctx context.Context, key []byte) error {
	return d.store.Update(ctx, func(ctx context.Context) error {
		b := txFrom(ctx).Bucket(d.path...)
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
}

// ForEach visits every entry in key order. Keys and values are only valid
// during the callback.
func (d *Dataset) ForEach(ctx context.Context, fn func(k, v []byte) error) error {
	return d.store.View(ctx, func(ctx context.Context) error {
		b := txFrom(ctx).Bucket(d.path...)
		if b == nil {
			return nil
		}
		return b.ForEach(fn)
	})
}

// Keys returns a copy of every key in order.
func (d *Dataset) Keys(ctx context.Context) ([][]byte, error) {
	var keys [][]byte
	err := d.ForEach(ctx, func(k, _ []byte) error {
		keys = append(keys, bytes.Clone(k))
		return nil
	})
	return keys, err
}

// Count returns the number of entries.
func (d *Dataset) Count(ctx context.Context) (int, error) {
	n := 0
	err := d.ForEach(ctx, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Clear removes every entry but keeps nested datasets.
func (d *Dataset) Clear(ctx context.Context) error {
	return d.store.Update(ctx, func(ctx context.Context) error {
		b := txFrom(ctx).Bucket(d.path...)
		if b == nil {
			return nil
		}
		var keys [][]byte
		if err := b.ForEach(func(k, _ []byte) error {
			keys = append(keys, bytes.Clone(k))
			return nil
		}); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
