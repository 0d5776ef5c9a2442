package bitmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	farmhash "github.com/leemcloughlin/gofarmhash"

	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/model"
)

const lockStripes = 256

// Collection is a keyed family of bitmaps persisted in a kv.Dataset.
//
// Bitmaps returned by a Collection are frozen and may be shared with other
// readers through the cache. Writes are copy-on-write: a tick clones the
// current bitmap, mutates the clone and stores it. The cache only learns
// about written bitmaps once the surrounding transaction commits.
type Collection struct {
	ds       *kv.Dataset
	store    *kv.Store
	tag      string
	min, max model.ID
	cache    *Cache
	logger   *slog.Logger

	locks []sync.Mutex
	// cacheMu orders cache reads and fills against commit publication.
	cacheMu sync.RWMutex
}

// CollectionOption configures a Collection.
type CollectionOption func(*Collection)

// WithTag sets the cache namespace of the collection.
func WithTag(tag string) CollectionOption {
	return func(c *Collection) { c.tag = tag }
}

// WithCache makes the collection use a shared cache.
func WithCache(cache *Cache) CollectionOption {
	return func(c *Collection) { c.cache = cache }
}

// WithRange sets the id range [min, max) of the collection's bitmaps.
func WithRange(min, max model.ID) CollectionOption {
	return func(c *Collection) { c.min, c.max = min, max }
}

// WithLogger sets the collection logger.
func WithLogger(l *slog.Logger) CollectionOption {
	return func(c *Collection) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCollection creates a collection over ds.
func NewCollection(ds *kv.Dataset, opts ...CollectionOption) (*Collection, error) {
	c := &Collection{
		ds:     ds,
		store:  ds.Store(),
		min:    DefaultRangeMin,
		max:    DefaultRangeMax,
		logger: slog.New(slog.DiscardHandler),
		locks:  make([]sync.Mutex, lockStripes),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.min >= c.max {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, c.min, c.max)
	}
	if c.tag == "" {
		c.tag = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if c.cache == nil {
		c.cache = NewCache(DefaultCacheBytes)
	}
	c.logger = c.logger.With("collection", c.tag)
	return c, nil
}

// Tag returns the cache namespace.
func (c *Collection) Tag() string { return c.tag }

// Range returns the id range of the collection's bitmaps.
func (c *Collection) Range() (min, max model.ID) { return c.min, c.max }

// Dataset returns the backing dataset.
func (c *Collection) Dataset() *kv.Dataset { return c.ds }

func (c *Collection) lock(key string) *sync.Mutex {
	n := farmhash.Hash32WithSeed([]byte(key), 0)
	return &c.locks[n%uint32(len(c.locks))]
}

func (c *Collection) checkIDs(key string, ids []model.ID) error {
	for _, id := range ids {
		if id < c.min || id >= c.max {
			return &OutOfRangeError{Key: key, ID: id, Min: c.min, Max: c.max}
		}
	}
	return nil
}

func checkKeys(keys ...string) error {
	for _, k := range keys {
		if k == "" {
			return ErrInvalidKey
		}
	}
	return nil
}

type overlayKey struct{ c *Collection }

// overlay returns the bitmaps written by the transaction in ctx, keyed by
// name. A nil value marks a deleted bitmap.
func (c *Collection) overlay(ctx context.Context) map[string]*Bitmap {
	v, ok := kv.TxLocal(ctx, overlayKey{c}, func() any {
		m := make(map[string]*Bitmap)
		kv.OnCommit(ctx, func() { c.publish(m) })
		return m
	})
	if !ok {
		return nil
	}
	return v.(map[string]*Bitmap)
}

func (c *Collection) peekOverlay(ctx context.Context) map[string]*Bitmap {
	v, ok := kv.TxLocal(ctx, overlayKey{c}, nil)
	if !ok {
		return nil
	}
	return v.(map[string]*Bitmap)
}

func (c *Collection) publish(written map[string]*Bitmap) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	for key, b := range written {
		if b == nil {
			c.cache.delete(c.tag, key)
			continue
		}
		c.cache.set(c.tag, b)
	}
}

// load returns the bitmap visible to the transaction in ctx, or nil.
func (c *Collection) load(ctx context.Context, key string) (*Bitmap, error) {
	if ov := c.peekOverlay(ctx); ov != nil {
		if b, ok := ov[key]; ok {
			return b, nil
		}
	}

	c.cacheMu.RLock()
	if c.store.IsCurrent(ctx) {
		if b, ok := c.cache.get(c.tag, key); ok {
			c.cacheMu.RUnlock()
			return b, nil
		}
	}
	c.cacheMu.RUnlock()

	data, err := c.ds.Get(ctx, []byte(key))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bitmap %q: load: %w", key, err)
	}
	b, err := FromBytes(key, c.min, c.max, data)
	if err != nil {
		return nil, err
	}
	b.freeze()

	c.cacheMu.RLock()
	if c.store.IsCurrent(ctx) {
		c.cache.set(c.tag, b)
	}
	c.cacheMu.RUnlock()
	return b, nil
}

// persist stores b and records it in the transaction overlay.
func (c *Collection) persist(ctx context.Context, b *Bitmap) error {
	data, err := b.MarshalBinary()
	if err != nil {
		return fmt.Errorf("bitmap %q: encode: %w", b.key, err)
	}
	if err := c.ds.Put(ctx, []byte(b.key), data); err != nil {
		return fmt.Errorf("bitmap %q: store: %w", b.key, err)
	}
	c.overlay(ctx)[b.key] = b.freeze()
	return nil
}

func (c *Collection) remove(ctx context.Context, key string) error {
	if err := c.ds.Delete(ctx, []byte(key)); err != nil {
		return fmt.Errorf("bitmap %q: delete: %w", key, err)
	}
	c.overlay(ctx)[key] = nil
	return nil
}

// GetBitmap returns the bitmap stored under key. A missing bitmap yields
// nil, unless autoCreate is set, in which case an empty one is persisted.
func (c *Collection) GetBitmap(ctx context.Context, key string, autoCreate bool) (*Bitmap, error) {
	if err := checkKeys(key); err != nil {
		return nil, err
	}
	var b *Bitmap
	err := c.store.View(ctx, func(ctx context.Context) error {
		var err error
		b, err = c.load(ctx, key)
		return err
	})
	if err != nil || b != nil || !autoCreate {
		return b, err
	}
	err = c.store.Update(ctx, func(ctx context.Context) error {
		var err error
		if b, err = c.load(ctx, key); err != nil || b != nil {
			return err
		}
		b, _ = New(key, c.min, c.max)
		return c.persist(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// HasBitmap reports whether a bitmap is stored under key.
func (c *Collection) HasBitmap(ctx context.Context, key string) (bool, error) {
	b, err := c.GetBitmap(ctx, key, false)
	return b != nil, err
}

// SetBitmap stores a copy of b under key.
func (c *Collection) SetBitmap(ctx context.Context, key string, b *Bitmap) (*Bitmap, error) {
	if err := checkKeys(key); err != nil {
		return nil, err
	}
	next, _ := New(key, c.min, c.max)
	if b != nil {
		if err := next.Or(b); err != nil {
			var oe *OutOfRangeError
			if errors.As(err, &oe) {
				oe.Key = key
			}
			return nil, err
		}
	}
	err := c.store.Update(ctx, func(ctx context.Context) error {
		mu := c.lock(key)
		mu.Lock()
		defer mu.Unlock()
		return c.persist(ctx, next)
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// CreateBitmap stores a new bitmap holding ids, replacing any existing one.
func (c *Collection) CreateBitmap(ctx context.Context, key string, ids ...model.ID) (*Bitmap, error) {
	if err := checkKeys(key); err != nil {
		return nil, err
	}
	b, err := New(key, c.min, c.max, ids...)
	if err != nil {
		return nil, err
	}
	err = c.store.Update(ctx, func(ctx context.Context) error {
		mu := c.lock(key)
		mu.Lock()
		defer mu.Unlock()
		return c.persist(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("bitmap created", "key", key, "ids", len(ids))
	return b, nil
}

// RenameBitmap moves the bitmap stored under oldKey to newKey.
func (c *Collection) RenameBitmap(ctx context.Context, oldKey, newKey string) (*Bitmap, error) {
	if err := checkKeys(oldKey, newKey); err != nil {
		return nil, err
	}
	if oldKey == newKey {
		return nil, fmt.Errorf("%w: %q", ErrExists, newKey)
	}
	var renamed *Bitmap
	err := c.store.Update(ctx, func(ctx context.Context) error {
		old, err := c.load(ctx, oldKey)
		if err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("%w: %q", ErrNotFound, oldKey)
		}
		existing, err := c.load(ctx, newKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %q", ErrExists, newKey)
		}
		renamed = old.Clone()
		renamed.key = newKey
		if err := c.persist(ctx, renamed); err != nil {
			return err
		}
		return c.remove(ctx, oldKey)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("bitmap renamed", "from", oldKey, "to", newKey)
	return renamed, nil
}

// DeleteBitmap removes the bitmap stored under key. It reports whether
// the bitmap existed.
func (c *Collection) DeleteBitmap(ctx context.Context, key string) (bool, error) {
	if err := checkKeys(key); err != nil {
		return false, err
	}
	var existed bool
	err := c.store.Update(ctx, func(ctx context.Context) error {
		b, err := c.load(ctx, key)
		if err != nil || b == nil {
			return err
		}
		existed = true
		return c.remove(ctx, key)
	})
	if err == nil && existed {
		c.logger.Debug("bitmap deleted", "key", key)
	}
	return existed, err
}

// Tick adds ids to the bitmap under key, creating it if needed.
func (c *Collection) Tick(ctx context.Context, key string, ids ...model.ID) (*Bitmap, error) {
	if err := checkKeys(key); err != nil {
		return nil, err
	}
	if err := c.checkIDs(key, ids); err != nil {
		return nil, err
	}
	var out *Bitmap
	err := c.store.Update(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.tick(ctx, key, ids)
		return err
	})
	return out, err
}

func (c *Collection) tick(ctx context.Context, key string, ids []model.ID) (*Bitmap, error) {
	mu := c.lock(key)
	mu.Lock()
	defer mu.Unlock()

	cur, err := c.load(ctx, key)
	if err != nil {
		return nil, err
	}
	var next *Bitmap
	if cur == nil {
		next, err = New(key, c.min, c.max)
		if err != nil {
			return nil, err
		}
	} else {
		next = cur.Clone()
	}
	if err := next.Add(ids...); err != nil {
		return nil, err
	}
	if err := c.persist(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Untick removes ids from the bitmap under key. A missing bitmap is left
// missing and yields nil. An emptied bitmap is kept.
func (c *Collection) Untick(ctx context.Context, key string, ids ...model.ID) (*Bitmap, error) {
	if err := checkKeys(key); err != nil {
		return nil, err
	}
	if err := c.checkIDs(key, ids); err != nil {
		return nil, err
	}
	var out *Bitmap
	err := c.store.Update(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.untick(ctx, key, ids)
		return err
	})
	return out, err
}

func (c *Collection) untick(ctx context.Context, key string, ids []model.ID) (*Bitmap, error) {
	mu := c.lock(key)
	mu.Lock()
	defer mu.Unlock()

	cur, err := c.load(ctx, key)
	if err != nil || cur == nil {
		return nil, err
	}
	changed := false
	for _, id := range ids {
		if cur.Contains(id) {
			changed = true
			break
		}
	}
	if !changed {
		return cur, nil
	}
	next := cur.Clone()
	if err := next.Remove(ids...); err != nil {
		return nil, err
	}
	if err := c.persist(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// TickMany adds ids to every bitmap in keys. Keys and ids are validated
// before anything is written, so an invalid id rejects the whole batch.
func (c *Collection) TickMany(ctx context.Context, keys []string, ids ...model.ID) error {
	if err := c.validateBatch(keys, ids); err != nil {
		return err
	}
	return c.store.Update(ctx, func(ctx context.Context) error {
		for _, key := range keys {
			if _, err := c.tick(ctx, key, ids); err != nil {
				return err
			}
		}
		return nil
	})
}

// UntickMany removes ids from every bitmap in keys with the same batch
// validation as TickMany.
func (c *Collection) UntickMany(ctx context.Context, keys []string, ids ...model.ID) error {
	if err := c.validateBatch(keys, ids); err != nil {
		return err
	}
	return c.store.Update(ctx, func(ctx context.Context) error {
		for _, key := range keys {
			if _, err := c.untick(ctx, key, ids); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Collection) validateBatch(keys []string, ids []model.ID) error {
	if err := checkKeys(keys...); err != nil {
		return err
	}
	key := ""
	if len(keys) > 0 {
		key = keys[0]
	}
	return c.checkIDs(key, ids)
}

// AND intersects the bitmaps under keys. Missing bitmaps are skipped; an
// existing empty bitmap empties the result. No keys yield an empty bitmap.
func (c *Collection) AND(ctx context.Context, keys []string) (*Bitmap, error) {
	var res *Bitmap
	err := c.store.View(ctx, func(ctx context.Context) error {
		for _, key := range keys {
			b, err := c.load(ctx, key)
			if err != nil {
				return err
			}
			if b == nil {
				continue
			}
			if res == nil {
				res = b.Clone()
				continue
			}
			if err := res.And(b); err != nil {
				return err
			}
			if res.IsEmpty() {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res, _ = New("", c.min, c.max)
	}
	res.key = ""
	return res, nil
}

// OR unions the bitmaps under keys. Missing bitmaps are skipped.
func (c *Collection) OR(ctx context.Context, keys []string) (*Bitmap, error) {
	return c.fold(ctx, keys, (*Bitmap).Or)
}

// XOR computes the symmetric difference of the bitmaps under keys.
// Missing bitmaps are skipped.
func (c *Collection) XOR(ctx context.Context, keys []string) (*Bitmap, error) {
	return c.fold(ctx, keys, (*Bitmap).Xor)
}

func (c *Collection) fold(ctx context.Context, keys []string, op func(*Bitmap, *Bitmap) error) (*Bitmap, error) {
	res, _ := New("", c.min, c.max)
	err := c.store.View(ctx, func(ctx context.Context) error {
		for _, key := range keys {
			b, err := c.load(ctx, key)
			if err != nil {
				return err
			}
			if b == nil {
				continue
			}
			if err := op(res, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListBitmaps returns the keys of all stored bitmaps in order.
func (c *Collection) ListBitmaps(ctx context.Context) ([]string, error) {
	raw, err := c.ds.Keys(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = string(k)
	}
	return keys, nil
}

// ClearCache drops every cached bitmap of this collection.
func (c *Collection) ClearCache() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache.invalidateNamespace(c.tag)
}

// KeysContaining returns the keys of all bitmaps holding id.
func (c *Collection) KeysContaining(ctx context.Context, id model.ID) ([]string, error) {
	var out []string
	err := c.store.View(ctx, func(ctx context.Context) error {
		keys, err := c.ListBitmaps(ctx)
		if err != nil {
			return err
		}
		for _, key := range keys {
			b, err := c.load(ctx, key)
			if err != nil {
				return err
			}
			if b != nil && b.Contains(id) {
				out = append(out, key)
			}
		}
		return nil
	})
	return out, err
}

// UntickAll removes ids from every bitmap of the collection and returns
// the keys that changed.
func (c *Collection) UntickAll(ctx context.Context, ids ...model.ID) ([]string, error) {
	if err := c.checkIDs("", ids); err != nil {
		return nil, err
	}
	var touched []string
	err := c.store.Update(ctx, func(ctx context.Context) error {
		touched = touched[:0]
		keys, err := c.ListBitmaps(ctx)
		if err != nil {
			return err
		}
		for _, key := range keys {
			cur, err := c.load(ctx, key)
			if err != nil {
				return err
			}
			if cur == nil {
				continue
			}
			hit := false
			for _, id := range ids {
				if cur.Contains(id) {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
			if _, err := c.untick(ctx, key, ids); err != nil {
				return err
			}
			touched = append(touched, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return touched, nil
}
