package bitmap

import (
	"errors"
	"fmt"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/canvas-server/synapsd/model"
)

// Default id range of document bitmaps.
const (
	DefaultRangeMin model.ID = 1000
	DefaultRangeMax model.ID = 1_000_000
)

var (
	// ErrOutOfRange is returned when an id lies outside a bitmap's range.
	ErrOutOfRange = errors.New("bitmap: id out of range")
	// ErrNotFound is returned when a named bitmap does not exist.
	ErrNotFound = errors.New("bitmap: not found")
	// ErrExists is returned when a rename target already exists.
	ErrExists = errors.New("bitmap: already exists")
	// ErrImmutable is returned when mutating a shared (cached) bitmap.
	ErrImmutable = errors.New("bitmap: immutable")
	// ErrInvalidKey is returned for empty bitmap keys.
	ErrInvalidKey = errors.New("bitmap: invalid key")
	// ErrInvalidRange is returned when min >= max.
	ErrInvalidRange = errors.New("bitmap: invalid range")
)

// OutOfRangeError reports the offending id and the allowed range.
type OutOfRangeError struct {
	Key      string
	ID       model.ID
	Min, Max model.ID
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("bitmap %q: id %d outside [%d, %d)", e.Key, e.ID, e.Min, e.Max)
}

// Unwrap returns ErrOutOfRange.
func (e *OutOfRangeError) Unwrap() error { return ErrOutOfRange }

// Bitmap is a roaring bitmap of document ids bounded to [min, max).
//
// A Bitmap handed out by a Collection is frozen: it is shared with the
// cache and every mutator returns ErrImmutable. Clone it to get a private copy.
type Bitmap struct {
	key      string
	min, max model.ID
	rb       *roaring.Bitmap
	frozen   bool
}

// New creates a bitmap holding ids.
func New(key string, min, max model.ID, ids ...model.ID) (*Bitmap, error) {
	if min >= max {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, min, max)
	}
	b := &Bitmap{key: key, min: min, max: max, rb: roaring.New()}
	if err := b.Add(ids...); err != nil {
		return nil, err
	}
	return b, nil
}

// FromBytes decodes a bitmap in the portable roaring format and checks
// that every id lies inside [min, max).
func FromBytes(key string, min, max model.ID, data []byte) (*Bitmap, error) {
	b, err := New(key, min, max)
	if err != nil {
		return nil, err
	}
	if err := b.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return b, nil
}

// Key returns the bitmap's key.
func (b *Bitmap) Key() string { return b.key }

// Range returns the allowed id range [min, max).
func (b *Bitmap) Range() (min, max model.ID) { return b.min, b.max }

// Frozen reports whether the bitmap is shared and read-only.
func (b *Bitmap) Frozen() bool { return b.frozen }

func (b *Bitmap) freeze() *Bitmap {
	b.frozen = true
	return b
}

func (b *Bitmap) check(ids []model.ID) error {
	for _, id := range ids {
		if id < b.min || id >= b.max {
			return &OutOfRangeError{Key: b.key, ID: id, Min: b.min, Max: b.max}
		}
	}
	return nil
}

// Add inserts ids. If any id is out of range nothing is added.
func (b *Bitmap) Add(ids ...model.ID) error {
	if b.frozen {
		return ErrImmutable
	}
	if err := b.check(ids); err != nil {
		return err
	}
	for _, id := range ids {
		b.rb.Add(uint32(id))
	}
	return nil
}

// Remove deletes ids. If any id is out of range nothing is removed.
func (b *Bitmap) Remove(ids ...model.ID) error {
	if b.frozen {
		return ErrImmutable
	}
	if err := b.check(ids); err != nil {
		return err
	}
	for _, id := range ids {
		b.rb.Remove(uint32(id))
	}
	return nil
}

// Contains reports whether id is set.
func (b *Bitmap) Contains(id model.ID) bool { return b.rb.Contains(uint32(id)) }

// Cardinality returns the number of ids.
func (b *Bitmap) Cardinality() uint64 { return b.rb.GetCardinality() }

// IsEmpty reports whether no id is set.
func (b *Bitmap) IsEmpty() bool { return b.rb.IsEmpty() }

// ToArray returns the ids in ascending order.
func (b *Bitmap) ToArray() []model.ID {
	raw := b.rb.ToArray()
	out := make([]model.ID, len(raw))
	for i, v := range raw {
		out[i] = model.ID(v)
	}
	return out
}

// Iterator yields the ids in ascending order.
func (b *Bitmap) Iterator() iter.Seq[model.ID] {
	return func(yield func(model.ID) bool) {
		it := b.rb.Iterator()
		for it.HasNext() {
			if !yield(model.ID(it.Next())) {
				return
			}
		}
	}
}

// Clone returns a private, mutable deep copy.
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{key: b.key, min: b.min, max: b.max, rb: b.rb.Clone()}
}

// And keeps only ids also present in other.
func (b *Bitmap) And(other *Bitmap) error {
	if b.frozen {
		return ErrImmutable
	}
	b.rb.And(other.rb)
	return nil
}

// Or adds the ids of other. Ids of other outside b's range are rejected.
func (b *Bitmap) Or(other *Bitmap) error {
	if b.frozen {
		return ErrImmutable
	}
	if err := b.checkBounds(other); err != nil {
		return err
	}
	b.rb.Or(other.rb)
	return nil
}

// Xor keeps ids present in exactly one of b and other.
func (b *Bitmap) Xor(other *Bitmap) error {
	if b.frozen {
		return ErrImmutable
	}
	if err := b.checkBounds(other); err != nil {
		return err
	}
	b.rb.Xor(other.rb)
	return nil
}

// AndNot removes the ids of other.
func (b *Bitmap) AndNot(other *Bitmap) error {
	if b.frozen {
		return ErrImmutable
	}
	b.rb.AndNot(other.rb)
	return nil
}

func (b *Bitmap) checkBounds(other *Bitmap) error {
	if other.rb.IsEmpty() {
		return nil
	}
	lo, hi := model.ID(other.rb.Minimum()), model.ID(other.rb.Maximum())
	if lo < b.min {
		return &OutOfRangeError{Key: b.key, ID: lo, Min: b.min, Max: b.max}
	}
	if hi >= b.max {
		return &OutOfRangeError{Key: b.key, ID: hi, Min: b.min, Max: b.max}
	}
	return nil
}

// Equals reports whether both bitmaps hold the same ids.
func (b *Bitmap) Equals(other *Bitmap) bool {
	if other == nil {
		return false
	}
	return b.rb.Equals(other.rb)
}

// SizeInBytes estimates the in-memory size.
func (b *Bitmap) SizeInBytes() int64 { return int64(b.rb.GetSizeInBytes()) }

// MarshalBinary encodes the bitmap in the portable roaring format.
func (b *Bitmap) MarshalBinary() ([]byte, error) {
	return b.rb.ToBytes()
}

// UnmarshalBinary replaces the content with data in the portable roaring
// format. Data holding ids outside the range is rejected.
func (b *Bitmap) UnmarshalBinary(data []byte) error {
	if b.frozen {
		return ErrImmutable
	}
	rb := roaring.New()
	if len(data) > 0 {
		if err := rb.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("bitmap %q: decode: %w", b.key, err)
		}
	}
	tmp := &Bitmap{key: b.key, min: b.min, max: b.max, rb: rb}
	if err := b.checkBounds(tmp); err != nil {
		return err
	}
	b.rb = rb
	return nil
}

// Validate checks that every id lies inside the range.
func (b *Bitmap) Validate() error {
	return b.checkBounds(b)
}

func (b *Bitmap) String() string {
	return fmt.Sprintf("Bitmap(%s, %d ids)", b.key, b.rb.GetCardinality())
}
