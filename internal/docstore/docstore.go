// Package docstore stores encoded documents by id and allocates ids.
package docstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/canvas-server/synapsd/codec"
	"github.com/canvas-server/synapsd/internal/compress"
	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/model"
)

var (
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrIDSpaceExhausted is returned when no id below the range maximum is left.
	ErrIDSpaceExhausted = errors.New("docstore: id space exhausted")
)

// SequenceKey holds the next id to allocate in the system dataset.
const SequenceKey = "seq/documents"

// Store maps ids to encoded documents.
//
// Values are framed by internal/compress around the codec encoding, so the
// compression setting may change between runs. The codec may not.
type Store struct {
	docs        *kv.Dataset
	system      *kv.Dataset
	codec       codec.Codec
	compression compress.Type
	min, max    model.ID
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the document codec. Default: msgpack.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithCompression sets the value compression. Default: LZ4.
func WithCompression(t compress.Type) Option {
	return func(s *Store) { s.compression = t }
}

// WithRange sets the id range [min, max).
func WithRange(min, max model.ID) Option {
	return func(s *Store) { s.min, s.max = min, max }
}

// New returns a store over the documents dataset. The id sequence lives in system.
func New(docs, system *kv.Dataset, opts ...Option) *Store {
	s := &Store{
		docs:        docs,
		system:      system,
		codec:       codec.Default,
		compression: compress.LZ4,
		min:         1000,
		max:         1_000_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) encode(doc *model.Document) ([]byte, error) {
	raw, err := s.codec.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode %d: %w", doc.ID, err)
	}
	return compress.Encode(raw, s.compression)
}

func (s *Store) decode(data []byte) (*model.Document, error) {
	raw, err := compress.Decode(data)
	if err != nil {
		return nil, err
	}
	var doc model.Document
	if err := s.codec.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Put stores doc under doc.ID.
func (s *Store) Put(ctx context.Context, doc *model.Document) error {
	if doc.ID < s.min || doc.ID >= s.max {
		return fmt.Errorf("docstore: id %d outside [%d, %d)", doc.ID, s.min, s.max)
	}
	data, err := s.encode(doc)
	if err != nil {
		return err
	}
	return s.docs.Put(ctx, doc.ID.Key(), data)
}

// Get returns the document stored under id.
func (s *Store) Get(ctx context.Context, id model.ID) (*model.Document, error) {
	data, err := s.docs.Get(ctx, id.Key())
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	doc, err := s.decode(data)
	if err != nil {
		return nil, fmt.Errorf("docstore: decode %d: %w", id, err)
	}
	return doc, nil
}

// Has reports whether id is stored.
func (s *Store) Has(ctx context.Context, id model.ID) (bool, error) {
	return s.docs.Has(ctx, id.Key())
}

// Delete removes id and reports whether it existed.
func (s *Store) Delete(ctx context.Context, id model.ID) (bool, error) {
	var existed bool
	err := s.docs.Store().Update(ctx, func(ctx context.Context) error {
		var err error
		if existed, err = s.docs.Has(ctx, id.Key()); err != nil || !existed {
			return err
		}
		return s.docs.Delete(ctx, id.Key())
	})
	return existed, err
}

// IDs returns every stored id in ascending order.
func (s *Store) IDs(ctx context.Context) ([]model.ID, error) {
	var ids []model.ID
	err := s.docs.ForEach(ctx, func(k, _ []byte) error {
		id, err := model.IDFromKey(k)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// ForEach decodes and visits every document in id order.
func (s *Store) ForEach(ctx context.Context, fn func(doc *model.Document) error) error {
	return s.docs.ForEach(ctx, func(k, v []byte) error {
		doc, err := s.decode(v)
		if err != nil {
			return fmt.Errorf("docstore: decode %x: %w", k, err)
		}
		return fn(doc)
	})
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.docs.Count(ctx)
}

// NextID allocates the next id. Ids are never reused.
func (s *Store) NextID(ctx context.Context) (model.ID, error) {
	var id model.ID
	err := s.system.Store().Update(ctx, func(ctx context.Context) error {
		next := s.min
		data, err := s.system.Get(ctx, []byte(SequenceKey))
		switch {
		case errors.Is(err, kv.ErrNotFound):
		case err != nil:
			return err
		case len(data) != 4:
			return fmt.Errorf("docstore: corrupt id sequence")
		default:
			next = max(next, model.ID(binary.BigEndian.Uint32(data)))
		}
		if next >= s.max {
			return fmt.Errorf("%w: range [%d, %d)", ErrIDSpaceExhausted, s.min, s.max)
		}
		id = next
		return s.system.Put(ctx, []byte(SequenceKey), (next + 1).Key())
	})
	return id, err
}

// Sequence returns the next id NextID would allocate, without allocating it.
func (s *Store) Sequence(ctx context.Context) (model.ID, error) {
	data, err := s.system.Get(ctx, []byte(SequenceKey))
	if errors.Is(err, kv.ErrNotFound) {
		return s.min, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("docstore: corrupt id sequence")
	}
	return max(s.min, model.ID(binary.BigEndian.Uint32(data))), nil
}

// AdvanceSequence makes sure NextID never returns an id below next.
func (s *Store) AdvanceSequence(ctx context.Context, next model.ID) error {
	return s.system.Store().Update(ctx, func(ctx context.Context) error {
		cur, err := s.Sequence(ctx)
		if err != nil || cur >= next {
			return err
		}
		return s.system.Put(ctx, []byte(SequenceKey), next.Key())
	})
}
