// Package schema describes document schemas: field types, required fields,
// which fields feed checksums and the full-text index, and a registry that
// resolves schema names to descriptors.
package schema

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/canvas-server/synapsd/checksum"
)

// Built-in schema names.
const (
	Document = "data/abstraction/document"
	Tab      = "data/abstraction/tab"
	Note     = "data/abstraction/note"
	Todo     = "data/abstraction/todo"
)

// DefaultVersion is the version of the built-in schemas.
const DefaultVersion = "2.0"

var (
	// ErrUnknownSchema is returned when a schema name is not registered.
	ErrUnknownSchema = errors.New("schema: unknown schema")
	// ErrInvalidDescriptor is returned when registering a malformed descriptor.
	ErrInvalidDescriptor = errors.New("schema: invalid descriptor")
	// ErrValidation is wrapped by every data validation failure.
	ErrValidation = errors.New("schema: validation failed")
)

// FieldError describes one invalid field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

// Unwrap returns ErrValidation.
func (e *FieldError) Unwrap() error { return ErrValidation }

// Descriptor is the index-relevant description of a schema.
//
// Field and Required paths are relative to the document's data, e.g.
// "url" or "meta.lang". ChecksumFields, FullTextIndexFields and
// EmbeddingFields are document paths such as "data.url".
type Descriptor struct {
	Name                string
	Version             string
	Fields              map[string]FieldType
	Required            []string
	ChecksumFields      []string
	ChecksumAlgorithms  []string
	FullTextIndexFields []string
	EmbeddingFields     []string
	// Validator runs after the field checks.
	Validator func(data map[string]any) error
}

// PrimaryChecksumAlgorithm returns the algorithm of the primary checksum.
func (d *Descriptor) PrimaryChecksumAlgorithm() string {
	if len(d.ChecksumAlgorithms) == 0 {
		return checksum.SHA1
	}
	return d.ChecksumAlgorithms[0]
}

// Validate checks data against the descriptor.
func (d *Descriptor) Validate(data map[string]any) error {
	for _, path := range d.Required {
		if v, ok := lookup(data, path); !ok || v == nil {
			return &FieldError{Field: path, Reason: "required"}
		}
	}
	for _, path := range slices.Sorted(maps.Keys(d.Fields)) {
		v, ok := lookup(data, path)
		if !ok {
			continue
		}
		if want := d.Fields[path]; !want.Check(v) {
			return &FieldError{Field: path, Reason: fmt.Sprintf("has type %T, expected %s", v, want)}
		}
	}
	if d.Validator != nil {
		if err := d.Validator(data); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return nil
}

func lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (d *Descriptor) check() error {
	if d.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDescriptor)
	}
	if len(d.ChecksumFields) == 0 {
		return fmt.Errorf("%w: %s: no checksum fields", ErrInvalidDescriptor, d.Name)
	}
	for _, algo := range d.ChecksumAlgorithms {
		if !checksum.Supported(algo) {
			return fmt.Errorf("%w: %s: %w %q", ErrInvalidDescriptor, d.Name, checksum.ErrUnknownAlgorithm, algo)
		}
	}
	return nil
}

func (d *Descriptor) clone() *Descriptor {
	out := *d
	out.Fields = maps.Clone(d.Fields)
	out.Required = slices.Clone(d.Required)
	out.ChecksumFields = slices.Clone(d.ChecksumFields)
	out.ChecksumAlgorithms = slices.Clone(d.ChecksumAlgorithms)
	out.FullTextIndexFields = slices.Clone(d.FullTextIndexFields)
	out.EmbeddingFields = slices.Clone(d.EmbeddingFields)
	if len(out.ChecksumAlgorithms) == 0 {
		out.ChecksumAlgorithms = []string{checksum.SHA1, checksum.SHA256}
	}
	return &out
}

// Registry resolves schema names to descriptors. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

// NewRegistry returns a registry holding descs.
func NewRegistry(descs ...*Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]*Descriptor)}
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry returns a registry holding the built-in abstractions.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Builtins()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds or replaces a descriptor. Algorithms default to sha1, sha256.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil", ErrInvalidDescriptor)
	}
	c := d.clone()
	if err := c.check(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[c.Name] = c
	return nil
}

// Get returns the descriptor registered under name. The result must not
// be modified.
func (r *Registry) Get(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	return d, nil
}

// List returns the registered schema names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.descriptors))
}
