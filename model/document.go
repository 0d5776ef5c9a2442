package model

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is a document identifier. Ids are allocated sequentially from the
// index's configured minimum.
type ID uint32

// String returns the decimal form of the id.
func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Key returns the 4-byte big-endian storage key of the id, which keeps
// bbolt iteration in numeric order.
func (id ID) Key() []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

// IDFromKey decodes a key produced by ID.Key.
func IDFromKey(b []byte) (ID, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("model: invalid id key length %d", len(b))
	}
	return ID(binary.BigEndian.Uint32(b)), nil
}

// ParseID parses a decimal id.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("model: invalid id %q: %w", s, err)
	}
	return ID(v), nil
}

// Checksum is one content hash of a document.
type Checksum struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// Key returns the checksum index key "{algorithm}/{value}".
func (c Checksum) Key() string { return c.Algorithm + "/" + c.Value }

func (c Checksum) String() string { return c.Key() }

// ParseChecksum splits a "{algorithm}/{value}" key.
func ParseChecksum(key string) (Checksum, error) {
	algo, value, ok := strings.Cut(key, "/")
	if !ok || algo == "" || value == "" {
		return Checksum{}, fmt.Errorf("model: invalid checksum key %q", key)
	}
	return Checksum{Algorithm: algo, Value: value}, nil
}

// Document is a schema-typed record stored in the index.
type Document struct {
	ID            ID             `json:"id"`
	Schema        string         `json:"schema"`
	SchemaVersion string         `json:"schemaVersion,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Data          map[string]any `json:"data"`
	// Checksums are ordered; the first entry is the primary checksum.
	Checksums []Checksum `json:"checksums,omitempty"`
	// FeatureArray lists feature tags attached by the producer.
	FeatureArray []string `json:"featureArray,omitempty"`
}

// PrimaryChecksum returns the first checksum, if any.
func (d *Document) PrimaryChecksum() (Checksum, bool) {
	if len(d.Checksums) == 0 {
		return Checksum{}, false
	}
	return d.Checksums[0], true
}

// Checksum returns the checksum computed with algorithm.
func (d *Document) Checksum(algorithm string) (Checksum, bool) {
	for _, c := range d.Checksums {
		if c.Algorithm == algorithm {
			return c, true
		}
	}
	return Checksum{}, false
}

// Clone returns a copy whose slices and top-level data map can be modified
// independently.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.Data != nil {
		out.Data = make(map[string]any, len(d.Data))
		for k, v := range d.Data {
			out.Data[k] = v
		}
	}
	out.Checksums = append([]Checksum(nil), d.Checksums...)
	out.FeatureArray = append([]string(nil), d.FeatureArray...)
	return &out
}

// Field resolves a dotted path such as "data.title" against the document.
// The first segment may name a top-level attribute (id, schema, data, ...);
// anything else is looked up inside Data.
func (d *Document) Field(path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any
	switch parts[0] {
	case "id":
		return d.ID, len(parts) == 1
	case "schema":
		return d.Schema, len(parts) == 1
	case "schemaVersion":
		return d.SchemaVersion, len(parts) == 1
	case "createdAt":
		return d.CreatedAt, len(parts) == 1
	case "updatedAt":
		return d.UpdatedAt, len(parts) == 1
	case "data":
		cur = d.Data
		parts = parts[1:]
	default:
		cur = d.Data
	}
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// FieldText resolves path and renders the value as text for indexing.
// Slices are joined with spaces; maps and missing values yield "".
func (d *Document) FieldText(path string) string {
	v, ok := d.Field(path)
	if !ok {
		return ""
	}
	return textOf(v)
}

func textOf(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		return strings.Join(x, " ")
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if s := textOf(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case map[string]any, nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
