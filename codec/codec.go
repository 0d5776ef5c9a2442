// Package codec centralizes value encoding for stored documents and snapshots.
//
// Codec selection is a breaking-change boundary: documents written with one
// codec are only readable with the same codec. An index records the codec
// name in its system dataset and refuses to open with another.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used for newly created indexes.
var Default Codec = MsgPack{}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "msgpack":
		return MsgPack{}, true
	case "json", "go-json":
		return JSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
