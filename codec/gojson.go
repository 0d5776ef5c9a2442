package codec

import gojson "github.com/goccy/go-json"

// JSON is a JSON codec backed by github.com/goccy/go-json.
//
// Map keys are emitted in sorted order, which makes the output usable as a
// canonical form for content checksums.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }
