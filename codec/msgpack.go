package codec

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgPack is the default binary codec, backed by github.com/vmihailenco/msgpack/v5.
//
// Structs are encoded with their json tags so documents look the same in
// both codecs. Maps decode as map[string]any and numbers inside `any`
// as int64, uint64 or float64.
type MsgPack struct{}

// Marshal encodes the value to msgpack.
func (MsgPack) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data into v.
func (MsgPack) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

// Name returns the unique name of the codec ("msgpack").
func (MsgPack) Name() string { return "msgpack" }
