// Package compress frames stored values with an optional LZ4 or ZSTD block
// compression. Encoded values are self-describing:
//
//	[Type uint8][UncompressedSize uint32 LE][Payload...]
//
// so readers never need to know which setting the writer used.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type defines the compression algorithm used.
type Type uint8

const (
	// None stores the payload as is.
	None Type = 0
	// LZ4 is fast block compression, the default for document values.
	LZ4 Type = 1
	// ZSTD trades speed for ratio; used for snapshots and backups.
	ZSTD Type = 2
)

const headerSize = 5

// minCompressSize is the payload size below which compression is skipped.
const minCompressSize = 64

var (
	// ErrCorrupt is returned when an encoded value cannot be decoded.
	ErrCorrupt = errors.New("compress: corrupt value")

	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseType maps "none", "lz4" and "zstd" to a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("compress: unknown type %q", s)
	}
}

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode compresses data with t. If compression doesn't help, the value is
// stored uncompressed.
func Encode(data []byte, t Type) ([]byte, error) {
	var payload []byte
	used := None

	if len(data) >= minCompressSize {
		switch t {
		case LZ4:
			buf := make([]byte, lz4.CompressBlockBound(len(data)))
			n, err := lz4.CompressBlock(data, buf, nil)
			if err != nil {
				return nil, err
			}
			if n > 0 {
				payload, used = buf[:n], LZ4
			}
		case ZSTD:
			enc := getZstdEncoder()
			payload, used = enc.EncodeAll(data, nil), ZSTD
			zstdEncoderPool.Put(enc)
		case None:
		default:
			return nil, fmt.Errorf("compress: unknown type %d", t)
		}
	}

	// Ratio > 0.9 is not worth the decode cost.
	if used == None || float64(len(payload)) > float64(len(data))*0.9 {
		payload, used = data, None
	}

	out := make([]byte, headerSize+len(payload))
	out[0] = byte(used)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	copy(out[headerSize:], payload)
	return out, nil
}

// Decode reverses Encode.
func Decode(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, ErrCorrupt
	}
	t := Type(data[0])
	size := binary.LittleEndian.Uint32(data[1:])
	payload := data[headerSize:]

	switch t {
	case None:
		if uint32(len(payload)) != size {
			return nil, ErrCorrupt
		}
		out := make([]byte, size)
		copy(out, payload)
		return out, nil
	case LZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != size {
			return nil, ErrCorrupt
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(out)) != size {
			return nil, ErrCorrupt
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrCorrupt, t)
	}
}

// NewZstdWriter returns a streaming ZSTD encoder writing to w.
// level follows the zstd command line (1..22).
func NewZstdWriter(w io.Writer, level int) (*zstd.Encoder, error) {
	if level <= 0 {
		level = 3
	}
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
}

// NewZstdReader returns a streaming ZSTD decoder reading from r.
func NewZstdReader(r io.Reader) (*zstd.Decoder, error) {
	return zstd.NewReader(r)
}
