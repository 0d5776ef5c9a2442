package backup

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/canvas-server/synapsd/codec"
	"github.com/canvas-server/synapsd/internal/hash"
	"github.com/canvas-server/synapsd/kv"
)

// Magic starts every archive. It is written uncompressed.
const Magic = "SYNAPSD1"

const (
	headerSize    = 8
	maxRecordSize = 256 << 20
)

var (
	ErrBadMagic       = errors.New("backup: not a synapsd archive")
	ErrInvalidCRC     = errors.New("backup: record checksum mismatch")
	ErrRecordTooLarge = errors.New("backup: record too large")
	ErrTruncated      = errors.New("backup: archive truncated")
)

// Record is one key of one dataset.
type Record struct {
	Dataset string `json:"dataset"`
	Key     []byte `json:"key"`
	Value   []byte `json:"value"`
}

var recordCodec = codec.MsgPack{}

// Write archives every key of the given datasets to w and returns the
// number of records written. All datasets are read in one read
// transaction of their store, so the archive is a consistent snapshot.
//
// Layout after Magic is a zstd stream of
//
//	[length u32 LE][crc32c u32 LE][msgpack Record]
//
// closed by a trailer whose length is 0 and whose checksum field holds
// the record count.
func Write(ctx context.Context, w io.Writer, sources ...*kv.Dataset) (int, error) {
	if len(sources) == 0 {
		return 0, errors.New("backup: no datasets")
	}
	if _, err := io.WriteString(w, Magic); err != nil {
		return 0, err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, err
	}

	var (
		count  int
		header [headerSize]byte
	)
	writeFrame := func(payload []byte, sum uint32) error {
		binary.LittleEndian.PutUint32(header[0:], uint32(len(payload)))
		binary.LittleEndian.PutUint32(header[4:], sum)
		if _, err := zw.Write(header[:]); err != nil {
			return err
		}
		_, err := zw.Write(payload)
		return err
	}

	err = sources[0].Store().View(ctx, func(ctx context.Context) error {
		for _, ds := range sources {
			err := ds.ForEach(ctx, func(k, v []byte) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				payload, err := recordCodec.Marshal(Record{Dataset: ds.Name(), Key: k, Value: v})
				if err != nil {
					return err
				}
				if len(payload) > maxRecordSize {
					return fmt.Errorf("%w: %s/%x", ErrRecordTooLarge, ds.Name(), k)
				}
				count++
				return writeFrame(payload, hash.CRC32C(payload))
			})
			if err != nil {
				return fmt.Errorf("backup: dataset %s: %w", ds.Name(), err)
			}
		}
		return nil
	})
	if err == nil {
		err = writeFrame(nil, uint32(count))
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Read verifies and decodes an archive, calling fn for every record in
// the order they were written. It returns the number of records read.
func Read(ctx context.Context, r io.Reader, fn func(Record) error) (int, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != Magic {
		return 0, ErrBadMagic
	}
	zr, err := zstd.NewReader(br)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	var (
		count   int
		header  [headerSize]byte
		payload []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if _, err := io.ReadFull(zr, header[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return count, ErrTruncated
			}
			return count, err
		}
		size := binary.LittleEndian.Uint32(header[0:])
		sum := binary.LittleEndian.Uint32(header[4:])
		if size == 0 {
			if int(sum) != count {
				return count, fmt.Errorf("%w: trailer counts %d records, read %d", ErrTruncated, sum, count)
			}
			// Drain so the decoder verifies the frame checksum.
			if _, err := io.Copy(io.Discard, zr); err != nil {
				return count, err
			}
			return count, nil
		}
		if size > maxRecordSize {
			return count, ErrRecordTooLarge
		}
		if cap(payload) < int(size) {
			payload = make([]byte, size)
		}
		payload = payload[:size]
		if _, err := io.ReadFull(zr, payload); err != nil {
			return count, ErrTruncated
		}
		if !hash.VerifyCRC32C(payload, sum) {
			return count, ErrInvalidCRC
		}
		var rec Record
		if err := recordCodec.Unmarshal(payload, &rec); err != nil {
			return count, fmt.Errorf("backup: decode record %d: %w", count, err)
		}
		if err := fn(rec); err != nil {
			return count, err
		}
		count++
	}
}
