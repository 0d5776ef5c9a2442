// Package checksum computes content checksums of documents and maintains
// the checksum index, a one-to-one map from "{algorithm}/{hash}" to
// document id.
package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	gojson "github.com/goccy/go-json"

	"github.com/canvas-server/synapsd/model"
)

// Built-in algorithm names.
const (
	MD5    = "md5"
	SHA1   = "sha1"
	SHA256 = "sha256"
	SHA512 = "sha512"
	XXH64  = "xxh64"
)

// ErrUnknownAlgorithm is returned for unregistered algorithm names.
var ErrUnknownAlgorithm = errors.New("checksum: unknown algorithm")

var (
	mu         sync.RWMutex
	algorithms = map[string]func() hash.Hash{
		MD5:    md5.New,
		SHA1:   sha1.New,
		SHA256: sha256.New,
		SHA512: sha512.New,
		XXH64:  func() hash.Hash { return xxhash.New() },
	}
)

// Register makes an algorithm available under name, replacing any
// previous registration.
func Register(name string, fn func() hash.Hash) {
	mu.Lock()
	defer mu.Unlock()
	algorithms[name] = fn
}

// Supported reports whether name is a registered algorithm.
func Supported(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := algorithms[name]
	return ok
}

// Algorithms returns the registered algorithm names in order.
func Algorithms() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func newHash(name string) (hash.Hash, error) {
	mu.RLock()
	fn, ok := algorithms[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return fn(), nil
}

// Sum hashes data with the named algorithm and returns lower-case hex.
func Sum(algorithm string, data []byte) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Canonical encodes the values of fields in doc as JSON with sorted map
// keys. A single field encodes as its value, several as an array in field
// order. Missing fields encode as null.
func Canonical(doc *model.Document, fields []string) ([]byte, error) {
	values := make([]any, len(fields))
	for i, f := range fields {
		v, _ := doc.Field(f)
		values[i] = v
	}
	var payload any = values
	if len(values) == 1 {
		payload = values[0]
	}
	data, err := gojson.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("checksum: encode fields: %w", err)
	}
	return data, nil
}

// Compute returns one checksum per algorithm, in algorithm order, over the
// canonical encoding of fields.
func Compute(doc *model.Document, fields, algorithms []string) ([]model.Checksum, error) {
	data, err := Canonical(doc, fields)
	if err != nil {
		return nil, err
	}
	out := make([]model.Checksum, 0, len(algorithms))
	for _, algo := range algorithms {
		sum, err := Sum(algo, data)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Checksum{Algorithm: algo, Value: sum})
	}
	return out, nil
}
