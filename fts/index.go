package fts

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/canvas-server/synapsd/codec"
	"github.com/canvas-server/synapsd/internal/compress"
	"github.com/canvas-server/synapsd/model"
)

const (
	k1 = 1.2
	b  = 0.75
)

// DefaultMinPrefix is the shortest prefix indexed in forward mode.
const DefaultMinPrefix = 2

const snapshotVersion = 1

type posting struct {
	id    model.ID
	count uint32
}

// Result is a scored search hit.
type Result struct {
	ID    model.ID
	Score float64
}

// Index is an in-memory inverted index with BM25 ranking.
//
// Postings are kept sorted by id so multi-term queries intersect them in
// a single merge pass. Every query term must match for a document to be
// returned.
type Index struct {
	mu          sync.RWMutex
	inverted    map[string][]posting
	docTerms    map[model.ID]map[string]uint32
	docLengths  map[model.ID]int
	totalLength int64

	minPrefix int
	strict    bool
}

// Option configures an Index.
type Option func(*Index)

// WithMinPrefix sets the shortest indexed prefix in forward mode.
func WithMinPrefix(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.minPrefix = n
		}
	}
}

// WithStrict indexes whole tokens only, disabling prefix matches.
func WithStrict(strict bool) Option {
	return func(idx *Index) { idx.strict = strict }
}

// NewIndex creates an empty index.
func NewIndex(opts ...Option) *Index {
	idx := &Index{minPrefix: DefaultMinPrefix}
	for _, opt := range opts {
		opt(idx)
	}
	idx.reset()
	return idx
}

func (idx *Index) reset() {
	idx.inverted = make(map[string][]posting)
	idx.docTerms = make(map[model.ID]map[string]uint32)
	idx.docLengths = make(map[model.ID]int)
	idx.totalLength = 0
}

func (idx *Index) terms(text string) (map[string]uint32, int) {
	tokens := tokenize(text)
	tf := make(map[string]uint32)
	for _, tok := range tokens {
		seen := make(map[string]bool)
		forward(tok, idx.minPrefix, idx.strict, func(term string) {
			// a token contributes once to each of its prefixes
			if !seen[term] {
				seen[term] = true
				tf[term]++
			}
		})
	}
	return tf, len(tokens)
}

// Add indexes text under id, replacing anything indexed for id before.
func (idx *Index) Add(id model.ID, text string) {
	tf, length := idx.terms(text)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.deleteLocked(id)
	idx.insertLocked(id, tf, length)
}

func (idx *Index) insertLocked(id model.ID, tf map[string]uint32, length int) {
	if len(tf) == 0 {
		return
	}
	idx.docTerms[id] = tf
	idx.docLengths[id] = length
	idx.totalLength += int64(length)
	for term, count := range tf {
		ps := idx.inverted[term]
		i, _ := slices.BinarySearchFunc(ps, id, func(p posting, id model.ID) int { return cmp.Compare(p.id, id) })
		idx.inverted[term] = slices.Insert(ps, i, posting{id: id, count: count})
	}
}

// Delete removes id from the index.
func (idx *Index) Delete(id model.ID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.deleteLocked(id)
}

func (idx *Index) deleteLocked(id model.ID) {
	tf, ok := idx.docTerms[id]
	if !ok {
		return
	}
	for term := range tf {
		ps := idx.inverted[term]
		i, found := slices.BinarySearchFunc(ps, id, func(p posting, id model.ID) int { return cmp.Compare(p.id, id) })
		if !found {
			continue
		}
		ps = slices.Delete(ps, i, i+1)
		if len(ps) == 0 {
			delete(idx.inverted, term)
		} else {
			idx.inverted[term] = ps
		}
	}
	idx.totalLength -= int64(idx.docLengths[id])
	delete(idx.docTerms, id)
	delete(idx.docLengths, id)
}

// Has reports whether id is indexed.
func (idx *Index) Has(id model.ID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.docTerms[id]
	return ok
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docTerms)
}

// IDs returns the indexed ids in ascending order.
func (idx *Index) IDs() []model.ID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	ids := make([]model.ID, 0, len(idx.docTerms))
	for id := range idx.docTerms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Search returns up to limit documents matching every query term, best
// first. A non-positive limit returns all matches. Filter, if set,
// restricts the candidates.
func (idx *Index) Search(query string, limit int, filter func(model.ID) bool) []Result {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}
	slices.Sort(tokens)
	tokens = slices.Compact(tokens)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docTerms)
	if n == 0 {
		return nil
	}
	lists := make([][]posting, 0, len(tokens))
	for _, tok := range tokens {
		ps, ok := idx.inverted[tok]
		if !ok {
			return nil
		}
		lists = append(lists, ps)
	}
	// Shortest list first keeps the intersection small.
	slices.SortFunc(lists, func(a, b []posting) int { return cmp.Compare(len(a), len(b)) })

	idf := make([]float64, len(lists))
	for i, ps := range lists {
		idf[i] = computeIDF(n, len(ps))
	}
	avgDL := float64(idx.totalLength) / float64(n)
	if avgDL == 0 {
		avgDL = 1
	}

	cursors := make([]int, len(lists))
	var results []Result
	for _, lead := range lists[0] {
		id := lead.id
		if filter != nil && !filter(id) {
			continue
		}
		score := 0.0
		docLen := float64(idx.docLengths[id])
		matched := true
		for i, ps := range lists {
			j := cursors[i]
			for j < len(ps) && ps[j].id < id {
				j++
			}
			cursors[i] = j
			if j == len(ps) || ps[j].id != id {
				matched = false
				break
			}
			tf := float64(ps[j].count)
			score += idf[i] * (tf * (k1 + 1)) / (tf + k1*(1-b+b*docLen/avgDL))
		}
		if matched {
			results = append(results, Result{ID: id, Score: score})
		}
	}

	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func computeIDF(n, df int) float64 {
	// IDF = log(1 + (N - n + 0.5) / (n + 0.5))
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}

type snapshotDoc struct {
	ID     model.ID          `json:"id"`
	Length int               `json:"length"`
	Terms  map[string]uint32 `json:"terms"`
}

type snapshot struct {
	Version   int           `json:"version"`
	MinPrefix int           `json:"minPrefix"`
	Strict    bool          `json:"strict"`
	Docs      []snapshotDoc `json:"docs"`
}

// Export serializes the index as zstd-compressed msgpack.
func (idx *Index) Export() ([]byte, error) {
	idx.mu.RLock()
	snap := snapshot{
		Version:   snapshotVersion,
		MinPrefix: idx.minPrefix,
		Strict:    idx.strict,
		Docs:      make([]snapshotDoc, 0, len(idx.docTerms)),
	}
	for id, tf := range idx.docTerms {
		snap.Docs = append(snap.Docs, snapshotDoc{ID: id, Length: idx.docLengths[id], Terms: tf})
	}
	idx.mu.RUnlock()
	slices.SortFunc(snap.Docs, func(a, b snapshotDoc) int { return cmp.Compare(a.ID, b.ID) })

	raw, err := codec.MsgPack{}.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("fts: export: %w", err)
	}
	return compress.Encode(raw, compress.ZSTD)
}

// Import replaces the index content with an Export result. Tokenizer
// settings stored in the snapshot take precedence.
func (idx *Index) Import(data []byte) error {
	raw, err := compress.Decode(data)
	if err != nil {
		return fmt.Errorf("fts: import: %w", err)
	}
	var snap snapshot
	if err := (codec.MsgPack{}).Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("fts: import: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("fts: import: unsupported snapshot version %d", snap.Version)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()
	if snap.MinPrefix > 0 {
		idx.minPrefix = snap.MinPrefix
	}
	idx.strict = snap.Strict
	for _, d := range snap.Docs {
		idx.insertLocked(d.ID, d.Terms, d.Length)
	}
	return nil
}

// Clear removes every document.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()
}
