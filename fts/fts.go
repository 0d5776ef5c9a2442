package fts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/model"
)

// SnapshotKey is the dataset key holding the exported index.
const SnapshotKey = "index"

// DefaultLimit is used by searches given a non-positive limit.
const DefaultLimit = 100

// FTS keeps an Index in sync with a kv.Dataset.
//
// Every mutation rewrites the snapshot inside the transaction carried by
// ctx. If that transaction rolls back, the in-memory index is reloaded
// from the store.
type FTS struct {
	ds     *kv.Dataset
	idx    *Index
	logger *slog.Logger
}

type guardKey struct{ f *FTS }

// New creates the adapter and loads the stored snapshot, if any.
func New(ctx context.Context, ds *kv.Dataset, logger *slog.Logger, opts ...Option) (*FTS, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f := &FTS{ds: ds, idx: NewIndex(opts...), logger: logger}
	if err := f.Load(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Index returns the in-memory index.
func (f *FTS) Index() *Index { return f.idx }

// Load replaces the in-memory index with the stored snapshot. A missing
// snapshot leaves an empty index.
func (f *FTS) Load(ctx context.Context) error {
	data, err := f.ds.Get(ctx, []byte(SnapshotKey))
	if errors.Is(err, kv.ErrNotFound) {
		f.idx.Clear()
		f.logger.Debug("no stored full-text index, starting empty")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fts: load: %w", err)
	}
	return f.idx.Import(data)
}

// Save writes the snapshot.
func (f *FTS) Save(ctx context.Context) error {
	data, err := f.idx.Export()
	if err != nil {
		return err
	}
	if err := f.ds.Put(ctx, []byte(SnapshotKey), data); err != nil {
		return fmt.Errorf("fts: save: %w", err)
	}
	return nil
}

func (f *FTS) mutate(ctx context.Context, fn func(idx *Index)) error {
	return f.ds.Store().Update(ctx, func(ctx context.Context) error {
		kv.TxLocal(ctx, guardKey{f}, func() any {
			kv.OnRollback(ctx, f.reload)
			return struct{}{}
		})
		fn(f.idx)
		return f.Save(ctx)
	})
}

func (f *FTS) reload() {
	if err := f.Load(context.Background()); err != nil {
		f.logger.Error("reloading full-text index after rollback", "error", err)
	}
}

// Text concatenates the values of fields in doc.
func Text(doc *model.Document, fields []string) string {
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		if s := doc.FieldText(field); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// AddDocument indexes the concatenated fields of doc.
func (f *FTS) AddDocument(ctx context.Context, doc *model.Document, fields []string) error {
	text := Text(doc, fields)
	return f.mutate(ctx, func(idx *Index) { idx.Add(doc.ID, text) })
}

// RemoveDocument drops id from the index.
func (f *FTS) RemoveDocument(ctx context.Context, id model.ID) error {
	return f.mutate(ctx, func(idx *Index) { idx.Delete(id) })
}

// UpdateDocument re-indexes doc.
func (f *FTS) UpdateDocument(ctx context.Context, doc *model.Document, fields []string) error {
	text := Text(doc, fields)
	return f.mutate(ctx, func(idx *Index) {
		idx.Delete(doc.ID)
		idx.Add(doc.ID, text)
	})
}

// Apply runs fn against the index and saves the snapshot once. Use it to
// batch many changes.
func (f *FTS) Apply(ctx context.Context, fn func(idx *Index)) error {
	return f.mutate(ctx, fn)
}

// AddString indexes content under id.
func (f *FTS) AddString(ctx context.Context, id model.ID, content string) error {
	return f.mutate(ctx, func(idx *Index) { idx.Add(id, content) })
}

// AddStringArray indexes the joined contents under id.
func (f *FTS) AddStringArray(ctx context.Context, id model.ID, contents []string) error {
	return f.AddString(ctx, id, strings.Join(contents, " "))
}

// RemoveString drops id from the index.
func (f *FTS) RemoveString(ctx context.Context, id model.ID) error {
	return f.RemoveDocument(ctx, id)
}

// Search returns the ids matching query, best first.
func (f *FTS) Search(ctx context.Context, query string, limit int) ([]model.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.SearchSync(query, limit), nil
}

// SearchSync is Search without a context.
func (f *FTS) SearchSync(query string, limit int) []model.ID {
	return ids(f.SearchScored(query, limit, nil))
}

// SearchScored returns scored hits restricted by filter.
func (f *FTS) SearchScored(query string, limit int, filter func(model.ID) bool) []Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return f.idx.Search(query, limit, filter)
}

func ids(results []Result) []model.ID {
	out := make([]model.ID, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}
