package synapsd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/canvas-server/synapsd/backup"
	"github.com/canvas-server/synapsd/bitmap"
	"github.com/canvas-server/synapsd/blobstore"
	"github.com/canvas-server/synapsd/checksum"
	"github.com/canvas-server/synapsd/codec"
	"github.com/canvas-server/synapsd/embeddings"
	"github.com/canvas-server/synapsd/fts"
	"github.com/canvas-server/synapsd/internal/compress"
	"github.com/canvas-server/synapsd/internal/docstore"
	"github.com/canvas-server/synapsd/internal/resource"
	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/kv/bolt"
	"github.com/canvas-server/synapsd/kv/memory"
	"github.com/canvas-server/synapsd/kv/sqlite"
	"github.com/canvas-server/synapsd/schema"
)

// Dataset names below the index root.
const (
	DatasetDocuments = "documents"
	DatasetChecksums = "checksums"
	DatasetFTS       = "fts"
	DatasetContexts  = "bitmaps/contexts"
	DatasetFeatures  = "bitmaps/features"
	DatasetSystem    = "bitmaps/system"
	DatasetMeta      = "system"
	DatasetChunks    = "chunks"
)

// UniverseKey names the system bitmap holding every stored document id.
const UniverseKey = "universe"

const codecKey = "meta/codec"

var datasetNames = []string{
	DatasetDocuments,
	DatasetChecksums,
	DatasetFTS,
	DatasetContexts,
	DatasetFeatures,
	DatasetSystem,
	DatasetMeta,
	DatasetChunks,
}

// SynapsD is a document index with context and feature tag bitmaps, a
// checksum index for deduplication and a full-text index.
//
// All methods are safe for concurrent use. Writes are serialized; reads
// run in parallel.
type SynapsD struct {
	mu     sync.RWMutex
	closed bool

	path     string
	store    *kv.Store
	datasets map[string]*kv.Dataset

	docs      *docstore.Store
	checksums *checksum.Index
	contexts  *bitmap.Collection
	features  *bitmap.Collection
	system    *bitmap.Collection
	cache     *bitmap.Cache
	fts       *fts.FTS
	registry  *schema.Registry

	embeddings *embeddings.Connector
	backups    *backup.Manager
	rc         *resource.Controller

	events *eventBus

	opts    options
	metrics MetricsCollector
	logger  *Logger
}

// Open opens or creates the index rooted at path.
//
// Unless disabled with WithReconcileOnOpen(false), Open runs Reconcile
// before returning so that stores written by an interrupted process are
// consistent again.
func Open(ctx context.Context, path string, optFns ...Option) (*SynapsD, error) {
	if path == "" {
		return nil, errors.New("synapsd: path is required")
	}
	o := applyOptions(optFns)
	if o.rangeMin == 0 || o.rangeMin >= o.rangeMax {
		return nil, fmt.Errorf("%w: range [%d, %d)", ErrInvalidID, o.rangeMin, o.rangeMax)
	}
	compression, err := compress.ParseType(o.compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	backend, err := openBackend(path, o)
	if err != nil {
		return nil, err
	}

	db := &SynapsD{
		path:     path,
		registry: o.registry,
		events:   newEventBus(),
		opts:     o,
		metrics:  o.metricsCollector,
		logger:   o.logger.WithPath(path),
	}
	db.store = kv.NewStore(backend, kv.WithLogger(db.logger.Logger))

	if err := db.init(ctx, compression); err != nil {
		_ = db.store.Close()
		if db.embeddings != nil {
			_ = db.embeddings.Close()
		}
		return nil, translateError(err)
	}

	if o.reconcileOnOpen {
		if _, err := db.Reconcile(ctx); err != nil {
			_ = db.close()
			return nil, err
		}
	}
	if o.backupOnOpen && db.backups != nil {
		if _, err := db.Backup(ctx); err != nil {
			db.logger.WarnContext(ctx, "backup on open failed", "error", err)
		}
	}
	db.logger.InfoContext(ctx, "index opened", "backend", backendName(backend, o))
	return db, nil
}

func openBackend(path string, o options) (kv.Backend, error) {
	if o.backend != nil {
		return o.backend, nil
	}
	switch o.backendType {
	case BackendBolt:
		return bolt.Open(filepath.Join(path, "index.db"))
	case BackendSQLite:
		return sqlite.Open(filepath.Join(path, "index.sqlite"))
	case BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("synapsd: unknown backend type %d", o.backendType)
	}
}

func backendName(b kv.Backend, o options) string {
	if o.backend != nil {
		return fmt.Sprintf("%T", b)
	}
	return o.backendType.String()
}

func (db *SynapsD) init(ctx context.Context, compression compress.Type) error {
	o := db.opts

	db.datasets = make(map[string]*kv.Dataset, len(datasetNames))
	err := db.store.Update(ctx, func(ctx context.Context) error {
		for _, name := range datasetNames {
			ds, err := db.store.CreateDataset(ctx, name)
			if err != nil {
				return fmt.Errorf("synapsd: dataset %s: %w", name, err)
			}
			db.datasets[name] = ds
		}
		return checkCodec(ctx, db.datasets[DatasetMeta], o.codec)
	})
	if err != nil {
		return err
	}

	db.rc = resource.NewController(resource.Config{
		CacheBytes:          o.limits.MemoryBytes,
		MaintenanceJobs:     o.limits.BackgroundWorkers,
		TransferBytesPerSec: o.limits.IOBytesPerSec,
	})
	db.cache = bitmap.NewCache(o.cacheBytes,
		bitmap.WithShards(o.cacheShards),
		bitmap.WithMemoryController(db.rc),
	)

	newCollection := func(dataset, tag string) (*bitmap.Collection, error) {
		return bitmap.NewCollection(db.datasets[dataset],
			bitmap.WithTag(tag),
			bitmap.WithCache(db.cache),
			bitmap.WithRange(o.rangeMin, o.rangeMax),
			bitmap.WithLogger(db.logger.Logger),
		)
	}
	if db.contexts, err = newCollection(DatasetContexts, "contexts"); err != nil {
		return err
	}
	if db.features, err = newCollection(DatasetFeatures, "features"); err != nil {
		return err
	}
	if db.system, err = newCollection(DatasetSystem, "system"); err != nil {
		return err
	}

	db.docs = docstore.New(db.datasets[DatasetDocuments], db.datasets[DatasetMeta],
		docstore.WithCodec(o.codec),
		docstore.WithCompression(compression),
		docstore.WithRange(o.rangeMin, o.rangeMax),
	)
	db.checksums = checksum.NewIndex(db.datasets[DatasetChecksums])

	if db.fts, err = fts.New(ctx, db.datasets[DatasetFTS], db.logger.Logger, o.ftsOptions...); err != nil {
		return err
	}
	if _, err := db.system.GetBitmap(ctx, UniverseKey, true); err != nil {
		return err
	}

	if db.embeddings, err = embeddings.Connect(filepath.Join(db.path, "embeddings")); err != nil {
		return err
	}

	store := o.backupStore
	if !o.backupStoreSet {
		store = blobstore.NewLocalStore(filepath.Join(db.path, "backup"))
	}
	if store != nil {
		mopts := []backup.ManagerOption{
			backup.WithResourceController(db.rc),
			backup.WithRetention(o.backupRetention),
			backup.WithLogger(db.logger.Logger),
		}
		if o.backupCatalog != nil {
			mopts = append(mopts, backup.WithCatalog(o.backupCatalog))
		}
		db.backups = backup.NewManager(store, mopts...)
	}
	return nil
}

// checkCodec records the codec of a new index and rejects a different one
// on an existing index.
func checkCodec(ctx context.Context, meta *kv.Dataset, c codec.Codec) error {
	stored, err := meta.Get(ctx, []byte(codecKey))
	if errors.Is(err, kv.ErrNotFound) {
		return meta.Put(ctx, []byte(codecKey), []byte(c.Name()))
	}
	if err != nil {
		return err
	}
	if string(stored) != c.Name() {
		return fmt.Errorf("%w: index uses %q, configured %q", ErrCodecMismatch, stored, c.Name())
	}
	return nil
}

// Path returns the index root.
func (db *SynapsD) Path() string { return db.path }

// Embeddings returns the connector of the vector store directory.
func (db *SynapsD) Embeddings() *embeddings.Connector { return db.embeddings }

// Close optionally writes a backup, then closes the embeddings connector
// and the backend. Further calls return ErrClosed.
func (db *SynapsD) Close() error {
	if db.opts.backupOnClose && db.backups != nil {
		if _, err := db.Backup(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
			db.logger.Warn("backup on close failed", "error", err)
		}
	}
	return db.close()
}

func (db *SynapsD) close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	db.closed = true

	var errs []error
	if err := db.embeddings.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := db.store.Close(); err != nil {
		errs = append(errs, err)
	}
	db.logger.Info("index closed")
	return errors.Join(errs...)
}

func (db *SynapsD) sources() []*kv.Dataset {
	out := make([]*kv.Dataset, 0, len(datasetNames))
	for _, name := range datasetNames {
		out = append(out, db.datasets[name])
	}
	return out
}

// rlock takes the read lock unless the index is closed.
func (db *SynapsD) rlock() error {
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

// lock takes the write lock unless the index is closed.
func (db *SynapsD) lock() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	return nil
}
