package synapsd

import (
	"log/slog"
	"time"

	"github.com/canvas-server/synapsd/backup"
	"github.com/canvas-server/synapsd/bitmap"
	"github.com/canvas-server/synapsd/blobstore"
	"github.com/canvas-server/synapsd/codec"
	"github.com/canvas-server/synapsd/fts"
	"github.com/canvas-server/synapsd/kv"
	"github.com/canvas-server/synapsd/model"
	"github.com/canvas-server/synapsd/schema"
)

// BackendType selects the key-value backend Open creates under the index root.
type BackendType int

const (
	// BackendBolt stores everything in a single bbolt file, index.db.
	BackendBolt BackendType = iota
	// BackendSQLite stores everything in a SQLite database, index.sqlite.
	BackendSQLite
	// BackendMemory keeps everything in memory. Nothing survives Close.
	BackendMemory
)

func (t BackendType) String() string {
	switch t {
	case BackendBolt:
		return "bolt"
	case BackendSQLite:
		return "sqlite"
	case BackendMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// ResourceLimits bounds the resources used by caches and background work.
// Zero values mean unlimited, except BackgroundWorkers which defaults to 1.
type ResourceLimits struct {
	// MemoryBytes caps the memory held by the bitmap cache.
	MemoryBytes int64
	// BackgroundWorkers caps concurrent reconcile and backup runs.
	BackgroundWorkers int64
	// IOBytesPerSec throttles backup uploads and downloads.
	IOBytesPerSec int64
}

type options struct {
	backend          kv.Backend
	backendType      BackendType
	codec            codec.Codec
	compression      string
	rangeMin         model.ID
	rangeMax         model.ID
	registry         *schema.Registry
	cacheBytes       int64
	cacheShards      int
	limits           ResourceLimits
	ftsOptions       []fts.Option
	reconcileOnOpen  bool
	backupStore      blobstore.Store
	backupStoreSet   bool
	backupCatalog    backup.Catalog
	backupRetention  int
	backupOnOpen     bool
	backupOnClose    bool
	metricsCollector MetricsCollector
	logger           *Logger
	now              func() time.Time
}

// Option configures Open.
type Option func(*options)

// WithBackend uses b instead of creating a backend under the index root.
// The index takes ownership and closes b on Close.
func WithBackend(b kv.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithBackendType selects the backend created by Open. Default: BackendBolt.
func WithBackendType(t BackendType) Option {
	return func(o *options) {
		o.backendType = t
	}
}

// WithCodec sets the document codec. The codec is recorded on first open;
// reopening with another codec fails with ErrCodecMismatch.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompression sets the compression of stored documents: "lz4"
// (default), "zstd" or "none". It may change between runs.
func WithCompression(name string) Option {
	return func(o *options) {
		o.compression = name
	}
}

// WithIDRange sets the document id range [min, max).
// Default: [1000, 1000000). Ids below min are reserved.
func WithIDRange(min, max model.ID) Option {
	return func(o *options) {
		o.rangeMin, o.rangeMax = min, max
	}
}

// WithSchemaRegistry sets the registry that resolves document schemas.
// Default: schema.DefaultRegistry().
func WithSchemaRegistry(r *schema.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithCacheSize sets the byte budget of the bitmap cache shared by all
// tag collections. A non-positive size selects the 64 MiB default.
func WithCacheSize(bytes int64) Option {
	return func(o *options) {
		o.cacheBytes = bytes
	}
}

// WithCacheShards splits the bitmap cache into n independently locked shards.
func WithCacheShards(n int) Option {
	return func(o *options) {
		o.cacheShards = n
	}
}

// WithResourceLimits sets memory, background and IO limits.
func WithResourceLimits(limits ResourceLimits) Option {
	return func(o *options) {
		o.limits = limits
	}
}

// WithFTSOptions configures the full-text index tokenizer.
func WithFTSOptions(opts ...fts.Option) Option {
	return func(o *options) {
		o.ftsOptions = append(o.ftsOptions, opts...)
	}
}

// WithReconcileOnOpen controls the consistency pass run by Open. Default: true.
func WithReconcileOnOpen(enabled bool) Option {
	return func(o *options) {
		o.reconcileOnOpen = enabled
	}
}

// WithBackupStore sets where backups are written.
// Default: a local directory "backup" below the index root.
// Passing nil disables backups; Backup and Restore then fail with
// ErrNoBackupStore.
func WithBackupStore(s blobstore.Store) Option {
	return func(o *options) {
		o.backupStore = s
		o.backupStoreSet = true
	}
}

// WithBackupCatalog sets the catalog tracking the latest backup.
// Default: a LATEST object in the backup store.
func WithBackupCatalog(c backup.Catalog) Option {
	return func(o *options) {
		o.backupCatalog = c
	}
}

// WithBackupRetention keeps only the newest n backups. Zero keeps all.
func WithBackupRetention(n int) Option {
	return func(o *options) {
		o.backupRetention = n
	}
}

// WithBackupOnOpen writes a backup after Open. Failures are logged.
func WithBackupOnOpen(enabled bool) Option {
	return func(o *options) {
		o.backupOnOpen = enabled
	}
}

// WithBackupOnClose writes a backup before Close. Failures are logged.
func WithBackupOnClose(enabled bool) Option {
	return func(o *options) {
		o.backupOnClose = enabled
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &synapsd.BasicMetricsCollector{}
//	db, _ := synapsd.Open(ctx, dir, synapsd.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, deduplicated: %d\n", stats.InsertCount, stats.InsertDeduped)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithClock replaces time.Now for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		backendType:      BackendBolt,
		codec:            codec.Default,
		compression:      "lz4",
		rangeMin:         bitmap.DefaultRangeMin,
		rangeMax:         bitmap.DefaultRangeMax,
		cacheBytes:       bitmap.DefaultCacheBytes,
		reconcileOnOpen:  true,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		now:              time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.registry == nil {
		o.registry = schema.DefaultRegistry()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}
