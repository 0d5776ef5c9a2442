package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canvas-server/synapsd/blobstore"
	"github.com/canvas-server/synapsd/internal/resource"
	"github.com/canvas-server/synapsd/kv"
)

const (
	// DefaultPrefix is where archives are stored inside the blob store.
	DefaultPrefix = "backups/"
	// LatestKey names the BlobCatalog pointer object.
	LatestKey = "LATEST"

	suffix = ".snap"
)

// Manager writes archives to a blob store and tracks them in a Catalog.
type Manager struct {
	store   blobstore.Store
	catalog Catalog
	rc      *resource.Controller
	prefix  string
	keep    int
	logger  *slog.Logger
	now     func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCatalog replaces the default BlobCatalog.
func WithCatalog(c Catalog) ManagerOption {
	return func(m *Manager) { m.catalog = c }
}

// WithResourceController throttles archive uploads and downloads with the
// controller's IO limit.
func WithResourceController(rc *resource.Controller) ManagerOption {
	return func(m *Manager) { m.rc = rc }
}

// WithPrefix sets the name prefix of archives. Default: DefaultPrefix.
func WithPrefix(prefix string) ManagerOption {
	return func(m *Manager) { m.prefix = prefix }
}

// WithRetention keeps only the newest n archives after each backup.
// Zero keeps everything.
func WithRetention(n int) ManagerOption {
	return func(m *Manager) { m.keep = max(n, 0) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager over store.
func NewManager(store blobstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		prefix: DefaultPrefix,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.catalog == nil {
		m.catalog = NewBlobCatalog(store, m.prefix+LatestKey)
	}
	return m
}

// Store returns the underlying blob store.
func (m *Manager) Store() blobstore.Store { return m.store }

func (m *Manager) newName() string {
	ts := m.now().UTC().Format("20060102T150405.000Z")
	return m.prefix + ts + "-" + uuid.NewString()[:8] + suffix
}

// Backup archives the datasets and commits the new archive to the catalog.
func (m *Manager) Backup(ctx context.Context, sources ...*kv.Dataset) (string, error) {
	name := m.newName()
	start := time.Now()

	w, err := m.store.Create(ctx, name)
	if err != nil {
		return "", fmt.Errorf("backup: create %s: %w", name, err)
	}
	n, err := Write(ctx, resource.ThrottleWriter(ctx, w, m.rc), sources...)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = m.store.Delete(context.WithoutCancel(ctx), name)
		return "", err
	}
	if err := m.catalog.Commit(ctx, name); err != nil {
		return "", err
	}
	m.logger.Info("backup written", "name", name, "records", n, "duration", time.Since(start))

	if m.keep > 0 {
		if _, err := m.Prune(ctx, m.keep); err != nil {
			m.logger.Warn("backup prune failed", "error", err)
		}
	}
	return name, nil
}

// Resolve returns name, or the catalog's latest backup when name is empty.
func (m *Manager) Resolve(ctx context.Context, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	return m.catalog.Latest(ctx)
}

// Restore resolves name and streams its records to fn.
func (m *Manager) Restore(ctx context.Context, name string, fn func(Record) error) (string, int, error) {
	name, err := m.Resolve(ctx, name)
	if err != nil {
		return "", 0, err
	}
	r, err := m.store.Open(ctx, name)
	if err != nil {
		return name, 0, fmt.Errorf("backup: open %s: %w", name, err)
	}
	defer func() { _ = r.Close() }()

	n, err := Read(ctx, resource.ThrottleReader(ctx, r, m.rc), fn)
	if err != nil {
		return name, n, fmt.Errorf("backup: read %s: %w", name, err)
	}
	m.logger.Info("backup read", "name", name, "records", n)
	return name, n, nil
}

// List returns archive names, oldest first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.store.List(ctx, m.prefix)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(names, func(n string) bool { return !strings.HasSuffix(n, suffix) }), nil
}

// Prune deletes all but the newest keep archives. The catalog's latest
// archive is never deleted.
func (m *Manager) Prune(ctx context.Context, keep int) ([]string, error) {
	names, err := m.List(ctx)
	if err != nil || len(names) <= keep {
		return nil, err
	}
	latest, err := m.catalog.Latest(ctx)
	if err != nil && !errors.Is(err, ErrNoBackup) {
		return nil, err
	}
	var deleted []string
	for _, name := range names[:len(names)-keep] {
		if name == latest {
			continue
		}
		if err := m.store.Delete(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
