package synapsd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvas-server/synapsd/blobstore"
	"github.com/canvas-server/synapsd/model"
)

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	db := newTestDB(t, WithBackupStore(store))

	a := mustInsert(t, db, newNote("kept", "present in the snapshot"), []string{"/snap"}, []string{"tag/a"})
	b := mustInsert(t, db, newNote("deleted later", "also in the snapshot"), []string{"/snap"}, nil)

	name, err := db.Backup(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "backups/"))

	// Diverge from the snapshot.
	c := mustInsert(t, db, newNote("after", "written after the backup"), []string{"/snap"}, nil)
	_, err = db.Delete(ctx, b)
	require.NoError(t, err)
	_, err = db.Remove(ctx, a, nil, []string{"tag/a"})
	require.NoError(t, err)

	require.NoError(t, db.Restore(ctx, ""))

	ids, err := db.List(ctx, []string{"/snap"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{a, b}, ids)
	ids, err = db.List(ctx, nil, []string{"tag/a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{a}, ids)

	_, err = db.Get(ctx, c)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := db.Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "deleted later", got.Data["title"])

	hits, err := db.Query(ctx, "snapshot", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.ID{a, b}, hits)
	hits, err = db.Query(ctx, "after", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	report, err := db.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Repairs(), "a restored index is consistent")

	next := mustInsert(t, db, newNote("new", "after restore"), nil, nil)
	assert.Equal(t, c, next, "sequence is restored with the snapshot")

	names, err := db.Backups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{name}, names)
}

func TestRestore_FailureLeavesIndexUntouched(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, WithBackupStore(blobstore.NewMemoryStore()))

	id := mustInsert(t, db, newNote("stays", "untouched"), []string{"/x"}, nil)

	err := db.Restore(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound, "no backup yet")

	err = db.Restore(ctx, "backups/missing.snap")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := db.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "stays", got.Data["title"])
	ids, err := db.List(ctx, []string{"/x"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{id}, ids)
}

func TestRestore_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	db := newTestDB(t, WithBackupStore(blobstore.NewMemoryStore()), WithMetricsCollector(metrics))

	mustInsert(t, db, newNote("m", "metrics"), nil, nil)
	assert.ErrorIs(t, db.Restore(ctx, ""), ErrNotFound)
	_, err := db.Backup(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Restore(ctx, ""))

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.RestoreCount)
	assert.Equal(t, int64(1), stats.RestoreErrors)
	assert.Equal(t, int64(1), stats.BackupCount)
}

func TestBackup_Disabled(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, WithBackupStore(nil))

	_, err := db.Backup(ctx)
	assert.ErrorIs(t, err, ErrNoBackupStore)
	_, err = db.Backups(ctx)
	assert.ErrorIs(t, err, ErrNoBackupStore)
	assert.ErrorIs(t, db.Restore(ctx, ""), ErrNoBackupStore)
}

func TestBackup_OnOpenAndClose(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	db, err := Open(ctx, t.TempDir(),
		WithBackendType(BackendMemory),
		WithBackupStore(store),
		WithBackupOnOpen(true),
		WithBackupOnClose(true),
	)
	require.NoError(t, err)
	mustInsert(t, db, newNote("a", "b"), nil, nil)
	require.NoError(t, db.Close())

	names, err := store.List(ctx, "backups/")
	require.NoError(t, err)
	var archives int
	for _, n := range names {
		if strings.HasSuffix(n, ".snap") {
			archives++
		}
	}
	assert.Equal(t, 2, archives)
	assert.Contains(t, names, "backups/LATEST")
}

func TestBackup_Retention(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t, WithBackupStore(blobstore.NewMemoryStore()), WithBackupRetention(2))

	var last string
	for i := 0; i < 4; i++ {
		mustInsert(t, db, newNote("rev", strings.Repeat("x", i+1)), nil, nil)
		name, err := db.Backup(ctx)
		require.NoError(t, err)
		last = name
		// Archive names sort by their millisecond timestamp.
		time.Sleep(2 * time.Millisecond)
	}

	names, err := db.Backups(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Contains(t, names, last)
}

func TestBackup_DefaultLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := Open(ctx, dir, WithBackendType(BackendMemory))
	require.NoError(t, err)
	defer db.Close()

	mustInsert(t, db, newNote("local", "backup"), nil, nil)
	name, err := db.Backup(ctx)
	require.NoError(t, err)

	local, ok := db.backups.Store().(*blobstore.LocalStore)
	require.True(t, ok)
	assert.FileExists(t, filepath.Join(local.Root(), filepath.FromSlash(name)))
}
