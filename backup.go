package synapsd

import (
	"context"
	"fmt"
	"time"

	"github.com/canvas-server/synapsd/backup"
)

// Backup writes an archive of every dataset to the backup store and
// returns its name. The archive is a consistent snapshot; writes wait
// until it is complete.
func (db *SynapsD) Backup(ctx context.Context) (string, error) {
	start := time.Now()

	name, err := db.backup(ctx)
	err = translateError(err)

	db.metrics.RecordBackup(time.Since(start), err)
	db.logger.LogBackup(ctx, name, err)
	return name, err
}

func (db *SynapsD) backup(ctx context.Context) (string, error) {
	if err := db.rlock(); err != nil {
		return "", err
	}
	defer db.mu.RUnlock()

	if db.backups == nil {
		return "", ErrNoBackupStore
	}
	end, err := db.rc.BeginMaintenance(ctx)
	if err != nil {
		return "", err
	}
	defer end()

	return db.backups.Backup(ctx, db.sources()...)
}

// Backups returns the names of stored archives, oldest first.
func (db *SynapsD) Backups(ctx context.Context) ([]string, error) {
	if err := db.rlock(); err != nil {
		return nil, err
	}
	defer db.mu.RUnlock()

	if db.backups == nil {
		return nil, ErrNoBackupStore
	}
	names, err := db.backups.List(ctx)
	return names, translateError(err)
}

// Restore replaces the whole index with the archive name, or with the
// latest archive when name is empty. The index is replaced in one
// transaction: a failed restore leaves it untouched.
func (db *SynapsD) Restore(ctx context.Context, name string) error {
	start := time.Now()

	var records int
	resolved, err := db.restore(ctx, name, &records)
	err = translateError(err)

	db.metrics.RecordRestore(time.Since(start), err)
	db.logger.LogRestore(ctx, resolved, records, err)
	return err
}

func (db *SynapsD) restore(ctx context.Context, name string, records *int) (string, error) {
	if err := db.lock(); err != nil {
		return name, err
	}
	defer db.mu.Unlock()

	if db.backups == nil {
		return name, ErrNoBackupStore
	}
	end, err := db.rc.BeginMaintenance(ctx)
	if err != nil {
		return name, err
	}
	defer end()

	var resolved string
	err = db.store.Update(ctx, func(ctx context.Context) error {
		for _, ds := range db.sources() {
			if err := ds.Clear(ctx); err != nil {
				return fmt.Errorf("synapsd: clear %s: %w", ds.Name(), err)
			}
		}
		var err error
		resolved, *records, err = db.backups.Restore(ctx, name, func(r backup.Record) error {
			ds, ok := db.datasets[r.Dataset]
			if !ok {
				db.logger.WarnContext(ctx, "restore: skipping record of unknown dataset", "dataset", r.Dataset)
				return nil
			}
			return ds.Put(ctx, r.Key, r.Value)
		})
		if err != nil {
			return err
		}
		return checkCodec(ctx, db.datasets[DatasetMeta], db.opts.codec)
	})
	if err != nil {
		return resolved, err
	}

	// Restored values were written below the collections and the
	// full-text adapter, so their in-memory state is stale.
	db.contexts.ClearCache()
	db.features.ClearCache()
	db.system.ClearCache()
	if err := db.fts.Load(ctx); err != nil {
		return resolved, staged(stageFTS, err)
	}
	return resolved, nil
}
