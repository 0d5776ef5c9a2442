package synapsd

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics from the index.
// Implement it to forward measurements to a monitoring system.
//
// Methods are called synchronously after each operation and must not block.
type MetricsCollector interface {
	// RecordInsert is called after each insert. deduplicated is true when
	// the content was already stored and no write happened.
	RecordInsert(duration time.Duration, deduplicated bool, err error)

	// RecordUpdate is called after each update.
	RecordUpdate(duration time.Duration, err error)

	// RecordRemove is called after each tag removal.
	RecordRemove(duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(duration time.Duration, err error)

	// RecordList is called after each tag query.
	RecordList(results int, duration time.Duration, err error)

	// RecordSearch is called after each full-text search (Find and Query).
	RecordSearch(results int, duration time.Duration, err error)

	// RecordReconcile is called after each consistency pass.
	RecordReconcile(repairs int, duration time.Duration, err error)

	// RecordBackup is called after each backup.
	RecordBackup(duration time.Duration, err error)

	// RecordRestore is called after each restore.
	RecordRestore(duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, bool, error) {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error) {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error) {}
func (NoopMetricsCollector) RecordList(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordReconcile(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordBackup(time.Duration, error) {}
func (NoopMetricsCollector) RecordRestore(time.Duration, error) {}

// BasicMetricsCollector counts operations in memory.
// Useful for debugging and tests.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertDeduped    atomic.Int64
	InsertTotalNanos atomic.Int64
	UpdateCount      atomic.Int64
	UpdateErrors     atomic.Int64
	RemoveCount      atomic.Int64
	RemoveErrors     atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	ListCount        atomic.Int64
	ListErrors       atomic.Int64
	ListResults      atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	ReconcileCount   atomic.Int64
	ReconcileRepairs atomic.Int64
	BackupCount      atomic.Int64
	BackupErrors     atomic.Int64
	RestoreCount     atomic.Int64
	RestoreErrors    atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, deduplicated bool, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	} else if deduplicated {
		b.InsertDeduped.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(_ time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(_ time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordList implements MetricsCollector.
func (b *BasicMetricsCollector) RecordList(results int, _ time.Duration, err error) {
	b.ListCount.Add(1)
	b.ListResults.Add(int64(results))
	if err != nil {
		b.ListErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordReconcile implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReconcile(repairs int, _ time.Duration, _ error) {
	b.ReconcileCount.Add(1)
	b.ReconcileRepairs.Add(int64(repairs))
}

// RecordBackup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBackup(_ time.Duration, err error) {
	b.BackupCount.Add(1)
	if err != nil {
		b.BackupErrors.Add(1)
	}
}

// RecordRestore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRestore(_ time.Duration, err error) {
	b.RestoreCount.Add(1)
	if err != nil {
		b.RestoreErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:      b.InsertCount.Load(),
		InsertErrors:     b.InsertErrors.Load(),
		InsertDeduped:    b.InsertDeduped.Load(),
		InsertAvgNanos:   avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		UpdateCount:      b.UpdateCount.Load(),
		UpdateErrors:     b.UpdateErrors.Load(),
		RemoveCount:      b.RemoveCount.Load(),
		RemoveErrors:     b.RemoveErrors.Load(),
		DeleteCount:      b.DeleteCount.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		ListCount:        b.ListCount.Load(),
		ListErrors:       b.ListErrors.Load(),
		ListResults:      b.ListResults.Load(),
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchAvgNanos:   avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		ReconcileCount:   b.ReconcileCount.Load(),
		ReconcileRepairs: b.ReconcileRepairs.Load(),
		BackupCount:      b.BackupCount.Load(),
		BackupErrors:     b.BackupErrors.Load(),
		RestoreCount:     b.RestoreCount.Load(),
		RestoreErrors:    b.RestoreErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount      int64
	InsertErrors     int64
	InsertDeduped    int64
	InsertAvgNanos   int64
	UpdateCount      int64
	UpdateErrors     int64
	RemoveCount      int64
	RemoveErrors     int64
	DeleteCount      int64
	DeleteErrors     int64
	ListCount        int64
	ListErrors       int64
	ListResults      int64
	SearchCount      int64
	SearchErrors     int64
	SearchAvgNanos   int64
	ReconcileCount   int64
	ReconcileRepairs int64
	BackupCount      int64
	BackupErrors     int64
	RestoreCount     int64
	RestoreErrors    int64
}
