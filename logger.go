package synapsd

import (
	"context"
	"log/slog"
	"os"

	"github.com/canvas-server/synapsd/model"
)

// Logger wraps slog.Logger with index-specific operation helpers.
// Field names are consistent across operations: "id", "contexts",
// "features", "query", "results".
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses a text handler to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithID adds an id field to the logger.
func (l *Logger) WithID(id model.ID) *Logger {
	return &Logger{
		Logger: l.Logger.With("id", uint32(id)),
	}
}

// WithPath adds the index root to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogInsert logs an insert. created is false when the content was already
// indexed and the existing id was returned.
func (l *Logger) LogInsert(ctx context.Context, id model.ID, created bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"error", err,
		)
		return
	}
	if !created {
		l.DebugContext(ctx, "insert deduplicated",
			"id", uint32(id),
		)
		return
	}
	l.DebugContext(ctx, "insert completed",
		"id", uint32(id),
	)
}

// LogUpdate logs an update.
func (l *Logger) LogUpdate(ctx context.Context, id model.ID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update failed",
			"id", uint32(id),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "update completed",
			"id", uint32(id),
		)
	}
}

// LogRemove logs the removal of tag memberships.
func (l *Logger) LogRemove(ctx context.Context, id model.ID, contexts, features []string, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "remove failed",
			"id", uint32(id),
			"contexts", contexts,
			"features", features,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "remove completed",
			"id", uint32(id),
			"contexts", contexts,
			"features", features,
			"found", found,
		)
	}
}

// LogDelete logs a delete.
func (l *Logger) LogDelete(ctx context.Context, id model.ID, found bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", uint32(id),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"id", uint32(id),
			"found", found,
		)
	}
}

// LogList logs a tag query.
func (l *Logger) LogList(ctx context.Context, contexts, features []string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "list failed",
			"contexts", contexts,
			"features", features,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "list completed",
			"contexts", contexts,
			"features", features,
			"results", results,
		)
	}
}

// LogSearch logs a full-text search.
func (l *Logger) LogSearch(ctx context.Context, query string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"query", query,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"query", query,
			"results", results,
		)
	}
}

// LogReconcile logs a consistency pass.
func (l *Logger) LogReconcile(ctx context.Context, report ReconcileReport, err error) {
	if err != nil {
		l.ErrorContext(ctx, "reconcile failed",
			"error", err,
		)
		return
	}
	if report.Repairs() > 0 {
		l.WarnContext(ctx, "reconcile repaired index",
			"documents", report.Documents,
			"repairs", report.Repairs(),
			"universe_added", report.UniverseAdded,
			"universe_removed", report.UniverseRemoved,
			"memberships_removed", report.MembershipsRemoved,
			"checksums_added", report.ChecksumsAdded,
			"checksums_removed", report.ChecksumsRemoved,
			"fts_added", report.FTSAdded,
			"fts_removed", report.FTSRemoved,
		)
		return
	}
	l.InfoContext(ctx, "reconcile completed",
		"documents", report.Documents,
		"duration", report.Duration,
	)
}

// LogBackup logs a backup.
func (l *Logger) LogBackup(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "backup saved",
			"name", name,
		)
	}
}

// LogRestore logs a restore.
func (l *Logger) LogRestore(ctx context.Context, name string, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"name", name,
			"records", records,
		)
	}
}
