package simidx

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide structured logging for store operations.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new logger with the given handler. If handler is nil, a
// text handler writing to stderr at info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a logger that writes JSON records to stderr at the
// given level.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a logger that writes human-readable records to stderr
// at the given level.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger returns a logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// LogUpsert logs the outcome of an item upsert.
func (l *Logger) LogUpsert(ctx context.Context, projectID, itemID string, dimension int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "upsert failed",
			"project_id", projectID,
			"item_id", itemID,
			"error", err,
		)
		return
	}

	l.DebugContext(ctx, "item upserted",
		"project_id", projectID,
		"item_id", itemID,
		"dimension", dimension,
	)
}

// LogDelete logs the outcome of an item deletion.
func (l *Logger) LogDelete(ctx context.Context, projectID, itemID string, existed bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"project_id", projectID,
			"item_id", itemID,
			"error", err,
		)
		return
	}

	l.DebugContext(ctx, "item deleted",
		"project_id", projectID,
		"item_id", itemID,
		"existed", existed,
	)
}

// LogSearch logs the outcome of a similarity search.
func (l *Logger) LogSearch(ctx context.Context, projectID string, k, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"project_id", projectID,
			"k", k,
			"error", err,
		)
		return
	}

	l.DebugContext(ctx, "search completed",
		"project_id", projectID,
		"k", k,
		"results", results,
	)
}

// LogRebuild logs an index rebuild from the catalog.
func (l *Logger) LogRebuild(ctx context.Context, items int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index rebuild failed", "error", err)
		return
	}

	l.InfoContext(ctx, "index rebuilt from catalog", "items", items)
}

// LogBackup logs the outcome of a catalog backup.
func (l *Logger) LogBackup(ctx context.Context, destination string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed", "destination", destination, "error", err)
		return
	}

	l.InfoContext(ctx, "backup completed", "destination", destination)
}

// WithProject returns a logger that attaches the project to every record.
func (l *Logger) WithProject(projectID string) *Logger {
	return &Logger{Logger: l.With("project_id", projectID)}
}

// WithComponent returns a logger that attaches a component name to every
// record.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With("component", name)}
}
