package platform

import (
	"context"
	"log/slog"
	"time"
)

// SchemaSource provides schema snapshots.
type SchemaSource interface {
	FetchSchema(ctx context.Context) (SchemaSnapshot, error)
}

// SchemaWatcher keeps a Schema in sync with the platform.
type SchemaWatcher struct {
	source   SchemaSource
	schema   *Schema
	interval time.Duration
	logger   *slog.Logger
}

// NewSchemaWatcher creates a watcher refreshing schema every interval.
func NewSchemaWatcher(source SchemaSource, schema *Schema, interval time.Duration, logger *slog.Logger) *SchemaWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaWatcher{
		source:   source,
		schema:   schema,
		interval: interval,
		logger:   logger,
	}
}

// Sync performs one refresh.
func (w *SchemaWatcher) Sync(ctx context.Context) error {
	start := time.Now()

	snap, err := w.source.FetchSchema(ctx)
	if err != nil {
		return err
	}
	w.schema.Replace(snap)

	w.logger.Debug("schema refreshed",
		"collections", len(snap.Collections),
		"relations", len(snap.Relations),
		"duration", time.Since(start),
	)
	return nil
}

// Run refreshes the schema until ctx is cancelled. A failed refresh keeps
// the previous snapshot.
func (w *SchemaWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Sync(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("schema refresh failed", "error", err)
			}
		}
	}
}
