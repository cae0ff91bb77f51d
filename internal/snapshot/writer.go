// Package snapshot persists the ledger on shutdown: an atomic local JSON
// file, plus an optional copy in object storage. Snapshots are for operators
// and post-mortems and are never read back by the bot.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

// Writer writes ledger snapshots.
type Writer struct {
	path   string
	blob   domain.BlobWriter
	logger *slog.Logger
}

// NewWriter creates a writer for the local file at path. blob may be nil.
func NewWriter(path string, blob domain.BlobWriter, logger *slog.Logger) *Writer {
	return &Writer{
		path:   path,
		blob:   blob,
		logger: logger.With(slog.String("component", "snapshot")),
	}
}

// Write stores snap locally, then uploads it when a blob store is set. A
// failed upload is logged and does not fail the write.
func (w *Writer) Write(ctx context.Context, snap domain.LedgerSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if w.path != "" {
		if err := writeAtomic(w.path, data); err != nil {
			return err
		}
	}

	if w.blob != nil {
		key := snap.TakenAt.UTC().Format("20060102T150405Z") + ".json"
		if err := w.blob.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
			w.logger.WarnContext(ctx, "snapshot upload failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}

	w.logger.InfoContext(ctx, "snapshot written",
		slog.String("path", w.path),
		slog.Int("collections", len(snap.Collections)),
	)
	return nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("snapshot: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}
