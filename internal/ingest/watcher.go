package ingest

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Ingester is the part of Service the watcher drives.
type Ingester interface {
	IngestStream(ctx context.Context, r io.Reader, source string) (*Report, error)
}

const (
	doneSuffix   = ".done"
	failedSuffix = ".failed"
)

// Watcher monitors an inbox directory for NDJSON files and ingests each one.
// Files should be moved into the inbox once complete, not written in place.
// A processed file is renamed with a .done suffix, or .failed when the whole
// file was rejected, so it is never ingested twice.
type Watcher struct {
	dir      string
	ingester Ingester
	logger   *slog.Logger
}

func NewWatcher(dir string, ingester Ingester, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, ingester: ingester, logger: logger}
}

// Run backfills files already in the inbox and then processes new arrivals
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "inbox watcher started", "dir", w.dir)

	if err := w.Backfill(ctx); err != nil {
		w.logger.WarnContext(ctx, "inbox backfill failed", "dir", w.dir, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && isRecordFile(evt.Name) {
				w.processFile(ctx, evt.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "inbox watcher error", "error", err)
		}
	}
}

// Backfill ingests record files already present, in name order.
func (w *Watcher) Backfill(ctx context.Context) error {
	entries, err := filepath.Glob(filepath.Join(w.dir, "*"))
	if err != nil {
		return err
	}
	slices.Sort(entries)
	for _, e := range entries {
		if isRecordFile(e) {
			w.processFile(ctx, e)
		}
	}
	return nil
}

func (w *Watcher) processFile(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		// A rename event also fires for the old name of a moved file.
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.WarnContext(ctx, "failed to open inbox file", "path", path, "error", err)
		}
		return
	}
	report, err := w.ingester.IngestStream(ctx, f, "inbox:"+filepath.Base(path))
	f.Close()

	suffix := doneSuffix
	if err != nil {
		suffix = failedSuffix
		w.logger.ErrorContext(ctx, "inbox file rejected", "path", path, "error", err)
	} else {
		w.logger.InfoContext(ctx, "inbox file ingested",
			"path", path,
			"accepted", report.Accepted,
			"skipped", report.Skipped,
			"errors", report.Errors,
		)
	}
	if err := os.Rename(path, path+suffix); err != nil {
		w.logger.ErrorContext(ctx, "failed to mark inbox file", "path", path, "error", err)
	}
}

func isRecordFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		return true
	default:
		return false
	}
}
