package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
)

// FileIngester ingests one template file. *Indexer satisfies it.
type FileIngester interface {
	IngestFile(ctx context.Context, path string) (int, error)
}

// Watcher re-ingests template files in a directory whenever they are
// created or written.
type Watcher struct {
	ingester FileIngester
	dir      string
}

func NewWatcher(ingester FileIngester, dir string) *Watcher {
	return &Watcher{ingester: ingester, dir: dir}
}

// IngestAll ingests every template file currently in the directory and
// returns the number of templates written.
func (w *Watcher) IngestAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("reading template dir %s: %w", w.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsTemplateFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	total := 0
	for _, name := range names {
		n, err := w.ingester.IngestFile(ctx, filepath.Join(w.dir, name))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Run watches the directory until ctx is cancelled. Failed ingests are
// logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	slog.Info("template watcher started", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsTemplateFile(event.Name) {
				continue
			}
			w.handle(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("template watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	n, err := w.ingester.IngestFile(ctx, path)
	if err != nil {
		slog.Error("re-ingesting template file", "path", path, "error", err)
		return
	}
	slog.Debug("template file re-ingested", "path", path, "templates", n)
}
