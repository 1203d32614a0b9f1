package store

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/stresslens/stresslens/dashboard/internal/config"
)

// WatchFiles monitors the data files of sources and, when one changes,
// invalidates its cached table and calls onChange with the source id.
// It runs until ctx is cancelled.
//
// Parent directories are watched rather than the files themselves so that
// files created after startup, or replaced by rename, are still seen.
func (s *Store) WatchFiles(ctx context.Context, sources []config.Source, onChange func(id string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	byPath := make(map[string][]string, len(sources))
	dirs := make(map[string]bool)
	for _, src := range sources {
		p := filepath.Clean(src.Path)
		byPath[p] = append(byPath[p], src.ID)
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("store: cannot watch directory", "dir", dir, "err", err)
		}
	}

	slog.Info("store: watching data files", "files", len(byPath))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			ids := byPath[filepath.Clean(event.Name)]
			for _, id := range ids {
				s.Invalidate(id)
				slog.Info("store: data file changed", "source", id, "path", event.Name, "op", event.Op.String())
				if onChange != nil {
					onChange(id)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("store: watcher error", "err", err)
		}
	}
}
