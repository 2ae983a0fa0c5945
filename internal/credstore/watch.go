package credstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the credential file at path and calls onChange whenever it
// is created, replaced, or removed, with present reporting whether the file
// exists afterwards. The parent directory is watched rather than the file,
// because atomic replacement swaps the inode. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(present bool), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credstore: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("credstore: watching %s: %w", dir, err)
	}

	logger.Debug("watching credential file", slog.String("path", path))

	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}

			present := fileExists(target)
			logger.Debug("credential file changed",
				slog.String("op", ev.Op.String()),
				slog.Bool("present", present),
			)

			onChange(present)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("credential watcher error", slog.String("error", werr.Error()))
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return !errors.Is(err, fs.ErrNotExist)
}
