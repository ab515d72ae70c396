package controller

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// watchQuitFile blocks until ctx is done or the file at path is removed, in
// which case fn is called once.
func watchQuitFile(ctx context.Context, path string, fn func()) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return errors.WithStack(err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create quit file watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "could not watch quit file '%s'", path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != path {
				continue
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				fn()
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			return errors.WithStack(err)
		}
	}
}
