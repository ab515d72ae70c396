// Package fsx holds file system helpers shared by the daemon components.
package fsx

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFileAtomic replaces path with data through a synced temporary file
// renamed in place, so readers never observe a partial file. The parent
// directory must exist.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "could not create temporary file in '%s'", dir)
	}

	tmpName := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "could not write '%s'", tmpName)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "could not sync '%s'", tmpName)
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "could not close '%s'", tmpName)
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return errors.Wrapf(err, "could not chmod '%s'", tmpName)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "could not rename '%s' to '%s'", tmpName, path)
	}

	committed = true

	return nil
}
