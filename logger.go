package lanupdate

import (
	"log/slog"
	"net/http"
)

type LoggerFileSystem struct {
	logger  *slog.Logger
	backend http.FileSystem
}

// Open implements [http.FileSystem].
func (fs *LoggerFileSystem) Open(name string) (http.File, error) {
	file, err := fs.backend.Open(name)
	if err != nil {
		fs.logger.Debug("repository file access", slog.String("name", name), slog.Any("error", err))
		return nil, err
	}

	fs.logger.Debug("repository file access", slog.String("name", name))

	return file, nil
}

func WithLogger(backend http.FileSystem, logger *slog.Logger) *LoggerFileSystem {
	return &LoggerFileSystem{
		backend: backend,
		logger:  logger,
	}
}

var _ http.FileSystem = &LoggerFileSystem{}
