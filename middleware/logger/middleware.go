package logger

import (
	"log/slog"
	"net/http"

	"github.com/bornholm/lanupdate"
)

// Middleware logs every repository file lookup at debug level.
func Middleware(logger *slog.Logger) lanupdate.Middleware {
	return func(next http.FileSystem) http.FileSystem {
		return lanupdate.WithLogger(next, logger)
	}
}
