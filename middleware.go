package lanupdate

import "net/http"

type Middleware func(next http.FileSystem) http.FileSystem

func Chain(fs http.FileSystem, middlewares ...Middleware) http.FileSystem {
	for i := len(middlewares) - 1; i >= 0; i-- {
		fs = middlewares[i](fs)
	}

	return fs
}
