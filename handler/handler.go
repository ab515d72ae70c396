package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bornholm/lanupdate"
	"github.com/bornholm/lanupdate/config"
	"github.com/bornholm/lanupdate/metrics"
	"github.com/go-ini/ini"
	"github.com/pkg/errors"
	sloghttp "github.com/samber/slog-http"
)

type Options struct {
	Logger      *slog.Logger
	Recorder    metrics.Recorder
	Middlewares []lanupdate.Middleware
	AccessLog   bool
}

type OptionFunc func(opts *Options)

func WithLogger(logger *slog.Logger) OptionFunc {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithRecorder(recorder metrics.Recorder) OptionFunc {
	return func(opts *Options) {
		opts.Recorder = recorder
	}
}

// WithMiddlewares adds middlewares applied to every repository file system,
// outside of the path policy.
func WithMiddlewares(middlewares ...lanupdate.Middleware) OptionFunc {
	return func(opts *Options) {
		opts.Middlewares = middlewares
	}
}

func WithAccessLog(enabled bool) OptionFunc {
	return func(opts *Options) {
		opts.AccessLog = enabled
	}
}

func NewOptions(funcs ...OptionFunc) *Options {
	opts := &Options{
		Logger:      slog.Default(),
		Recorder:    metrics.NoopRecorder{},
		Middlewares: []lanupdate.Middleware{},
		AccessLog:   true,
	}

	for _, fn := range funcs {
		fn(opts)
	}

	return opts
}

type repository struct {
	config.Repository
	fs http.FileSystem
}

// Handler serves one or more OSTree repositories read-only. Repository 0 is
// served at the URL root, repository N under /N.
type Handler struct {
	opts  *Options
	repos map[uint]*repository
	next  http.Handler

	pending atomic.Int64
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.next.ServeHTTP(w, r)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	h.opts.Recorder.SetPendingRequests(h.pending.Add(1))
	defer func() {
		h.opts.Recorder.SetPendingRequests(h.pending.Add(-1))
	}()

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	h.dispatch(sw, r)

	h.opts.Recorder.ObserveRequest(r.Method, sw.status)
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if lanupdate.ContainsDotDot(r.URL.Path) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	repo, name, ok := h.route(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if name == "/config" {
		h.serveConfig(w, r, repo)
		return
	}

	file, err := repo.fs.Open(name)
	if err != nil {
		h.serveError(w, r, err)
		return
	}

	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		h.serveError(w, r, err)
		return
	}

	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

// route finds the repository serving urlPath and the path relative to its
// root.
func (h *Handler) route(urlPath string) (*repository, string, bool) {
	urlPath = "/" + strings.TrimPrefix(urlPath, "/")

	first, rest, _ := strings.Cut(strings.TrimPrefix(urlPath, "/"), "/")

	if index, err := strconv.ParseUint(first, 10, 0); err == nil && index > 0 {
		if repo, exists := h.repos[uint(index)]; exists {
			return repo, "/" + rest, true
		}
	}

	repo, exists := h.repos[0]
	if !exists {
		return nil, "", false
	}

	return repo, urlPath, true
}

// serveConfig answers with a minimal repository configuration which does not
// expose the remotes of the served repository.
func (h *Handler) serveConfig(w http.ResponseWriter, r *http.Request, repo *repository) {
	configPath := filepath.Join(repo.Path, "config")

	info, err := os.Stat(configPath)
	if err != nil {
		h.serveError(w, r, err)
		return
	}

	data, err := publicConfig(configPath)
	if err != nil {
		h.serveError(w, r, err)
		return
	}

	http.ServeContent(w, r, "config", info.ModTime(), bytes.NewReader(data))
}

func (h *Handler) serveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		http.NotFound(w, r)

	case errors.Is(err, os.ErrPermission):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)

	case errors.Is(err, lanupdate.ErrInvalidRef):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)

	default:
		h.opts.Logger.ErrorContext(r.Context(), "could not serve repository file", slog.String("path", r.URL.Path), slog.Any("error", errors.WithStack(err)))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// publicConfig keeps only the core settings clients need to pull from the
// repository.
func publicConfig(configPath string) ([]byte, error) {
	source, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "could not load repository configuration '%s'", configPath)
	}

	core := source.Section("core")

	public := ini.Empty()

	section, err := public.NewSection("core")
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if _, err := section.NewKey("repo_version", core.Key("repo_version").MustString("1")); err != nil {
		return nil, errors.WithStack(err)
	}

	if _, err := section.NewKey("mode", core.Key("mode").MustString("bare")); err != nil {
		return nil, errors.WithStack(err)
	}

	var buf bytes.Buffer
	if _, err := public.WriteTo(&buf); err != nil {
		return nil, errors.WithStack(err)
	}

	return buf.Bytes(), nil
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}

	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func New(repos []config.Repository, funcs ...OptionFunc) *Handler {
	opts := NewOptions(funcs...)

	h := &Handler{
		opts:  opts,
		repos: make(map[uint]*repository, len(repos)),
	}

	for _, r := range repos {
		middlewares := append([]lanupdate.Middleware{}, opts.Middlewares...)
		middlewares = append(middlewares, lanupdate.PolicyMiddleware(r.RemoteName))

		h.repos[r.Index] = &repository{
			Repository: r,
			fs:         lanupdate.Chain(http.Dir(filepath.Clean(r.Path)), middlewares...),
		}
	}

	var next http.Handler = http.HandlerFunc(h.serve)

	if opts.AccessLog {
		slogMiddleware := sloghttp.New(opts.Logger)
		next = slogMiddleware(next)
	}

	h.next = next

	return h
}

var _ http.Handler = &Handler{}
