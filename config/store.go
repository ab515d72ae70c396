package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bornholm/lanupdate/syncx"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

type Options struct {
	Logger   *slog.Logger
	Debounce time.Duration
	MaxDelay time.Duration
}

type OptionFunc func(opts *Options)

func WithLogger(logger *slog.Logger) OptionFunc {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithDebounce(quiet, maxDelay time.Duration) OptionFunc {
	return func(opts *Options) {
		opts.Debounce = quiet
		opts.MaxDelay = maxDelay
	}
}

func NewOptions(funcs ...OptionFunc) *Options {
	opts := &Options{
		Logger:   slog.Default(),
		Debounce: 250 * time.Millisecond,
		MaxDelay: 2 * time.Second,
	}

	for _, fn := range funcs {
		fn(opts)
	}

	return opts
}

// Store owns the effective configuration of the daemon. It is the only place
// the advertisement flag lives; consumers share the store rather than a copy.
type Store struct {
	paths []string
	opts  *Options

	mu      sync.RWMutex
	current Config
}

func NewStore(paths []string, funcs ...OptionFunc) *Store {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		cleaned = append(cleaned, filepath.Clean(p))
	}

	return &Store{
		paths: cleaned,
		opts:  NewOptions(funcs...),
	}
}

// Current returns the last successfully loaded configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// Load re-reads the configuration. Only transient read failures are reported
// as errors, in which case the previous configuration is retained. Parse
// failures are logged and resolve to a disabled configuration.
func (s *Store) Load() (Config, error) {
	conf, err := Load(s.paths...)

	switch {
	case errors.Is(err, ErrConfigRead):
		return s.Current(), errors.WithStack(err)

	case errors.Is(err, ErrConfigParse):
		s.opts.Logger.Warn("invalid configuration file, advertisement disabled", slog.String("path", conf.Path), slog.Any("error", err))
		conf = Config{Path: conf.Path}

	case err != nil:
		return s.Current(), errors.WithStack(err)
	}

	if conf.Path == "" {
		s.opts.Logger.Debug("no configuration file found, advertisement disabled", slog.Any("paths", s.paths))
	}

	s.mu.Lock()
	s.current = conf
	s.mu.Unlock()

	return conf, nil
}

// Watch blocks until ctx is done, calling fn with the reloaded configuration
// each time it differs from the last one delivered (baseline initially). The
// configuration observed once the watch is in place is compared too, so a
// change made before that is not lost.
func (s *Store) Watch(ctx context.Context, baseline Config, fn func(conf Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create configuration watcher")
	}
	defer watcher.Close()

	watched := 0
	for _, dir := range s.dirs() {
		if err := watcher.Add(dir); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.opts.Logger.Warn("could not watch configuration directory", slog.String("dir", dir), slog.Any("error", errors.WithStack(err)))
			}
			continue
		}
		watched++
	}

	if watched == 0 {
		return errors.Errorf("none of the configuration directories could be watched: %v", s.dirs())
	}

	debouncer := syncx.NewDebouncer(s.opts.Debounce, s.opts.MaxDelay)
	defer debouncer.Stop()

	last := baseline

	deliver := func(conf Config) {
		if conf.Equal(last) {
			return
		}

		s.opts.Logger.Info("configuration changed", slog.String("path", conf.Path), slog.Bool("advertise_updates", conf.AdvertiseUpdates), slog.Int("repositories", len(conf.Repositories)))

		last = conf
		fn(conf)
	}

	if conf, err := s.Load(); err == nil {
		deliver(conf)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if !s.isWatchedPath(event.Name) {
				continue
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			s.opts.Logger.Debug("configuration file event", slog.String("path", event.Name), slog.String("op", event.Op.String()))
			debouncer.Trigger()

		case <-debouncer.C():
			debouncer.Done()

			conf, err := s.Load()
			if err != nil {
				s.opts.Logger.Warn("could not reload configuration, keeping previous value", slog.Any("error", err))
				continue
			}

			s.opts.Logger.Debug("configuration reloaded", slog.String("path", conf.Path), slog.Bool("advertise_updates", conf.AdvertiseUpdates))
			deliver(conf)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.opts.Logger.Error("configuration watcher error", slog.Any("error", errors.WithStack(err)))
		}
	}
}

func (s *Store) dirs() []string {
	dirs := make([]string, 0, len(s.paths))
	seen := make(map[string]struct{}, len(s.paths))

	for _, p := range s.paths {
		dir := filepath.Dir(p)
		if _, exists := seen[dir]; exists {
			continue
		}
		seen[dir] = struct{}{}
		dirs = append(dirs, dir)
	}

	return dirs
}

func (s *Store) isWatchedPath(name string) bool {
	name = filepath.Clean(name)
	for _, p := range s.paths {
		if p == name {
			return true
		}
	}

	return false
}
