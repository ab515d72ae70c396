package probe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/bornholm/lanupdate/syncx"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

type Options struct {
	Logger   *slog.Logger
	Remote   string
	Slots    []string
	Debounce time.Duration
	MaxDelay time.Duration
}

type OptionFunc func(opts *Options)

func WithLogger(logger *slog.Logger) OptionFunc {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithRemote(remote string) OptionFunc {
	return func(opts *Options) {
		opts.Remote = remote
	}
}

func WithSlots(slots ...string) OptionFunc {
	return func(opts *Options) {
		opts.Slots = slots
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
		Remote:   DefaultRemote,
		Slots:    DefaultSlots,
		Debounce: 250 * time.Millisecond,
		MaxDelay: 2 * time.Second,
	}

	for _, fn := range funcs {
		fn(opts)
	}

	return opts
}

// Watch blocks until ctx is done, calling fn each time the fingerprint of the
// tracked refs differs from the last one delivered (baseline initially). A
// repository that does not exist, or disappears, reads as empty and keeps
// being watched for.
func (p *Probe) Watch(ctx context.Context, baseline string, fn func(state State)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create repository watcher")
	}
	defer watcher.Close()

	if err := p.syncWatches(watcher); err != nil {
		return errors.WithStack(err)
	}

	debouncer := syncx.NewDebouncer(p.opts.Debounce, p.opts.MaxDelay)
	defer debouncer.Stop()

	last := baseline

	deliver := func() {
		state, err := p.Fingerprint()
		if err != nil {
			p.opts.Logger.Warn("could not fingerprint repository, treating as empty", slog.Any("error", err))
			state = State{}
		}

		if state.Token == last {
			return
		}

		last = state.Token
		fn(state)
	}

	// Catch changes made before the watches were in place.
	deliver()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}

			p.opts.Logger.Debug("repository event", slog.String("path", event.Name), slog.String("op", event.Op.String()))

			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := p.syncWatches(watcher); err != nil {
					p.opts.Logger.Warn("could not update repository watches", slog.Any("error", err))
				}
			}

			debouncer.Trigger()

		case <-debouncer.C():
			debouncer.Done()
			deliver()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.opts.Logger.Error("repository watcher error", slog.Any("error", errors.WithStack(err)))
		}
	}
}

// syncWatches watches the directory of every tracked ref, or its closest
// existing ancestor so that the ref, or the whole repository, appearing later
// is noticed. Watches that are no longer needed are dropped.
func (p *Probe) syncWatches(watcher *fsnotify.Watcher) error {
	targets := p.watchTargets()

	for {
		for _, dir := range watcher.WatchList() {
			if slices.Contains(targets, dir) {
				continue
			}

			// Fails when the directory is already gone along with its watch.
			_ = watcher.Remove(dir)
		}

		for _, dir := range targets {
			if slices.Contains(watcher.WatchList(), dir) {
				continue
			}

			if err := watcher.Add(dir); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return errors.Wrapf(err, "could not watch '%s'", dir)
			}

			p.opts.Logger.Debug("watching repository directory", slog.String("dir", dir))
		}

		// Directories created while the watches were being added send no
		// event, look again until the tree is stable.
		next := p.watchTargets()
		if slices.Equal(next, targets) {
			return nil
		}

		targets = next
	}
}

func (p *Probe) watchTargets() []string {
	targets := make([]string, 0, len(p.slots))

	for _, slot := range p.slots {
		dir := filepath.Dir(p.RefPath(slot))

		for {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				break
			}

			parent := filepath.Dir(dir)
			if parent == dir {
				dir = ""
				break
			}

			dir = parent
		}

		if dir == "" || slices.Contains(targets, dir) {
			continue
		}

		targets = append(targets, dir)
	}

	return targets
}
