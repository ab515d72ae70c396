package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/bornholm/lanupdate/config"
	"github.com/bornholm/lanupdate/listener"
	"github.com/bornholm/lanupdate/metrics"
	"github.com/bornholm/lanupdate/probe"
	"github.com/coreos/go-systemd/v22/daemon"
)

// ConfigSource is implemented by [config.Store].
type ConfigSource interface {
	Load() (config.Config, error)
	Watch(ctx context.Context, baseline config.Config, fn func(conf config.Config)) error
}

// RepoSource is implemented by [probe.Probe].
type RepoSource interface {
	Fingerprint() (probe.State, error)
	Watch(ctx context.Context, baseline string, fn func(state probe.State)) error
}

// Advertiser is implemented by [advert.Manager].
type Advertiser interface {
	Apply(ctx context.Context, enabled bool, state probe.State) error
	Close(ctx context.Context) error
}

type Options struct {
	Logger   *slog.Logger
	Recorder metrics.Recorder

	// Timeout bounds the lifetime of the serving phase. Zero or less means no
	// bound.
	Timeout       time.Duration
	ShutdownGrace time.Duration

	// QuitFile, when set, stops the daemon once the file is removed.
	QuitFile string

	Listen listener.Options
	Open   func(opts listener.Options) (*listener.Endpoint, error)
	Notify func(state string) error

	NewHandler    func(conf config.Config) http.Handler
	NewAdvertiser func(port int) Advertiser
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

func WithTimeout(timeout time.Duration) OptionFunc {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

func WithShutdownGrace(grace time.Duration) OptionFunc {
	return func(opts *Options) {
		opts.ShutdownGrace = grace
	}
}

func WithQuitFile(path string) OptionFunc {
	return func(opts *Options) {
		opts.QuitFile = path
	}
}

func WithListen(listen listener.Options) OptionFunc {
	return func(opts *Options) {
		opts.Listen = listen
	}
}

func WithOpener(open func(opts listener.Options) (*listener.Endpoint, error)) OptionFunc {
	return func(opts *Options) {
		opts.Open = open
	}
}

func WithNotifier(notify func(state string) error) OptionFunc {
	return func(opts *Options) {
		opts.Notify = notify
	}
}

func WithHandler(newHandler func(conf config.Config) http.Handler) OptionFunc {
	return func(opts *Options) {
		opts.NewHandler = newHandler
	}
}

func WithAdvertiser(newAdvertiser func(port int) Advertiser) OptionFunc {
	return func(opts *Options) {
		opts.NewAdvertiser = newAdvertiser
	}
}

func NewOptions(funcs ...OptionFunc) *Options {
	opts := &Options{
		Logger:        slog.Default(),
		Recorder:      metrics.NoopRecorder{},
		ShutdownGrace: 5 * time.Second,
		Open:          listener.Open,
		Notify:        sdNotify,
		NewHandler: func(conf config.Config) http.Handler {
			return http.NotFoundHandler()
		},
	}

	for _, fn := range funcs {
		fn(opts)
	}

	return opts
}

// sdNotify reports state to the service manager. It does nothing when the
// process is not supervised by systemd.
func sdNotify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}
