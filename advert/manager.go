package advert

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bornholm/lanupdate/metrics"
	"github.com/bornholm/lanupdate/probe"
	"github.com/pkg/errors"
)

type namedPublisher struct {
	name      Type
	publisher Publisher
}

type Options struct {
	Logger     *slog.Logger
	Recorder   metrics.Recorder
	Retry      RetryPolicy
	Publishers []namedPublisher
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

func WithRetryPolicy(policy RetryPolicy) OptionFunc {
	return func(opts *Options) {
		opts.Retry = policy
	}
}

func WithPublisher(name Type, publisher Publisher) OptionFunc {
	return func(opts *Options) {
		opts.Publishers = append(opts.Publishers, namedPublisher{name: name, publisher: publisher})
	}
}

func NewOptions(funcs ...OptionFunc) *Options {
	opts := &Options{
		Logger:   slog.Default(),
		Recorder: metrics.NoopRecorder{},
		Retry:    DefaultRetryPolicy(),
	}

	for _, fn := range funcs {
		fn(opts)
	}

	return opts
}

// Manager keeps the published descriptor in line with the advertisement flag
// and the repository state. It is either ABSENT (nothing published) or
// PUBLISHED; every transition happens under a single lock.
type Manager struct {
	port int
	opts *Options

	mu        sync.Mutex
	synced    bool
	published *Descriptor
}

func NewManager(port int, funcs ...OptionFunc) *Manager {
	return &Manager{
		port: port,
		opts: NewOptions(funcs...),
	}
}

// Published returns the currently published descriptor.
func (m *Manager) Published() (Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.published == nil {
		return Descriptor{}, false
	}

	return *m.published, true
}

// Apply moves the manager to the state matching enabled and the repository
// state. Publishing an identical descriptor again or withdrawing while absent
// touches nothing.
func (m *Manager) Apply(ctx context.Context, enabled bool, state probe.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !enabled || state.Empty() {
		if m.synced && m.published == nil {
			return nil
		}

		m.opts.Logger.InfoContext(ctx, "withdrawing advertisement", slog.Bool("enabled", enabled), slog.Bool("empty_repository", state.Empty()))

		return m.withdraw(ctx)
	}

	descriptor := NewDescriptor(m.port, state)

	if m.published != nil && m.published.Equal(descriptor) {
		return nil
	}

	m.opts.Logger.InfoContext(ctx, "publishing advertisement",
		slog.Int("port", descriptor.Port),
		slog.String("fingerprint", descriptor.Fingerprint),
		slog.Time("head_commit_timestamp", descriptor.HeadCommitTimestamp),
	)

	if err := m.publish(ctx, descriptor); err != nil {
		// Never leave a half published advertisement behind.
		if withdrawErr := m.withdraw(ctx); withdrawErr != nil {
			m.opts.Logger.WarnContext(ctx, "could not withdraw advertisement after failed publication", slog.Any("error", withdrawErr))
		}

		return errors.WithStack(err)
	}

	m.synced = true
	m.published = &descriptor

	return nil
}

// Close withdraws the advertisement.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.synced && m.published == nil {
		return nil
	}

	return m.withdraw(ctx)
}

func (m *Manager) publish(ctx context.Context, d Descriptor) error {
	for _, p := range m.opts.Publishers {
		err := m.opts.Retry.Do(ctx, func() error {
			return p.publisher.Publish(ctx, d)
		})
		if err != nil {
			m.opts.Recorder.IncDescriptorFailure(string(p.name))
			return errors.Wrapf(ErrAdvertisementWrite, "publisher '%s': %s", p.name, err.Error())
		}

		m.opts.Recorder.IncDescriptorWrite(string(p.name))
	}

	return nil
}

func (m *Manager) withdraw(ctx context.Context) error {
	var firstErr error

	for _, p := range m.opts.Publishers {
		err := m.opts.Retry.Do(ctx, func() error {
			return p.publisher.Withdraw(ctx)
		})
		if err != nil {
			m.opts.Recorder.IncDescriptorFailure(string(p.name))
			if firstErr == nil {
				firstErr = errors.Wrapf(ErrAdvertisementWrite, "publisher '%s': %s", p.name, err.Error())
			}
			continue
		}

		m.opts.Recorder.IncDescriptorWithdraw(string(p.name))
	}

	if firstErr != nil {
		return firstErr
	}

	m.synced = true
	m.published = nil

	return nil
}
