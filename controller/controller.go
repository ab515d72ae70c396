package controller

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bornholm/lanupdate/config"
	"github.com/bornholm/lanupdate/listener"
	"github.com/bornholm/lanupdate/probe"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
)

const eventQueueSize = 16

// Controller drives the daemon lifecycle. All configuration, repository and
// timer notifications are funneled into a single event queue and handled one
// at a time by Run.
type Controller struct {
	config ConfigSource
	repo   RepoSource
	opts   *Options

	mu    sync.RWMutex
	state State
}

func New(configSource ConfigSource, repoSource RepoSource, funcs ...OptionFunc) *Controller {
	return &Controller{
		config: configSource,
		repo:   repoSource,
		opts:   NewOptions(funcs...),
		state:  StateStarting,
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

func (c *Controller) setState(ctx context.Context, state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.opts.Recorder.SetState(state.String())
	c.opts.Logger.DebugContext(ctx, "controller state changed", slog.String("state", state.String()))
}

// Run executes the startup protocol, serves until a shutdown condition is
// met and returns the process exit status. Cancelling ctx requests a clean
// shutdown.
func (c *Controller) Run(ctx context.Context) ExitStatus {
	c.setState(ctx, StateStarting)

	conf, err := c.config.Load()
	if err != nil {
		c.opts.Logger.ErrorContext(ctx, "could not load configuration", slog.Any("error", errors.WithStack(err)))
		return ExitBadConfig
	}

	if !conf.AdvertiseUpdates {
		c.opts.Logger.InfoContext(ctx, "local network updates are disabled, exiting", slog.String("config", conf.Path))
		c.setState(ctx, StateDisabledExit)
		return ExitDisabled
	}

	if c.opts.NewAdvertiser == nil {
		c.opts.Logger.ErrorContext(ctx, "no advertiser configured")
		return ExitFailed
	}

	endpoint, err := c.opts.Open(c.opts.Listen)
	if err != nil {
		c.opts.Logger.ErrorContext(ctx, "could not acquire listening socket", slog.Any("error", errors.WithStack(err)))

		if errors.Is(err, listener.ErrListenSetup) {
			return ExitNoSockets
		}

		return ExitFailed
	}

	defer func() {
		if err := endpoint.Close(); err != nil {
			c.opts.Logger.WarnContext(ctx, "could not close listening socket", slog.Any("error", err))
		}
	}()

	// Notifications and advertisement updates keep running while ctx is
	// being cancelled, until the shutdown protocol stops them.
	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()

	server := &http.Server{
		Handler: c.opts.NewHandler(conf),
		BaseContext: func(l net.Listener) context.Context {
			return loopCtx
		},
	}

	serveErr := make(chan error, 1)

	go func() {
		if err := server.Serve(endpoint.Listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- errors.WithStack(err)
		}
	}()

	c.opts.Logger.InfoContext(ctx, "serving repository content",
		slog.Int("port", endpoint.Port),
		slog.String("mode", endpoint.Mode.String()),
	)

	advertiser := c.opts.NewAdvertiser(endpoint.Port)

	c.setState(ctx, StateServing)
	c.notify(ctx, daemon.SdNotifyReady)

	d := &dispatcher{
		controller: c,
		advertiser: advertiser,
		events:     make(chan Event, eventQueueSize),
		ctx:        loopCtx,
		enabled:    conf.AdvertiseUpdates,
		conf:       conf,
	}

	var wg sync.WaitGroup

	d.start(&wg, ctx)

	status := d.loop(ctx, serveErr)

	c.setState(ctx, StateShuttingDown)
	c.notify(ctx, daemon.SdNotifyStopping)

	d.stop()
	stopLoop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ShutdownGrace)
	defer cancelShutdown()

	// Peers stop being pointed at the server before in-flight requests are
	// drained.
	if err := advertiser.Close(shutdownCtx); err != nil {
		c.opts.Logger.WarnContext(ctx, "could not withdraw advertisement", slog.Any("error", errors.WithStack(err)))
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		c.opts.Logger.WarnContext(ctx, "could not gracefully stop http server", slog.Any("error", errors.WithStack(err)))
		_ = server.Close()
	}

	wg.Wait()

	c.opts.Logger.InfoContext(ctx, "shut down", slog.String("status", status.String()))

	return status
}

func (c *Controller) notify(ctx context.Context, state string) {
	if err := c.opts.Notify(state); err != nil {
		c.opts.Logger.WarnContext(ctx, "could not notify service manager", slog.String("state", state), slog.Any("error", err))
	}
}

// dispatcher owns the mutable state of the serving phase. Only the loop
// goroutine touches it.
type dispatcher struct {
	controller *Controller
	advertiser Advertiser
	events     chan Event
	ctx        context.Context

	enabled bool
	conf    config.Config
	repo    probe.State

	timer    *time.Timer
	stopCtx  func() bool
	stopOnce sync.Once
}

// post enqueues an event, giving up once the dispatcher is stopped.
func (d *dispatcher) post(ev Event) {
	select {
	case d.events <- ev:
	case <-d.ctx.Done():
	}
}

func (d *dispatcher) start(wg *sync.WaitGroup, parent context.Context) {
	c := d.controller
	logger := c.opts.Logger

	state, err := c.repo.Fingerprint()
	if err != nil {
		logger.WarnContext(d.ctx, "could not probe repository, assuming no update is available", slog.Any("error", errors.WithStack(err)))
	}

	d.repo = state
	d.apply()

	wg.Add(2)

	go func() {
		defer wg.Done()

		err := c.config.Watch(d.ctx, d.conf, func(conf config.Config) {
			d.post(Event{Kind: EventConfigChanged, Config: conf})
		})
		if err != nil {
			logger.ErrorContext(d.ctx, "configuration watch failed", slog.Any("error", errors.WithStack(err)))
		}
	}()

	go func() {
		defer wg.Done()

		err := c.repo.Watch(d.ctx, state.Token, func(state probe.State) {
			d.post(Event{Kind: EventRepoChanged, State: state})
		})
		if err != nil {
			logger.ErrorContext(d.ctx, "repository watch failed", slog.Any("error", errors.WithStack(err)))
		}
	}()

	if quitFile := c.opts.QuitFile; quitFile != "" {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := watchQuitFile(d.ctx, quitFile, func() {
				logger.InfoContext(d.ctx, "quit file removed", slog.String("path", quitFile))
				d.post(Event{Kind: EventShutdownRequested})
			})
			if err != nil {
				logger.ErrorContext(d.ctx, "quit file watch failed", slog.Any("error", errors.WithStack(err)))
			}
		}()
	}

	if timeout := c.opts.Timeout; timeout > 0 {
		d.timer = time.AfterFunc(timeout, func() {
			d.post(Event{Kind: EventTimeoutFired})
		})
	}

	d.stopCtx = context.AfterFunc(parent, func() {
		d.post(Event{Kind: EventShutdownRequested})
	})
}

func (d *dispatcher) stop() {
	d.stopOnce.Do(func() {
		if d.timer != nil {
			d.timer.Stop()
		}

		if d.stopCtx != nil {
			d.stopCtx()
		}
	})
}

// loop handles events until one of them ends the serving phase.
func (d *dispatcher) loop(ctx context.Context, serveErr <-chan error) ExitStatus {
	logger := d.controller.opts.Logger

	for {
		select {
		case err := <-serveErr:
			logger.ErrorContext(ctx, "http server failed", slog.Any("error", err))
			return ExitFailed

		case ev := <-d.events:
			logger.DebugContext(ctx, "handling event", slog.String("event", ev.Kind.String()))

			if status, done := d.handle(ctx, ev); done {
				return status
			}
		}
	}
}

func (d *dispatcher) handle(ctx context.Context, ev Event) (ExitStatus, bool) {
	logger := d.controller.opts.Logger

	switch ev.Kind {
	case EventConfigChanged:
		previous := d.conf
		d.conf = ev.Config
		d.enabled = ev.Config.AdvertiseUpdates

		if !d.enabled {
			logger.InfoContext(ctx, "local network updates were disabled, shutting down")
			return ExitDisabled, true
		}

		if !slices.Equal(previous.Repositories, ev.Config.Repositories) {
			logger.WarnContext(ctx, "served repositories changed, restart the daemon to apply")
		}

		d.apply()

	case EventRepoChanged:
		d.repo = ev.State
		d.apply()

	case EventTimeoutFired:
		logger.InfoContext(ctx, "timeout reached, shutting down", slog.Duration("timeout", d.controller.opts.Timeout))
		return ExitOK, true

	case EventShutdownRequested:
		logger.InfoContext(ctx, "shutdown requested")
		return ExitOK, true
	}

	return ExitOK, false
}

// apply brings the advertisement in line with the current state. Failures are
// logged and retried on the next event; content keeps being served.
func (d *dispatcher) apply() {
	if err := d.advertiser.Apply(d.ctx, d.enabled, d.repo); err != nil {
		d.controller.opts.Logger.WarnContext(d.ctx, "could not update advertisement", slog.Any("error", errors.WithStack(err)))
	}
}
