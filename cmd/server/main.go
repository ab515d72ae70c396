package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/bornholm/lanupdate/advert"
	"github.com/bornholm/lanupdate/advert/avahi"
	"github.com/bornholm/lanupdate/advert/zeroconf"
	"github.com/bornholm/lanupdate/config"
	"github.com/bornholm/lanupdate/controller"
	"github.com/bornholm/lanupdate/handler"
	"github.com/bornholm/lanupdate/listener"
	"github.com/bornholm/lanupdate/metrics"
	loggermw "github.com/bornholm/lanupdate/middleware/logger"
	"github.com/bornholm/lanupdate/probe"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/bornholm/lanupdate/advert/all"
)

func main() {
	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) controller.ExitStatus {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var flags cli

	parser, err := kong.New(&flags,
		kong.Name("lanupdate-server"),
		kong.Description("Serve the local OSTree repository to peers on the local network and advertise it."),
	)
	if err != nil {
		slog.ErrorContext(ctx, "could not create command line parser", slog.Any("error", errors.WithStack(err)))
		return controller.ExitFailed
	}

	if _, err := parser.Parse(args); err != nil {
		parser.Errorf("%s", err.Error())
		return controller.ExitInvalidArgs
	}

	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(flags.LogLevel)); err != nil {
		slog.ErrorContext(ctx, "could not parse log level", slog.Any("error", errors.WithStack(err)))
		return controller.ExitInvalidArgs
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	var environ environment
	if err := env.Parse(&environ); err != nil {
		slog.ErrorContext(ctx, "could not parse environment variables", slog.Any("error", errors.WithStack(err)))
		return controller.ExitInvalidArgs
	}

	validate := validator.New()

	if err := validate.StructCtx(ctx, &flags); err != nil {
		slog.ErrorContext(ctx, "invalid arguments", slog.Any("error", errors.WithStack(err)))
		return controller.ExitInvalidArgs
	}

	if err := validate.StructCtx(ctx, &environ); err != nil {
		slog.ErrorContext(ctx, "invalid environment", slog.Any("error", errors.WithStack(err)))
		return controller.ExitInvalidArgs
	}

	configPaths := config.DefaultSearchPaths
	if flags.ConfigFile != "" {
		configPaths = []string{flags.ConfigFile}
	}

	store := config.NewStore(configPaths,
		config.WithLogger(logger),
		config.WithDebounce(environ.Debounce, environ.DebounceMaxDelay),
	)

	repoPath := filepath.Join(environ.Sysroot, probe.DefaultRepoPath)

	repo := probe.New(repoPath,
		probe.WithLogger(logger),
		probe.WithRemote(flags.ServeRemote),
		probe.WithDebounce(environ.Debounce, environ.DebounceMaxDelay),
	)

	var (
		recorder     metrics.Recorder = metrics.NoopRecorder{}
		promRecorder *metrics.PrometheusRecorder
	)

	if flags.Metrics {
		promRecorder = metrics.NewPrometheusRecorder(prometheusRegistry())
		recorder = promRecorder
	}

	publishers, err := createPublishers(flags, environ)
	if err != nil {
		slog.ErrorContext(ctx, "could not create advertisement publishers", slog.Any("error", errors.WithStack(err)))
		return controller.ExitFailed
	}

	newHandler := func(conf config.Config) http.Handler {
		repos := conf.ServedRepositories(repoPath, flags.ServeRemote)

		for _, r := range repos {
			slog.InfoContext(ctx, "serving repository", slog.String("path", r.Path), slog.String("remote", r.RemoteName), slog.String("prefix", r.RootPath()))
		}

		var h http.Handler = handler.New(repos,
			handler.WithLogger(logger),
			handler.WithRecorder(recorder),
			handler.WithMiddlewares(loggermw.Middleware(logger)),
		)

		if promRecorder != nil {
			h = withMetrics(h, promRecorder.Handler())
		}

		return h
	}

	newAdvertiser := func(port int) controller.Advertiser {
		funcs := []advert.OptionFunc{
			advert.WithLogger(logger),
			advert.WithRecorder(recorder),
		}

		for _, p := range publishers {
			funcs = append(funcs, advert.WithPublisher(p.Type, p.Publisher))
		}

		return advert.NewManager(port, funcs...)
	}

	ctrl := controller.New(store, repo,
		controller.WithLogger(logger),
		controller.WithRecorder(recorder),
		controller.WithTimeout(flags.timeout()),
		controller.WithShutdownGrace(environ.ShutdownGrace),
		controller.WithQuitFile(environ.QuitFile),
		controller.WithListen(listener.Options{
			LocalPort:      flags.LocalPort,
			PortFile:       flags.PortFile,
			MaxConnections: flags.MaxConnections,
		}),
		controller.WithHandler(newHandler),
		controller.WithAdvertiser(newAdvertiser),
	)

	return ctrl.Run(ctx)
}

type namedPublisher struct {
	Type      advert.Type
	Publisher advert.Publisher
}

func createPublishers(flags cli, environ environment) ([]namedPublisher, error) {
	avahiPublisher, err := advert.New(avahi.Type, map[string]any{
		"dir": environ.AvahiServicesDir,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	publishers := []namedPublisher{{Type: avahi.Type, Publisher: avahiPublisher}}

	if flags.MDNS {
		mdnsPublisher, err := createMDNSPublisher(flags.MDNSInterfaces)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		publishers = append(publishers, namedPublisher{Type: zeroconf.Type, Publisher: mdnsPublisher})
	}

	return publishers, nil
}

func prometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

// withMetrics exposes the metrics endpoint next to the repository content
// without cleaning request paths.
func withMetrics(next http.Handler, metricsHandler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			metricsHandler.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}
