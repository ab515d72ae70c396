package main

import (
	"time"
)

// cli holds the daemon command line.
type cli struct {
	PortFile       string   `name:"port-file" type:"path" help:"Bind a local port and write its number to this file."`
	Timeout        int      `name:"timeout" short:"t" default:"200" help:"Seconds to serve before shutting down, zero or less means no timeout."`
	LocalPort      int      `name:"local-port" default:"0" help:"Bind this port on the loopback interface instead of using socket activation." validate:"min=0,max=65535"`
	ServeRemote    string   `name:"serve-remote" default:"eos" help:"Remote whose refs are served in place of missing branch heads." validate:"required,excludesall=/: "`
	ConfigFile     string   `name:"config-file" type:"path" help:"Configuration file, instead of the default search path."`
	LogLevel       string   `name:"log-level" default:"info" help:"Log level (debug, info, warn, error)."`
	MDNS           bool     `name:"mdns" help:"Also announce the service over mDNS from the daemon."`
	MDNSInterfaces []string `name:"mdns-interface" help:"Network interfaces to announce on, all by default." validate:"dive,required"`
	MaxConnections int      `name:"max-connections" default:"0" help:"Maximum number of simultaneous connections, zero means unlimited." validate:"min=0"`
	Metrics        bool     `name:"metrics" help:"Expose Prometheus metrics under /metrics."`
}

func (c *cli) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 0
	}

	return time.Duration(c.Timeout) * time.Second
}

// environment holds the overrides used by integration tests and image
// builders.
type environment struct {
	AvahiServicesDir string        `env:"EOS_UPDATER_TEST_UPDATER_AVAHI_SERVICES_DIR" envDefault:"/etc/avahi/services" validate:"required"`
	QuitFile         string        `env:"EOS_UPDATER_TEST_UPDATE_SERVER_QUIT_FILE"`
	Sysroot          string        `env:"OSTREE_SYSROOT" envDefault:"/" validate:"required"`
	Debounce         time.Duration `env:"LANUPDATE_DEBOUNCE" envDefault:"250ms" validate:"gt=0"`
	DebounceMaxDelay time.Duration `env:"LANUPDATE_DEBOUNCE_MAX_DELAY" envDefault:"2s" validate:"gt=0"`
	ShutdownGrace    time.Duration `env:"LANUPDATE_SHUTDOWN_GRACE" envDefault:"5s" validate:"gt=0"`
}
