package zeroconf

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/bornholm/lanupdate/advert"
	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

const DefaultDomain = "local."

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error)

type server interface {
	SetText(text []string)
	Shutdown()
}

// Publisher announces the descriptor over mDNS from within the daemon, for
// hosts without an Avahi daemon reading the services directory.
type Publisher struct {
	domain string
	ifaces []net.Interface

	register registerFunc

	mu       sync.Mutex
	server   server
	instance string
	port     int
}

func NewPublisher(domain string, ifaces []net.Interface) *Publisher {
	return &Publisher{
		domain: domain,
		ifaces: ifaces,
		register: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error) {
			return zeroconf.Register(instance, service, domain, port, text, ifaces)
		},
	}
}

// Publish implements [advert.Publisher].
func (p *Publisher) Publish(ctx context.Context, d advert.Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	instance := instanceName(d.Name)

	if p.server != nil && p.instance == instance && p.port == d.Port {
		p.server.SetText(d.TXTRecords())
		return nil
	}

	if p.server != nil {
		p.server.Shutdown()
		p.server = nil
	}

	srv, err := p.register(instance, d.Type, p.domain, d.Port, d.TXTRecords(), p.ifaces)
	if err != nil {
		return errors.WithStack(err)
	}

	p.server = srv
	p.instance = instance
	p.port = d.Port

	return nil
}

// Withdraw implements [advert.Publisher].
func (p *Publisher) Withdraw(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		return nil
	}

	p.server.Shutdown()
	p.server = nil

	return nil
}

// instanceName expands the Avahi host name wildcard, which mDNS responders
// other than Avahi do not understand.
func instanceName(name string) string {
	if !strings.Contains(name, "%h") {
		return name
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}

	if idx := strings.IndexByte(hostname, '.'); idx > 0 {
		hostname = hostname[:idx]
	}

	return strings.ReplaceAll(name, "%h", hostname)
}

var _ advert.Publisher = &Publisher{}
