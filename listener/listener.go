// Package listener provides the HTTP listening endpoint, either inherited from
// the service manager or bound by the process itself.
package listener

import (
	"fmt"
	"net"
	"strconv"

	"github.com/bornholm/lanupdate/fsx"
	"github.com/coreos/go-systemd/v22/activation"
	"github.com/pkg/errors"
	"golang.org/x/net/netutil"
)

var ErrListenSetup = errors.New("could not set up listening socket")

type Mode int

const (
	// ModeInherited means the socket was passed by the service manager.
	ModeInherited Mode = iota
	// ModeOwned means the socket was bound by the process on the loopback
	// interface.
	ModeOwned
)

func (m Mode) String() string {
	switch m {
	case ModeInherited:
		return "inherited"
	case ModeOwned:
		return "owned"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

var activationListeners = activation.Listeners

// Endpoint is an open listening socket and the port it is bound to.
type Endpoint struct {
	Listener net.Listener
	Port     int
	Mode     Mode
}

func (e *Endpoint) Close() error {
	if e.Listener == nil {
		return nil
	}

	if err := e.Listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return errors.WithStack(err)
	}

	return nil
}

type Options struct {
	// LocalPort binds the socket on the loopback interface instead of using
	// socket activation. Zero picks a free port.
	LocalPort int
	// PortFile receives the bound port number. Setting it implies an owned
	// socket.
	PortFile string
	// MaxConnections caps the number of simultaneously accepted connections.
	// Zero means unlimited.
	MaxConnections int
}

// Owned reports whether the options ask for a self bound socket.
func (o Options) Owned() bool {
	return o.LocalPort != 0 || o.PortFile != ""
}

// Open returns the endpoint described by opts.
func Open(opts Options) (*Endpoint, error) {
	var (
		endpoint *Endpoint
		err      error
	)

	if opts.Owned() {
		endpoint, err = Own(opts.LocalPort, opts.PortFile)
	} else {
		endpoint, err = Inherit()
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if opts.MaxConnections > 0 {
		endpoint.Listener = netutil.LimitListener(endpoint.Listener, opts.MaxConnections)
	}

	return endpoint, nil
}

// Inherit takes the single socket passed through socket activation.
func Inherit() (*Endpoint, error) {
	listeners, err := activationListeners()
	if err != nil {
		return nil, errors.Wrapf(ErrListenSetup, "could not retrieve activation sockets: %s", err.Error())
	}

	sockets := make([]net.Listener, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			sockets = append(sockets, l)
		}
	}

	if len(sockets) != 1 {
		for _, l := range sockets {
			_ = l.Close()
		}

		return nil, errors.Wrapf(ErrListenSetup, "expected exactly one activation socket, got %d", len(sockets))
	}

	port, err := portOf(sockets[0])
	if err != nil {
		_ = sockets[0].Close()
		return nil, errors.WithStack(err)
	}

	return &Endpoint{
		Listener: sockets[0],
		Port:     port,
		Mode:     ModeInherited,
	}, nil
}

// Own binds a socket on the loopback interface. When portFile is set the
// bound port is written to it before returning.
func Own(port int, portFile string) (*Endpoint, error) {
	if port < 0 || port > 65535 {
		return nil, errors.Wrapf(ErrListenSetup, "invalid port %d", port)
	}

	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(ErrListenSetup, "could not listen on '%s': %s", address, err.Error())
	}

	bound, err := portOf(l)
	if err != nil {
		_ = l.Close()
		return nil, errors.WithStack(err)
	}

	if portFile != "" {
		if err := writePortFile(portFile, bound); err != nil {
			_ = l.Close()
			return nil, errors.Wrapf(ErrListenSetup, "could not write port file: %s", err.Error())
		}
	}

	return &Endpoint{
		Listener: l,
		Port:     bound,
		Mode:     ModeOwned,
	}, nil
}

func portOf(l net.Listener) (int, error) {
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.Wrapf(ErrListenSetup, "unexpected socket address type %T", l.Addr())
	}

	return addr.Port, nil
}

// writePortFile writes the port as bare decimal digits. The file is renamed
// in place so a reader polling for it never sees it empty.
func writePortFile(path string, port int) error {
	return fsx.WriteFileAtomic(path, []byte(strconv.Itoa(port)), 0o644)
}
