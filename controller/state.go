package controller

import (
	"fmt"

	"github.com/bornholm/lanupdate/config"
	"github.com/bornholm/lanupdate/probe"
)

type State int

const (
	StateStarting State = iota
	StateDisabledExit
	StateServing
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateDisabledExit:
		return "disabled"
	case StateServing:
		return "serving"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExitStatus is the process exit code reported by [Controller.Run].
type ExitStatus int

const (
	ExitOK          ExitStatus = 0
	ExitFailed      ExitStatus = 1
	ExitInvalidArgs ExitStatus = 2
	ExitBadConfig   ExitStatus = 3
	ExitDisabled    ExitStatus = 4
	ExitNoSockets   ExitStatus = 5
)

func (s ExitStatus) String() string {
	switch s {
	case ExitOK:
		return "ok"
	case ExitFailed:
		return "failed"
	case ExitInvalidArgs:
		return "invalid arguments"
	case ExitBadConfig:
		return "bad configuration"
	case ExitDisabled:
		return "disabled"
	case ExitNoSockets:
		return "no sockets"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type EventKind int

const (
	EventConfigChanged EventKind = iota
	EventRepoChanged
	EventTimeoutFired
	EventShutdownRequested
)

func (k EventKind) String() string {
	switch k {
	case EventConfigChanged:
		return "config_changed"
	case EventRepoChanged:
		return "repo_changed"
	case EventTimeoutFired:
		return "timeout_fired"
	case EventShutdownRequested:
		return "shutdown_requested"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

type Event struct {
	Kind EventKind
	// Config is set for [EventConfigChanged].
	Config config.Config
	// State is set for [EventRepoChanged].
	State probe.State
}
