// Package namespace moves the calling thread into another process' network
// namespace.
package namespace

import (
	"fmt"
	"log/slog"

	"github.com/coder/cwg/privilege"
)

// Broker brackets a single call with a capability.
type Broker interface {
	With(c privilege.Capability, fn func() error) error
}

// Config holds configuration for the switcher
type Config struct {
	Broker Broker
	Logger *slog.Logger
	// ProcRoot is where pids are looked up. Defaults to /proc.
	ProcRoot string
}

// Switcher enters network namespaces by pid.
type Switcher struct {
	broker   Broker
	logger   *slog.Logger
	procRoot string
}

func New(config Config) *Switcher {
	procRoot := config.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &Switcher{
		broker:   config.Broker,
		logger:   config.Logger,
		procRoot: procRoot,
	}
}

// Path returns the namespace file of pid.
func (s *Switcher) Path(pid string) string {
	return fmt.Sprintf("%s/%s/ns/net", s.procRoot, pid)
}
