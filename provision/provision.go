// Package provision composes validation, namespace switching and tool
// invocations into the create, connect and destroy transactions.
package provision

import (
	"io"
	"log/slog"
	"os"

	"github.com/coder/cwg/secret"
	"github.com/coder/cwg/subprocess"
)

const (
	SynopsisCreate       = "create <pid> <net> <host> <port>"
	SynopsisConnect      = "connect <pid> <net> <host> <endpoint> <key>"
	SynopsisDestroy      = "destroy <pid> <net> <host>"
	SynopsisDeviceCreate = "device-create <dev> <vpn_ip/netmask> <port>"
	SynopsisAddPeer      = "add-peer <dev> <endpoint> <vpn_network> <key>"
)

// Runner runs one tool invocation, see subprocess.Engine.RunCheck.
type Runner interface {
	RunCheck(cmd subprocess.Command, keep bool) (*secret.Buffer, error)
}

// Switcher enters the network namespace of a pid, see namespace.Switcher.
type Switcher interface {
	Enter(pid string) error
}

// Tools holds the resolved paths of the external programs.
type Tools struct {
	WG string
	IP string
}

type Config struct {
	Runner   Runner
	Switcher Switcher
	Tools    Tools
	// Prefix starts every derived device name.
	Prefix string
	// Stdout receives the public key of a created endpoint.
	Stdout io.Writer
	// Stderr receives operator diagnostics.
	Stderr io.Writer
	Logger *slog.Logger
}

// Provisioner runs one transaction per process. After a namespace switch the
// calling goroutine stays in that namespace.
type Provisioner struct {
	runner   Runner
	switcher Switcher
	tools    Tools
	prefix   string
	stdout   io.Writer
	stderr   io.Writer
	logger   *slog.Logger
}

func New(config Config) *Provisioner {
	stdout, stderr := config.Stdout, config.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		runner:   config.Runner,
		switcher: config.Switcher,
		tools:    config.Tools,
		prefix:   config.Prefix,
		stdout:   stdout,
		stderr:   stderr,
		logger:   logger,
	}
}

func (p *Provisioner) ip(args ...string) subprocess.Command {
	return subprocess.Command{Path: p.tools.IP, Args: append([]string{p.tools.IP}, args...)}
}

func (p *Provisioner) wg(args ...string) subprocess.Command {
	return subprocess.Command{Path: p.tools.WG, Args: append([]string{p.tools.WG}, args...)}
}

// wgWithKey feeds key to wg on stdin, keeping it out of argv.
func (p *Provisioner) wgWithKey(key []byte, args ...string) subprocess.Command {
	cmd := p.wg(args...)
	cmd.Input = key
	return cmd
}

// run runs cmd and discards its output.
func (p *Provisioner) run(cmd subprocess.Command) error {
	_, err := p.runner.RunCheck(cmd, false)
	return err
}
