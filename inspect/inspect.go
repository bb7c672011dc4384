// Package inspect reports the WireGuard endpoints inside a network namespace
// without changing anything.
package inspect

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/coder/cwg/privilege"
	"github.com/coder/cwg/provision"
	"github.com/coder/cwg/secret"
	"github.com/coder/cwg/tunnel"
	"github.com/coder/cwg/validate"
)

const SynopsisStatus = "status <pid>"

// Broker raises a capability on the calling thread, see privilege.Broker.
type Broker interface {
	Acquire(c privilege.Capability) (release func() error, err error)
}

// Switcher enters the network namespace of a pid, see namespace.Switcher.
type Switcher interface {
	Enter(pid string) error
}

// Client is the subset of wgctrl.Client used for device details.
type Client interface {
	Device(name string) (*wgtypes.Device, error)
	Close() error
}

type Device struct {
	Name string
	Up   bool
	// Endpoint is set when Name was derived from a network and host number.
	Endpoint  *tunnel.Endpoint
	Addresses []string

	ListenPort int
	PublicKey  string
	Peers      []Peer
	// Unavailable explains why the WireGuard details are missing.
	Unavailable error
}

type Peer struct {
	PublicKey     string
	Endpoint      string
	AllowedIPs    []string
	LastHandshake time.Time
}

type Config struct {
	Broker   Broker
	Switcher Switcher
	Prefix   string
	Stdout   io.Writer
	Logger   *slog.Logger
	// Dial opens the WireGuard control client. Defaults to wgctrl.
	Dial func() (Client, error)
}

type Inspector struct {
	broker   Broker
	switcher Switcher
	prefix   string
	stdout   io.Writer
	logger   *slog.Logger
	dial     func() (Client, error)
}

func New(config Config) *Inspector {
	stdout := config.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dial := config.Dial
	if dial == nil {
		dial = dialWireGuard
	}
	return &Inspector{
		broker:   config.Broker,
		switcher: config.Switcher,
		prefix:   config.Prefix,
		stdout:   stdout,
		logger:   logger,
		dial:     dial,
	}
}

// Status enters the namespace of <pid> and prints one block per endpoint.
func (i *Inspector) Status(args []string) error {
	if len(args) != 1 {
		return &provision.UsageError{Msg: "Incorrect number of command line arguments", Usage: SynopsisStatus}
	}
	pid := args[0]
	if !validate.IsNumber(7, pid) {
		return &provision.UsageError{Msg: "Invalid network namespace PID", Usage: SynopsisStatus}
	}

	if err := i.switcher.Enter(pid); err != nil {
		return fmt.Errorf("entering namespace: %w", err)
	}
	devices, err := i.links()
	if err != nil {
		return err
	}
	i.describe(devices)
	return Render(i.stdout, devices)
}

// describe fills in the WireGuard details of every device. A failure is
// recorded per device instead of failing the report.
func (i *Inspector) describe(devices []Device) {
	if len(devices) == 0 {
		return
	}
	unavailable := func(err error) {
		for idx := range devices {
			devices[idx].Unavailable = err
		}
	}

	release, err := i.broker.Acquire(privilege.NetAdmin)
	if err != nil {
		unavailable(err)
		return
	}
	defer func() {
		if err := release(); err != nil {
			i.logger.Error("failed to release capability", "capability", privilege.NetAdmin, "error", err)
		}
	}()

	client, err := i.dial()
	if err != nil {
		unavailable(fmt.Errorf("failed to open wireguard control: %w", err))
		return
	}
	defer client.Close()

	for idx := range devices {
		d := &devices[idx]
		wg, err := client.Device(d.Name)
		if err != nil {
			d.Unavailable = err
			continue
		}
		fill(d, wg)
	}
}

// fill copies the public parts of wg into d and wipes the private ones.
func fill(d *Device, wg *wgtypes.Device) {
	secret.Zero(wg.PrivateKey[:])

	d.ListenPort = wg.ListenPort
	d.PublicKey = wg.PublicKey.String()
	for idx := range wg.Peers {
		p := &wg.Peers[idx]
		secret.Zero(p.PresharedKey[:])

		peer := Peer{
			PublicKey:     p.PublicKey.String(),
			LastHandshake: p.LastHandshakeTime,
		}
		if p.Endpoint != nil {
			peer.Endpoint = p.Endpoint.String()
		}
		for _, ipn := range p.AllowedIPs {
			peer.AllowedIPs = append(peer.AllowedIPs, ipn.String())
		}
		d.Peers = append(d.Peers, peer)
	}
}

func Render(w io.Writer, devices []Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no endpoints")
		return err
	}
	for _, d := range devices {
		state := "down"
		if d.Up {
			state = "up"
		}
		fmt.Fprintf(w, "%s: %s\n", d.Name, state)
		if d.Endpoint != nil {
			fmt.Fprintf(w, "  network: %s (host %d)\n", d.Endpoint.Network(), d.Endpoint.Host)
		}
		for _, a := range d.Addresses {
			fmt.Fprintf(w, "  address: %s\n", a)
		}
		if d.Unavailable != nil {
			fmt.Fprintf(w, "  wireguard: unavailable: %v\n", d.Unavailable)
			continue
		}
		fmt.Fprintf(w, "  listen port: %d\n", d.ListenPort)
		fmt.Fprintf(w, "  public key: %s\n", d.PublicKey)
		for _, p := range d.Peers {
			fmt.Fprintf(w, "  peer: %s\n", p.PublicKey)
			if p.Endpoint != "" {
				fmt.Fprintf(w, "    endpoint: %s\n", p.Endpoint)
			}
			for _, ip := range p.AllowedIPs {
				fmt.Fprintf(w, "    allowed ip: %s\n", ip)
			}
			if !p.LastHandshake.IsZero() {
				fmt.Fprintf(w, "    latest handshake: %s\n", p.LastHandshake.UTC().Format(time.RFC3339))
			}
		}
	}
	return nil
}
