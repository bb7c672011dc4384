package provision

import (
	"fmt"
	"net/netip"
	"strconv"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/coder/cwg/tunnel"
	"github.com/coder/cwg/validate"
)

// UsageError rejects an invocation before anything on the system changed.
type UsageError struct {
	Msg   string
	Usage string
}

func (e *UsageError) Error() string { return e.Msg }

func usage(synopsis, format string, a ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, a...), Usage: synopsis}
}

func checkArgCount(args []string, want int, synopsis string) error {
	if len(args) != want {
		return usage(synopsis, "Incorrect number of command line arguments")
	}
	return nil
}

// target is the namespace and link end every container command acts on.
type target struct {
	pid      string
	endpoint tunnel.Endpoint
}

// parseTarget checks syntax first, then ranges.
func parseTarget(pid, net, host, synopsis string) (target, error) {
	if !validate.IsNumber(7, pid) {
		return target{}, usage(synopsis, "Invalid network namespace PID")
	}

	if !validate.IsNumber(7, net) {
		return target{}, usage(synopsis, "Invalid network number")
	}
	n, err := strconv.ParseUint(net, 10, 32)
	if err != nil || n > tunnel.MaxNet {
		return target{}, usage(synopsis, "Network number out of range [0, %d]", tunnel.MaxNet)
	}

	if !validate.IsNumber(1, host) {
		return target{}, usage(synopsis, "Invalid host number")
	}
	h := uint32(host[0] - '0')
	if h > tunnel.MaxHost {
		return target{}, usage(synopsis, "Host number must be 0 or 1")
	}

	return target{pid: pid, endpoint: tunnel.Endpoint{Net: uint32(n), Host: h}}, nil
}

func parsePort(port, synopsis string) (string, error) {
	if !validate.IsNumber(5, port) {
		return "", usage(synopsis, "Invalid listen port")
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", usage(synopsis, "Port number out of range [1, 65535]")
	}
	return port, nil
}

// parseEndpoint accepts ipv4:port. Octets and port are range checked after
// the grammar.
func parseEndpoint(endpoint, synopsis string) (string, error) {
	if !validate.IsEndpoint(endpoint) {
		return "", usage(synopsis, "Invalid endpoint")
	}
	ap, err := netip.ParseAddrPort(endpoint)
	if err != nil || ap.Port() == 0 {
		return "", usage(synopsis, "Endpoint out of range")
	}
	return endpoint, nil
}

func parseKey(key, synopsis string) (string, error) {
	if !validate.IsKey(key) {
		return "", usage(synopsis, "Invalid key")
	}
	if _, err := wgtypes.ParseKey(key); err != nil {
		return "", usage(synopsis, "Invalid key")
	}
	return key, nil
}

func parseDevice(dev, synopsis string) (string, error) {
	if !validate.IsDeviceName(dev) || len(dev) > tunnel.MaxDeviceName {
		return "", usage(synopsis, "Invalid device name")
	}
	return dev, nil
}

func parseNetwork(network, synopsis string) (string, error) {
	if !validate.IsNetwork(network) {
		return "", usage(synopsis, "Invalid VPN IP/netmask")
	}
	if _, err := netip.ParsePrefix(network); err != nil {
		return "", usage(synopsis, "VPN IP/netmask out of range")
	}
	return network, nil
}
