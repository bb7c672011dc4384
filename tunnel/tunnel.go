// Package tunnel derives device names and addresses for point-to-point
// WireGuard links.
//
// Network n owns the /31 10.0.0.0 | n<<1, and its two ends are hosts 0 and 1.
package tunnel

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

const (
	// MaxNet is the largest network number that fits in 10.0.0.0/8.
	MaxNet = 1<<23 - 1
	// MaxHost is the larger of the two host numbers on a /31.
	MaxHost = 1

	base = 10 << 24
)

// Endpoint is one end of a point-to-point link.
type Endpoint struct {
	Net  uint32
	Host uint32
}

// NewEndpoint range checks net and host.
func NewEndpoint(net, host uint32) (Endpoint, error) {
	if net > MaxNet {
		return Endpoint{}, fmt.Errorf("network number out of range [0, %d]", MaxNet)
	}
	if host > MaxHost {
		return Endpoint{}, fmt.Errorf("host number must be 0 or 1")
	}
	return Endpoint{Net: net, Host: host}, nil
}

// DeviceName returns <prefix>-<net>-<host>.
func (e Endpoint) DeviceName(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, e.Net, e.Host)
}

// ParseDeviceName recovers the endpoint from a name built by DeviceName.
func ParseDeviceName(prefix, name string) (Endpoint, bool) {
	rest, ok := strings.CutPrefix(name, prefix+"-")
	if !ok {
		return Endpoint{}, false
	}
	netStr, hostStr, ok := strings.Cut(rest, "-")
	if !ok {
		return Endpoint{}, false
	}
	net, err := strconv.ParseUint(netStr, 10, 32)
	if err != nil {
		return Endpoint{}, false
	}
	host, err := strconv.ParseUint(hostStr, 10, 32)
	if err != nil {
		return Endpoint{}, false
	}
	e, err := NewEndpoint(uint32(net), uint32(host))
	if err != nil || e.DeviceName(prefix) != name {
		return Endpoint{}, false
	}
	return e, true
}

// Address is this end's address.
func (e Endpoint) Address() netip.Addr {
	return addr4(base | e.Net<<1 | e.Host)
}

// Network is the /31 both ends share.
func (e Endpoint) Network() netip.Prefix {
	return netip.PrefixFrom(addr4(base|e.Net<<1), 31)
}

// Peer is the other end of the link.
func (e Endpoint) Peer() Endpoint {
	return Endpoint{Net: e.Net, Host: e.Host ^ 1}
}

func addr4(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// MaxDeviceName is the longest name the kernel accepts (IFNAMSIZ - 1).
const MaxDeviceName = 15

// CheckPrefix reports whether every device name derived from prefix fits.
func CheckPrefix(prefix string) error {
	longest := Endpoint{Net: MaxNet, Host: MaxHost}.DeviceName(prefix)
	if len(longest) > MaxDeviceName {
		return fmt.Errorf("device prefix %q too long: %q exceeds %d bytes", prefix, longest, MaxDeviceName)
	}
	return nil
}
