//go:build linux

package inspect

import (
	"fmt"
	"net"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl"

	"github.com/coder/cwg/tunnel"
)

func dialWireGuard() (Client, error) {
	c, err := wgctrl.New()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// links lists the WireGuard links carrying the device prefix in the current
// network namespace.
func (i *Inspector) links() ([]Device, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	var devices []Device
	for _, link := range links {
		attrs := link.Attrs()
		if link.Type() != "wireguard" || !strings.HasPrefix(attrs.Name, i.prefix+"-") {
			continue
		}
		d := Device{Name: attrs.Name, Up: attrs.Flags&net.FlagUp != 0}
		if e, ok := tunnel.ParseDeviceName(i.prefix, attrs.Name); ok {
			d.Endpoint = &e
		}

		addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			return nil, fmt.Errorf("failed to list addresses of %s: %w", attrs.Name, err)
		}
		for _, a := range addrs {
			d.Addresses = append(d.Addresses, a.IPNet.String())
		}

		i.logger.Debug("found endpoint", "device", d.Name, "up", d.Up)
		devices = append(devices, d)
	}
	return devices, nil
}
