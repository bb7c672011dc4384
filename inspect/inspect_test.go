package inspect

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/coder/cwg/privilege"
	"github.com/coder/cwg/provision"
	"github.com/coder/cwg/tunnel"
)

type fakeBroker struct {
	err      error
	acquired []privilege.Capability
	released int
}

func (b *fakeBroker) Acquire(c privilege.Capability) (func() error, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.acquired = append(b.acquired, c)
	return func() error {
		b.released++
		return nil
	}, nil
}

type fakeSwitcher struct {
	pids []string
	err  error
}

func (s *fakeSwitcher) Enter(pid string) error {
	s.pids = append(s.pids, pid)
	return s.err
}

type fakeClient struct {
	devices map[string]*wgtypes.Device
	closed  bool
}

func (c *fakeClient) Device(name string) (*wgtypes.Device, error) {
	d, ok := c.devices[name]
	if !ok {
		return nil, errors.New("no such device")
	}
	return d, nil
}

func (c *fakeClient) Close() error {
	c.closed = true
	return nil
}

func mustKey(t *testing.T, s string) wgtypes.Key {
	t.Helper()
	k, err := wgtypes.ParseKey(s)
	require.NoError(t, err)
	return k
}

func TestDescribe(t *testing.T) {
	privateKey := mustKey(t, "yAnz5TF+lXXJte14tji3zlMNq+hd2rYUIgJBgB3fBmk=")
	publicKey := mustKey(t, "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=")
	peerKey := mustKey(t, "HIgo9xNzJMWLKASShiTqIybxZ0U3wGLiUeJ1PKf8ykw=")

	_, allowed, err := net.ParseCIDR("10.0.0.10/31")
	require.NoError(t, err)
	handshake := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	wg := &wgtypes.Device{
		Name:       "cwg-5-0",
		PrivateKey: privateKey,
		PublicKey:  publicKey,
		ListenPort: 51820,
		Peers: []wgtypes.Peer{{
			PublicKey:         peerKey,
			PresharedKey:      privateKey,
			Endpoint:          &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 51820},
			AllowedIPs:        []net.IPNet{*allowed},
			LastHandshakeTime: handshake,
		}},
	}
	client := &fakeClient{devices: map[string]*wgtypes.Device{"cwg-5-0": wg}}
	broker := &fakeBroker{}
	i := New(Config{
		Broker: broker,
		Prefix: "cwg",
		Dial:   func() (Client, error) { return client, nil },
	})

	devices := []Device{{Name: "cwg-5-0", Up: true}, {Name: "cwg-6-1"}}
	i.describe(devices)

	require.Equal(t, []privilege.Capability{privilege.NetAdmin}, broker.acquired)
	require.Equal(t, 1, broker.released)
	require.True(t, client.closed)

	require.Equal(t, wgtypes.Key{}, wg.PrivateKey)
	require.Equal(t, wgtypes.Key{}, wg.Peers[0].PresharedKey)

	d := devices[0]
	require.NoError(t, d.Unavailable)
	require.Equal(t, 51820, d.ListenPort)
	require.Equal(t, publicKey.String(), d.PublicKey)
	require.Equal(t, []Peer{{
		PublicKey:     peerKey.String(),
		Endpoint:      "192.0.2.1:51820",
		AllowedIPs:    []string{"10.0.0.10/31"},
		LastHandshake: handshake,
	}}, d.Peers)

	require.ErrorContains(t, devices[1].Unavailable, "no such device")
}

func TestDescribeUnavailable(t *testing.T) {
	tcs := []struct {
		name      string
		brokerErr error
		dialErr   error
		expect    string
	}{
		{name: "capability", brokerErr: errors.New("cap_net_admin not permitted"), expect: "cap_net_admin not permitted"},
		{name: "dial", dialErr: errors.New("protocol not supported"), expect: "failed to open wireguard control: protocol not supported"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			broker := &fakeBroker{err: tc.brokerErr}
			i := New(Config{
				Broker: broker,
				Dial:   func() (Client, error) { return nil, tc.dialErr },
			})
			devices := []Device{{Name: "cwg-0-0"}, {Name: "cwg-0-1"}}
			i.describe(devices)
			for _, d := range devices {
				require.ErrorContains(t, d.Unavailable, tc.expect)
			}
			require.Equal(t, len(broker.acquired), broker.released)
		})
	}
}

func TestDescribeNoDevicesSkipsCapability(t *testing.T) {
	broker := &fakeBroker{}
	i := New(Config{Broker: broker})
	i.describe(nil)
	require.Empty(t, broker.acquired)
}

func TestRender(t *testing.T) {
	e := tunnel.Endpoint{Net: 5, Host: 0}
	devices := []Device{
		{
			Name:       "cwg-5-0",
			Up:         true,
			Endpoint:   &e,
			Addresses:  []string{"10.0.0.10/32"},
			ListenPort: 51820,
			PublicKey:  "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=",
			Peers: []Peer{{
				PublicKey:     "HIgo9xNzJMWLKASShiTqIybxZ0U3wGLiUeJ1PKf8ykw=",
				Endpoint:      "192.0.2.1:51820",
				AllowedIPs:    []string{"10.0.0.10/31"},
				LastHandshake: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
			}},
		},
		{
			Name:        "cwg-7-1",
			Unavailable: errors.New("operation not permitted"),
		},
	}

	var out bytes.Buffer
	require.NoError(t, Render(&out, devices))
	require.Equal(t, `cwg-5-0: up
  network: 10.0.0.10/31 (host 0)
  address: 10.0.0.10/32
  listen port: 51820
  public key: xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=
  peer: HIgo9xNzJMWLKASShiTqIybxZ0U3wGLiUeJ1PKf8ykw=
    endpoint: 192.0.2.1:51820
    allowed ip: 10.0.0.10/31
    latest handshake: 2026-10-01T12:00:00Z
cwg-7-1: down
  wireguard: unavailable: operation not permitted
`, out.String())

	out.Reset()
	require.NoError(t, Render(&out, nil))
	require.Equal(t, "no endpoints\n", out.String())
}

func TestStatusUsage(t *testing.T) {
	tcs := []struct {
		name string
		args []string
		msg  string
	}{
		{name: "no args", args: nil, msg: "Incorrect number of command line arguments"},
		{name: "two args", args: []string{"1", "2"}, msg: "Incorrect number of command line arguments"},
		{name: "bad pid", args: []string{"self"}, msg: "Invalid network namespace PID"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			switcher := &fakeSwitcher{}
			i := New(Config{Broker: &fakeBroker{}, Switcher: switcher})
			err := i.Status(tc.args)
			var usageErr *provision.UsageError
			require.ErrorAs(t, err, &usageErr)
			require.Equal(t, tc.msg, usageErr.Msg)
			require.Equal(t, SynopsisStatus, usageErr.Usage)
			require.Empty(t, switcher.pids)
		})
	}
}

func TestStatusNamespaceFailure(t *testing.T) {
	switcher := &fakeSwitcher{err: errors.New("no such process")}
	var out bytes.Buffer
	i := New(Config{Broker: &fakeBroker{}, Switcher: switcher, Stdout: &out})

	err := i.Status([]string{"1234"})
	require.ErrorContains(t, err, "entering namespace: no such process")
	require.Equal(t, []string{"1234"}, switcher.pids)
	require.Empty(t, out.String())
}
