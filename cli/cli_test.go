package cli

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/coder/serpent"
	"github.com/stretchr/testify/require"
)

// MockPTY provides a simple mock for PTY-like testing
// This is a simplified version inspired by coder/coder's ptytest.
type MockPTY struct {
	t      *testing.T
	stdout strings.Builder
	stderr strings.Builder
}

// NewMockPTY creates a new mock PTY for testing
func NewMockPTY(t *testing.T) *MockPTY {
	return &MockPTY{t: t}
}

func (m *MockPTY) Attach(inv *serpent.Invocation) {
	inv.Stdout = &m.stdout
	inv.Stderr = &m.stderr
}

func (m *MockPTY) Stdout() string {
	return m.stdout.String()
}

func (m *MockPTY) Stderr() string {
	return m.stderr.String()
}

func (m *MockPTY) ExpectMatch(content string) {
	if !strings.Contains(m.stdout.String(), content) {
		m.t.Fatalf("expected \"%s\", got: %s", content, m.stdout.String())
	}
}

func (m *MockPTY) ExpectError(content string) {
	if !strings.Contains(m.stderr.String(), content) {
		m.t.Fatalf("expected error with \"%s\", got: %s", content, m.stderr.String())
	}
}

func (m *MockPTY) RequireNoError() {
	if m.stderr.String() != "" {
		m.t.Fatalf("expected nothing in stderr, but got: %s", m.stderr.String())
	}
}

// isolateConfig keeps the developer's own config files out of the test and
// stands in /bin/sh for the tools, which validation never reaches.
func isolateConfig(t *testing.T) {
	t.Helper()
	useSystemConfig(t, "wg_path: /bin/sh\nip_path: /bin/sh\n")
}

func TestPtySetupWorks(t *testing.T) {
	cmd := NewCommand()
	inv := cmd.Invoke("--help")

	pty := NewMockPTY(t)
	pty.Attach(inv)

	if err := inv.Run(); err != nil {
		t.Fatalf("could not run with simple --help arg: %v", err)
	}

	pty.RequireNoError()
	pty.ExpectMatch("Provision WireGuard endpoints inside container network namespaces")
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand()

	var flags []string
	for _, opt := range cmd.Options {
		flags = append(flags, opt.Flag)
		require.True(t, strings.HasPrefix(opt.Env, "CWG_"), "option %s", opt.Name)
	}
	require.ElementsMatch(t, []string{
		"config", "log-level", "memory-lock", "otlp-endpoint",
	}, flags)

	var children []string
	for _, child := range cmd.Children {
		children = append(children, child.Name())
	}
	require.Equal(t, []string{"create", "connect", "destroy", "device-create", "add-peer", "status"}, children)
}

func TestNoCommand(t *testing.T) {
	inv := NewCommand().Invoke()
	pty := NewMockPTY(t)
	pty.Attach(inv)

	err := inv.Run()
	require.ErrorIs(t, err, ErrReported)
	pty.ExpectError("Usage: cwg <command> <arguments>")
	pty.ExpectError("cwg create <pid> <net> <host> <port>")
	pty.ExpectError("cwg status <pid>")
}

func TestUnknownCommand(t *testing.T) {
	inv := NewCommand().Invoke("frobnicate")
	pty := NewMockPTY(t)
	pty.Attach(inv)

	err := inv.Run()
	require.ErrorIs(t, err, ErrReported)
	pty.ExpectError("Unknown command frobnicate\n")
}

func TestUsageErrors(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("cwg is only supported on Linux")
	}

	tcs := []struct {
		name   string
		args   []string
		expect string
	}{
		{
			name:   "create arg count",
			args:   []string{"create", "1234", "5", "0"},
			expect: "Incorrect number of command line arguments\nUsage: cwg create <pid> <net> <host> <port>\n",
		},
		{
			name:   "connect endpoint",
			args:   []string{"connect", "1234", "5", "0", "nowhere", "key"},
			expect: "Invalid endpoint\nUsage: cwg connect <pid> <net> <host> <endpoint> <key>\n",
		},
		{
			name:   "destroy host",
			args:   []string{"destroy", "1234", "5", "2"},
			expect: "Host number must be 0 or 1\nUsage: cwg destroy <pid> <net> <host>\n",
		},
		{
			name:   "status pid",
			args:   []string{"status", "self"},
			expect: "Invalid network namespace PID\nUsage: cwg status <pid>\n",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			isolateConfig(t)
			inv := NewCommand().Invoke(tc.args...)
			pty := NewMockPTY(t)
			pty.Attach(inv)

			err := inv.Run()
			require.ErrorIs(t, err, ErrReported)
			pty.ExpectError(tc.expect)
			require.Empty(t, pty.Stdout())
		})
	}
}

func TestInvalidConfiguration(t *testing.T) {
	tcs := []struct {
		name   string
		system string
		user   string
		expect string
	}{
		{
			name:   "prefix",
			system: "device_prefix: tunnel\nwg_path: /bin/sh\nip_path: /bin/sh\n",
			expect: `device prefix "tunnel" too long`,
		},
		{
			name:   "memory lock",
			system: "memory_lock: sometimes\nwg_path: /bin/sh\nip_path: /bin/sh\n",
			expect: "invalid memory lock mode",
		},
		{
			name:   "log level",
			system: "log_level: loud\nwg_path: /bin/sh\nip_path: /bin/sh\n",
			expect: `invalid log level: "loud"`,
		},
		{
			name:   "log file",
			system: "log_dir: /tmp/cwg\nwg_path: /bin/sh\nip_path: /bin/sh\n",
			expect: "failed to parse YAML",
		},
		{
			name:   "unknown key",
			system: "allowlist: []\n",
			expect: "failed to parse YAML",
		},
		{
			name:   "tool in user config",
			system: "wg_path: /bin/sh\nip_path: /bin/sh\n",
			user:   "wg_path: /tmp/wg\n",
			expect: "may only be set in",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			useSystemConfig(t, tc.system)
			if tc.user != "" {
				writeFile(t, filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "cwg", "config.yaml"), tc.user)
			}

			inv := NewCommand().Invoke("destroy", "1", "2", "0")
			pty := NewMockPTY(t)
			pty.Attach(inv)

			err := inv.Run()
			require.Error(t, err)
			require.False(t, errors.Is(err, ErrReported))
			require.ErrorContains(t, err, tc.expect)
		})
	}
}
