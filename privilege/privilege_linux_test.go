//go:build linux

package privilege

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/gocapability/capability"
)

// fakeCaps records capability changes instead of calling capset. Methods the
// broker never uses are left to the embedded nil interface.
type fakeCaps struct {
	capability.Capabilities
	sets     map[capability.CapType]map[capability.Cap]bool
	applied  []map[capability.Cap]bool
	applyErr error
}

func newFakeCaps(permitted ...Capability) *fakeCaps {
	f := &fakeCaps{sets: map[capability.CapType]map[capability.Cap]bool{
		capability.EFFECTIVE: {},
		capability.PERMITTED: {},
	}}
	for _, c := range permitted {
		f.sets[capability.PERMITTED][capability.Cap(c)] = true
	}
	return f
}

func (f *fakeCaps) Get(which capability.CapType, what capability.Cap) bool {
	return f.sets[which][what]
}

func (f *fakeCaps) Set(which capability.CapType, caps ...capability.Cap) {
	f.change(which, true, caps)
}

func (f *fakeCaps) Unset(which capability.CapType, caps ...capability.Cap) {
	f.change(which, false, caps)
}

func (f *fakeCaps) change(which capability.CapType, on bool, caps []capability.Cap) {
	for _, t := range []capability.CapType{capability.EFFECTIVE, capability.PERMITTED} {
		if which&t == 0 {
			continue
		}
		for _, c := range caps {
			f.sets[t][c] = on
		}
	}
}

func (f *fakeCaps) Apply(kind capability.CapType) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	effective := map[capability.Cap]bool{}
	for c, on := range f.sets[capability.EFFECTIVE] {
		effective[c] = on
	}
	f.applied = append(f.applied, effective)
	return nil
}

func newTestBroker(caps *fakeCaps) *Broker {
	b := NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.load = func() (capability.Capabilities, error) { return caps, nil }
	return b
}

func TestAmbientCapsIsMinimal(t *testing.T) {
	b := NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Equal(t, []uintptr{uintptr(capability.CAP_NET_ADMIN)}, b.AmbientCaps())

	// callers cannot widen the set through the returned slice
	caps := b.AmbientCaps()
	caps[0] = uintptr(capability.CAP_SYS_ADMIN)
	require.Equal(t, []uintptr{uintptr(capability.CAP_NET_ADMIN)}, b.AmbientCaps())
}

func TestAcquireRelease(t *testing.T) {
	caps := newFakeCaps(SysPtrace)
	b := newTestBroker(caps)

	release, err := b.Acquire(SysPtrace)
	require.NoError(t, err)
	require.True(t, caps.Get(capability.EFFECTIVE, capability.CAP_SYS_PTRACE))

	require.NoError(t, release())
	require.False(t, caps.Get(capability.EFFECTIVE, capability.CAP_SYS_PTRACE))
	require.False(t, caps.Get(capability.PERMITTED, capability.CAP_SYS_PTRACE))
	require.Len(t, caps.applied, 2)

	// a second release is a no-op
	require.NoError(t, release())
	require.Len(t, caps.applied, 2)
}

func TestAcquireNotPermitted(t *testing.T) {
	caps := newFakeCaps(NetAdmin)
	b := newTestBroker(caps)

	_, err := b.Acquire(SysAdmin)
	require.ErrorContains(t, err, "cap_sys_admin")
	require.Empty(t, caps.applied)
}

func TestAcquireApplyFailure(t *testing.T) {
	caps := newFakeCaps(SysAdmin)
	caps.applyErr = errors.New("operation not permitted")
	b := newTestBroker(caps)

	_, err := b.Acquire(SysAdmin)
	require.ErrorContains(t, err, "failed to enable cap_sys_admin")
}

func TestWithReleasesOnEveryPath(t *testing.T) {
	tcs := []struct {
		name   string
		fnErr  error
		expect string
	}{
		{name: "success"},
		{name: "guarded call fails", fnErr: errors.New("setns: invalid argument"), expect: "setns"},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			caps := newFakeCaps(SysAdmin)
			b := newTestBroker(caps)

			var raisedDuringCall bool
			err := b.With(SysAdmin, func() error {
				raisedDuringCall = caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN)
				return tc.fnErr
			})
			if tc.expect == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tc.expect)
			}
			require.True(t, raisedDuringCall)
			require.False(t, caps.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN))
		})
	}
}

func TestWithNeverHoldsTwoCapabilities(t *testing.T) {
	caps := newFakeCaps(SysPtrace, SysAdmin)
	b := newTestBroker(caps)

	require.NoError(t, b.With(SysPtrace, func() error { return nil }))
	require.NoError(t, b.With(SysAdmin, func() error { return nil }))

	for _, effective := range caps.applied {
		var raised int
		for _, on := range effective {
			if on {
				raised++
			}
		}
		require.LessOrEqual(t, raised, 1)
	}
}

func TestPreflight(t *testing.T) {
	b := newTestBroker(newFakeCaps(Required...))
	require.NoError(t, b.Preflight())

	b = newTestBroker(newFakeCaps(NetAdmin, IPCLock))
	err := b.Preflight()
	require.ErrorContains(t, err, "cap_sys_admin")
	require.ErrorContains(t, err, "cap_sys_ptrace")
	require.NotContains(t, err.Error(), "cap_net_admin")
}

func TestLockMemoryBuffers(t *testing.T) {
	caps := newFakeCaps()
	b := newTestBroker(caps)
	b.memlockLimit = func() (uint64, error) {
		t.Fatal("limit consulted for buffers mode")
		return 0, nil
	}
	require.NoError(t, b.LockMemory(DefaultMemoryLock))
	require.Empty(t, caps.applied)
}

func TestLockMemoryNeedsUnlimitedLimit(t *testing.T) {
	tcs := []struct {
		name string
		mode MemoryLock
	}{
		{name: "current", mode: MemoryLockCurrent},
		{name: "all", mode: MemoryLockAll},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			caps := newFakeCaps(IPCLock)
			b := newTestBroker(caps)
			b.memlockLimit = func() (uint64, error) { return 8 << 20, nil }

			err := b.LockMemory(tc.mode)
			require.ErrorContains(t, err, "needs an unlimited RLIMIT_MEMLOCK")
			require.Empty(t, caps.applied)
		})
	}
}

func TestLockMemoryWithoutCapability(t *testing.T) {
	b := newTestBroker(newFakeCaps())
	b.memlockLimit = func() (uint64, error) { return rlimInfinity, nil }
	require.ErrorContains(t, b.LockMemory(MemoryLockAll), "failed to lock memory")
}

func TestParseMemoryLock(t *testing.T) {
	for _, s := range []string{"buffers", "current", "all"} {
		mode, err := ParseMemoryLock(s)
		require.NoError(t, err)
		require.Equal(t, MemoryLock(s), mode)
	}
	_, err := ParseMemoryLock("off")
	require.Error(t, err)
}
