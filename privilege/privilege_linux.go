//go:build linux

package privilege

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"
)

// Acquire raises c in the effective set of the calling thread. The returned
// release clears c from the effective and permitted sets again and must run
// on every path out of the guarded region. Once released, c cannot be raised
// again on that thread.
//
// The goroutine stays locked to its thread until release so that both halves
// of the bracket act on the same thread.
func (b *Broker) Acquire(c Capability) (release func() error, err error) {
	runtime.LockOSThread()

	caps, err := b.load()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	if !caps.Get(capability.PERMITTED, capability.Cap(c)) {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("failed to enable %s: not in the permitted set", c)
	}

	caps.Set(capability.EFFECTIVE|capability.PERMITTED, capability.Cap(c))
	if err := caps.Apply(capability.CAPS); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("failed to enable %s: %w", c, err)
	}
	b.logger.Debug("capability raised", "capability", c.String())

	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		defer runtime.UnlockOSThread()

		caps.Unset(capability.EFFECTIVE|capability.PERMITTED, capability.Cap(c))
		if err := caps.Apply(capability.CAPS); err != nil {
			return fmt.Errorf("failed to disable %s: %w", c, err)
		}
		b.logger.Debug("capability dropped", "capability", c.String())
		return nil
	}, nil
}

// With runs fn with c raised, and drops c again whatever fn returns.
func (b *Broker) With(c Capability, fn func() error) error {
	release, err := b.Acquire(c)
	if err != nil {
		return err
	}
	err = fn()
	if rerr := release(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

// LockMemory pins the process' pages so secrets cannot reach swap.
// CAP_IPC_LOCK is held for the mlockall call only.
//
// Once the capability is dropped, every later mlock is charged against
// RLIMIT_MEMLOCK together with everything mlockall pinned, and a Go process
// maps far more than the usual limit. current and all are therefore refused
// unless the limit is unlimited; otherwise the next secret buffer could not
// be allocated.
func (b *Broker) LockMemory(mode MemoryLock) error {
	var flags int
	switch mode {
	case MemoryLockBuffers:
		b.logger.Debug("only secret buffers are locked")
		return nil
	case MemoryLockCurrent:
		flags = unix.MCL_CURRENT
	case MemoryLockAll:
		flags = unix.MCL_CURRENT | unix.MCL_FUTURE
	default:
		return fmt.Errorf("invalid memory lock mode: %q", mode)
	}

	limit, err := b.memlockLimit()
	if err != nil {
		return fmt.Errorf("failed to read RLIMIT_MEMLOCK: %w", err)
	}
	if limit != rlimInfinity {
		return fmt.Errorf("memory lock mode %q needs an unlimited RLIMIT_MEMLOCK, have %d bytes (use %q)",
			mode, limit, MemoryLockBuffers)
	}

	err = b.With(IPCLock, func() error {
		return unix.Mlockall(flags)
	})
	if err != nil {
		return fmt.Errorf("failed to lock memory: %w", err)
	}
	b.logger.Debug("memory locked", "mode", string(mode))
	return nil
}

// rlimInfinity is RLIM_INFINITY as stored in Rlimit.Cur.
const rlimInfinity = ^uint64(0)

func memlockLimit() (uint64, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlim); err != nil {
		return 0, err
	}
	return rlim.Cur, nil
}

// Preflight reports the required capabilities missing from the permitted
// set of the calling thread.
func (b *Broker) Preflight() error {
	caps, err := b.load()
	if err != nil {
		return err
	}

	var missing []string
	for _, c := range Required {
		if !caps.Get(capability.PERMITTED, capability.Cap(c)) {
			missing = append(missing, c.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing permitted capabilities: %s (grant them with setcap %s+p)",
			strings.Join(missing, ", "), strings.Join(missing, ","))
	}
	return nil
}
