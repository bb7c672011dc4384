// Package privilege brackets Linux capabilities around the individual
// syscalls that need them and fixes the capability set inherited by the
// external tools cwg executes.
package privilege

import (
	"fmt"
	"log/slog"

	"github.com/syndtr/gocapability/capability"
)

// Capability is a Linux capability the broker can raise.
type Capability capability.Cap

const (
	NetAdmin  = Capability(capability.CAP_NET_ADMIN)
	SysAdmin  = Capability(capability.CAP_SYS_ADMIN)
	SysPtrace = Capability(capability.CAP_SYS_PTRACE)
	IPCLock   = Capability(capability.CAP_IPC_LOCK)
)

// Required lists every capability cwg needs in its permitted set.
var Required = []Capability{NetAdmin, SysAdmin, SysPtrace, IPCLock}

func (c Capability) String() string {
	return "cap_" + capability.Cap(c).String()
}

// MemoryLock selects what LockMemory pins at startup. Secret buffers lock
// their own pages in every mode.
type MemoryLock string

const (
	// MemoryLockBuffers locks nothing beyond the secret buffers.
	MemoryLockBuffers MemoryLock = "buffers"
	// MemoryLockCurrent also locks every page mapped at startup.
	MemoryLockCurrent MemoryLock = "current"
	// MemoryLockAll also locks every page mapped later.
	MemoryLockAll MemoryLock = "all"

	DefaultMemoryLock = MemoryLockBuffers
)

func ParseMemoryLock(str string) (MemoryLock, error) {
	switch MemoryLock(str) {
	case MemoryLockBuffers, MemoryLockCurrent, MemoryLockAll:
		return MemoryLock(str), nil
	default:
		return DefaultMemoryLock, fmt.Errorf("invalid memory lock mode: %q (want buffers, current or all)", str)
	}
}

// Broker hands out capability guards for the calling thread.
type Broker struct {
	logger  *slog.Logger
	ambient []uintptr
	load    func() (capability.Capabilities, error)
	// memlockLimit reports the soft RLIMIT_MEMLOCK.
	memlockLimit func() (uint64, error)
}

// NewBroker returns a broker whose children inherit only CAP_NET_ADMIN.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:       logger,
		ambient:      []uintptr{uintptr(NetAdmin)},
		load:         loadThreadCaps,
		memlockLimit: memlockLimit,
	}
}

// AmbientCaps returns the ambient set for exec'd children. It never includes
// the capabilities the parent only needs transiently.
func (b *Broker) AmbientCaps() []uintptr {
	return append([]uintptr(nil), b.ambient...)
}

func loadThreadCaps() (capability.Capabilities, error) {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return nil, fmt.Errorf("failed to init capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return nil, fmt.Errorf("failed to load capabilities: %w", err)
	}
	return caps, nil
}
