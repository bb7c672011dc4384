//go:build !linux

package privilege

import (
	"fmt"
	"runtime"
)

func unsupported() error {
	return fmt.Errorf("cwg is only supported on Linux, current platform: %s", runtime.GOOS)
}

func (b *Broker) Acquire(c Capability) (func() error, error) { return nil, unsupported() }

func (b *Broker) With(c Capability, fn func() error) error { return unsupported() }

func (b *Broker) LockMemory(mode MemoryLock) error { return unsupported() }

func (b *Broker) Preflight() error { return unsupported() }

func memlockLimit() (uint64, error) { return 0, unsupported() }
