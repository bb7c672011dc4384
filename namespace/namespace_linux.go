//go:build linux

package namespace

import (
	"fmt"
	"runtime"

	"github.com/thediveo/ioctl"
	"golang.org/x/sys/unix"

	"github.com/coder/cwg/privilege"
	"github.com/coder/cwg/validate"
)

const _NSIO = 0xb7

// nsGetNSType returns the CLONE_NEW* type of the namespace an fd refers to.
var nsGetNSType = ioctl.IO(_NSIO, 0x3)

// Enter switches the calling thread into the network namespace of pid.
//
// The goroutine is locked to its thread and stays locked: cwg never switches
// back, and every child forked from this goroutine afterwards inherits the
// namespace. Callers must do all remaining network work from the same
// goroutine.
func (s *Switcher) Enter(pid string) error {
	if !validate.IsNumber(7, pid) {
		return fmt.Errorf("invalid network namespace pid %q", pid)
	}

	runtime.LockOSThread()

	path := s.Path(pid)
	fd := -1
	err := s.broker.With(privilege.SysPtrace, func() error {
		var err error
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to open network namespace %s: %w", path, err)
	}
	defer unix.Close(fd)

	// Kernels before 4.11 answer ENOTTY; setns still rejects a wrong type.
	if typ, err := unix.IoctlRetInt(fd, nsGetNSType); err == nil && typ != unix.CLONE_NEWNET {
		return fmt.Errorf("%s is not a network namespace", path)
	}

	err = s.broker.With(privilege.SysAdmin, func() error {
		return unix.Setns(fd, unix.CLONE_NEWNET)
	})
	if err != nil {
		return fmt.Errorf("failed to enter network namespace of pid %s: %w", pid, err)
	}

	s.logger.Debug("entered network namespace", "pid", pid, "path", path)
	return nil
}
