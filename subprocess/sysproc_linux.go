//go:build linux

package subprocess

import "syscall"

// sysProcAttr raises ambient in the child between fork and exec. The runtime
// adds each capability to the child's permitted and inheritable sets first.
func sysProcAttr(ambient []uintptr) *syscall.SysProcAttr {
	if len(ambient) == 0 {
		return nil
	}
	return &syscall.SysProcAttr{AmbientCaps: ambient}
}
