//go:build !linux

package subprocess

import "syscall"

func sysProcAttr(ambient []uintptr) *syscall.SysProcAttr {
	return nil
}
