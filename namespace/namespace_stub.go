//go:build !linux

package namespace

import (
	"fmt"
	"runtime"
)

// Enter is not available on non-Linux platforms
func (s *Switcher) Enter(pid string) error {
	return fmt.Errorf("network namespaces are not supported on %s", runtime.GOOS)
}
