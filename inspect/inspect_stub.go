//go:build !linux

package inspect

import "errors"

func dialWireGuard() (Client, error) {
	return nil, errors.New("cwg is only supported on Linux")
}

func (i *Inspector) links() ([]Device, error) {
	return nil, errors.New("cwg is only supported on Linux")
}
