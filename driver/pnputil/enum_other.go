//go:build !windows

package pnputil

import "github.com/justapithecus/winusb/driver"

func enumerateUSB() ([]deviceProperties, error) {
	return nil, driver.ErrUnsupported
}
