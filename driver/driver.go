// Package driver defines the driver-installation backend the elevated
// worker drives, plus the device filters and the sequential install loop
// shared by every backend.
package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/winusb/types"
)

// ErrUnsupported is returned by backends that cannot run on the current
// platform.
var ErrUnsupported = errors.New("driver: backend not supported on this platform")

// Filter selects devices during enumeration.
type Filter func(types.Device) bool

// Backend enumerates USB devices and installs drivers for them.
// Implementations are not assumed re-entrant: callers install one device
// at a time.
type Backend interface {
	// Enumerate returns the present devices accepted by filter.
	Enumerate(filter Filter) ([]types.Device, error)
	// Install binds the WinUSB driver to device. It may block for
	// minutes.
	Install(device types.Device, config types.InstallConfig) error
}

// LogHandle reads native log text. Read returns (0, nil) when nothing is
// pending.
type LogHandle interface {
	Read(p []byte) (int, error)
	Close() error
}

// LogSource is implemented by backends whose native library can relay
// log text to another process.
type LogSource interface {
	OpenLog() (LogHandle, error)
}

// LogSinkRegistrar is implemented by backends that can send native log
// text to a window owned by another process.
type LogSinkRegistrar interface {
	RegisterLogSink(window uint64) error
}

// All accepts every device.
func All(types.Device) bool { return true }

// MissingDriver accepts devices with no bound driver.
func MissingDriver(d types.Device) bool { return !d.HasDriver() }

// NeedsWinUSB accepts devices not already bound to WinUSB.
func NeedsWinUSB(d types.Device) bool { return !d.HasWinUSB() }

// MatchAny accepts devices equal to one of devices.
func MatchAny(devices []types.Device) Filter {
	return func(d types.Device) bool {
		for _, want := range devices {
			if want.Equal(d) {
				return true
			}
		}
		return false
	}
}

// MatchIDs accepts devices whose vid:pid pair equals one of ids. An empty
// list accepts every device.
func MatchIDs(ids [][2]uint16) Filter {
	return func(d types.Device) bool {
		if len(ids) == 0 {
			return true
		}
		for _, id := range ids {
			if d.VendorID == id[0] && d.ProductID == id[1] {
				return true
			}
		}
		return false
	}
}

// And accepts devices accepted by every filter.
func And(filters ...Filter) Filter {
	return func(d types.Device) bool {
		for _, f := range filters {
			if !f(d) {
				return false
			}
		}
		return true
	}
}

// InstallAll re-enumerates the devices currently present that equal one
// of devices and installs the driver for each in turn, calling emit after
// every attempt. Devices that disappeared since the caller listed them
// are skipped. A per-device failure is reported through emit and does not
// stop the loop. An enumeration failure or ctx cancellation is returned.
func InstallAll(
	ctx context.Context,
	backend Backend,
	config types.InstallConfig,
	devices []types.Device,
	emit func(types.DeviceResult),
) error {
	candidates, err := backend.Enumerate(MatchAny(devices))
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, dev := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := types.DeviceResult{Device: dev}
		if err := backend.Install(dev, config); err != nil {
			result.Err = err.Error()
		}
		emit(result)
	}
	return nil
}
