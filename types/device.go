package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Device describes one USB device (or one interface of a composite
// device) as reported by the driver backend. The same value is used to
// describe installation candidates and to select which of them to
// install against, so equality covers every field.
//
// Devices are encoded on the wire as a fixed-order array; field order
// is part of the IPC contract.
type Device struct {
	_msgpack struct{} `msgpack:",as_array"`

	// VendorID is the USB vendor id (VID).
	VendorID uint16 `json:"vendor_id" yaml:"vendor_id"`
	// ProductID is the USB product id (PID).
	ProductID uint16 `json:"product_id" yaml:"product_id"`
	// Composite is true for the parent node of a composite device.
	Composite bool `json:"composite" yaml:"composite"`
	// InterfaceIndex is the interface number (MI_xx) for composite children.
	InterfaceIndex *uint8 `json:"interface_index,omitempty" yaml:"interface_index,omitempty"`
	// DriverVersion is the version of the currently installed driver, if any.
	DriverVersion *uint64 `json:"driver_version,omitempty" yaml:"driver_version,omitempty"`
	// Description is the human-readable device description.
	Description string `json:"description" yaml:"description"`
	// Driver is the name of the currently bound driver service, if any.
	Driver *string `json:"driver,omitempty" yaml:"driver,omitempty"`
	// DeviceID is the device instance id.
	DeviceID *string `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	// HardwareID is the most specific hardware id.
	HardwareID *string `json:"hardware_id,omitempty" yaml:"hardware_id,omitempty"`
	// CompatibleID is the most specific compatible id.
	CompatibleID *string `json:"compatible_id,omitempty" yaml:"compatible_id,omitempty"`
	// UpperFilter is the first upper filter driver, if any.
	UpperFilter *string `json:"upper_filter,omitempty" yaml:"upper_filter,omitempty"`
}

// ID returns the vid:pid pair formatted as "vvvv:pppp".
func (d Device) ID() string {
	return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
}

// String implements fmt.Stringer.
func (d Device) String() string {
	var b strings.Builder
	b.WriteString(d.ID())
	if d.InterfaceIndex != nil {
		fmt.Fprintf(&b, " (interface %d)", *d.InterfaceIndex)
	}
	if d.Description != "" {
		b.WriteString(" ")
		b.WriteString(d.Description)
	}
	return b.String()
}

// HasWinUSB reports whether the WinUSB driver is already bound.
func (d Device) HasWinUSB() bool {
	return d.Driver != nil && strings.EqualFold(*d.Driver, "winusb")
}

// HasDriver reports whether any driver is bound.
func (d Device) HasDriver() bool {
	return d.Driver != nil && *d.Driver != ""
}

// Equal reports whether d and other describe the same device.
func (d Device) Equal(other Device) bool {
	return d.VendorID == other.VendorID &&
		d.ProductID == other.ProductID &&
		d.Composite == other.Composite &&
		equalPtr(d.InterfaceIndex, other.InterfaceIndex) &&
		equalPtr(d.DriverVersion, other.DriverVersion) &&
		d.Description == other.Description &&
		equalPtr(d.Driver, other.Driver) &&
		equalPtr(d.DeviceID, other.DeviceID) &&
		equalPtr(d.HardwareID, other.HardwareID) &&
		equalPtr(d.CompatibleID, other.CompatibleID) &&
		equalPtr(d.UpperFilter, other.UpperFilter)
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ParseDeviceID parses a "vvvv:pppp" hex pair.
func ParseDeviceID(s string) (vendorID, productID uint16, err error) {
	vid, pid, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid device id %q: want vvvv:pppp", s)
	}
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vendor id in %q: %w", s, err)
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid product id in %q: %w", s, err)
	}
	return uint16(v), uint16(p), nil
}
