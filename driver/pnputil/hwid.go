package pnputil

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/justapithecus/winusb/types"
)

// hardwareID is the parsed form of a USB hardware id such as
// USB\VID_1209&PID_0001&REV_0100&MI_02.
type hardwareID struct {
	vendorID  uint16
	productID uint16
	iface     *uint8
}

// parseHardwareID extracts VID, PID and MI from a USB hardware or
// instance id. Ids without both VID and PID are rejected.
func parseHardwareID(id string) (hardwareID, bool) {
	_, rest, ok := strings.Cut(strings.ToUpper(id), `\`)
	if !ok {
		return hardwareID{}, false
	}
	// Instance ids carry a serial after a second backslash.
	rest, _, _ = strings.Cut(rest, `\`)

	var (
		hw             hardwareID
		hasVID, hasPID bool
	)
	for _, part := range strings.Split(rest, "&") {
		key, value, ok := strings.Cut(part, "_")
		if !ok {
			continue
		}
		switch key {
		case "VID":
			v, err := strconv.ParseUint(value, 16, 16)
			if err != nil {
				return hardwareID{}, false
			}
			hw.vendorID, hasVID = uint16(v), true
		case "PID":
			v, err := strconv.ParseUint(value, 16, 16)
			if err != nil {
				return hardwareID{}, false
			}
			hw.productID, hasPID = uint16(v), true
		case "MI":
			v, err := strconv.ParseUint(value, 16, 8)
			if err != nil {
				return hardwareID{}, false
			}
			mi := uint8(v)
			hw.iface = &mi
		}
	}
	if !hasVID || !hasPID {
		return hardwareID{}, false
	}
	return hw, true
}

// deviceProperties are the raw registry properties of one device node.
type deviceProperties struct {
	InstanceID   string
	HardwareIDs  []string
	CompatibleID []string
	Service      string
	Description  string
	UpperFilters []string
}

// toDevice converts raw properties into a Device. It returns false for
// nodes that are not USB functions (hubs, host controllers).
func (p deviceProperties) toDevice() (types.Device, bool) {
	var (
		hw    hardwareID
		found bool
		hwid  string
	)
	for _, id := range p.HardwareIDs {
		if hw, found = parseHardwareID(id); found {
			hwid = id
			break
		}
	}
	if !found {
		if hw, found = parseHardwareID(p.InstanceID); !found {
			return types.Device{}, false
		}
	}

	dev := types.Device{
		VendorID:       hw.vendorID,
		ProductID:      hw.productID,
		InterfaceIndex: hw.iface,
		Description:    p.Description,
		Composite:      isComposite(p.CompatibleID),
	}
	if p.Service != "" {
		dev.Driver = stringPtr(p.Service)
	}
	if p.InstanceID != "" {
		dev.DeviceID = stringPtr(p.InstanceID)
	}
	if hwid != "" {
		dev.HardwareID = stringPtr(hwid)
	}
	if len(p.CompatibleID) > 0 {
		dev.CompatibleID = stringPtr(p.CompatibleID[0])
	}
	if len(p.UpperFilters) > 0 {
		dev.UpperFilter = stringPtr(p.UpperFilters[0])
	}
	return dev, true
}

// isComposite reports whether the node is the parent of a composite
// device, which Windows marks with the USB\COMPOSITE compatible id.
func isComposite(compatibleIDs []string) bool {
	for _, id := range compatibleIDs {
		if strings.EqualFold(id, `USB\COMPOSITE`) {
			return true
		}
	}
	return false
}

// matchHardwareID returns the id an INF must match to bind device.
func matchHardwareID(d types.Device) string {
	if d.HardwareID != nil && *d.HardwareID != "" {
		return *d.HardwareID
	}
	id := fmt.Sprintf(`USB\VID_%04X&PID_%04X`, d.VendorID, d.ProductID)
	if d.InterfaceIndex != nil {
		id += fmt.Sprintf("&MI_%02X", *d.InterfaceIndex)
	}
	return id
}

func stringPtr(s string) *string { return &s }
