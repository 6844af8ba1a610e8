//go:build windows

package pnputil

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// enumerateUSB lists the present device nodes under the USB enumerator.
func enumerateUSB() ([]deviceProperties, error) {
	set, err := windows.SetupDiGetClassDevsEx(nil, "USB", 0, windows.DIGCF_PRESENT|windows.DIGCF_ALLCLASSES, 0, "")
	if err != nil {
		return nil, fmt.Errorf("failed to open device list: %w", err)
	}
	defer set.Close() //nolint:errcheck

	var nodes []deviceProperties
	for i := 0; ; i++ {
		data, err := set.EnumDeviceInfo(i)
		if err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_ITEMS) {
				break
			}
			return nil, fmt.Errorf("failed to enumerate device %d: %w", i, err)
		}

		var p deviceProperties
		if id, err := set.DeviceInstanceID(data); err == nil {
			p.InstanceID = id
		}
		p.HardwareIDs = stringsProperty(set, data, windows.SPDRP_HARDWAREID)
		p.CompatibleID = stringsProperty(set, data, windows.SPDRP_COMPATIBLEIDS)
		p.UpperFilters = stringsProperty(set, data, windows.SPDRP_UPPERFILTERS)
		p.Service = stringProperty(set, data, windows.SPDRP_SERVICE)
		p.Description = stringProperty(set, data, windows.SPDRP_DEVICEDESC)
		nodes = append(nodes, p)
	}
	return nodes, nil
}

// Missing properties read as empty.
func stringProperty(set windows.DevInfo, data *windows.DevInfoData, prop windows.SPDRP) string {
	v, err := set.DeviceRegistryProperty(data, prop)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func stringsProperty(set windows.DevInfo, data *windows.DevInfoData, prop windows.SPDRP) []string {
	v, err := set.DeviceRegistryProperty(data, prop)
	if err != nil {
		return nil
	}
	switch v := v.(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
