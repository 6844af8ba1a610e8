package types

import (
	"errors"
	"fmt"
	"strings"
)

// InstallConfig carries the parameters of one driver installation.
// It is immutable once sent to the worker.
type InstallConfig struct {
	_msgpack struct{} `msgpack:",as_array"`

	// Vendor is shown as the "Manufacturer" device property.
	Vendor string `json:"vendor" yaml:"vendor"`
	// DriverPath is the directory where the descriptor and driver files
	// are generated, e.g. C:\usb_driver.
	DriverPath string `json:"driver_path" yaml:"driver_path"`
	// InfName is the generated descriptor file name, including the .inf
	// extension.
	InfName string `json:"inf_name" yaml:"inf_name"`
}

// Validate checks that every field is set and InfName names an .inf file.
func (c *InstallConfig) Validate() error {
	if c.Vendor == "" {
		return errors.New("vendor must be non-empty")
	}
	if c.DriverPath == "" {
		return errors.New("driver_path must be non-empty")
	}
	if c.InfName == "" {
		return errors.New("inf_name must be non-empty")
	}
	if !strings.EqualFold(extension(c.InfName), ".inf") {
		return fmt.Errorf("inf_name %q must end in .inf", c.InfName)
	}
	if strings.ContainsAny(c.InfName, `\/`) {
		return fmt.Errorf("inf_name %q must be a bare file name", c.InfName)
	}
	return nil
}

func extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}

// DeviceResult is the outcome of installing the driver for one device.
// An empty Err means success.
type DeviceResult struct {
	_msgpack struct{} `msgpack:",as_array"`

	Device Device `json:"device" yaml:"device"`
	Err    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the installation succeeded.
func (r DeviceResult) OK() bool {
	return r.Err == ""
}

// InstallReport is the final tally of an install session.
type InstallReport struct {
	SessionID string         `json:"session_id" yaml:"session_id"`
	Status    SessionStatus  `json:"status" yaml:"status"`
	Installed int            `json:"installed" yaml:"installed"`
	Total     int            `json:"total" yaml:"total"`
	Results   []DeviceResult `json:"results" yaml:"results"`
}

// Complete reports whether every requested device was installed.
func (r *InstallReport) Complete() bool {
	return r.Installed == r.Total
}
