package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/winusb/ipc"
	"github.com/justapithecus/winusb/runtime"
	"github.com/justapithecus/winusb/types"
)

// Config represents a winusb.yaml configuration file.
// All values are optional and act as defaults for the install flags.
// CLI flags always override config values.
type Config struct {
	Install  InstallSection  `yaml:"install"`
	Session  SessionSection  `yaml:"session"`
	Timeouts TimeoutsSection `yaml:"timeouts"`
	Filter   FilterSection   `yaml:"filter"`
	LogRelay LogRelaySection `yaml:"log_relay"`
}

// InstallSection holds the driver installation parameters.
type InstallSection struct {
	Vendor     string `yaml:"vendor"`
	DriverPath string `yaml:"driver_path"`
	InfName    string `yaml:"inf_name"`
}

// SessionSection holds session naming and worker launch defaults.
type SessionSection struct {
	ID               string `yaml:"id"`
	Unique           bool   `yaml:"unique"`
	WorkerExecutable string `yaml:"worker_executable"`
	ShowWorkerWindow bool   `yaml:"show_worker_window"`
}

// TimeoutsSection overrides the session timeouts. Zero values keep the
// runtime defaults.
type TimeoutsSection struct {
	Accept    Duration `yaml:"accept"`
	Start     Duration `yaml:"start"`
	Install   Duration `yaml:"install"`
	Heartbeat Duration `yaml:"heartbeat"`
	Poll      Duration `yaml:"poll"`
	ExitGrace Duration `yaml:"exit_grace"`
}

// FilterSection selects which devices are installed.
type FilterSection struct {
	// Devices lists "vvvv:pppp" pairs. Empty selects every device.
	Devices           []string `yaml:"devices"`
	MissingDriverOnly bool     `yaml:"missing_driver_only"`
}

// LogRelaySection controls native log relaying. A nil Enabled means on.
type LogRelaySection struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Validate rejects malformed device filters, negative timeouts and a
// session id that ipc.ValidateSessionID refuses.
func (c *Config) Validate() error {
	var errs []error
	for _, id := range c.Filter.Devices {
		if _, _, err := types.ParseDeviceID(id); err != nil {
			errs = append(errs, fmt.Errorf("filter.devices: %w", err))
		}
	}

	timeouts := []struct {
		name string
		d    Duration
	}{
		{"accept", c.Timeouts.Accept},
		{"start", c.Timeouts.Start},
		{"install", c.Timeouts.Install},
		{"heartbeat", c.Timeouts.Heartbeat},
		{"poll", c.Timeouts.Poll},
		{"exit_grace", c.Timeouts.ExitGrace},
	}
	for _, t := range timeouts {
		if t.d.Duration < 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must not be negative, got %s", t.name, t.d.Duration))
		}
	}

	if err := ipc.ValidateSessionID(c.Session.ID); err != nil {
		errs = append(errs, fmt.Errorf("session.id: %w", err))
	}
	return errors.Join(errs...)
}

// InstallConfig returns the install parameters. Empty fields are left
// for the caller to fill from flags.
func (c *Config) InstallConfig() types.InstallConfig {
	return types.InstallConfig{
		Vendor:     c.Install.Vendor,
		DriverPath: c.Install.DriverPath,
		InfName:    c.Install.InfName,
	}
}

// RuntimeTimeouts maps the timeouts section onto runtime.Timeouts, filling
// unset values with the runtime defaults.
func (c *Config) RuntimeTimeouts() runtime.Timeouts {
	t := runtime.DefaultTimeouts()
	set := func(dst *time.Duration, src Duration) {
		if src.Duration > 0 {
			*dst = src.Duration
		}
	}
	set(&t.Accept, c.Timeouts.Accept)
	set(&t.Start, c.Timeouts.Start)
	set(&t.Install, c.Timeouts.Install)
	set(&t.Heartbeat, c.Timeouts.Heartbeat)
	set(&t.Poll, c.Timeouts.Poll)
	set(&t.ExitGrace, c.Timeouts.ExitGrace)
	return t
}

// SessionID resolves the endpoint id: the configured id, or the default,
// with a unique suffix when session.unique is set.
func (c *Config) SessionID() string {
	id := c.Session.ID
	if id == "" {
		id = ipc.DefaultSessionID
	}
	if c.Session.Unique {
		return ipc.UniqueSessionID(id)
	}
	return id
}

// LogRelayEnabled reports whether native log text should be relayed.
func (c *Config) LogRelayEnabled() bool {
	return c.LogRelay.Enabled == nil || *c.LogRelay.Enabled
}

// DeviceIDs returns the parsed filter.devices pairs. Call Validate
// first; malformed ids are skipped.
func (c *Config) DeviceIDs() [][2]uint16 {
	ids := make([][2]uint16, 0, len(c.Filter.Devices))
	for _, s := range c.Filter.Devices {
		vid, pid, err := types.ParseDeviceID(s)
		if err != nil {
			continue
		}
		ids = append(ids, [2]uint16{vid, pid})
	}
	return ids
}
