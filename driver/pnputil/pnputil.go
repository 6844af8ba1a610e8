// Package pnputil is the WinUSB driver backend built on the SetupAPI
// device database and the pnputil driver-store tool.
//
// Install writes a WinUSB descriptor for the device into the configured
// driver directory and asks pnputil to add it to the driver store and
// install it on matching devices.
package pnputil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/justapithecus/winusb/driver"
	"github.com/justapithecus/winusb/log"
	"github.com/justapithecus/winusb/types"
)

// DefaultInstallTimeout bounds one pnputil run.
const DefaultInstallTimeout = 5 * time.Minute

// Runner runs an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Backend implements driver.Backend.
type Backend struct {
	// Run executes pnputil. Defaults to ExecRunner.
	Run Runner
	// Timeout bounds one install. Defaults to DefaultInstallTimeout.
	Timeout time.Duration
	// Logger receives tool output. May be nil.
	Logger *log.Logger

	// enumerate lists raw device properties. Defaults to the SetupAPI
	// enumeration on Windows.
	enumerate func() ([]deviceProperties, error)
	now       func() time.Time
}

var _ driver.Backend = (*Backend)(nil)

// New returns a backend with default settings.
func New(logger *log.Logger) *Backend {
	return &Backend{Logger: logger}
}

// Enumerate implements driver.Backend.
func (b *Backend) Enumerate(filter driver.Filter) ([]types.Device, error) {
	enumerate := b.enumerate
	if enumerate == nil {
		enumerate = enumerateUSB
	}
	nodes, err := enumerate()
	if err != nil {
		return nil, err
	}

	var devices []types.Device
	for _, node := range nodes {
		dev, ok := node.toDevice()
		if !ok {
			continue
		}
		if filter == nil || filter(dev) {
			devices = append(devices, dev)
		}
	}
	b.Logger.Debug("enumerated devices", map[string]any{
		"nodes":      len(nodes),
		"candidates": len(devices),
	})
	return devices, nil
}

// Install implements driver.Backend.
func (b *Backend) Install(device types.Device, config types.InstallConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid install config: %w", err)
	}

	now := time.Now
	if b.now != nil {
		now = b.now
	}
	inf, err := renderINF(device, config, now())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(config.DriverPath, 0o755); err != nil {
		return fmt.Errorf("failed to create driver directory: %w", err)
	}
	infPath := filepath.Join(config.DriverPath, config.InfName)
	if err := os.WriteFile(infPath, inf, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", infPath, err)
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultInstallTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	run := b.Run
	if run == nil {
		run = ExecRunner
	}
	out, err := run(ctx, "pnputil", "/add-driver", infPath, "/install")
	output := strings.TrimSpace(string(out))
	if output != "" {
		b.Logger.Info("pnputil output", map[string]any{
			"device": device.ID(),
			"output": output,
		})
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("pnputil timed out after %s", timeout)
		}
		return fmt.Errorf("pnputil failed for %s: %w", device.ID(), err)
	}
	return nil
}
