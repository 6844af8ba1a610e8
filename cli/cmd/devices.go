package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/winusb/cli/render"
	"github.com/justapithecus/winusb/driver"
	"github.com/justapithecus/winusb/log"
	"github.com/justapithecus/winusb/types"
)

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// DevicesCommand returns the devices command. It lists installation
// candidates without elevating.
func DevicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List USB devices the installer would act on",
		Flags: append(ReadOnlyFlags(),
			&cli.StringSliceFlag{
				Name:  "device",
				Usage: "Only list devices matching vid:pid (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Include devices already bound to WinUSB",
			},
			&cli.BoolFlag{
				Name:  "missing-driver-only",
				Usage: "Only list devices with no bound driver",
			},
		),
		Action: devicesAction,
	}
}

func devicesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for devices command
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for devices command", 1)
	}

	opts := &installOptions{
		all:               c.Bool("all"),
		missingDriverOnly: c.Bool("missing-driver-only"),
	}
	for _, s := range c.StringSlice("device") {
		vid, pid, err := types.ParseDeviceID(s)
		if err != nil {
			return cli.Exit(fmt.Sprintf("--device: %v", err), 1)
		}
		opts.deviceIDs = append(opts.deviceIDs, [2]uint16{vid, pid})
	}

	backend := newBackend(log.Nop())
	devices, err := backend.Enumerate(opts.filter())
	if err != nil {
		if errors.Is(err, driver.ErrUnsupported) {
			return cli.Exit("device enumeration is only supported on Windows", 1)
		}
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if devices == nil {
		devices = []types.Device{}
	}
	return r.Render(devices)
}
