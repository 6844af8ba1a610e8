// Package cmd provides CLI commands for the winusb-installer binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for output-producing commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for the install command.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show live install progress (install only)",
	}

	// ConfigFlag points at a winusb.yaml file whose values act as flag
	// defaults.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to winusb.yaml config file",
	}

	// DebugFlag enables debug-level logging on stderr.
	DebugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Enable debug logging",
	}
)

// ReadOnlyFlags returns the shared flags for all commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}
