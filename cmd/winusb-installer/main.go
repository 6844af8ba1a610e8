// Package main provides the winusb-installer entrypoint.
//
// The same executable plays both roles of a session. Run by a user it is
// the unprivileged orchestrator; relaunched elevated with the endpoint
// name as its only argument it is the worker.
//
// Usage:
//
//	winusb-installer [install] --vendor <name> --driver-path <dir> --inf-name <file.inf> [options]
//	winusb-installer devices [options]
//	winusb-installer version
//
// Exit codes for install:
//   - 0: every requested device installed, or nothing to do
//   - 1: partial install
//   - 2: session failure
//   - 3: elevation declined
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/winusb/cli/cmd"
	"github.com/justapithecus/winusb/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if cmd.IsWorkerInvocation(os.Args[1:]) {
		if err := cmd.RunWorker(context.Background(), os.Args[1]); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		// This branch handles unexpected errors that weren't wrapped.
		os.Exit(2)
	}
}

func newApp() *cli.App {
	install := cmd.InstallCommand()
	return &cli.App{
		Name:           "winusb-installer",
		Usage:          "Install the WinUSB driver for USB devices through an elevated worker",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Flags:          install.Flags,
		Action:         install.Action,
		Commands: []*cli.Command{
			install,
			cmd.DevicesCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	// Check for ExitCoder (from cli.Exit), handles wrapped errors
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// Only print if there's a real message (not just "exit status N")
		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	// Unexpected error - print and exit with code 2
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(2)
}
