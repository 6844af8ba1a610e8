package runtime

import (
	"time"

	"github.com/justapithecus/winusb/driver"
	"github.com/justapithecus/winusb/elevate"
)

// WorkerProcess is the handle of a launched worker. It is the subset of
// elevate.Process the session uses, so tests can substitute a fake.
type WorkerProcess interface {
	// TryWait waits up to timeout and returns nil if still running.
	TryWait(timeout time.Duration) (*elevate.Exited, error)
	// Kill terminates the process if it is still running and releases
	// the handle. Calling it more than once succeeds.
	Kill() error
	// Close releases the handle without terminating the process.
	Close() error
	Pid() int
}

// Launcher starts the worker process.
type Launcher interface {
	Launch(path string, args []string, show bool) (WorkerProcess, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(path string, args []string, show bool) (WorkerProcess, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch(path string, args []string, show bool) (WorkerProcess, error) {
	return f(path, args, show)
}

// ElevatedLauncher starts the worker through the platform consent prompt.
type ElevatedLauncher struct{}

// Launch implements Launcher.
func (ElevatedLauncher) Launch(path string, args []string, show bool) (WorkerProcess, error) {
	cmd := &elevate.Command{Path: path, Args: args, ShowWindow: show}
	p, err := cmd.Start()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// LogSink is a window of the orchestrator process that the worker's native
// library can send log text to, plus the reader for that text.
type LogSink interface {
	// Window returns the opaque window handle. It reports false when no
	// window is available, which disables log relay.
	Window() (uint64, bool)
	// OpenLogSource opens the reader for relayed text.
	OpenLogSource() (driver.LogHandle, error)
}
